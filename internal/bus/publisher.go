package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"arb-radar/internal/engine"
)

// PublishClient is the subset of *redis.Client the publisher uses.
type PublishClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Publisher mirrors every publication to `<prefix>:<kind>` and keeps the
// latest list under `<prefix>:<kind>:latest`.
type Publisher struct {
	client    PublishClient
	prefix    string
	latestTTL time.Duration
	logger    zerolog.Logger
}

// NewPublisher constructs a Publisher.
func NewPublisher(client PublishClient, prefix string, latestTTL time.Duration, logger zerolog.Logger) *Publisher {
	if prefix == "" {
		prefix = "arbradar"
	}
	return &Publisher{
		client:    client,
		prefix:    prefix,
		latestTTL: latestTTL,
		logger:    logger.With().Str("component", "redis_publisher").Logger(),
	}
}

// Channel is the pub/sub channel of kind.
func (p *Publisher) Channel(kind string) string {
	return p.prefix + ":" + kind
}

// Run forwards every subscription until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context, subs ...*engine.Subscription) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		g.Go(func() error {
			defer sub.Close()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case update, ok := <-sub.C:
					if !ok {
						return nil
					}
					if err := p.Publish(ctx, update); err != nil {
						p.logger.Warn().Err(err).Str("kind", string(update.Kind)).Msg("failed to mirror publication")
					}
				}
			}
		})
	}
	return g.Wait()
}

// Publish writes one update.
func (p *Publisher) Publish(ctx context.Context, update engine.Update) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}

	channel := p.Channel(string(update.Kind))
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	if err := p.client.Set(ctx, channel+":latest", payload, p.latestTTL).Err(); err != nil {
		return fmt.Errorf("redis: set %s:latest: %w", channel, err)
	}

	p.logger.Debug().
		Str("channel", channel).
		Uint64("generation", update.Generation).
		Int("items", len(update.Items)).
		Msg("publication mirrored")
	return nil
}
