package bus

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"arb-radar/internal/feed"
)

// SubscribeClient is the subset of *redis.Client the feed source uses.
type SubscribeClient interface {
	PSubscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Source ingests ticker events published on channels matching a pattern.
// The last channel segment names the venue when an event omits it.
type Source struct {
	client  SubscribeClient
	name    string
	pattern string
	logger  zerolog.Logger
}

// NewSource constructs a Redis feed source.
func NewSource(client SubscribeClient, name, pattern string, logger zerolog.Logger) *Source {
	if pattern == "" {
		pattern = "arbradar:ticks:*"
	}
	if name == "" {
		name = "redis"
	}
	return &Source{
		client:  client,
		name:    name,
		pattern: pattern,
		logger:  logger.With().Str("component", "redis_source").Str("pattern", pattern).Logger(),
	}
}

// Name identifies the source.
func (s *Source) Name() string {
	return s.name
}

// Run subscribes and forwards events until ctx is cancelled.
func (s *Source) Run(ctx context.Context, out chan<- feed.Event) error {
	pubsub := s.client.PSubscribe(ctx, s.pattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis: psubscribe %s: %w", s.pattern, err)
	}
	s.logger.Info().Msg("subscribed to ticker channels")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis: subscription %s closed", s.pattern)
			}
			for _, ev := range s.decode(msg.Channel, msg.Payload) {
				select {
				case out <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func (s *Source) decode(channel, payload string) []feed.Event {
	events, err := feed.DecodeEvents([]byte(payload))
	if err != nil {
		s.logger.Debug().Err(err).Str("channel", channel).Msg("dropping undecodable payload")
		return nil
	}

	venue := channel
	if i := strings.LastIndex(channel, ":"); i >= 0 {
		venue = channel[i+1:]
	}
	out := events[:0]
	for _, ev := range events {
		if ev.Symbol == "" {
			continue
		}
		if ev.Venue == "" {
			ev.Venue = venue
		}
		out = append(out, ev)
	}
	return out
}

var _ feed.Source = (*Source)(nil)
