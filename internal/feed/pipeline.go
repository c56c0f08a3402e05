package feed

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"arb-radar/internal/market"
	"arb-radar/internal/snapshot"
)

// Source produces raw events for one venue connection until ctx is done.
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- Event) error
}

// Sink receives normalised batches. *snapshot.Store satisfies it.
type Sink interface {
	Apply(batch []market.PriceSnapshot) (*snapshot.Generation, int)
}

// PipelineOptions size the ingestion channels.
type PipelineOptions struct {
	Buffer       int
	BatchSize    int
	RestartDelay time.Duration
}

// Pipeline runs one goroutine per source and a single committer that turns
// drained batches into store generations.
type Pipeline struct {
	normalizer *Normalizer
	sink       Sink
	sources    []Source
	opts       PipelineOptions
	logger     zerolog.Logger

	late    atomic.Uint64
	batches atomic.Uint64
}

// NewPipeline wires sources into sink through normalizer.
func NewPipeline(normalizer *Normalizer, sink Sink, sources []Source, opts PipelineOptions, logger zerolog.Logger) *Pipeline {
	if opts.Buffer <= 0 {
		opts.Buffer = 4096
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 256
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = 2 * time.Second
	}
	return &Pipeline{
		normalizer: normalizer,
		sink:       sink,
		sources:    sources,
		opts:       opts,
		logger:     logger.With().Str("component", "feed_pipeline").Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	snaps := make(chan market.PriceSnapshot, p.opts.Buffer)

	for _, src := range p.sources {
		g.Go(func() error {
			p.runSource(ctx, src, snaps)
			return nil
		})
	}
	g.Go(func() error {
		p.commit(ctx, snaps)
		return nil
	})

	p.logger.Info().Int("sources", len(p.sources)).Msg("feed pipeline started")
	err := g.Wait()
	p.logger.Info().Uint64("late", p.late.Load()).Uint64("batches", p.batches.Load()).Msg("feed pipeline stopped")
	return err
}

// Ingest normalises and applies events synchronously as one batch.
func (p *Pipeline) Ingest(events []Event) int {
	batch := make([]market.PriceSnapshot, 0, len(events))
	for _, ev := range events {
		snap, err := p.normalizer.Normalize(ev)
		if err != nil {
			continue
		}
		batch = append(batch, snap)
	}
	return p.apply(batch)
}

// Late returns how many updates were discarded for arriving out of order.
func (p *Pipeline) Late() uint64 {
	return p.late.Load()
}

func (p *Pipeline) runSource(ctx context.Context, src Source, snaps chan<- market.PriceSnapshot) {
	logger := p.logger.With().Str("source", src.Name()).Logger()
	for {
		events := make(chan Event, 256)
		done := make(chan error, 1)
		go func() {
			done <- src.Run(ctx, events)
			close(events)
		}()

		for ev := range events {
			snap, err := p.normalizer.Normalize(ev)
			if err != nil {
				continue
			}
			select {
			case snaps <- snap:
			case <-ctx.Done():
			}
		}

		err := <-done
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn().Err(err).Dur("retry_in", p.opts.RestartDelay).Msg("feed source failed")
		} else {
			logger.Warn().Dur("retry_in", p.opts.RestartDelay).Msg("feed source ended")
		}

		timer := time.NewTimer(p.opts.RestartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Pipeline) commit(ctx context.Context, snaps <-chan market.PriceSnapshot) {
	batch := make([]market.PriceSnapshot, 0, p.opts.BatchSize)
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-snaps:
			batch = append(batch[:0], snap)
		}

	drain:
		for len(batch) < p.opts.BatchSize {
			select {
			case snap := <-snaps:
				batch = append(batch, snap)
			default:
				break drain
			}
		}
		p.apply(batch)
	}
}

func (p *Pipeline) apply(batch []market.PriceSnapshot) int {
	if len(batch) == 0 {
		return 0
	}
	_, applied := p.sink.Apply(batch)
	p.batches.Add(1)
	if late := len(batch) - applied; late > 0 {
		p.late.Add(uint64(late))
		p.logger.Debug().Int("late", late).Msg("discarded out-of-order updates")
	}
	return applied
}
