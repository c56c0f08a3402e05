// Package engine runs the detection tick: it reads one snapshot generation,
// runs every detector against it, ranks the results and publishes them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"arb-radar/internal/feed"
	"arb-radar/internal/market"
	"arb-radar/internal/opportunity"
	"arb-radar/internal/ranking"
	"arb-radar/internal/scheduler"
	"arb-radar/internal/snapshot"
)

// DirectDetector finds cross-venue spreads.
type DirectDetector interface {
	Detect(ctx context.Context, view *snapshot.View) ([]opportunity.Direct, error)
}

// TriangularDetector finds single-venue currency cycles.
type TriangularDetector interface {
	Detect(ctx context.Context, view *snapshot.View) ([]opportunity.Triangular, error)
}

// FuturesDetector finds spot/perpetual spreads.
type FuturesDetector interface {
	Detect(ctx context.Context, view *snapshot.View) ([]opportunity.Futures, error)
}

// Detectors groups the three detectors run on every tick.
type Detectors struct {
	Direct     DirectDetector
	Triangular TriangularDetector
	Futures    FuturesDetector
}

// StatsSource reports per-venue ingestion counters. *feed.Normalizer satisfies it.
type StatsSource interface {
	Stats() []feed.VenueStats
	Dropped() uint64
}

type missingCounter interface {
	MissingCycles() uint64
}

// Config tunes the engine.
type Config struct {
	Staleness      time.Duration
	Retention      time.Duration
	RecentCapacity int
	Workers        int
	Venues         snapshot.VenueFilter
	// Filters is the publish filter per kind; kinds without one publish everything detected.
	Filters map[opportunity.Kind]ranking.Filter
	Sort    ranking.Sort
	Now     func() time.Time
}

// Engine orchestrates detection and publication.
type Engine struct {
	cfg       Config
	store     *snapshot.Store
	detectors Detectors
	stats     StatsSource
	scheduler *scheduler.Scheduler
	logger    zerolog.Logger

	current atomic.Pointer[Publication]
	recent  *ring

	// publishMu serialises publications and subscriber fan-out.
	publishMu   sync.Mutex
	generation  uint64
	subscribers map[*Subscription]struct{}

	healthMu sync.Mutex
	stale    map[string]bool

	ticks          atomic.Uint64
	overruns       atomic.Uint64
	stalePublishes atomic.Uint64
	evicted        atomic.Uint64
}

// New constructs the engine. stats and sched may be nil.
func New(cfg Config, store *snapshot.Store, detectors Detectors, stats StatsSource, sched *scheduler.Scheduler, logger zerolog.Logger) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Staleness <= 0 {
		cfg.Staleness = 10 * time.Second
	}
	if cfg.Retention < cfg.Staleness {
		cfg.Retention = cfg.Staleness
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.RecentCapacity <= 0 {
		cfg.RecentCapacity = 500
	}
	if cfg.Sort.Key == "" {
		cfg.Sort = ranking.DefaultSort()
	}
	return &Engine{
		cfg:         cfg,
		store:       store,
		detectors:   detectors,
		stats:       stats,
		scheduler:   sched,
		logger:      logger.With().Str("component", "engine").Logger(),
		recent:      newRing(cfg.RecentCapacity),
		subscribers: make(map[*Subscription]struct{}),
		stale:       make(map[string]bool),
	}
}

// Run begins the tick loop.
func (e *Engine) Run(ctx context.Context) error {
	if e.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return e.scheduler.Run(ctx, e.Tick)
}

// Tick computes and publishes one generation. When ctx expires before the
// detectors finish, the previous lists are republished flagged stale and an
// error wrapping market.ErrTickOverrun is returned.
func (e *Engine) Tick(ctx context.Context, tick *scheduler.Tick) error {
	e.ticks.Add(1)
	now := e.cfg.Now().UTC()
	gen := e.store.ReadAll()
	view := gen.View(now, e.cfg.Staleness, e.cfg.Venues)

	var (
		direct     []opportunity.Direct
		triangular []opportunity.Triangular
		futures    []opportunity.Futures
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	if e.detectors.Direct != nil {
		g.Go(func() (err error) {
			direct, err = e.detectors.Direct.Detect(gctx, view)
			return err
		})
	}
	if e.detectors.Triangular != nil {
		g.Go(func() (err error) {
			triangular, err = e.detectors.Triangular.Detect(gctx, view)
			return err
		})
	}
	if e.detectors.Futures != nil {
		g.Go(func() (err error) {
			futures, err = e.detectors.Futures.Detect(gctx, view)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.overruns.Add(1)
			pub := e.republishStale(now)
			e.logger.Warn().
				Uint64("generation", pub.Generation).
				Uint64("snapshot_generation", gen.Number()).
				Msg("tick deadline exceeded, republished previous results")
			return fmt.Errorf("%w: %w", market.ErrTickOverrun, err)
		}
		return fmt.Errorf("detect opportunities: %w", err)
	}

	tick.Publishing()
	pub := e.publish(&Publication{
		SnapshotGeneration: gen.Number(),
		PublishedAt:        now,
		Direct:             ranking.Rank(direct, e.cfg.Filters[opportunity.KindDirect], e.cfg.Sort),
		Triangular:         ranking.Rank(triangular, e.cfg.Filters[opportunity.KindTriangular], e.cfg.Sort),
		Futures:            ranking.Rank(futures, e.cfg.Filters[opportunity.KindFutures], e.cfg.Sort),
	})

	_, evicted := e.store.Evict(now.Add(-e.cfg.Retention))
	if evicted > 0 {
		e.evicted.Add(uint64(evicted))
		e.logger.Debug().Int("evicted", evicted).Msg("evicted snapshots beyond retention")
	}
	e.refreshStale(view.StaleVenues())

	e.logger.Debug().
		Uint64("generation", pub.Generation).
		Uint64("snapshot_generation", pub.SnapshotGeneration).
		Int("direct", len(pub.Direct)).
		Int("triangular", len(pub.Triangular)).
		Int("futures", len(pub.Futures)).
		Msg("published opportunities")
	return nil
}

// publish assigns the next generation, diffs against the previous
// publication and fans out to subscribers.
func (e *Engine) publish(pub *Publication) *Publication {
	e.publishMu.Lock()
	defer e.publishMu.Unlock()

	prev := e.current.Load()
	if prev == nil {
		prev = &Publication{}
	}
	e.generation++
	pub.Generation = e.generation
	if pub.Diffs == nil {
		pub.Diffs = map[opportunity.Kind]ranking.Diff{
			opportunity.KindDirect:     ranking.Compare(prev.Direct, pub.Direct),
			opportunity.KindTriangular: ranking.Compare(prev.Triangular, pub.Triangular),
			opportunity.KindFutures:    ranking.Compare(prev.Futures, pub.Futures),
		}
	}
	e.current.Store(pub)

	if !pub.Stale {
		e.remember(pub)
	}
	for sub := range e.subscribers {
		sub.deliver(updateFor(pub, sub.Kind))
	}
	return pub
}

func (e *Engine) republishStale(now time.Time) *Publication {
	e.stalePublishes.Add(1)
	prev := e.current.Load()
	if prev == nil {
		prev = &Publication{}
	}
	return e.publish(&Publication{
		SnapshotGeneration: prev.SnapshotGeneration,
		Stale:              true,
		PublishedAt:        now,
		Direct:             prev.Direct,
		Triangular:         prev.Triangular,
		Futures:            prev.Futures,
		Diffs: map[opportunity.Kind]ranking.Diff{
			opportunity.KindDirect:     {},
			opportunity.KindTriangular: {},
			opportunity.KindFutures:    {},
		},
	})
}

// remember records opportunities that were not part of the previous publication.
func (e *Engine) remember(pub *Publication) {
	var entries []RecentEntry
	for _, kind := range opportunity.Kinds {
		added := make(map[string]struct{}, len(pub.Diffs[kind].Added))
		for _, id := range pub.Diffs[kind].Added {
			added[id] = struct{}{}
		}
		for _, item := range pub.Items(kind) {
			if _, ok := added[item.OpportunityID()]; !ok {
				continue
			}
			entries = append(entries, RecentEntry{
				Kind:        kind,
				Generation:  pub.Generation,
				PublishedAt: pub.PublishedAt,
				Opportunity: item,
			})
		}
	}
	// push best first so the best opportunity ends up newest
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	e.recent.push(entries...)
}

func (e *Engine) refreshStale(venues []string) {
	e.healthMu.Lock()
	defer e.healthMu.Unlock()

	next := make(map[string]bool, len(venues))
	for _, venue := range venues {
		next[venue] = true
		if !e.stale[venue] {
			e.logger.Warn().Err(market.ErrVenueStale).Str("venue", venue).Msg("venue excluded from detection")
		}
	}
	for venue := range e.stale {
		if !next[venue] {
			e.logger.Info().Str("venue", venue).Msg("venue fresh again")
		}
	}
	e.stale = next
}

// Latest returns the current publication, or nil before the first tick.
func (e *Engine) Latest() *Publication {
	return e.current.Load()
}

// GetRanked filters and sorts the latest list of kind.
func (e *Engine) GetRanked(kind opportunity.Kind, f ranking.Filter, s ranking.Sort) (Ranked, error) {
	switch kind {
	case opportunity.KindDirect, opportunity.KindTriangular, opportunity.KindFutures:
	default:
		return Ranked{}, fmt.Errorf("unknown opportunity kind %q", kind)
	}

	out := Ranked{Kind: kind, Items: []opportunity.Opportunity{}}
	pub := e.current.Load()
	if pub == nil {
		return out, nil
	}
	out.Generation = pub.Generation
	out.SnapshotGeneration = pub.SnapshotGeneration
	out.Stale = pub.Stale
	out.PublishedAt = pub.PublishedAt
	out.Items = pub.rank(kind, f, s)
	return out, nil
}

// Subscribe registers for updates of kind. The latest publication, if any,
// is delivered immediately.
func (e *Engine) Subscribe(kind opportunity.Kind) *Subscription {
	e.publishMu.Lock()
	defer e.publishMu.Unlock()

	sub := newSubscription(kind, e.unsubscribe)
	e.subscribers[sub] = struct{}{}
	if pub := e.current.Load(); pub != nil {
		sub.deliver(updateFor(pub, kind))
	}
	return sub
}

func (e *Engine) unsubscribe(sub *Subscription) {
	e.publishMu.Lock()
	defer e.publishMu.Unlock()
	delete(e.subscribers, sub)
	close(sub.ch)
}

// Recent returns up to limit recently appeared opportunities, newest first.
// An empty kind includes every kind.
func (e *Engine) Recent(kind opportunity.Kind, limit int) []RecentEntry {
	return e.recent.newest(kind, limit)
}
