package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"arb-radar/internal/engine"
	"arb-radar/internal/storage"
)

// Recorder persists the top of every fresh publication into the opportunity
// log. When several instances share a database the advisory lock elects the
// one that writes.
type Recorder struct {
	store     storage.OpportunityStore
	locker    storage.AdvisoryLocker
	lockKey   int64
	topN      int
	retention time.Duration
	now       func() time.Time
	logger    zerolog.Logger

	mu         sync.Mutex
	lastPruned time.Time
}

// NewRecorder constructs a Recorder. The store doubles as the locker when it
// implements storage.AdvisoryLocker.
func NewRecorder(store storage.OpportunityStore, lockKey int64, topN int, retention time.Duration, logger zerolog.Logger) *Recorder {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}
	return &Recorder{
		store:     store,
		locker:    locker,
		lockKey:   lockKey,
		topN:      topN,
		retention: retention,
		now:       time.Now,
		logger:    logger.With().Str("component", "recorder").Logger(),
	}
}

// Run records every subscription until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context, subs ...*engine.Subscription) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		g.Go(func() error {
			defer sub.Close()
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case update, ok := <-sub.C:
					if !ok {
						return nil
					}
					if _, err := r.Record(gctx, update); err != nil {
						r.logger.Error().Err(err).Str("kind", string(update.Kind)).Uint64("generation", update.Generation).Msg("failed to record publication")
					}
				}
			}
		})
	}
	return g.Wait()
}

// Record writes the top items of update and reports how many were written.
// Stale republications carry nothing new and are skipped.
func (r *Recorder) Record(ctx context.Context, update engine.Update) (int, error) {
	if update.Stale || len(update.Items) == 0 {
		return 0, nil
	}

	unlock, proceed, err := r.acquireLock(ctx)
	if err != nil {
		return 0, err
	}
	if !proceed {
		r.logger.Debug().Uint64("generation", update.Generation).Msg("skip recording because advisory lock held elsewhere")
		return 0, nil
	}
	if unlock != nil {
		defer unlock()
	}

	items := update.Items
	if r.topN > 0 && len(items) > r.topN {
		items = items[:r.topN]
	}
	records := make([]storage.OpportunityRecord, 0, len(items))
	for i, item := range items {
		rec, err := storage.NewOpportunityRecord(item, update.Generation, i+1, update.PublishedAt)
		if err != nil {
			r.logger.Warn().Err(err).Msg("skip unencodable opportunity")
			continue
		}
		records = append(records, rec)
	}
	if err := r.store.RecordOpportunities(ctx, records); err != nil {
		return 0, fmt.Errorf("record %s opportunities: %w", update.Kind, err)
	}

	r.prune(ctx)
	return len(records), nil
}

// prune drops log rows older than the retention at most once per hour.
func (r *Recorder) prune(ctx context.Context) {
	if r.retention <= 0 {
		return
	}
	now := r.now().UTC()
	r.mu.Lock()
	due := now.Sub(r.lastPruned) >= time.Hour
	if due {
		r.lastPruned = now
	}
	r.mu.Unlock()
	if !due {
		return
	}
	if err := r.store.DeleteOpportunitiesBefore(ctx, now.Add(-r.retention)); err != nil {
		r.logger.Error().Err(err).Msg("failed to prune opportunity log")
	}
}

func (r *Recorder) acquireLock(ctx context.Context) (func(), bool, error) {
	if r.lockKey == 0 || r.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := r.locker.TryAdvisoryLock(ctx, r.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
