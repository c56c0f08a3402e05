package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"arb-radar/internal/engine"
	"arb-radar/internal/opportunity"
	"arb-radar/internal/storage"
)

// WatcherOptions configure threshold alerts.
type WatcherOptions struct {
	// Thresholds is the minimum net profit per kind; kinds without a positive threshold never alert.
	Thresholds map[opportunity.Kind]float64
	Cooldown   time.Duration
	Channels   []string
	Now        func() time.Time
}

// Watcher turns published opportunities whose net profit crosses a threshold into notifications.
type Watcher struct {
	notifier Notifier
	store    storage.AlertStore
	opts     WatcherOptions
	logger   zerolog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewWatcher constructs a Watcher. store may be nil.
func NewWatcher(notifier Notifier, store storage.AlertStore, opts WatcherOptions, logger zerolog.Logger) *Watcher {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Watcher{
		notifier: notifier,
		store:    store,
		opts:     opts,
		logger:   logger.With().Str("component", "alert_watcher").Logger(),
		lastSent: make(map[string]time.Time),
	}
}

// Run handles updates until ctx is cancelled or the subscription closes.
func (w *Watcher) Run(ctx context.Context, sub *engine.Subscription) error {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-sub.C:
			if !ok {
				return nil
			}
			w.Handle(ctx, update)
		}
	}
}

// Handle alerts on every qualifying item of update and returns how many
// notifications were sent. Stale republishes never alert. Cooldown slots are
// reserved under the lock; delivery runs outside it.
func (w *Watcher) Handle(ctx context.Context, update engine.Update) int {
	if update.Stale {
		return 0
	}
	threshold := w.opts.Thresholds[update.Kind]
	if threshold <= 0 {
		return 0
	}

	now := w.opts.Now()
	due := w.reserve(update.Items, threshold, now)

	sent := 0
	for _, item := range due {
		id := item.OpportunityID()
		note := w.notification(item, threshold)
		if w.store != nil {
			record := storage.AlertRecord{
				Kind:          note.Kind,
				OpportunityID: id,
				ObservedAt:    note.ObservedAt,
				Subject:       note.Subject,
				MetricPct:     note.MetricPct,
				NetProfit:     note.NetProfit,
				Threshold:     note.Threshold,
				Channels:      note.Channels,
			}
			if _, err := w.store.InsertAlert(ctx, record); err != nil {
				w.logger.Error().Err(err).Str("opportunity_id", id).Msg("failed to persist alert record")
			}
		}
		if err := w.notifier.Notify(ctx, note); err != nil {
			w.logger.Error().Err(err).Str("opportunity_id", id).Msg("failed to dispatch alert")
			w.release(id, now)
			continue
		}
		sent++
	}
	return sent
}

// reserve claims the cooldown slot of every qualifying item outside its
// cooldown and prunes expired slots.
func (w *Watcher) reserve(items []opportunity.Opportunity, threshold float64, now time.Time) []opportunity.Opportunity {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, last := range w.lastSent {
		if now.Sub(last) >= w.opts.Cooldown {
			delete(w.lastSent, id)
		}
	}

	var due []opportunity.Opportunity
	for _, item := range items {
		if item.RankProfit() < threshold {
			continue
		}
		id := item.OpportunityID()
		if last, ok := w.lastSent[id]; ok && now.Sub(last) < w.opts.Cooldown {
			continue
		}
		w.lastSent[id] = now
		due = append(due, item)
	}
	return due
}

// release frees a slot reserved at at when delivery failed.
func (w *Watcher) release(id string, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if last, ok := w.lastSent[id]; ok && last.Equal(at) {
		delete(w.lastSent, id)
	}
}

func (w *Watcher) notification(item opportunity.Opportunity, threshold float64) Notification {
	rec, _ := storage.NewOpportunityRecord(item, 0, 0, time.Time{})
	return Notification{
		Kind:            item.OpportunityKind(),
		OpportunityID:   item.OpportunityID(),
		Subject:         rec.Subject,
		Venues:          item.InvolvedVenues(),
		ObservedAt:      item.ObservedTime(),
		MetricPct:       rec.MetricPct,
		EstimatedProfit: rec.EstimatedProfit,
		NetProfit:       rec.NetProfit,
		Threshold:       decimal.NewFromFloat(threshold),
		Channels:        w.opts.Channels,
	}
}
