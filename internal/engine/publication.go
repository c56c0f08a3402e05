package engine

import (
	"sync"
	"time"

	"arb-radar/internal/opportunity"
	"arb-radar/internal/ranking"
)

// Publication is the output of one tick. All three lists are derived from
// the same snapshot generation. A publication is never modified once stored.
type Publication struct {
	Generation         uint64
	SnapshotGeneration uint64
	Stale              bool
	PublishedAt        time.Time
	Direct             []opportunity.Direct
	Triangular         []opportunity.Triangular
	Futures            []opportunity.Futures
	Diffs              map[opportunity.Kind]ranking.Diff
}

// Items returns a fresh slice holding the kind's list.
func (p *Publication) Items(kind opportunity.Kind) []opportunity.Opportunity {
	switch kind {
	case opportunity.KindDirect:
		return asOpportunities(p.Direct)
	case opportunity.KindTriangular:
		return asOpportunities(p.Triangular)
	case opportunity.KindFutures:
		return asOpportunities(p.Futures)
	default:
		return nil
	}
}

func (p *Publication) rank(kind opportunity.Kind, f ranking.Filter, s ranking.Sort) []opportunity.Opportunity {
	switch kind {
	case opportunity.KindDirect:
		return asOpportunities(ranking.Rank(p.Direct, f, s))
	case opportunity.KindTriangular:
		return asOpportunities(ranking.Rank(p.Triangular, f, s))
	case opportunity.KindFutures:
		return asOpportunities(ranking.Rank(p.Futures, f, s))
	default:
		return nil
	}
}

func asOpportunities[T opportunity.Opportunity](items []T) []opportunity.Opportunity {
	out := make([]opportunity.Opportunity, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

// Ranked is a filtered and sorted view of the latest publication.
type Ranked struct {
	Kind               opportunity.Kind          `json:"kind"`
	Generation         uint64                    `json:"generation"`
	SnapshotGeneration uint64                    `json:"snapshotGeneration"`
	Stale              bool                      `json:"stale"`
	PublishedAt        time.Time                 `json:"publishedAt"`
	Items              []opportunity.Opportunity `json:"items"`
}

// Update is delivered to subscribers on every publication.
type Update struct {
	Kind               opportunity.Kind          `json:"kind"`
	Generation         uint64                    `json:"generation"`
	SnapshotGeneration uint64                    `json:"snapshotGeneration"`
	Stale              bool                      `json:"stale"`
	PublishedAt        time.Time                 `json:"publishedAt"`
	Items              []opportunity.Opportunity `json:"items"`
	Diff               ranking.Diff              `json:"diff"`
}

func updateFor(p *Publication, kind opportunity.Kind) Update {
	return Update{
		Kind:               kind,
		Generation:         p.Generation,
		SnapshotGeneration: p.SnapshotGeneration,
		Stale:              p.Stale,
		PublishedAt:        p.PublishedAt,
		Items:              p.Items(kind),
		Diff:               p.Diffs[kind],
	}
}

// Subscription receives updates for one kind. Only the latest undelivered
// update is kept: a slow reader skips generations but never sees them out
// of order.
type Subscription struct {
	Kind opportunity.Kind
	C    <-chan Update

	ch     chan Update
	once   sync.Once
	cancel func(*Subscription)
}

func newSubscription(kind opportunity.Kind, cancel func(*Subscription)) *Subscription {
	ch := make(chan Update, 1)
	return &Subscription{Kind: kind, C: ch, ch: ch, cancel: cancel}
}

// deliver replaces any pending update with u. Callers serialise deliveries.
func (s *Subscription) deliver(u Update) {
	for {
		select {
		case s.ch <- u:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// Close stops delivery and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel(s)
	})
}
