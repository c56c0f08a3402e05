package engine

import (
	"sync"
	"time"

	"arb-radar/internal/opportunity"
)

// RecentEntry is an opportunity as it first appeared in a publication.
type RecentEntry struct {
	Kind        opportunity.Kind        `json:"kind"`
	Generation  uint64                  `json:"generation"`
	PublishedAt time.Time               `json:"publishedAt"`
	Opportunity opportunity.Opportunity `json:"opportunity"`
}

// ring is a fixed-capacity buffer that overwrites its oldest entry.
type ring struct {
	mu      sync.RWMutex
	entries []RecentEntry
	next    int
	full    bool
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring{entries: make([]RecentEntry, capacity)}
}

func (r *ring) push(entries ...RecentEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		r.entries[r.next] = e
		r.next = (r.next + 1) % len(r.entries)
		if r.next == 0 {
			r.full = true
		}
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.entries)
	}
	return r.next
}

// newest returns up to limit entries, newest first. kind filters when set.
func (r *ring) newest(kind opportunity.Kind, limit int) []RecentEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.len()
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]RecentEntry, 0, limit)
	for i := 1; i <= n && len(out) < limit; i++ {
		e := r.entries[(r.next-i+len(r.entries))%len(r.entries)]
		if kind != "" && e.Kind != kind {
			continue
		}
		out = append(out, e)
	}
	return out
}
