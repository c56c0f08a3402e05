// Package snapshot holds the latest price per venue, pair and kind as a
// sequence of immutable generations.
package snapshot

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"arb-radar/internal/market"
)

// ErrOutOfOrder is returned when an update is older than the stored value.
var ErrOutOfOrder = errors.New("snapshot: update older than stored value")

// Generation is an immutable point-in-time copy of the store.
type Generation struct {
	number  uint64
	entries map[market.Key]market.PriceSnapshot
}

// Number is the monotonic generation counter.
func (g *Generation) Number() uint64 {
	return g.number
}

// Len returns the number of stored entries, stale ones included.
func (g *Generation) Len() int {
	return len(g.entries)
}

// Get returns the entry stored under key.
func (g *Generation) Get(key market.Key) (market.PriceSnapshot, bool) {
	snap, ok := g.entries[key]
	return snap, ok
}

// Snapshots returns every entry ordered by venue, pair and kind.
func (g *Generation) Snapshots() []market.PriceSnapshot {
	out := make([]market.PriceSnapshot, 0, len(g.entries))
	for _, snap := range g.entries {
		out = append(out, snap)
	}
	sortSnapshots(out)
	return out
}

// Store publishes generations through an atomic pointer. Readers never lock;
// writers serialise on building the next generation.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[Generation]
}

// New returns an empty store at generation zero.
func New() *Store {
	s := &Store{}
	s.current.Store(&Generation{entries: map[market.Key]market.PriceSnapshot{}})
	return s
}

// ReadAll returns the current generation. The result is never mutated.
func (s *Store) ReadAll() *Generation {
	return s.current.Load()
}

// Read looks up the spot price of pair on venue.
func (s *Store) Read(venue string, pair market.Pair) (market.PriceSnapshot, error) {
	return s.ReadKey(market.SpotKey(market.NormalizeVenue(venue), pair))
}

// ReadKey looks up any stored key.
func (s *Store) ReadKey(key market.Key) (market.PriceSnapshot, error) {
	snap, ok := s.current.Load().Get(key)
	if !ok {
		return market.PriceSnapshot{}, fmt.Errorf("%s: %w", key, market.ErrNotFound)
	}
	return snap, nil
}

// Upsert applies a single update as its own batch.
func (s *Store) Upsert(snap market.PriceSnapshot) error {
	if _, applied := s.Apply([]market.PriceSnapshot{snap}); applied == 0 {
		return fmt.Errorf("%s at %s: %w", snap.Key(), snap.LastUpdated.Format(time.RFC3339Nano), ErrOutOfOrder)
	}
	return nil
}

// Apply writes a batch and publishes one new generation when at least one
// update was accepted. Updates older than the stored value for their key are
// discarded. It returns the resulting generation and the applied count.
func (s *Store) Apply(batch []market.PriceSnapshot) (*Generation, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	var next map[market.Key]market.PriceSnapshot
	applied := 0
	for _, snap := range batch {
		key := snap.Key()
		existing, ok := prev.entries[key]
		if next != nil {
			existing, ok = next[key]
		}
		if ok && snap.LastUpdated.Before(existing.LastUpdated) {
			continue
		}
		if next == nil {
			next = cloneEntries(prev.entries, len(batch))
		}
		next[key] = snap
		applied++
	}
	if applied == 0 {
		return prev, 0
	}

	gen := &Generation{number: prev.number + 1, entries: next}
	s.current.Store(gen)
	return gen, applied
}

// Evict drops entries last updated before cutoff and publishes a new
// generation when anything was removed.
func (s *Store) Evict(cutoff time.Time) (*Generation, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	removed := 0
	for _, snap := range prev.entries {
		if snap.LastUpdated.Before(cutoff) {
			removed++
		}
	}
	if removed == 0 {
		return prev, 0
	}

	next := make(map[market.Key]market.PriceSnapshot, len(prev.entries)-removed)
	for key, snap := range prev.entries {
		if !snap.LastUpdated.Before(cutoff) {
			next[key] = snap
		}
	}
	gen := &Generation{number: prev.number + 1, entries: next}
	s.current.Store(gen)
	return gen, removed
}

func cloneEntries(src map[market.Key]market.PriceSnapshot, extra int) map[market.Key]market.PriceSnapshot {
	dst := make(map[market.Key]market.PriceSnapshot, len(src)+extra)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func sortSnapshots(snaps []market.PriceSnapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		a, b := snaps[i], snaps[j]
		if a.Venue != b.Venue {
			return a.Venue < b.Venue
		}
		if a.Pair != b.Pair {
			return a.Pair.String() < b.Pair.String()
		}
		return a.Kind < b.Kind
	})
}
