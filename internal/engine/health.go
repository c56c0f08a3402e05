package engine

import (
	"sort"
	"time"

	"arb-radar/internal/market"
)

// VenueHealth summarises one venue's feed.
type VenueHealth struct {
	Venue       string    `json:"venue"`
	LastSeen    time.Time `json:"lastSeen"`
	LastUpdated time.Time `json:"lastUpdated"`
	Stale       bool      `json:"stale"`
	Accepted    uint64    `json:"accepted"`
	Dropped     uint64    `json:"dropped"`
	Entries     int       `json:"entries"`
}

// GetVenueHealth reports every venue known to the store or the normaliser.
func (e *Engine) GetVenueHealth() []VenueHealth {
	now := e.cfg.Now().UTC()
	byVenue := make(map[string]*VenueHealth)
	get := func(venue string) *VenueHealth {
		h, ok := byVenue[venue]
		if !ok {
			h = &VenueHealth{Venue: venue}
			byVenue[venue] = h
		}
		return h
	}

	for _, snap := range e.store.ReadAll().Snapshots() {
		h := get(snap.Venue)
		h.Entries++
		if snap.LastUpdated.After(h.LastUpdated) {
			h.LastUpdated = snap.LastUpdated
		}
	}
	if e.stats != nil {
		for _, st := range e.stats.Stats() {
			h := get(st.Venue)
			h.LastSeen = st.LastSeen
			h.Accepted = st.Accepted
			h.Dropped = st.Dropped
		}
	}

	out := make([]VenueHealth, 0, len(byVenue))
	for _, h := range byVenue {
		h.Stale = h.LastUpdated.IsZero() || now.Sub(h.LastUpdated) > e.cfg.Staleness
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Venue < out[j].Venue })
	return out
}

// ExchangeVolume aggregates the spot markets of one venue.
type ExchangeVolume struct {
	Venue     string  `json:"venue"`
	Volume24h float64 `json:"volume24h"`
	// Change24h is the mean 24h price change percentage across the venue's markets.
	Change24h float64 `json:"change24h"`
	PairCount int     `json:"pairCount"`
}

// ExchangeVolumes reports per-venue totals over fresh spot snapshots, largest first.
func (e *Engine) ExchangeVolumes() []ExchangeVolume {
	view := e.store.ReadAll().View(e.cfg.Now().UTC(), e.cfg.Staleness, e.cfg.Venues)
	out := make([]ExchangeVolume, 0, len(view.SpotByVenue()))
	for _, group := range view.SpotByVenue() {
		ev := ExchangeVolume{Venue: group.Venue, PairCount: len(group.Snapshots)}
		for _, snap := range group.Snapshots {
			ev.Volume24h += snap.Volume24h
			ev.Change24h += snap.PriceChangePercent24h
		}
		if ev.PairCount > 0 {
			ev.Change24h /= float64(ev.PairCount)
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Volume24h > out[j].Volume24h })
	return out
}

// Status is a point-in-time summary of the engine.
type Status struct {
	State              string    `json:"state"`
	Generation         uint64    `json:"generation"`
	SnapshotGeneration uint64    `json:"snapshotGeneration"`
	StoreGeneration    uint64    `json:"storeGeneration"`
	Entries            int       `json:"entries"`
	Stale              bool      `json:"stale"`
	PublishedAt        time.Time `json:"publishedAt"`
	Ticks              uint64    `json:"ticks"`
	Overruns           uint64    `json:"overruns"`
	StalePublishes     uint64    `json:"stalePublishes"`
	SkippedTicks       uint64    `json:"skippedTicks"`
	MalformedEvents    uint64    `json:"malformedEvents"`
	MissingCycles      uint64    `json:"missingCycles"`
	Evicted            uint64    `json:"evicted"`
	StaleVenues        []string  `json:"staleVenues"`
}

// Status reports counters and the latest generation numbers.
func (e *Engine) Status() Status {
	gen := e.store.ReadAll()
	st := Status{
		State:           "idle",
		StoreGeneration: gen.Number(),
		Entries:         gen.Len(),
		Ticks:           e.ticks.Load(),
		Overruns:        e.overruns.Load(),
		StalePublishes:  e.stalePublishes.Load(),
		Evicted:         e.evicted.Load(),
		StaleVenues:     []string{},
	}
	if e.scheduler != nil {
		st.State = e.scheduler.State().String()
		st.SkippedTicks = e.scheduler.Overruns()
	}
	if pub := e.current.Load(); pub != nil {
		st.Generation = pub.Generation
		st.SnapshotGeneration = pub.SnapshotGeneration
		st.Stale = pub.Stale
		st.PublishedAt = pub.PublishedAt
	}
	if e.stats != nil {
		st.MalformedEvents = e.stats.Dropped()
	}
	if mc, ok := e.detectors.Triangular.(missingCounter); ok {
		st.MissingCycles = mc.MissingCycles()
	}

	e.healthMu.Lock()
	for venue := range e.stale {
		st.StaleVenues = append(st.StaleVenues, venue)
	}
	e.healthMu.Unlock()
	sort.Strings(st.StaleVenues)
	return st
}

// IsStale reports whether venue was excluded from the last tick.
func (e *Engine) IsStale(venue string) bool {
	e.healthMu.Lock()
	defer e.healthMu.Unlock()
	return e.stale[market.NormalizeVenue(venue)]
}
