package snapshot

import (
	"sort"
	"time"

	"arb-radar/internal/market"
)

// VenueFilter applies the configured venue allow and deny lists.
type VenueFilter struct {
	allow map[string]struct{}
	deny  map[string]struct{}
}

// NewVenueFilter builds a filter; an empty allow list admits every venue not denied.
func NewVenueFilter(allow, deny []string) VenueFilter {
	f := VenueFilter{}
	if len(allow) > 0 {
		f.allow = toSet(allow)
	}
	if len(deny) > 0 {
		f.deny = toSet(deny)
	}
	return f
}

// Allowed reports whether venue takes part in detection.
func (f VenueFilter) Allowed(venue string) bool {
	if _, denied := f.deny[venue]; denied {
		return false
	}
	if f.allow == nil {
		return true
	}
	_, ok := f.allow[venue]
	return ok
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[market.NormalizeVenue(v)] = struct{}{}
	}
	return set
}

// PairGroup holds the fresh spot snapshots of one pair, ordered by venue.
type PairGroup struct {
	Pair      market.Pair
	Snapshots []market.PriceSnapshot
}

// VenueGroup holds the fresh spot snapshots of one venue, ordered by pair.
type VenueGroup struct {
	Venue     string
	Snapshots []market.PriceSnapshot
}

// View is the read set detectors run against during one tick. It is built
// once from a single generation and never changes.
type View struct {
	generation uint64
	asOf       time.Time
	byPair     []PairGroup
	byVenue    []VenueGroup
	futures    []market.PriceSnapshot
	spot       map[market.Key]market.PriceSnapshot
	stale      []string
}

// View returns the entries of g that are no older than staleness at now and
// belong to allowed venues. A venue with stored entries but none fresh is
// reported by StaleVenues.
func (g *Generation) View(now time.Time, staleness time.Duration, venues VenueFilter) *View {
	v := &View{
		generation: g.number,
		asOf:       now,
		spot:       make(map[market.Key]market.PriceSnapshot),
	}

	pairs := make(map[market.Pair][]market.PriceSnapshot)
	byVenue := make(map[string][]market.PriceSnapshot)
	seen := make(map[string]bool)
	for _, snap := range g.Snapshots() {
		if !venues.Allowed(snap.Venue) {
			continue
		}
		if _, ok := seen[snap.Venue]; !ok {
			seen[snap.Venue] = false
		}
		if staleness > 0 && now.Sub(snap.LastUpdated) > staleness {
			continue
		}
		seen[snap.Venue] = true

		switch snap.Kind {
		case market.Futures:
			v.futures = append(v.futures, snap)
		default:
			v.spot[snap.Key()] = snap
			pairs[snap.Pair] = append(pairs[snap.Pair], snap)
			byVenue[snap.Venue] = append(byVenue[snap.Venue], snap)
		}
	}

	for pair, snaps := range pairs {
		v.byPair = append(v.byPair, PairGroup{Pair: pair, Snapshots: snaps})
	}
	sort.Slice(v.byPair, func(i, j int) bool {
		return v.byPair[i].Pair.String() < v.byPair[j].Pair.String()
	})
	for venue, snaps := range byVenue {
		v.byVenue = append(v.byVenue, VenueGroup{Venue: venue, Snapshots: snaps})
	}
	sort.Slice(v.byVenue, func(i, j int) bool {
		return v.byVenue[i].Venue < v.byVenue[j].Venue
	})
	for venue, fresh := range seen {
		if !fresh {
			v.stale = append(v.stale, venue)
		}
	}
	sort.Strings(v.stale)
	return v
}

// Generation is the number of the generation the view was built from.
func (v *View) Generation() uint64 { return v.generation }

// AsOf is the instant staleness was evaluated at.
func (v *View) AsOf() time.Time { return v.asOf }

// SpotByPair groups fresh spot snapshots by pair.
func (v *View) SpotByPair() []PairGroup { return v.byPair }

// SpotByVenue groups fresh spot snapshots by venue.
func (v *View) SpotByVenue() []VenueGroup { return v.byVenue }

// Futures returns fresh futures snapshots ordered by venue and pair.
func (v *View) Futures() []market.PriceSnapshot { return v.futures }

// Spot returns the fresh spot snapshot of pair on venue.
func (v *View) Spot(venue string, pair market.Pair) (market.PriceSnapshot, bool) {
	snap, ok := v.spot[market.SpotKey(venue, pair)]
	return snap, ok
}

// StaleVenues lists allowed venues whose every entry exceeded the staleness bound.
func (v *View) StaleVenues() []string { return v.stale }

// Len is the number of fresh entries in the view.
func (v *View) Len() int { return len(v.spot) + len(v.futures) }
