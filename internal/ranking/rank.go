package ranking

import (
	"sort"
	"strings"

	"arb-radar/internal/market"
	"arb-radar/internal/opportunity"
)

// Filter narrows a list. Zero values disable each criterion.
type Filter struct {
	MinMetric float64  `json:"minMetric"`
	Venues    []string `json:"venues,omitempty"`
	Query     string   `json:"query,omitempty"`
	// FromVenue and ToVenue only apply to opportunities with a route.
	FromVenue string `json:"fromVenue,omitempty"`
	ToVenue   string `json:"toVenue,omitempty"`
}

type routed interface {
	Route() (from, to string)
}

// Match reports whether o passes every criterion of f.
func (f Filter) Match(o opportunity.Opportunity) bool {
	if o.RankMetric() < f.MinMetric {
		return false
	}

	if len(f.Venues) > 0 {
		allowed := make(map[string]struct{}, len(f.Venues))
		for _, v := range f.Venues {
			allowed[market.NormalizeVenue(v)] = struct{}{}
		}
		for _, venue := range o.InvolvedVenues() {
			if _, ok := allowed[venue]; !ok {
				return false
			}
		}
	}

	if r, ok := o.(routed); ok {
		from, to := r.Route()
		if f.FromVenue != "" && market.NormalizeVenue(f.FromVenue) != from {
			return false
		}
		if f.ToVenue != "" && market.NormalizeVenue(f.ToVenue) != to {
			return false
		}
	}

	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		for _, field := range o.SearchFields() {
			if strings.Contains(strings.ToLower(field), q) {
				return true
			}
		}
		return false
	}
	return true
}

// Rank returns the items matching f ordered by s.
func Rank[T opportunity.Opportunity](items []T, f Filter, s Sort) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if f.Match(item) {
			out = append(out, item)
		}
	}
	Order(out, s)
	return out
}

// Order sorts items in place by s, then by ascending id.
func Order[T opportunity.Opportunity](items []T, s Sort) {
	sort.SliceStable(items, func(i, j int) bool {
		return less(items[i], items[j], s)
	})
}

func less(a, b opportunity.Opportunity, s Sort) bool {
	if c := compareKey(a, b, s.Key); c != 0 {
		if s.Direction == Asc {
			return c < 0
		}
		return c > 0
	}
	return a.OpportunityID() < b.OpportunityID()
}

func compareKey(a, b opportunity.Opportunity, key Key) int {
	switch key {
	case KeyRecency:
		return a.ObservedTime().Compare(b.ObservedTime())
	case KeyVolume:
		return compareFloat(a.RankVolume(), b.RankVolume())
	case KeyProfit:
		return compareFloat(a.RankProfit(), b.RankProfit())
	case KeyFunding:
		return compareFloat(a.RankFunding(), b.RankFunding())
	default:
		return compareFloat(a.RankMetric(), b.RankMetric())
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Top returns at most n items; n ≤ 0 returns all of them.
func Top[T any](items []T, n int) []T {
	if n <= 0 || n >= len(items) {
		return items
	}
	return items[:n]
}
