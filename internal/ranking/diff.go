package ranking

import "arb-radar/internal/opportunity"

// Diff describes how a ranked list changed between two publications, by id.
type Diff struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Moved   []string `json:"moved,omitempty"`
	Updated []string `json:"updated,omitempty"`
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Moved) == 0 && len(d.Updated) == 0
}

// Comparable is an opportunity whose values can be compared with ==.
type Comparable interface {
	opportunity.Opportunity
	comparable
}

// Compare diffs two ranked lists. Added and Moved follow the order of next,
// Removed the order of prev.
func Compare[T Comparable](prev, next []T) Diff {
	before := make(map[string]int, len(prev))
	for i, item := range prev {
		before[item.OpportunityID()] = i
	}

	var d Diff
	after := make(map[string]struct{}, len(next))
	for i, item := range next {
		id := item.OpportunityID()
		after[id] = struct{}{}
		j, ok := before[id]
		if !ok {
			d.Added = append(d.Added, id)
			continue
		}
		if i != j {
			d.Moved = append(d.Moved, id)
		}
		if prev[j] != item {
			d.Updated = append(d.Updated, id)
		}
	}
	for _, item := range prev {
		if _, ok := after[item.OpportunityID()]; !ok {
			d.Removed = append(d.Removed, item.OpportunityID())
		}
	}
	return d
}
