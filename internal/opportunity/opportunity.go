// Package opportunity defines the three published signal types.
package opportunity

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind tags an opportunity variant.
type Kind string

const (
	KindDirect     Kind = "direct"
	KindTriangular Kind = "triangular"
	KindFutures    Kind = "futures"
)

// Kinds lists every variant in publication order.
var Kinds = []Kind{KindDirect, KindTriangular, KindFutures}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindDirect, "spread", "cross":
		return KindDirect, nil
	case KindTriangular, "triangle", "tri":
		return KindTriangular, nil
	case KindFutures, "funding", "basis":
		return KindFutures, nil
	default:
		return "", fmt.Errorf("unknown opportunity kind %q", s)
	}
}

// Opportunity is the common view the ranking engine works on.
type Opportunity interface {
	OpportunityID() string
	OpportunityKind() Kind
	// RankMetric is the primary metric used by thresholds and the default sort.
	RankMetric() float64
	RankVolume() float64
	RankProfit() float64
	RankFunding() float64
	ObservedTime() time.Time
	InvolvedVenues() []string
	SearchFields() []string
}

var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("arb-radar/opportunity"))

// NewID derives a stable id from the defining keys of an opportunity.
func NewID(kind Kind, parts ...string) string {
	name := string(kind) + ":" + strings.Join(parts, "|")
	return string(kind) + "-" + uuid.NewSHA1(namespace, []byte(name)).String()
}
