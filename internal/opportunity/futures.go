package opportunity

import (
	"math"
	"time"

	"arb-radar/internal/market"
)

// Basis classifies the sign of a futures spread.
type Basis string

const (
	Premium  Basis = "premium"
	Discount Basis = "discount"
	Flat     Basis = "flat"
)

// ClassifyBasis maps a spread percentage to its basis.
func ClassifyBasis(spreadPercent float64) Basis {
	switch {
	case spreadPercent > 0:
		return Premium
	case spreadPercent < 0:
		return Discount
	default:
		return Flat
	}
}

// Futures pairs a spot market with its perpetual on the same venue.
type Futures struct {
	ID              string        `json:"id"`
	Venue           string        `json:"venue"`
	Pair            market.Pair   `json:"pair"`
	FundingRate     float64       `json:"fundingRate"`
	FundingInterval time.Duration `json:"fundingInterval"`
	SpotPrice       float64       `json:"spotPrice"`
	FuturesPrice    float64       `json:"futuresPrice"`
	SpreadPercent   float64       `json:"spreadPercent"`
	Basis           Basis         `json:"basis"`
	EstimatedProfit float64       `json:"estimatedProfit"`
	Fees            float64       `json:"fees"`
	NetProfit       float64       `json:"netProfit"`
	Volume24h       float64       `json:"volume24h"`
	ObservedAt      time.Time     `json:"observedAt"`
}

// FuturesID is the id of the spot/perp pairing on venue.
func FuturesID(venue string, pair market.Pair) string {
	return NewID(KindFutures, venue, pair.String())
}

func (f Futures) OpportunityID() string { return f.ID }
func (f Futures) OpportunityKind() Kind { return KindFutures }
func (f Futures) RankMetric() float64 { return math.Abs(f.SpreadPercent) }
func (f Futures) RankVolume() float64 { return f.Volume24h }
func (f Futures) RankProfit() float64 { return f.NetProfit }
func (f Futures) RankFunding() float64 { return math.Abs(f.FundingRate) }
func (f Futures) ObservedTime() time.Time { return f.ObservedAt }
func (f Futures) InvolvedVenues() []string { return []string{f.Venue} }
func (f Futures) SearchFields() []string { return []string{f.Pair.String(), f.Venue, string(f.Basis)} }
