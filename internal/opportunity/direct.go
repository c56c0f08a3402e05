package opportunity

import (
	"time"

	"arb-radar/internal/market"
)

// Direct is a cross-venue spread on one pair: buy on FromVenue, sell on ToVenue.
type Direct struct {
	ID              string      `json:"id"`
	FromVenue       string      `json:"fromVenue"`
	ToVenue         string      `json:"toVenue"`
	Pair            market.Pair `json:"pair"`
	FromPrice       float64     `json:"fromPrice"`
	ToPrice         float64     `json:"toPrice"`
	SpreadAmount    float64     `json:"spreadAmount"`
	SpreadPercent   float64     `json:"spreadPercent"`
	Volume24h       float64     `json:"volume24h"`
	EstimatedProfit float64     `json:"estimatedProfit"`
	Fees            float64     `json:"fees"`
	NetProfit       float64     `json:"netProfit"`
	ObservedAt      time.Time   `json:"observedAt"`
}

// DirectID is the id of the from→to spread on pair.
func DirectID(from, to string, pair market.Pair) string {
	return NewID(KindDirect, from, to, pair.String())
}

// Route is the buy venue and the sell venue.
func (d Direct) Route() (from, to string) { return d.FromVenue, d.ToVenue }

func (d Direct) OpportunityID() string { return d.ID }
func (d Direct) OpportunityKind() Kind { return KindDirect }
func (d Direct) RankMetric() float64 { return d.SpreadPercent }
func (d Direct) RankVolume() float64 { return d.Volume24h }
func (d Direct) RankProfit() float64 { return d.NetProfit }
func (d Direct) RankFunding() float64 { return d.SpreadPercent }
func (d Direct) ObservedTime() time.Time { return d.ObservedAt }
func (d Direct) InvolvedVenues() []string { return []string{d.FromVenue, d.ToVenue} }
func (d Direct) SearchFields() []string { return []string{d.Pair.String(), d.FromVenue, d.ToVenue} }
