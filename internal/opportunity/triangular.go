package opportunity

import (
	"strings"
	"time"

	"arb-radar/internal/market"
)

// Side is the order side taken on a leg's market.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Leg converts From into To on Market at Rate units of To per unit of From.
type Leg struct {
	From   string      `json:"from"`
	To     string      `json:"to"`
	Market market.Pair `json:"market"`
	Side   Side        `json:"side"`
	Price  float64     `json:"price"`
	Rate   float64     `json:"rate"`
}

// Pair is the leg expressed as a directed From/To pair.
func (l Leg) Pair() market.Pair {
	return market.Pair{Base: l.From, Quote: l.To}
}

// Triangular is a three-leg currency cycle on a single venue.
type Triangular struct {
	ID               string    `json:"id"`
	Venue            string    `json:"venue"`
	StartCurrency    string    `json:"startCurrency"`
	Legs             [3]Leg    `json:"legs"`
	Path             string    `json:"path"`
	ProfitPercent    float64   `json:"profitPercent"`
	NetProfitPercent float64   `json:"netProfitPercent"`
	EstimatedProfit  float64   `json:"estimatedProfit"`
	Fees             float64   `json:"fees"`
	NetProfit        float64   `json:"netProfit"`
	Volume24h        float64   `json:"volume24h"`
	ObservedAt       time.Time `json:"observedAt"`
}

// TriangularID is the id of the cycle start→a→b→start on venue.
func TriangularID(venue, start, a, b string) string {
	return NewID(KindTriangular, venue, start, a, b)
}

// PathDescription renders a cycle as "USDT → BTC → ETH → USDT".
func PathDescription(currencies ...string) string {
	return strings.Join(currencies, " → ")
}

func (t Triangular) OpportunityID() string { return t.ID }
func (t Triangular) OpportunityKind() Kind { return KindTriangular }
func (t Triangular) RankMetric() float64 { return t.ProfitPercent }
func (t Triangular) RankVolume() float64 { return t.Volume24h }
func (t Triangular) RankProfit() float64 { return t.NetProfit }
func (t Triangular) RankFunding() float64 { return t.ProfitPercent }
func (t Triangular) ObservedTime() time.Time { return t.ObservedAt }
func (t Triangular) InvolvedVenues() []string {
	return []string{t.Venue}
}

func (t Triangular) SearchFields() []string {
	fields := []string{t.Venue, t.Path}
	for _, leg := range t.Legs {
		fields = append(fields, leg.Market.String())
	}
	return fields
}
