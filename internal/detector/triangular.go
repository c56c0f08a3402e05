package detector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"arb-radar/internal/market"
	"arb-radar/internal/opportunity"
	"arb-radar/internal/snapshot"
)

const cycleLength = 3

// TriangularConfig holds the thresholds and cost model of single-venue cycles.
type TriangularConfig struct {
	MinProfitPercent float64
	// LegFeePercent is charged per leg; three legs make up the combined fee.
	LegFeePercent   float64
	Notional        float64
	StartCurrencies []string
}

// CombinedFeePercent is the fee charged over a whole cycle.
func (c TriangularConfig) CombinedFeePercent() float64 {
	return cycleLength * c.LegFeePercent
}

// Triangular finds three-leg currency cycles whose compounded rate exceeds one.
type Triangular struct {
	cfg     TriangularConfig
	logger  zerolog.Logger
	missing atomic.Uint64
}

// NewTriangular constructs a triangular cycle detector.
func NewTriangular(cfg TriangularConfig, logger zerolog.Logger) *Triangular {
	starts := make([]string, 0, len(cfg.StartCurrencies))
	for _, c := range cfg.StartCurrencies {
		starts = append(starts, strings.ToUpper(strings.TrimSpace(c)))
	}
	cfg.StartCurrencies = starts
	return &Triangular{
		cfg:    cfg,
		logger: logger.With().Str("component", "triangular_detector").Logger(),
	}
}

// MissingCycles counts cycles skipped because a closing market was not listed.
func (t *Triangular) MissingCycles() uint64 {
	return t.missing.Load()
}

type edge struct {
	from, to string
	snap     market.PriceSnapshot
	side     opportunity.Side
	rate     float64
}

// graph maps currency → neighbour → best edge on one venue.
type graph map[string]map[string]edge

// buildGraph adds two edges per market B/Q quoted at p (p units of Q per B):
// B→Q selling at rate p and Q→B buying at rate 1/p.
func buildGraph(snaps []market.PriceSnapshot) graph {
	g := make(graph)
	add := func(e edge) {
		if !finite(e.rate) || e.rate <= 0 {
			return
		}
		if g[e.from] == nil {
			g[e.from] = make(map[string]edge)
		}
		if cur, ok := g[e.from][e.to]; ok && cur.rate >= e.rate {
			return
		}
		g[e.from][e.to] = e
	}
	for _, snap := range snaps {
		base, quote := snap.Pair.Base, snap.Pair.Quote
		add(edge{from: base, to: quote, snap: snap, side: opportunity.Sell, rate: snap.Price})
		add(edge{from: quote, to: base, snap: snap, side: opportunity.Buy, rate: 1 / snap.Price})
	}
	return g
}

func (g graph) neighbours(c string) []string {
	out := make([]string, 0, len(g[c]))
	for n := range g[c] {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// cycles walks every simple path of cycleLength edges starting at start and
// reports the ones that close back on it. Paths whose closing edge is absent
// are counted in missing.
func (g graph) cycles(start string, missing *int) [][]edge {
	var out [][]edge
	path := make([]edge, 0, cycleLength)
	visited := map[string]bool{start: true}

	var walk func(at string)
	walk = func(at string) {
		if len(path) == cycleLength-1 {
			closing, ok := g[at][start]
			if !ok {
				*missing++
				return
			}
			cycle := make([]edge, 0, cycleLength)
			cycle = append(cycle, path...)
			out = append(out, append(cycle, closing))
			return
		}
		for _, next := range g.neighbours(at) {
			if visited[next] {
				continue
			}
			visited[next] = true
			path = append(path, g[at][next])
			walk(next)
			path = path[:len(path)-1]
			visited[next] = false
		}
	}
	walk(start)
	return out
}

// Detect enumerates the cycles of each venue from every configured start
// currency. Cycles over the same three currencies are reported once.
func (t *Triangular) Detect(ctx context.Context, view *snapshot.View) ([]opportunity.Triangular, error) {
	combined := t.cfg.CombinedFeePercent()

	var out []opportunity.Triangular
	for _, group := range view.SpotByVenue() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		g := buildGraph(group.Snapshots)
		best := make(map[string]int)
		rank := make(map[string]int)
		missing := 0
		for startIdx, start := range t.cfg.StartCurrencies {
			if _, ok := g[start]; !ok {
				continue
			}
			for _, cycle := range g.cycles(start, &missing) {
				opp, ok := t.evaluate(group.Venue, start, cycle, combined)
				if !ok {
					continue
				}

				key := currencySet(cycle)
				idx, seen := best[key]
				if !seen {
					best[key] = len(out)
					rank[key] = startIdx
					out = append(out, opp)
					continue
				}
				if better(opp, startIdx, out[idx], rank[key]) {
					out[idx] = opp
					rank[key] = startIdx
				}
			}
		}
		if missing > 0 {
			t.missing.Add(uint64(missing))
			t.logger.Debug().
				Err(market.ErrMissingPairForCycle).
				Str("venue", group.Venue).
				Int("cycles", missing).
				Msg("cycles skipped")
		}
	}

	t.logger.Debug().
		Uint64("generation", view.Generation()).
		Int("opportunities", len(out)).
		Msg("triangular cycles detected")
	return out, nil
}

func (t *Triangular) evaluate(venue, start string, cycle []edge, combined float64) (opportunity.Triangular, bool) {
	rates := make([]float64, len(cycle))
	for i, e := range cycle {
		rates[i] = e.rate
	}
	// Multiplying in a fixed order keeps rotations of one cycle bit-identical.
	sort.Float64s(rates)
	product := 1.0
	for _, r := range rates {
		product *= r
	}
	if !finite(product) || product <= 1 {
		return opportunity.Triangular{}, false
	}

	profitPercent := (product - 1) * 100
	netProfitPercent := profitPercent * (1 - combined/100)
	if netProfitPercent < t.cfg.MinProfitPercent {
		return opportunity.Triangular{}, false
	}

	estimated := t.cfg.Notional * profitPercent / 100
	fees := estimated * combined / 100

	var legs [3]opportunity.Leg
	volume := math.Inf(1)
	currencies := []string{start}
	opp := opportunity.Triangular{
		Venue:            venue,
		StartCurrency:    start,
		ProfitPercent:    profitPercent,
		NetProfitPercent: netProfitPercent,
		EstimatedProfit:  estimated,
		Fees:             fees,
		NetProfit:        estimated - fees,
	}
	for i, e := range cycle {
		legs[i] = opportunity.Leg{
			From:   e.from,
			To:     e.to,
			Market: e.snap.Pair,
			Side:   e.side,
			Price:  e.snap.Price,
			Rate:   e.rate,
		}
		volume = math.Min(volume, e.snap.Volume24h)
		opp.ObservedAt = latest(opp.ObservedAt, e.snap.LastUpdated)
		currencies = append(currencies, e.to)
	}
	opp.Legs = legs
	opp.Volume24h = volume
	opp.Path = opportunity.PathDescription(currencies...)
	opp.ID = opportunity.TriangularID(venue, start, cycle[0].to, cycle[1].to)
	return opp, true
}

// better reports whether a should replace b for the same currency set.
func better(a opportunity.Triangular, aStart int, b opportunity.Triangular, bStart int) bool {
	if a.NetProfit != b.NetProfit {
		return a.NetProfit > b.NetProfit
	}
	if aStart != bStart {
		return aStart < bStart
	}
	return a.ID < b.ID
}

func currencySet(cycle []edge) string {
	set := make([]string, 0, len(cycle))
	for _, e := range cycle {
		set = append(set, e.from)
	}
	sort.Strings(set)
	return fmt.Sprint(set)
}
