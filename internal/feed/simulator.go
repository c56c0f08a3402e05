package feed

import (
	"context"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"arb-radar/internal/market"
)

// DemoVenues are the venues the simulator quotes by default.
var DemoVenues = []string{
	"Binance", "Coinbase", "Kraken", "KuCoin", "Bitfinex",
	"Huobi", "FTX", "Bybit", "OKX", "Gemini",
	"Bitstamp", "Gate.io", "Bittrex", "Poloniex", "BitMart",
}

// SimulatorOptions configure the random-walk market generator.
type SimulatorOptions struct {
	Venues   []string
	Interval time.Duration
	Seed     uint64
	// Volatility is the per-step standard deviation of the walk as a fraction.
	Volatility float64
	// Dispersion is the maximum per-venue price bias as a fraction.
	Dispersion float64
	Futures    bool
	Now        func() time.Time
}

type simAsset struct {
	symbol string
	price  float64
}

// Simulator is a synthetic feed source for demos and tests. Detection never
// depends on it; it only produces events like any external venue would.
type Simulator struct {
	opts   SimulatorOptions
	rng    *rand.Rand
	assets []simAsset
	bias   map[string]float64
}

// NewSimulator constructs a seeded simulator.
func NewSimulator(opts SimulatorOptions) *Simulator {
	if len(opts.Venues) == 0 {
		opts.Venues = DemoVenues
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Volatility <= 0 {
		opts.Volatility = 0.0005
	}
	if opts.Dispersion <= 0 {
		opts.Dispersion = 0.015
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	s := &Simulator{
		opts: opts,
		rng:  rng,
		assets: []simAsset{
			{symbol: "BTC", price: 38000 + rng.Float64()*2000},
			{symbol: "ETH", price: 2000 + rng.Float64()*200},
			{symbol: "SOL", price: 90 + rng.Float64()*10},
		},
		bias: make(map[string]float64, len(opts.Venues)),
	}
	for _, venue := range opts.Venues {
		s.bias[venue] = (rng.Float64()*2 - 1) * opts.Dispersion
	}
	return s
}

// Name identifies the source.
func (s *Simulator) Name() string {
	return "simulator"
}

// Run emits one round of events per interval.
func (s *Simulator) Run(ctx context.Context, out chan<- Event) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		for _, ev := range s.Next() {
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Next advances the walk one step and returns the events of every venue.
func (s *Simulator) Next() []Event {
	now := s.opts.Now().UTC()
	for i := range s.assets {
		step := s.rng.NormFloat64() * s.opts.Volatility
		s.assets[i].price *= math.Exp(step)
	}

	events := make([]Event, 0, len(s.opts.Venues)*6)
	for _, venue := range s.opts.Venues {
		bias := s.bias[venue]
		venueID := strings.ToLower(venue)
		prices := make(map[string]float64, len(s.assets))
		for _, asset := range s.assets {
			noise := s.rng.NormFloat64() * s.opts.Volatility
			price := asset.price * (1 + bias + noise)
			prices[asset.symbol] = price
			events = append(events, s.ticker(venueID, asset.symbol+"/USDT", price, now))
		}

		cross := prices["ETH"] / prices["BTC"] * (1 + s.rng.NormFloat64()*s.opts.Dispersion/4)
		events = append(events, s.ticker(venueID, "ETH/BTC", cross, now))

		if s.opts.Futures {
			for _, asset := range s.assets[:2] {
				basis := s.rng.NormFloat64() * 0.004
				ev := s.ticker(venueID, asset.symbol+"/USDT", prices[asset.symbol]*(1+basis), now)
				ev.Kind = string(market.Futures)
				ev.FundingRate = math.Round((s.rng.Float64()*0.002-0.001)*1e6) / 1e6
				ev.FundingInterval = "8h"
				events = append(events, ev)
			}
		}
	}
	return events
}

func (s *Simulator) ticker(venue, symbol string, price float64, now time.Time) Event {
	change := s.rng.Float64()*10 - 5
	return Event{
		Venue:                 venue,
		Symbol:                symbol,
		Price:                 price,
		Volume24h:             1_000_000 + s.rng.Float64()*9_000_000,
		High24h:               price * (1 + s.rng.Float64()*0.03),
		Low24h:                price * (1 - s.rng.Float64()*0.03),
		PriceChange24h:        price * change / 100,
		PriceChangePercent24h: change,
		Timestamp:             At(now),
	}
}
