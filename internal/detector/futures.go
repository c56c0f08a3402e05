package detector

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"arb-radar/internal/opportunity"
	"arb-radar/internal/snapshot"
)

// FuturesConfig holds the thresholds and cost model of spot/perpetual spreads.
type FuturesConfig struct {
	MinSpreadPercent float64
	// MinFundingPercent triggers on funding alone; zero disables the trigger.
	MinFundingPercent      float64
	SpreadWeight           float64
	FundingWeight          float64
	SpotFeePercent         float64
	FuturesFeePercent      float64
	Notional               float64
	DefaultFundingInterval time.Duration
}

// Futures matches perpetual quotes with the spot market of the same venue.
type Futures struct {
	cfg    FuturesConfig
	logger zerolog.Logger
}

// NewFutures constructs a futures spread detector.
func NewFutures(cfg FuturesConfig, logger zerolog.Logger) *Futures {
	if cfg.DefaultFundingInterval <= 0 {
		cfg.DefaultFundingInterval = 8 * time.Hour
	}
	return &Futures{
		cfg:    cfg,
		logger: logger.With().Str("component", "futures_detector").Logger(),
	}
}

// Detect reports the basis and funding of every perpetual with a fresh spot leg.
func (f *Futures) Detect(ctx context.Context, view *snapshot.View) ([]opportunity.Futures, error) {
	var out []opportunity.Futures
	for _, perp := range view.Futures() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		spot, ok := view.Spot(perp.Venue, perp.Pair)
		if !ok {
			continue
		}

		spreadPercent := (perp.Price - spot.Price) / spot.Price * 100
		funding := perp.FundingRate
		if !finite(spreadPercent) || !finite(funding) {
			continue
		}
		if spreadPercent == 0 && funding == 0 {
			continue
		}
		spreadHit := math.Abs(spreadPercent) >= f.cfg.MinSpreadPercent
		fundingHit := f.cfg.MinFundingPercent > 0 && math.Abs(funding)*100 >= f.cfg.MinFundingPercent
		if !spreadHit && !fundingHit {
			continue
		}

		estimated := f.cfg.Notional * (f.cfg.SpreadWeight*math.Abs(spreadPercent)/100 + f.cfg.FundingWeight*math.Abs(funding))
		fees := estimated * (f.cfg.SpotFeePercent + f.cfg.FuturesFeePercent) / 100

		interval := perp.FundingInterval
		if interval <= 0 {
			interval = f.cfg.DefaultFundingInterval
		}

		out = append(out, opportunity.Futures{
			ID:              opportunity.FuturesID(perp.Venue, perp.Pair),
			Venue:           perp.Venue,
			Pair:            perp.Pair,
			FundingRate:     funding,
			FundingInterval: interval,
			SpotPrice:       spot.Price,
			FuturesPrice:    perp.Price,
			SpreadPercent:   spreadPercent,
			Basis:           opportunity.ClassifyBasis(spreadPercent),
			EstimatedProfit: estimated,
			Fees:            fees,
			NetProfit:       estimated - fees,
			Volume24h:       perp.Volume24h,
			ObservedAt:      latest(spot.LastUpdated, perp.LastUpdated),
		})
	}

	f.logger.Debug().
		Uint64("generation", view.Generation()).
		Int("opportunities", len(out)).
		Msg("futures spreads detected")
	return out, nil
}
