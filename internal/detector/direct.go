package detector

import (
	"context"
	"math"

	"github.com/rs/zerolog"

	"arb-radar/internal/opportunity"
	"arb-radar/internal/snapshot"
)

// DirectConfig holds the thresholds and cost model of cross-venue spreads.
type DirectConfig struct {
	MinSpreadPercent float64
	// FeePercent is the share of the estimated profit consumed by trading and transfer costs.
	FeePercent  float64
	MaxNotional float64
}

// Direct finds the same pair quoted at different prices on two venues.
type Direct struct {
	cfg    DirectConfig
	logger zerolog.Logger
}

// NewDirect constructs a direct spread detector.
func NewDirect(cfg DirectConfig, logger zerolog.Logger) *Direct {
	return &Direct{
		cfg:    cfg,
		logger: logger.With().Str("component", "direct_detector").Logger(),
	}
}

// Detect compares every ordered venue pair quoting the same market. Buying on
// the cheaper venue and selling on the dearer one is reported when the spread
// is positive and reaches MinSpreadPercent.
func (d *Direct) Detect(ctx context.Context, view *snapshot.View) ([]opportunity.Direct, error) {
	var out []opportunity.Direct
	for _, group := range view.SpotByPair() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(group.Snapshots) < 2 {
			continue
		}

		for _, from := range group.Snapshots {
			for _, to := range group.Snapshots {
				if from.Venue == to.Venue {
					continue
				}
				spreadAmount := to.Price - from.Price
				spreadPercent := spreadAmount / from.Price * 100
				if !finite(spreadPercent) || spreadPercent <= 0 || spreadPercent < d.cfg.MinSpreadPercent {
					continue
				}

				notional := from.Volume24h
				if d.cfg.MaxNotional > 0 {
					notional = math.Min(notional, d.cfg.MaxNotional)
				}
				estimated := notional * spreadPercent / 100
				fees := estimated * d.cfg.FeePercent / 100

				out = append(out, opportunity.Direct{
					ID:              opportunity.DirectID(from.Venue, to.Venue, group.Pair),
					FromVenue:       from.Venue,
					ToVenue:         to.Venue,
					Pair:            group.Pair,
					FromPrice:       from.Price,
					ToPrice:         to.Price,
					SpreadAmount:    spreadAmount,
					SpreadPercent:   spreadPercent,
					Volume24h:       math.Min(from.Volume24h, to.Volume24h),
					EstimatedProfit: estimated,
					Fees:            fees,
					NetProfit:       estimated - fees,
					ObservedAt:      latest(from.LastUpdated, to.LastUpdated),
				})
			}
		}
	}

	d.logger.Debug().
		Uint64("generation", view.Generation()).
		Int("opportunities", len(out)).
		Msg("direct spreads detected")
	return out, nil
}
