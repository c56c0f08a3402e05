package storage

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"arb-radar/internal/opportunity"
)

// OpportunityRecord is one ranked opportunity as recorded from a publication.
type OpportunityRecord struct {
	Kind            opportunity.Kind
	OpportunityID   string
	Generation      int64
	Rank            int
	Venues          string
	Subject         string
	MetricPct       decimal.Decimal
	EstimatedProfit decimal.Decimal
	Fees            decimal.Decimal
	NetProfit       decimal.Decimal
	Volume24h       decimal.Decimal
	ObservedAt      time.Time
	PublishedAt     time.Time
	Payload         json.RawMessage
	CreatedAt       time.Time
}

// AlertRecord captures an emitted alert for de-duplication/auditing.
type AlertRecord struct {
	ID            int64
	Kind          opportunity.Kind
	OpportunityID string
	ObservedAt    time.Time
	Subject       string
	MetricPct     decimal.Decimal
	NetProfit     decimal.Decimal
	Threshold     decimal.Decimal
	Channels      []string
	CreatedAt     time.Time
}

// NewOpportunityRecord flattens o into its recorded form.
func NewOpportunityRecord(o opportunity.Opportunity, generation uint64, rank int, publishedAt time.Time) (OpportunityRecord, error) {
	payload, err := json.Marshal(o)
	if err != nil {
		return OpportunityRecord{}, fmt.Errorf("marshal opportunity %s: %w", o.OpportunityID(), err)
	}

	rec := OpportunityRecord{
		Kind:          o.OpportunityKind(),
		OpportunityID: o.OpportunityID(),
		Generation:    int64(generation),
		Rank:          rank,
		Venues:        strings.Join(o.InvolvedVenues(), ">"),
		MetricPct:     toDecimal(o.RankMetric()),
		NetProfit:     toDecimal(o.RankProfit()),
		Volume24h:     toDecimal(o.RankVolume()),
		ObservedAt:    o.ObservedTime(),
		PublishedAt:   publishedAt,
		Payload:       payload,
	}

	switch v := o.(type) {
	case opportunity.Direct:
		rec.Subject = v.Pair.String()
		rec.EstimatedProfit = toDecimal(v.EstimatedProfit)
		rec.Fees = toDecimal(v.Fees)
	case opportunity.Triangular:
		rec.Subject = v.Path
		rec.EstimatedProfit = toDecimal(v.EstimatedProfit)
		rec.Fees = toDecimal(v.Fees)
	case opportunity.Futures:
		rec.Subject = v.Pair.String()
		rec.EstimatedProfit = toDecimal(v.EstimatedProfit)
		rec.Fees = toDecimal(v.Fees)
	}
	return rec, nil
}

func toDecimal(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}
