package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"arb-radar/internal/storage"
)

// Export renders recorded opportunities as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	records, err := store.ListOpportunitiesBetween(ctx, opts.Kind, from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Str("kind", string(opts.Kind)).Msg("no opportunities found for export window")
		return nil
	}

	best := bestPerGeneration(records)
	downsampled := downsampleRecords(best, opts.MaxPoints)
	a.Logger.Info().
		Int("total", len(records)).
		Int("generations", len(best)).
		Int("exported", len(downsampled)).
		Msg("exporting opportunities")

	if opts.CSVPath != "" {
		if err := writeRecordsCSV(opts.CSVPath, records); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRecordsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// bestPerGeneration keeps the rank-1 record of every generation, in time order.
func bestPerGeneration(records []storage.OpportunityRecord) []storage.OpportunityRecord {
	out := make([]storage.OpportunityRecord, 0, len(records))
	seen := make(map[int64]int, len(records))
	for _, rec := range records {
		if idx, ok := seen[rec.Generation]; ok {
			if rec.Rank < out[idx].Rank {
				out[idx] = rec
			}
			continue
		}
		seen[rec.Generation] = len(out)
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PublishedAt.Before(out[j].PublishedAt)
	})
	return out
}

func downsampleRecords(records []storage.OpportunityRecord, max int) []storage.OpportunityRecord {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[:1]
	}

	result := make([]storage.OpportunityRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeRecordsCSV(path string, records []storage.OpportunityRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"published_at", "observed_at", "kind", "generation", "rank", "opportunity_id", "venues", "subject", "metric_pct", "estimated_profit", "fees", "net_profit", "volume_24h"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		row := []string{
			rec.PublishedAt.UTC().Format(time.RFC3339),
			rec.ObservedAt.UTC().Format(time.RFC3339),
			string(rec.Kind),
			strconv.FormatInt(rec.Generation, 10),
			strconv.Itoa(rec.Rank),
			rec.OpportunityID,
			rec.Venues,
			rec.Subject,
			rec.MetricPct.String(),
			rec.EstimatedProfit.String(),
			rec.Fees.String(),
			rec.NetProfit.String(),
			rec.Volume24h.String(),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeRecordsPNG(path string, records []storage.OpportunityRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(records))
	metric := make([]float64, len(records))
	profit := make([]float64, len(records))

	for i, rec := range records {
		x[i] = rec.PublishedAt
		metric[i] = rec.MetricPct.InexactFloat64()
		profit[i] = rec.NetProfit.InexactFloat64()
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Best metric (%)",
			ValueFormatter: pctFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Net profit",
			ValueFormatter: pctFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Best metric %",
				XValues: x,
				YValues: metric,
			},
			chart.TimeSeries{
				Name:    "Net profit",
				XValues: x,
				YValues: profit,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
