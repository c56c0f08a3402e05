package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"arb-radar/internal/storage"
)

// Show prints recently recorded opportunities.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show opportunities")
	}
	if closeStore != nil {
		defer closeStore()
	}

	records, err := store.ListRecentOpportunities(ctx, opts.Kind, opts.Limit)
	if err != nil {
		return err
	}
	printRecords(a.Out, records)
	return nil
}

func printRecords(out io.Writer, records []storage.OpportunityRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "no opportunities found")
		return
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Observed (UTC)\tKind\tGen\tRank\tVenues\tSubject\tMetric%\tNet profit\tVolume 24h")

	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%d\t%s\t%s\t%s\t%s\t%s\n",
			rec.ObservedAt.UTC().Format(time.RFC3339),
			rec.Kind,
			rec.Generation,
			rec.Rank,
			sanitizeInline(rec.Venues),
			sanitizeInline(rec.Subject),
			formatDecimal(rec.MetricPct, 3),
			formatDecimal(rec.NetProfit, 2),
			formatDecimal(rec.Volume24h, 0),
		)
	}

	writer.Flush()
}
