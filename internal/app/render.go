package app

import (
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"arb-radar/internal/engine"
	"arb-radar/internal/ranking"
)

// printPublication writes a summary line and the top rows of every list.
func printPublication(out io.Writer, pub *engine.Publication, limit int) {
	if pub == nil {
		fmt.Fprintln(out, "no publication")
		return
	}
	stale := ""
	if pub.Stale {
		stale = " (stale)"
	}
	fmt.Fprintf(out, "generation %d snapshot %d at %s%s: direct=%d triangular=%d futures=%d\n",
		pub.Generation, pub.SnapshotGeneration, pub.PublishedAt.UTC().Format(time.RFC3339),
		stale, len(pub.Direct), len(pub.Triangular), len(pub.Futures))

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if len(pub.Direct) > 0 {
		fmt.Fprintln(writer, "  DIRECT\tPair\tBuy\tSell\tSpread%\tNet profit")
		for _, d := range ranking.Top(pub.Direct, limit) {
			fmt.Fprintf(writer, "  \t%s\t%s @ %s\t%s @ %s\t%s\t%s\n",
				d.Pair, d.FromVenue, formatFloat(d.FromPrice, 6), d.ToVenue, formatFloat(d.ToPrice, 6),
				formatFloat(d.SpreadPercent, 3), formatFloat(d.NetProfit, 2))
		}
	}
	if len(pub.Triangular) > 0 {
		fmt.Fprintln(writer, "  TRIANGULAR\tVenue\tPath\tProfit%\tNet%\tNet profit")
		for _, t := range ranking.Top(pub.Triangular, limit) {
			fmt.Fprintf(writer, "  \t%s\t%s\t%s\t%s\t%s\n",
				t.Venue, t.Path, formatFloat(t.ProfitPercent, 4), formatFloat(t.NetProfitPercent, 4), formatFloat(t.NetProfit, 2))
		}
	}
	if len(pub.Futures) > 0 {
		fmt.Fprintln(writer, "  FUTURES\tVenue\tPair\tBasis\tSpread%\tFunding")
		for _, f := range ranking.Top(pub.Futures, limit) {
			fmt.Fprintf(writer, "  \t%s\t%s\t%s\t%s\t%s\n",
				f.Venue, f.Pair, f.Basis, formatFloat(f.SpreadPercent, 3), formatFloat(f.FundingRate*100, 4))
		}
	}
	writer.Flush()
}

func formatFloat(v float64, places int32) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	return formatDecimal(decimal.NewFromFloat(v), places)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
