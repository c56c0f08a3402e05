package detector

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"arb-radar/internal/market"
	"arb-radar/internal/snapshot"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func pair(base, quote string) market.Pair {
	return market.Pair{Base: base, Quote: quote}
}

func spot(venue string, p market.Pair, price, volume float64) market.PriceSnapshot {
	return market.PriceSnapshot{
		Venue:       venue,
		Pair:        p,
		Kind:        market.Spot,
		Price:       price,
		Volume24h:   volume,
		LastUpdated: now.Add(-time.Second),
	}
}

func perp(venue string, p market.Pair, price, funding float64) market.PriceSnapshot {
	return market.PriceSnapshot{
		Venue:       venue,
		Pair:        p,
		Kind:        market.Futures,
		Price:       price,
		Volume24h:   5000,
		FundingRate: funding,
		LastUpdated: now.Add(-2 * time.Second),
	}
}

func viewOf(t *testing.T, snaps ...market.PriceSnapshot) *snapshot.View {
	t.Helper()
	store := snapshot.New()
	gen, applied := store.Apply(snaps)
	if applied != len(snaps) {
		t.Fatalf("expected %d snapshots applied, got %d", len(snaps), applied)
	}
	return gen.View(now, 10*time.Second, snapshot.NewVenueFilter(nil, nil))
}

func nopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func approx(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func spotGrid() []market.PriceSnapshot {
	venues := []string{"binance", "bybit", "kraken", "okx"}
	assets := map[string]float64{"BTC": 38000, "ETH": 2000, "SOL": 90}
	var out []market.PriceSnapshot
	for i, venue := range venues {
		for base, price := range assets {
			out = append(out, spot(venue, pair(base, "USDT"), price*(1+float64(i)*0.004), 250000))
		}
		out = append(out, spot(venue, pair("ETH", "BTC"), 0.0527*(1-float64(i)*0.003), 4000))
	}
	return out
}
