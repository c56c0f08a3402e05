package snapshot

import (
	"testing"
	"time"

	"arb-radar/internal/market"
)

func TestViewExcludesStaleEntries(t *testing.T) {
	s := New()
	now := t0.Add(time.Minute)
	_ = s.Upsert(spot("binance", btcUSDT, 38000, now.Add(-2*time.Second)))
	_ = s.Upsert(spot("kraken", btcUSDT, 38500, now.Add(-11*time.Second)))
	_ = s.Upsert(spot("kraken", ethUSDT, 2000, now.Add(-15*time.Second)))

	view := s.ReadAll().View(now, 10*time.Second, NewVenueFilter(nil, nil))
	if view.Len() != 1 {
		t.Fatalf("expected one fresh entry, got %d", view.Len())
	}
	if _, ok := view.Spot("kraken", btcUSDT); ok {
		t.Fatal("stale kraken entry must be excluded")
	}
	stale := view.StaleVenues()
	if len(stale) != 1 || stale[0] != "kraken" {
		t.Fatalf("expected kraken stale, got %v", stale)
	}
	if s.ReadAll().Len() != 3 {
		t.Fatal("stale entries remain stored")
	}
}

func TestViewGroupsAndFilters(t *testing.T) {
	s := New()
	s.Apply([]market.PriceSnapshot{
		spot("kraken", btcUSDT, 38500, t0),
		spot("binance", btcUSDT, 38000, t0),
		spot("binance", ethUSDT, 2000, t0),
		spot("ftx", btcUSDT, 1, t0),
		{Venue: "binance", Pair: btcUSDT, Kind: market.Futures, Price: 38100, LastUpdated: t0},
	})

	view := s.ReadAll().View(t0, 10*time.Second, NewVenueFilter(nil, []string{"FTX"}))
	groups := view.SpotByPair()
	if len(groups) != 2 || groups[0].Pair != btcUSDT {
		t.Fatalf("unexpected pair groups %+v", groups)
	}
	if len(groups[0].Snapshots) != 2 || groups[0].Snapshots[0].Venue != "binance" {
		t.Fatalf("pair group should be ordered by venue without denied venues: %+v", groups[0].Snapshots)
	}
	venues := view.SpotByVenue()
	if len(venues) != 2 || venues[0].Venue != "binance" || len(venues[0].Snapshots) != 2 {
		t.Fatalf("unexpected venue groups %+v", venues)
	}
	if len(view.Futures()) != 1 {
		t.Fatalf("expected one futures entry")
	}

	allowOnly := s.ReadAll().View(t0, 10*time.Second, NewVenueFilter([]string{"kraken"}, nil))
	if allowOnly.Len() != 1 {
		t.Fatalf("allow-list should keep only kraken, got %d", allowOnly.Len())
	}
}
