package snapshot

import (
	"errors"
	"sync"
	"testing"
	"time"

	"arb-radar/internal/market"
)

var (
	btcUSDT = market.Pair{Base: "BTC", Quote: "USDT"}
	ethUSDT = market.Pair{Base: "ETH", Quote: "USDT"}
	t0      = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
)

func spot(venue string, pair market.Pair, price float64, at time.Time) market.PriceSnapshot {
	return market.PriceSnapshot{Venue: venue, Pair: pair, Kind: market.Spot, Price: price, Volume24h: 1000, LastUpdated: at}
}

func TestStoreUpsertAndRead(t *testing.T) {
	s := New()
	if s.ReadAll().Number() != 0 {
		t.Fatalf("empty store should start at generation 0")
	}
	if _, err := s.Read("binance", btcUSDT); !errors.Is(err, market.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Upsert(spot("binance", btcUSDT, 38000, t0)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := s.Read("Binance ", btcUSDT)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Price != 38000 {
		t.Fatalf("unexpected price %v", got.Price)
	}
	if s.ReadAll().Number() != 1 {
		t.Fatalf("expected generation 1, got %d", s.ReadAll().Number())
	}
}

func TestStoreDiscardsLateData(t *testing.T) {
	s := New()
	_ = s.Upsert(spot("binance", btcUSDT, 38000, t0))

	err := s.Upsert(spot("binance", btcUSDT, 37000, t0.Add(-time.Second)))
	if !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}
	got, _ := s.Read("binance", btcUSDT)
	if got.Price != 38000 {
		t.Fatalf("late update must not overwrite, got %v", got.Price)
	}
	if s.ReadAll().Number() != 1 {
		t.Fatalf("rejected update must not create a generation")
	}

	if err := s.Upsert(spot("binance", btcUSDT, 38100, t0)); err != nil {
		t.Fatalf("equal timestamp should be accepted: %v", err)
	}
}

func TestStoreApplyBatchIsOneGeneration(t *testing.T) {
	s := New()
	gen, applied := s.Apply([]market.PriceSnapshot{
		spot("binance", btcUSDT, 38000, t0),
		spot("kraken", btcUSDT, 38500, t0),
		spot("binance", btcUSDT, 37000, t0.Add(-time.Minute)),
	})
	if applied != 2 {
		t.Fatalf("expected 2 applied, got %d", applied)
	}
	if gen.Number() != 1 || gen.Len() != 2 {
		t.Fatalf("unexpected generation %d with %d entries", gen.Number(), gen.Len())
	}
}

func TestGenerationIsImmutable(t *testing.T) {
	s := New()
	_ = s.Upsert(spot("binance", btcUSDT, 38000, t0))
	held := s.ReadAll()

	_ = s.Upsert(spot("binance", btcUSDT, 39000, t0.Add(time.Second)))
	_ = s.Upsert(spot("kraken", ethUSDT, 2000, t0.Add(time.Second)))

	snap, _ := held.Get(market.SpotKey("binance", btcUSDT))
	if snap.Price != 38000 || held.Len() != 1 {
		t.Fatalf("held generation changed: price=%v len=%d", snap.Price, held.Len())
	}
	if s.ReadAll().Number() <= held.Number() {
		t.Fatalf("generation numbers must increase")
	}
}

func TestStoreConcurrentWriters(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			venue := string(rune('a' + i))
			for j := 0; j < 50; j++ {
				_ = s.Upsert(spot(venue, btcUSDT, float64(100+j), t0.Add(time.Duration(j)*time.Millisecond)))
				_ = s.ReadAll().Snapshots()
			}
		}(i)
	}
	wg.Wait()

	gen := s.ReadAll()
	if gen.Len() != 8 {
		t.Fatalf("expected 8 entries, got %d", gen.Len())
	}
	if gen.Number() != 400 {
		t.Fatalf("expected 400 generations, got %d", gen.Number())
	}
}

func TestStoreEvict(t *testing.T) {
	s := New()
	_ = s.Upsert(spot("binance", btcUSDT, 38000, t0))
	_ = s.Upsert(spot("kraken", btcUSDT, 38500, t0.Add(time.Minute)))

	gen, removed := s.Evict(t0.Add(30 * time.Second))
	if removed != 1 || gen.Len() != 1 {
		t.Fatalf("expected one eviction, got removed=%d len=%d", removed, gen.Len())
	}
	if _, err := s.Read("binance", btcUSDT); !errors.Is(err, market.ErrNotFound) {
		t.Fatalf("evicted entry still readable")
	}
	if _, removed := s.Evict(t0); removed != 0 {
		t.Fatalf("nothing should be evicted")
	}
}
