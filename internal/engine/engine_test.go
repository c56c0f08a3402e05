package engine

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"arb-radar/internal/detector"
	"arb-radar/internal/market"
	"arb-radar/internal/opportunity"
	"arb-radar/internal/ranking"
	"arb-radar/internal/snapshot"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type blockingDirect struct {
	inner *detector.Direct
	block atomic.Bool
}

func (b *blockingDirect) Detect(ctx context.Context, view *snapshot.View) ([]opportunity.Direct, error) {
	if b.block.Load() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return b.inner.Detect(ctx, view)
}

type fixture struct {
	engine *Engine
	store  *snapshot.Store
	direct *blockingDirect
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	store := snapshot.New()
	direct := &blockingDirect{inner: detector.NewDirect(detector.DirectConfig{MinSpreadPercent: 0.5, FeePercent: 15, MaxNotional: 100000}, logger)}
	detectors := Detectors{
		Direct: direct,
		Triangular: detector.NewTriangular(detector.TriangularConfig{
			LegFeePercent:   20.0 / 3,
			Notional:        10000,
			StartCurrencies: []string{"USDT"},
		}, logger),
		Futures: detector.NewFutures(detector.FuturesConfig{
			MinSpreadPercent:  0.2,
			SpreadWeight:      1,
			FundingWeight:     1,
			SpotFeePercent:    5,
			FuturesFeePercent: 5,
			Notional:          10000,
		}, logger),
	}
	eng := New(Config{
		Staleness: 10 * time.Second,
		Retention: 5 * time.Minute,
		Now:       func() time.Time { return now },
	}, store, detectors, nil, nil, logger)

	btc := market.Pair{Base: "BTC", Quote: "USDT"}
	eth := market.Pair{Base: "ETH", Quote: "USDT"}
	ethBTC := market.Pair{Base: "ETH", Quote: "BTC"}
	fresh := now.Add(-time.Second)
	store.Apply([]market.PriceSnapshot{
		{Venue: "venue-a", Pair: btc, Kind: market.Spot, Price: 38000, Volume24h: 50000, PriceChangePercent24h: 2, LastUpdated: fresh},
		{Venue: "venue-b", Pair: btc, Kind: market.Spot, Price: 38500, Volume24h: 80000, PriceChangePercent24h: 1, LastUpdated: fresh},
		{Venue: "venue-a", Pair: eth, Kind: market.Spot, Price: 2002, Volume24h: 9000, LastUpdated: fresh},
		{Venue: "venue-a", Pair: ethBTC, Kind: market.Spot, Price: 0.05, Volume24h: 700, LastUpdated: fresh},
		{Venue: "venue-b", Pair: btc, Kind: market.Futures, Price: 38900, Volume24h: 1000, FundingRate: 0.0001, LastUpdated: fresh},
		// stale venue quoting a huge spread
		{Venue: "venue-c", Pair: btc, Kind: market.Spot, Price: 30000, Volume24h: 90000, LastUpdated: now.Add(-30 * time.Second)},
	})
	return &fixture{engine: eng, store: store, direct: direct}
}

func TestTickPublishesAllKindsFromOneGeneration(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.Tick(context.Background(), nil); err != nil {
		t.Fatalf("tick: %v", err)
	}

	pub := f.engine.Latest()
	if pub.Generation != 1 || pub.SnapshotGeneration != f.store.ReadAll().Number() || pub.Stale {
		t.Fatalf("unexpected publication header %+v", pub)
	}
	if len(pub.Direct) != 1 || len(pub.Triangular) != 1 || len(pub.Futures) != 1 {
		t.Fatalf("expected one of each kind, got %d/%d/%d", len(pub.Direct), len(pub.Triangular), len(pub.Futures))
	}
	if pub.Futures[0].SpotPrice != pub.Direct[0].ToPrice {
		t.Fatalf("futures and direct must see the same spot price")
	}
	if !slices.Equal(pub.Diffs[opportunity.KindDirect].Added, []string{pub.Direct[0].ID}) {
		t.Fatalf("first publication should add everything, got %+v", pub.Diffs[opportunity.KindDirect])
	}
}

func TestTickIsIdempotent(t *testing.T) {
	f := newFixture(t)
	_ = f.engine.Tick(context.Background(), nil)
	first := f.engine.Latest()
	_ = f.engine.Tick(context.Background(), nil)
	second := f.engine.Latest()

	if second.Generation != first.Generation+1 {
		t.Fatalf("publication generations must increase")
	}
	if !slices.Equal(first.Direct, second.Direct) || !slices.Equal(first.Triangular, second.Triangular) || !slices.Equal(first.Futures, second.Futures) {
		t.Fatalf("recompute over an unchanged snapshot must be identical")
	}
	for _, kind := range opportunity.Kinds {
		if !second.Diffs[kind].Empty() {
			t.Fatalf("expected empty %s diff, got %+v", kind, second.Diffs[kind])
		}
	}
}

func TestStaleVenueExcluded(t *testing.T) {
	f := newFixture(t)
	_ = f.engine.Tick(context.Background(), nil)

	for _, kind := range opportunity.Kinds {
		ranked, err := f.engine.GetRanked(kind, ranking.Filter{}, ranking.DefaultSort())
		if err != nil {
			t.Fatalf("get ranked: %v", err)
		}
		for _, item := range ranked.Items {
			if slices.Contains(item.InvolvedVenues(), "venue-c") {
				t.Fatalf("stale venue appeared in %s: %+v", kind, item)
			}
		}
	}
	if !f.engine.IsStale("venue-c") {
		t.Fatalf("venue-c should be flagged stale")
	}

	health := f.engine.GetVenueHealth()
	if len(health) != 3 {
		t.Fatalf("expected three venues, got %+v", health)
	}
	for _, h := range health {
		if (h.Venue == "venue-c") != h.Stale {
			t.Fatalf("unexpected staleness for %+v", h)
		}
	}
	if st := f.engine.Status(); !slices.Equal(st.StaleVenues, []string{"venue-c"}) {
		t.Fatalf("status should list the stale venue, got %v", st.StaleVenues)
	}
}

func TestOverrunRepublishesPreviousContents(t *testing.T) {
	f := newFixture(t)
	sub := f.engine.Subscribe(opportunity.KindDirect)
	defer sub.Close()

	_ = f.engine.Tick(context.Background(), nil)
	prev := f.engine.Latest()
	<-sub.C

	f.direct.block.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := f.engine.Tick(ctx, nil)
	if !errors.Is(err, market.ErrTickOverrun) {
		t.Fatalf("expected ErrTickOverrun, got %v", err)
	}

	pub := f.engine.Latest()
	if !pub.Stale || pub.Generation != prev.Generation+1 {
		t.Fatalf("expected a new stale generation, got %+v", pub)
	}
	if !slices.Equal(pub.Direct, prev.Direct) || !slices.Equal(pub.Triangular, prev.Triangular) || !slices.Equal(pub.Futures, prev.Futures) {
		t.Fatalf("stale publication must carry the previous contents")
	}

	update := <-sub.C
	if !update.Stale || update.Generation != pub.Generation || !update.Diff.Empty() {
		t.Fatalf("subscriber should see the stale republish, got %+v", update)
	}
	if st := f.engine.Status(); st.Overruns != 1 || st.StalePublishes != 1 || !st.Stale {
		t.Fatalf("unexpected status %+v", st)
	}

	f.direct.block.Store(false)
	if err := f.engine.Tick(context.Background(), nil); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if f.engine.Latest().Stale {
		t.Fatalf("fresh tick should clear the stale flag")
	}
}

func TestSubscribeLatestWins(t *testing.T) {
	f := newFixture(t)
	sub := f.engine.Subscribe(opportunity.KindTriangular)

	for i := 0; i < 3; i++ {
		_ = f.engine.Tick(context.Background(), nil)
	}

	update := <-sub.C
	if update.Generation != 3 || update.Kind != opportunity.KindTriangular {
		t.Fatalf("expected only the latest generation, got %d", update.Generation)
	}
	if len(update.Items) != 1 {
		t.Fatalf("expected one triangular item, got %d", len(update.Items))
	}
	select {
	case u := <-sub.C:
		t.Fatalf("unexpected extra update %d", u.Generation)
	default:
	}

	late := f.engine.Subscribe(opportunity.KindDirect)
	if u := <-late.C; u.Generation != 3 {
		t.Fatalf("new subscribers should receive the current publication, got %d", u.Generation)
	}

	sub.Close()
	late.Close()
	if _, ok := <-sub.C; ok {
		t.Fatalf("closed subscription should close its channel")
	}
	_ = f.engine.Tick(context.Background(), nil)
}

func TestGetRanked(t *testing.T) {
	f := newFixture(t)

	empty, err := f.engine.GetRanked(opportunity.KindDirect, ranking.Filter{}, ranking.DefaultSort())
	if err != nil || empty.Generation != 0 || len(empty.Items) != 0 {
		t.Fatalf("expected an empty result before the first tick, got %+v %v", empty, err)
	}
	if _, err := f.engine.GetRanked("swap", ranking.Filter{}, ranking.DefaultSort()); err == nil {
		t.Fatalf("unknown kind should fail")
	}

	_ = f.engine.Tick(context.Background(), nil)
	ranked, _ := f.engine.GetRanked(opportunity.KindDirect, ranking.Filter{FromVenue: "venue-b"}, ranking.DefaultSort())
	if len(ranked.Items) != 0 {
		t.Fatalf("no spread buys on venue-b")
	}
	ranked, _ = f.engine.GetRanked(opportunity.KindDirect, ranking.Filter{Query: "btc"}, ranking.DefaultSort())
	if len(ranked.Items) != 1 || ranked.Generation != 1 {
		t.Fatalf("unexpected ranked result %+v", ranked)
	}
	d, ok := ranked.Items[0].(opportunity.Direct)
	if !ok || d.NetProfit != d.EstimatedProfit-d.Fees {
		t.Fatalf("unexpected item %+v", ranked.Items[0])
	}
}

func TestRecentAndVolumes(t *testing.T) {
	f := newFixture(t)
	_ = f.engine.Tick(context.Background(), nil)
	_ = f.engine.Tick(context.Background(), nil)

	recent := f.engine.Recent("", 0)
	if len(recent) != 3 {
		t.Fatalf("each opportunity should be remembered once, got %d", len(recent))
	}
	if got := f.engine.Recent(opportunity.KindFutures, 10); len(got) != 1 || got[0].Kind != opportunity.KindFutures {
		t.Fatalf("unexpected futures entries %+v", got)
	}
	if got := f.engine.Recent("", 2); len(got) != 2 {
		t.Fatalf("limit not applied, got %d", len(got))
	}

	volumes := f.engine.ExchangeVolumes()
	if len(volumes) != 2 {
		t.Fatalf("stale venue should not be aggregated, got %+v", volumes)
	}
	if volumes[0].Venue != "venue-b" || volumes[0].Volume24h != 80000 || volumes[0].PairCount != 1 {
		t.Fatalf("unexpected top venue %+v", volumes[0])
	}
	if volumes[1].Venue != "venue-a" || volumes[1].PairCount != 3 || volumes[1].Volume24h != 59700 {
		t.Fatalf("unexpected second venue %+v", volumes[1])
	}
}

func TestRingOverwritesOldest(t *testing.T) {
	r := newRing(2)
	for i := uint64(1); i <= 3; i++ {
		r.push(RecentEntry{Kind: opportunity.KindDirect, Generation: i})
	}
	got := r.newest("", 0)
	if len(got) != 2 || got[0].Generation != 3 || got[1].Generation != 2 {
		t.Fatalf("unexpected ring contents %+v", got)
	}
}
