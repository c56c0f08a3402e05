package feed

import (
	"context"
	"testing"
	"time"
)

func TestSimulatorDeterministicWithSeed(t *testing.T) {
	opts := SimulatorOptions{Venues: []string{"Binance", "Kraken"}, Seed: 7, Futures: true, Now: func() time.Time { return fixedNow }}
	a := NewSimulator(opts).Next()
	b := NewSimulator(opts).Next()
	if len(a) != len(b) || len(a) != 2*(3+1+2) {
		t.Fatalf("unexpected event counts %d %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Price != b[i].Price || a[i].Symbol != b[i].Symbol {
			t.Fatalf("event %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}

	n := newTestNormalizer()
	for _, ev := range a {
		if _, err := n.Normalize(ev); err != nil {
			t.Fatalf("simulated event rejected: %v (%+v)", err, ev)
		}
	}
}

func TestSimulatorRunStopsOnCancel(t *testing.T) {
	sim := NewSimulator(SimulatorOptions{Venues: []string{"okx"}, Interval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Event, 64)
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx, out) }()

	<-out
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("simulator did not stop")
	}
}
