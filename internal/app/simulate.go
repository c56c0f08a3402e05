package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"arb-radar/internal/feed"
	"arb-radar/internal/snapshot"
)

// clock is a manually advanced time source shared by the simulated feed and
// the engine.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(start time.Time) *clock {
	return &clock{now: start}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Simulate drives a real engine with the random-walk feed and prints the
// ranked lists after every tick.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.Ticks <= 0 {
		return errors.New("--ticks must be greater than zero")
	}
	if opts.Limit <= 0 {
		opts.Limit = 5
	}

	interval := a.Config.Engine.TickInterval
	clk := newClock(time.Now().UTC().Truncate(time.Second))

	sim := feed.NewSimulator(feed.SimulatorOptions{
		Venues:   opts.Venues,
		Interval: interval,
		Seed:     opts.Seed,
		Futures:  opts.Futures,
		Now:      clk.Now,
	})
	snapshots := snapshot.New()
	normalizer := a.newNormalizer(clk.Now)
	pipeline := a.newPipeline(normalizer, snapshots, nil)
	eng := a.newEngine(snapshots, normalizer, nil, clk.Now)

	for i := 0; i < opts.Ticks; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		applied := pipeline.Ingest(sim.Next())
		if err := eng.Tick(ctx, nil); err != nil {
			return fmt.Errorf("tick %d: %w", i+1, err)
		}
		a.Logger.Debug().Int("tick", i+1).Int("applied", applied).Msg("simulated tick")
		printPublication(a.Out, eng.Latest(), opts.Limit)
		clk.Advance(interval)
	}
	return nil
}
