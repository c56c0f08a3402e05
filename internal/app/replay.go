package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"arb-radar/internal/engine"
	"arb-radar/internal/feed"
	"arb-radar/internal/market"
	"arb-radar/internal/snapshot"
)

type timedEvent struct {
	at    time.Time
	event feed.Event
}

// Replay feeds captured events through the engine in event time, one tick per
// engine interval, and prints every publication.
func (a *App) Replay(ctx context.Context, opts ReplayOptions) error {
	if opts.File == "" {
		return errors.New("--file is required")
	}
	interval := a.Config.Engine.TickInterval
	if interval <= 0 {
		return fmt.Errorf("%w: engine.tick_interval must be greater than zero", market.ErrConfiguration)
	}

	events, malformed, err := readEvents(opts.File)
	if err != nil {
		return err
	}
	if malformed > 0 {
		a.Logger.Warn().Int("malformed", malformed).Msg("skipped malformed lines")
	}
	if len(events) == 0 {
		fmt.Fprintln(a.Out, "no events to replay")
		return nil
	}

	var recorder *Recorder
	if opts.Record {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn not configured; cannot record replay")
		}
		if closeStore != nil {
			defer closeStore()
		}
		recorder = NewRecorder(store, 0, a.Config.Storage.RecordTopN, 0, a.Logger)
	}

	clk := newClock(events[0].at)
	snapshots := snapshot.New()
	normalizer := a.newNormalizer(clk.Now)
	pipeline := a.newPipeline(normalizer, snapshots, nil)
	eng := a.newEngine(snapshots, normalizer, nil, clk.Now)

	var subs []*engine.Subscription
	if recorder != nil {
		subs = subscribeAll(eng)
		defer func() {
			for _, sub := range subs {
				sub.Close()
			}
		}()
	}

	ticks := 0
	next := tickAfter(events[0].at, interval)
	for i := 0; i < len(events); {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := make([]feed.Event, 0)
		for ; i < len(events) && events[i].at.Before(next); i++ {
			batch = append(batch, events[i].event)
		}
		if len(batch) == 0 {
			// Quiet stretch in the capture: jump to the tick after the next event.
			next = tickAfter(events[i].at, interval)
			continue
		}
		clk.Set(next)
		pipeline.Ingest(batch)
		if err := eng.Tick(ctx, nil); err != nil {
			return fmt.Errorf("tick at %s: %w", next.Format(time.RFC3339), err)
		}
		ticks++
		printPublication(a.Out, eng.Latest(), opts.Limit)

		for _, sub := range subs {
			select {
			case update, ok := <-sub.C:
				if ok {
					if _, err := recorder.Record(ctx, update); err != nil {
						return err
					}
				}
			default:
			}
		}
		next = next.Add(interval)
	}

	a.Logger.Info().
		Int("events", len(events)).
		Int("ticks", ticks).
		Uint64("dropped", normalizer.Dropped()).
		Uint64("late", pipeline.Late()).
		Msg("replay finished")
	return nil
}

// readEvents loads a JSON-lines capture ordered by event time. Lines that do
// not decode, or whose events carry no usable timestamp, are counted and
// skipped.
func readEvents(path string) ([]timedEvent, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open events: %w", err)
	}
	defer file.Close()

	var (
		events    []timedEvent
		malformed int
	)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		decoded, err := feed.DecodeEvents([]byte(line))
		if err != nil {
			malformed++
			continue
		}
		for _, ev := range decoded {
			at, err := ev.Timestamp.Time()
			if err != nil || at.IsZero() {
				malformed++
				continue
			}
			events = append(events, timedEvent{at: at.UTC(), event: ev})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, malformed, fmt.Errorf("read events: %w", err)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].at.Before(events[j].at)
	})
	return events, malformed, nil
}

// tickAfter is the first interval boundary strictly after t.
func tickAfter(t time.Time, interval time.Duration) time.Time {
	return t.Truncate(interval).Add(interval)
}
