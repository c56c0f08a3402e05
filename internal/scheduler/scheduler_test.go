package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSchedulerStatesAndDeadline(t *testing.T) {
	s := New(Options{Interval: 50 * time.Millisecond}, zerolog.Nop())
	if s.State() != Idle {
		t.Fatalf("new scheduler should be idle")
	}

	err := s.RunOnce(context.Background(), func(ctx context.Context, tick *Tick) error {
		if s.State() != Computing {
			t.Errorf("expected computing, got %s", s.State())
		}
		deadline, ok := ctx.Deadline()
		if !ok || !deadline.Equal(tick.Deadline) {
			t.Errorf("tick context should carry the tick deadline")
		}
		if tick.Deadline.Sub(tick.Scheduled) != 50*time.Millisecond {
			t.Errorf("deadline should be one interval after start")
		}
		tick.Publishing()
		if s.State() != Publishing {
			t.Errorf("expected publishing, got %s", s.State())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if s.State() != Idle || s.Ticks() != 1 {
		t.Fatalf("expected idle after one tick, got %s and %d ticks", s.State(), s.Ticks())
	}
}

func TestSchedulerSkipsOverrunTicks(t *testing.T) {
	var (
		running  atomic.Int32
		overlaps atomic.Int32
		calls    atomic.Int32
		reported atomic.Int32
	)

	s := New(Options{
		Interval: 20 * time.Millisecond,
		OnOverrun: func(skipped int, took time.Duration) {
			if skipped < 1 {
				t.Errorf("overrun should skip at least one tick")
			}
			reported.Add(1)
		},
	}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_ = s.Run(ctx, func(tickCtx context.Context, tick *Tick) error {
		if running.Add(1) > 1 {
			overlaps.Add(1)
		}
		defer running.Add(-1)

		if calls.Add(1) == 1 {
			// ignore the deadline to force an overrun
			time.Sleep(70 * time.Millisecond)
		}
		return nil
	})

	if overlaps.Load() != 0 {
		t.Fatalf("ticks must never overlap")
	}
	if s.Overruns() == 0 || reported.Load() == 0 {
		t.Fatalf("expected an overrun to be reported")
	}
	// 300ms at 20ms would be ~15 ticks; the slow tick swallowed at least two intervals.
	if calls.Load() >= 15 {
		t.Fatalf("skipped ticks must not be queued, got %d calls", calls.Load())
	}
}

func TestSchedulerStopsOnCancel(t *testing.T) {
	s := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx, func(context.Context, *Tick) error { return nil }); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
