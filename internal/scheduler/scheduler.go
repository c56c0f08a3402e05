package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"arb-radar/internal/market"
)

// State is the phase the scheduler is in.
type State int32

const (
	Idle State = iota
	Computing
	Publishing
)

func (s State) String() string {
	switch s {
	case Computing:
		return "computing"
	case Publishing:
		return "publishing"
	default:
		return "idle"
	}
}

// Tick describes one scheduled execution.
type Tick struct {
	Number    uint64
	Scheduled time.Time
	Deadline  time.Time

	s *Scheduler
}

// Publishing moves the scheduler from Computing to Publishing.
func (t *Tick) Publishing() {
	if t != nil && t.s != nil {
		t.s.state.Store(int32(Publishing))
	}
}

// TickFunc is invoked on every interval with a context bounded by the tick deadline.
type TickFunc func(ctx context.Context, tick *Tick) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	// OnOverrun is called after a tick that outlived one or more intervals.
	OnOverrun func(skipped int, took time.Duration)
}

// Scheduler drives fixed-interval ticks. Ticks never overlap: an interval
// that elapses while a tick is still running is skipped, not queued.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger

	state    atomic.Int32
	ticks    atomic.Uint64
	overruns atomic.Uint64
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Interval is the configured tick interval.
func (s *Scheduler) Interval() time.Duration {
	return s.opts.Interval
}

// State is the current phase.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Ticks counts executed ticks.
func (s *Scheduler) Ticks() uint64 {
	return s.ticks.Load()
}

// Overruns counts ticks that outlived their interval.
func (s *Scheduler) Overruns() uint64 {
	return s.overruns.Load()
}

// Run blocks, invoking the tick function at each interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		started := time.Now().UTC()
		s.execute(ctx, tick, s.bucketStart(next), started)
		took := time.Since(started)

		next = next.Add(s.opts.Interval)
		skipped := 0
		for now := time.Now(); !next.After(now); next = next.Add(s.opts.Interval) {
			skipped++
		}
		if skipped > 0 {
			s.overruns.Add(1)
			s.logger.Warn().
				Err(market.ErrTickOverrun).
				Int("skipped", skipped).
				Dur("took", took).
				Msg("tick outlived its interval")
			if s.opts.OnOverrun != nil {
				s.opts.OnOverrun(skipped, took)
			}
		}
	}
}

// RunOnce executes a single tick immediately.
func (s *Scheduler) RunOnce(ctx context.Context, tick TickFunc) error {
	now := time.Now().UTC()
	return s.execute(ctx, tick, now, now)
}

func (s *Scheduler) execute(ctx context.Context, tick TickFunc, scheduled, started time.Time) error {
	deadline := started.Add(s.opts.Interval)
	tickCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	t := &Tick{
		Number:    s.ticks.Add(1),
		Scheduled: scheduled,
		Deadline:  deadline,
		s:         s,
	}

	s.state.Store(int32(Computing))
	defer s.state.Store(int32(Idle))

	s.logger.Debug().Uint64("tick", t.Number).Time("scheduled", scheduled).Msg("executing scheduled tick")
	err := tick(tickCtx, t)
	switch {
	case err == nil:
	case errors.Is(err, market.ErrTickOverrun):
		s.logger.Warn().Err(err).Uint64("tick", t.Number).Msg("tick republished stale results")
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
	default:
		s.logger.Error().Err(err).Uint64("tick", t.Number).Msg("tick execution failed")
	}
	return err
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
