// Package scheduler drives periodic sweeps over trailing time windows.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per interval with the window [from, to).
type TickFunc func(ctx context.Context, from, to time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval time.Duration
	// Lookback is the width of each window. Zero means one interval.
	Lookback     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
}

// Scheduler invokes a TickFunc on a fixed cadence until cancelled.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("scheduler interval must be positive")
	}
	if opts.Lookback <= 0 {
		opts.Lookback = opts.Interval
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    time.Now,
	}, nil
}

// Window returns the half-open window ending at tick.
func (s *Scheduler) Window(tick time.Time) (from, to time.Time) {
	return tick.Add(-s.opts.Lookback), tick
}

// Run blocks, invoking tick at each interval until ctx is cancelled. Tick
// errors are logged and do not stop the loop.
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

	next := s.nextTick(s.now().UTC())
	for {
		delay := next.Sub(s.now())
		if delay < 0 {
			// Fell behind; skip missed ticks rather than bursting.
			next = s.nextTick(s.now().UTC())
			delay = next.Sub(s.now())
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		from, to := s.Window(next)
		s.logger.Debug().Time("from", from).Time("to", to).Msg("executing scheduled tick")

		if err := tick(ctx, from, to); err != nil {
			s.logger.Error().Err(err).Time("from", from).Time("to", to).Msg("tick execution failed")
		}

		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	tick := now.Truncate(s.opts.Interval)
	if !tick.After(now) {
		tick = tick.Add(s.opts.Interval)
	}
	return tick
}
