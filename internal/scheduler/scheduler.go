package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Window is a named daily check slot at a wall-clock time in the
// monitor's zone.
type Window struct {
	Name string
	At   string // HH:MM
	Role string // baseline | comparison

	hour   int
	minute int
}

// FireFunc is invoked when a window's clock time arrives.
type FireFunc func(ctx context.Context, window string, now time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Windows      []Window
	Location     *time.Location
	StartupDelay time.Duration
}

// Scheduler fires named checks at their configured times of day.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler, validating every window's clock time.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if len(opts.Windows) == 0 {
		return nil, fmt.Errorf("at least one check window is required")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	for i := range opts.Windows {
		t, err := time.Parse("15:04", opts.Windows[i].At)
		if err != nil {
			return nil, fmt.Errorf("window %q: invalid time %q (want HH:MM)", opts.Windows[i].Name, opts.Windows[i].At)
		}
		opts.Windows[i].hour = t.Hour()
		opts.Windows[i].minute = t.Minute()
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}, nil
}

// Run blocks, firing each window at its next occurrence until ctx is
// cancelled. A failed check aborts only that window; the next window
// still fires on schedule.
func (s *Scheduler) Run(ctx context.Context, fire FireFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	for {
		now := time.Now().In(s.opts.Location)
		at, window := s.Next(now)

		s.logger.Debug().
			Str("window", window.Name).
			Time("fire_at", at).
			Msg("waiting for next check window")

		timer := time.NewTimer(time.Until(at))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		fired := time.Now().In(s.opts.Location)
		s.logger.Info().Str("window", window.Name).Time("at", fired).Msg("executing scheduled check")

		if err := fire(ctx, window.Name, fired); err != nil {
			s.logger.Error().Err(err).Str("window", window.Name).Msg("check window failed")
		}
	}
}

// Next returns the earliest upcoming window occurrence strictly after
// now, rolling into the next day when today's slots have passed.
func (s *Scheduler) Next(now time.Time) (time.Time, Window) {
	now = now.In(s.opts.Location)

	var bestAt time.Time
	var best Window
	for _, window := range s.opts.Windows {
		at := time.Date(now.Year(), now.Month(), now.Day(), window.hour, window.minute, 0, 0, s.opts.Location)
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		if bestAt.IsZero() || at.Before(bestAt) {
			bestAt = at
			best = window
		}
	}
	return bestAt, best
}
