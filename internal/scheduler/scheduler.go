// Package scheduler fires time-of-day bound jobs at most once per
// calendar day from a single wall-clock loop.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Job is one schedulable unit of work. It runs in its own goroutine;
// errors are logged and never retried before the next firing window.
type Job func(ctx context.Context) error

// Binding ties a job to a firing rule. Daily bindings fire once per
// calendar day at or after At ("HH:MM" in the scheduler's location).
// Hourly bindings fire once per hour at or after Minute.
type Binding struct {
	Name   string
	At     string
	Hourly bool
	Minute int
	Job    Job

	targetMinute int // daily: minute-of-day
}

// Scheduler evaluates its bindings on every tick. Firing is tracked by a
// per-binding dedupe key, so consecutive ticks inside the same window,
// missed ticks, or a restart shortly after the boundary still produce
// exactly one firing.
type Scheduler struct {
	loc       *time.Location
	tick      time.Duration
	clock     func() time.Time
	bindings  []Binding
	lastFired map[string]string
	log       zerolog.Logger
}

// Option adjusts Scheduler construction.
type Option func(*Scheduler)

// WithClock replaces the wall clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.clock = now }
}

// New creates a Scheduler evaluating in loc on the given tick interval.
func New(loc *time.Location, tick time.Duration, log zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		loc:       loc,
		tick:      tick,
		clock:     time.Now,
		lastFired: make(map[string]string),
		log:       log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Bind registers a binding. Daily bindings need a parseable At.
func (s *Scheduler) Bind(b Binding) error {
	if b.Name == "" || b.Job == nil {
		return fmt.Errorf("binding needs a name and a job")
	}
	if b.Hourly {
		if b.Minute < 0 || b.Minute > 59 {
			return fmt.Errorf("binding %s: minute %d out of range", b.Name, b.Minute)
		}
	} else {
		t, err := time.Parse("15:04", b.At)
		if err != nil {
			return fmt.Errorf("binding %s: bad time-of-day %q", b.Name, b.At)
		}
		b.targetMinute = t.Hour()*60 + t.Minute()
	}
	s.bindings = append(s.bindings, b)
	return nil
}

// Start runs the tick loop until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info().
		Dur("tick", s.tick).
		Int("bindings", len(s.bindings)).
		Str("location", s.loc.String()).
		Msg("scheduler starting")

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopping")
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

// runTick evaluates every binding against the current wall clock and
// launches due jobs. The tick never waits on job completion.
func (s *Scheduler) runTick(ctx context.Context) {
	now := s.clock().In(s.loc)
	for i := range s.bindings {
		b := &s.bindings[i]
		key, due := b.fireKey(now)
		if !due || s.lastFired[b.Name] == key {
			continue
		}
		// mark before dispatch so an in-flight job is never re-fired
		s.lastFired[b.Name] = key
		s.launch(ctx, b, now)
	}
}

// fireKey returns the dedupe key for now's window and whether now is at
// or past the binding's target inside that window.
func (b *Binding) fireKey(now time.Time) (string, bool) {
	if b.Hourly {
		return now.Format("2006-01-02T15"), now.Minute() >= b.Minute
	}
	minuteOfDay := now.Hour()*60 + now.Minute()
	return now.Format("2006-01-02"), minuteOfDay >= b.targetMinute
}

func (s *Scheduler) launch(ctx context.Context, b *Binding, now time.Time) {
	s.log.Info().Str("binding", b.Name).Time("at", now).Msg("firing scheduled job")
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Str("binding", b.Name).Interface("panic", r).Msg("scheduled job panicked")
			}
		}()
		if err := b.Job(ctx); err != nil {
			s.log.Error().Err(err).Str("binding", b.Name).Msg("scheduled job failed")
		}
	}()
}
