// Package clock provides a precision clock with NTP offset correction and a
// phased wait primitive that converges tightly on a target instant.
package clock

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Clock is the timing contract consumed by the scheduler and monitor.
type Clock interface {
	// Now returns the current time adjusted for the measured clock offset.
	Now() time.Time
	// WaitUntil blocks until the target instant (or ctx cancellation) and
	// returns the actual instant reached. A target in the past returns
	// immediately; a late return is a first-class outcome, not an error.
	WaitUntil(ctx context.Context, target time.Time) (time.Time, error)
}

// Wait phases, from coarse to tight. The poll interval shrinks as the target
// approaches to bound busy-work while keeping the final convergence tight.
var waitPhases = []struct {
	remaining time.Duration
	step      time.Duration
}{
	{time.Hour, 30 * time.Minute},
	{60 * time.Second, 30 * time.Second},
	{time.Second, 100 * time.Millisecond},
	{100 * time.Millisecond, 10 * time.Millisecond},
	{0, time.Millisecond},
}

// PrecisionClock implements Clock with an externally refreshed NTP offset.
type PrecisionClock struct {
	mu         sync.RWMutex
	offset     time.Duration // positive = system clock ahead of reference
	lastSync   time.Time
	syncEvery  time.Duration
	ntpServer  string
	logger     zerolog.Logger

	// Injectable for tests.
	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// Option configures a PrecisionClock.
type Option func(*PrecisionClock)

// WithNTPServer sets the NTP reference server.
func WithNTPServer(server string) Option {
	return func(c *PrecisionClock) { c.ntpServer = server }
}

// WithSyncInterval sets how often the offset is refreshed during long waits.
func WithSyncInterval(d time.Duration) Option {
	return func(c *PrecisionClock) { c.syncEvery = d }
}

// WithNowFunc overrides the wall-clock source (tests only).
func WithNowFunc(now func() time.Time) Option {
	return func(c *PrecisionClock) { c.nowFunc = now }
}

// WithSleepFunc overrides the sleep primitive (tests only).
func WithSleepFunc(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *PrecisionClock) { c.sleepFunc = sleep }
}

// New creates a PrecisionClock. The offset starts at zero (uncorrected);
// call Sync to measure it against the NTP reference.
func New(logger zerolog.Logger, opts ...Option) *PrecisionClock {
	c := &PrecisionClock{
		syncEvery: time.Hour,
		ntpServer: "time.google.com",
		logger:    logger,
		nowFunc:   time.Now,
		sleepFunc: sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Now returns the current time corrected by the measured offset.
func (c *PrecisionClock) Now() time.Time {
	c.mu.RLock()
	offset := c.offset
	c.mu.RUnlock()
	return c.nowFunc().Add(-offset)
}

// Offset returns the last measured clock offset.
func (c *PrecisionClock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// WaitUntil blocks until the corrected clock reaches target, polling with
// shrinking granularity. It refreshes the NTP offset during the coarsest
// phase so multi-hour waits do not drift. The returned instant is the
// corrected time observed after the wait; callers compute jitter from it.
func (c *PrecisionClock) WaitUntil(ctx context.Context, target time.Time) (time.Time, error) {
	for {
		now := c.Now()
		remaining := target.Sub(now)
		if remaining <= 0 {
			return now, nil
		}

		step := stepFor(remaining)
		if step > remaining {
			step = remaining
		}
		if err := c.sleepFunc(ctx, step); err != nil {
			return c.Now(), err
		}

		// Long waits re-measure the offset so the final convergence
		// runs against a fresh correction.
		if remaining > time.Hour && c.staleSync() {
			if err := c.Sync(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("NTP refresh failed during wait, continuing uncorrected")
			}
		}
	}
}

func stepFor(remaining time.Duration) time.Duration {
	for _, p := range waitPhases {
		if remaining > p.remaining {
			return p.step
		}
	}
	return time.Millisecond
}

func (c *PrecisionClock) staleSync() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSync.IsZero() || c.nowFunc().Sub(c.lastSync) >= c.syncEvery
}

// Jitter measures how late an action fired relative to its target.
type Jitter struct {
	Target time.Time
	Actual time.Time
}

// Delay returns the signed lateness. Non-negative when WaitUntil returned at
// or after the target.
func (j Jitter) Delay() time.Duration {
	return j.Actual.Sub(j.Target)
}

// Acceptable reports whether the delay is within the routine window.
func (j Jitter) Acceptable() bool {
	return j.Delay() < 500*time.Millisecond
}
