// Package scheduler runs delayed actions that can be cancelled before they
// fire. A pending timer notices cancellation within PollInterval.
package scheduler

import (
	"fmt"
	"sync/atomic"
	"time"
)

// PollInterval is the longest a sleeping timer goes without checking
// its cancellation flag.
const PollInterval = 100 * time.Millisecond

// DatetimeLayout is the wall-clock format accepted for absolute schedules.
const DatetimeLayout = "2006-01-02T15:04"

// Timer is a single delayed action.
type Timer struct {
	cancelled atomic.Bool
	fired     atomic.Bool
	deadline  time.Time
	done      chan struct{}
}

// After runs action on its own goroutine once delay has elapsed, unless
// the timer is cancelled first. It never blocks the caller.
func After(delay time.Duration, action func()) *Timer {
	t := &Timer{
		deadline: time.Now().Add(delay),
		done:     make(chan struct{}),
	}
	go t.run(action)
	return t
}

func (t *Timer) run(action func()) {
	defer close(t.done)

	for {
		if t.cancelled.Load() {
			return
		}
		remaining := time.Until(t.deadline)
		if remaining <= 0 {
			break
		}
		time.Sleep(min(remaining, PollInterval))
	}

	if t.cancelled.Load() {
		return
	}
	t.fired.Store(true)
	action()
}

// Cancel prevents a pending action from running. Safe to call more than
// once and after the action has already fired.
func (t *Timer) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (t *Timer) Cancelled() bool {
	return t.cancelled.Load()
}

// Fired reports whether the action has started running.
func (t *Timer) Fired() bool {
	return t.fired.Load()
}

// Done is closed once the timer goroutine exits, whether it fired or not.
func (t *Timer) Done() <-chan struct{} {
	return t.done
}

// SecondsUntil returns whole seconds from now until datetime interpreted
// in the IANA timezone. Instants in the past yield 0.
func SecondsUntil(datetime, timezone string) (uint64, error) {
	return secondsUntil(datetime, timezone, time.Now())
}

func secondsUntil(datetime, timezone string, now time.Time) (uint64, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return 0, fmt.Errorf("load timezone %q: %w", timezone, err)
	}

	target, err := ParseDatetime(datetime, loc)
	if err != nil {
		return 0, err
	}

	d := target.Sub(now)
	if d <= 0 {
		return 0, nil
	}
	return uint64(d / time.Second), nil
}

// ParseDatetime parses "YYYY-MM-DDTHH:MM" (seconds optional) in loc.
func ParseDatetime(datetime string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DatetimeLayout, datetime, loc)
	if err == nil {
		return t, nil
	}
	if t2, err2 := time.ParseInLocation(DatetimeLayout+":05", datetime, loc); err2 == nil {
		return t2, nil
	}
	return time.Time{}, fmt.Errorf("parse datetime %q: %w", datetime, err)
}
