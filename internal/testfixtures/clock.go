package testfixtures

import (
	"sync"
	"time"

	"github.com/example/access-control/internal/recurrence"
)

// Clock provides a controllable time source for tests.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// NewClock returns a clock initialised to the supplied time. When start is the
// zero value, ReferenceTime is used.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start}
}

// Now returns the current instant tracked by the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NowFunc exposes Now as a function suitable for dependency injection.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// Set updates the clock to the provided time.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d and returns the updated time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	return c.current
}

// SetWeekly moves the clock to day and time-of-day within the week of
// ReferenceTime, in loc (UTC when nil).
func (c *Clock) SetWeekly(day recurrence.Weekday, at recurrence.ClockTime, loc *time.Location) time.Time {
	t := WeekTime(day, at, loc)
	c.Set(t)
	return t
}

// WeekTime returns the instant of day/at in the week starting on the Monday
// of ReferenceTime.
func WeekTime(day recurrence.Weekday, at recurrence.ClockTime, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	ref := ReferenceTime()
	return time.Date(ref.Year(), ref.Month(), ref.Day()+day.Index(), at.Hour(), at.Minute(), at.Second(), 0, loc)
}
