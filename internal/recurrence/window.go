package recurrence

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmptyWindow indicates a window whose start is not strictly before its end.
var ErrEmptyWindow = errors.New("recurrence: window start must be before end")

// Window is a weekly recurring interval [Start, End) on a single day.
// Windows never span midnight.
type Window struct {
	Day   Weekday
	Start ClockTime
	End   ClockTime
}

// Validate checks the day token and that Start < End.
func (w Window) Validate() error {
	if !w.Day.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidWeekday, string(w.Day))
	}
	if !w.Start.Valid() || !w.End.Valid() {
		return ErrInvalidClock
	}
	if w.Start >= w.End {
		return fmt.Errorf("%w: %s >= %s", ErrEmptyWindow, w.Start, w.End)
	}
	return nil
}

// Contains reports whether t, viewed in loc, falls on the window's day and
// within [Start, End) of that day. A nil loc uses t's own location.
func (w Window) Contains(t time.Time, loc *time.Location) bool {
	if loc != nil {
		t = t.In(loc)
	}
	if WeekdayOf(t.Weekday()) != w.Day {
		return false
	}
	tod := ClockOf(t)
	return tod >= w.Start && tod < w.End
}

// Duration returns the length of the window.
func (w Window) Duration() time.Duration {
	return time.Duration(w.End-w.Start) * time.Second
}

// Less orders windows by day, then start, then end.
func Less(a, b Window) bool {
	if a.Day != b.Day {
		return a.Day.Index() < b.Day.Index()
	}
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	return a.End < b.End
}
