package recurrence

import (
	"errors"
	"sort"
	"time"
)

// ErrInvalidRange indicates the expansion range is empty or inverted.
var ErrInvalidRange = errors.New("recurrence: range end must be after range start")

// Occurrence is a concrete instance of a window.
type Occurrence struct {
	Window Window
	Start  time.Time
	End    time.Time
}

// Engine expands weekly windows into concrete occurrences.
type Engine struct {
	location *time.Location
}

// NewEngine constructs an Engine evaluating windows in loc. If loc is nil, UTC is used.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{location: loc}
}

// Location returns the zone the engine evaluates windows in.
func (e *Engine) Location() *time.Location {
	if e == nil || e.location == nil {
		return time.UTC
	}
	return e.location
}

// Contains reports whether any of the windows contains t.
func (e *Engine) Contains(windows []Window, t time.Time) bool {
	loc := e.Location()
	for _, w := range windows {
		if w.Contains(t, loc) {
			return true
		}
	}
	return false
}

// Expand produces the occurrences of windows that intersect [from, to),
// clipped to the range and ordered chronologically.
func (e *Engine) Expand(windows []Window, from, to time.Time) ([]Occurrence, error) {
	if !to.After(from) {
		return nil, ErrInvalidRange
	}
	loc := e.Location()
	from = from.In(loc)
	to = to.In(loc)

	byDay := make(map[Weekday][]Window, len(windows))
	for _, w := range windows {
		if err := w.Validate(); err != nil {
			return nil, err
		}
		byDay[w.Day] = append(byDay[w.Day], w)
	}

	occurrences := make([]Occurrence, 0)
	y, m, d := from.Date()
	for day := time.Date(y, m, d, 0, 0, 0, 0, loc); day.Before(to); day = day.AddDate(0, 0, 1) {
		for _, w := range byDay[WeekdayOf(day.Weekday())] {
			start := atClock(day, w.Start, loc)
			end := atClock(day, w.End, loc)
			if !end.After(from) || !start.Before(to) {
				continue
			}
			if start.Before(from) {
				start = from
			}
			if end.After(to) {
				end = to
			}
			occurrences = append(occurrences, Occurrence{Window: w, Start: start, End: end})
		}
	}

	sort.SliceStable(occurrences, func(i, j int) bool {
		if occurrences[i].Start.Equal(occurrences[j].Start) {
			return occurrences[i].End.Before(occurrences[j].End)
		}
		return occurrences[i].Start.Before(occurrences[j].Start)
	})
	return occurrences, nil
}

// TotalDuration returns the time covered by the occurrences. Overlapping
// occurrences are counted once.
func TotalDuration(occurrences []Occurrence) time.Duration {
	sorted := append([]Occurrence(nil), occurrences...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	var total time.Duration
	var coveredUntil time.Time
	for _, o := range sorted {
		start := o.Start
		if start.Before(coveredUntil) {
			start = coveredUntil
		}
		if o.End.After(start) {
			total += o.End.Sub(start)
		}
		if o.End.After(coveredUntil) {
			coveredUntil = o.End
		}
	}
	return total
}

func atClock(day time.Time, c ClockTime, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, c.Hour(), c.Minute(), c.Second(), 0, loc)
}
