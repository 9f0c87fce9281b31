package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidClock indicates a malformed time-of-day value.
var ErrInvalidClock = errors.New("recurrence: invalid time of day")

const secondsPerDay = 24 * 60 * 60

// ClockTime is a time of day with second precision, counted from midnight.
// Its text form is the ISO-8601 extended local time "HH:MM:SS".
type ClockTime int

// Clock builds a ClockTime from its components.
func Clock(hour, minute, second int) ClockTime {
	return ClockTime(hour*3600 + minute*60 + second)
}

// ParseClock accepts "HH:MM" or "HH:MM:SS". Every component is one or two
// decimal digits and nothing may follow the last one.
func ParseClock(value string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, value)
	}
	limits := [3]int{23, 59, 59}
	var fields [3]int
	for i, part := range parts {
		n, ok := clockComponent(part)
		if !ok || n > limits[i] {
			return 0, fmt.Errorf("%w: %q", ErrInvalidClock, value)
		}
		fields[i] = n
	}
	return Clock(fields[0], fields[1], fields[2]), nil
}

func clockComponent(part string) (int, bool) {
	if len(part) == 0 || len(part) > 2 {
		return 0, false
	}
	n := 0
	for _, r := range part {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// ClockOf returns the time-of-day component of t in its own location.
func ClockOf(t time.Time) ClockTime {
	return Clock(t.Hour(), t.Minute(), t.Second())
}

// Valid reports whether c lies within a single day.
func (c ClockTime) Valid() bool {
	return c >= 0 && c < secondsPerDay
}

// Hour returns the hour component.
func (c ClockTime) Hour() int { return int(c) / 3600 }

// Minute returns the minute component.
func (c ClockTime) Minute() int { return int(c) % 3600 / 60 }

// Second returns the second component.
func (c ClockTime) Second() int { return int(c) % 60 }

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour(), c.Minute(), c.Second())
}

// MarshalText implements encoding.TextMarshaler.
func (c ClockTime) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d seconds", ErrInvalidClock, int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ClockTime) UnmarshalText(text []byte) error {
	parsed, err := ParseClock(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
