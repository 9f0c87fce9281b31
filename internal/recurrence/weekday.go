package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Weekday is the closed set of day tokens accepted for access windows.
type Weekday string

const (
	Monday    Weekday = "mon"
	Tuesday   Weekday = "tue"
	Wednesday Weekday = "wed"
	Thursday  Weekday = "thu"
	Friday    Weekday = "fri"
	Saturday  Weekday = "sat"
	Sunday    Weekday = "sun"
)

// ErrInvalidWeekday indicates a day token outside mon..sun.
var ErrInvalidWeekday = errors.New("recurrence: invalid day of week")

// Weekdays lists the tokens in Monday-first order.
var Weekdays = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

var weekdayAliases = map[string]Weekday{
	"mon": Monday, "monday": Monday,
	"tue": Tuesday, "tues": Tuesday, "tuesday": Tuesday,
	"wed": Wednesday, "wednesday": Wednesday,
	"thu": Thursday, "thur": Thursday, "thurs": Thursday, "thursday": Thursday,
	"fri": Friday, "friday": Friday,
	"sat": Saturday, "saturday": Saturday,
	"sun": Sunday, "sunday": Sunday,
}

// ParseWeekday normalizes a day token. Full English day names are accepted
// case-insensitively and mapped to the three letter form.
func ParseWeekday(value string) (Weekday, error) {
	day, ok := weekdayAliases[strings.ToLower(strings.TrimSpace(value))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidWeekday, value)
	}
	return day, nil
}

// WeekdayOf returns the token for a time.Weekday.
func WeekdayOf(day time.Weekday) Weekday {
	switch day {
	case time.Monday:
		return Monday
	case time.Tuesday:
		return Tuesday
	case time.Wednesday:
		return Wednesday
	case time.Thursday:
		return Thursday
	case time.Friday:
		return Friday
	case time.Saturday:
		return Saturday
	default:
		return Sunday
	}
}

// Valid reports whether d is one of the seven known tokens.
func (d Weekday) Valid() bool {
	return d.Index() >= 0
}

// Index returns the Monday-first position of d, or -1 when d is unknown.
func (d Weekday) Index() int {
	for i, day := range Weekdays {
		if day == d {
			return i
		}
	}
	return -1
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Weekday) UnmarshalText(text []byte) error {
	parsed, err := ParseWeekday(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
