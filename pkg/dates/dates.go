// Package dates provides a calendar-day value type and the day arithmetic used by
// price histories. A Date has no time of day and no location.
package dates

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

const (
	layout        = "2006-01-02"
	secondsPerDay = 24 * 60 * 60
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

var ErrInvalidDate = errors.New("invalid date")

type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// New normalises out-of-range values the same way time.Date does (e.g. Feb 30 -> Mar 2).
func New(year int, month time.Month, day int) Date {
	return FromTime(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// FromTime returns the calendar day of t in t's own location.
func FromTime(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func Today() Date {
	return FromTime(time.Now())
}

// Parse accepts only YYYY-MM-DD and rejects impossible days such as 2017-02-30.
func Parse(s string) (Date, error) {
	if !datePattern.MatchString(s) {
		return Date{}, fmt.Errorf("%w: %q does not match YYYY-MM-DD", ErrInvalidDate, s)
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q: %v", ErrInvalidDate, s, err)
	}
	return FromTime(t), nil
}

func MustParse(s string) Date {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Time returns midnight UTC of d.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// AddDays returns the day n days after d; negative n goes backwards.
func (d Date) AddDays(n int) Date {
	return FromTime(d.Time().AddDate(0, 0, n))
}

func (d Date) Compare(other Date) int {
	switch {
	case d.Year != other.Year:
		return cmpInt(d.Year, other.Year)
	case d.Month != other.Month:
		return cmpInt(int(d.Month), int(other.Month))
	default:
		return cmpInt(d.Day, other.Day)
	}
}

func (d Date) Before(other Date) bool { return d.Compare(other) < 0 }
func (d Date) After(other Date) bool  { return d.Compare(other) > 0 }

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// OffsetDays is AddDays as a free function.
func OffsetDays(d Date, n int) Date {
	return d.AddDays(n)
}

// DaysBetweenExclusive counts the days from a up to but not including b,
// so the same day gives 0. It is negative when b is before a.
func DaysBetweenExclusive(a, b Date) int {
	// both are UTC midnights, so the difference is a whole number of days
	return int((b.Time().Unix() - a.Time().Unix()) / secondsPerDay)
}

// DaysBetweenInclusive is DaysBetweenExclusive + 1, so the same day gives 1.
func DaysBetweenInclusive(a, b Date) int {
	return DaysBetweenExclusive(a, b) + 1
}

func Min(a, b Date) Date {
	if b.Before(a) {
		return b
	}
	return a
}

func Max(a, b Date) Date {
	if b.After(a) {
		return b
	}
	return a
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
