package models

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ReleaseDate is a release date with year, month or day precision. A zero Month or Day is absent.
type ReleaseDate struct {
	Year  int
	Month int
	Day   int
}

// ParseReleaseDate parses "YYYY", "YYYY-MM" or "YYYY-MM-DD". An empty string yields the zero value.
func ParseReleaseDate(s string) (ReleaseDate, error) {
	var d ReleaseDate
	s = strings.TrimSpace(s)
	if s == "" {
		return d, nil
	}

	parts := strings.Split(s, "-")
	if len(parts) > 3 {
		return d, fmt.Errorf("invalid release date %q", s)
	}

	fields := []*int{&d.Year, &d.Month, &d.Day}
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil || v < 0 {
			return ReleaseDate{}, fmt.Errorf("invalid release date %q", s)
		}
		*fields[i] = v
	}

	if d.Month > 12 || d.Day > 31 || (d.Month == 0 && d.Day != 0) {
		return ReleaseDate{}, fmt.Errorf("invalid release date %q", s)
	}
	return d, nil
}

// IsZero reports whether no date is known.
func (d ReleaseDate) IsZero() bool {
	return d == ReleaseDate{}
}

// Compare orders by year, then month, then day. Absent parts sort before present ones.
func (d ReleaseDate) Compare(o ReleaseDate) int {
	if c := cmp.Compare(d.Year, o.Year); c != 0 {
		return c
	}
	if c := cmp.Compare(d.Month, o.Month); c != 0 {
		return c
	}
	return cmp.Compare(d.Day, o.Day)
}

// After reports whether the release falls after the calendar day of t in UTC.
//
// Precision the date does not carry counts in its favor: a year-only date in the year of t is after t,
// as is a month-only date in the month of t. A release on the same day is not.
func (d ReleaseDate) After(t time.Time) bool {
	t = t.UTC()
	switch {
	case d.Year != t.Year():
		return d.Year > t.Year()
	case d.Month == 0:
		return true
	case d.Month != int(t.Month()):
		return d.Month > int(t.Month())
	case d.Day == 0:
		return true
	default:
		return d.Day > t.Day()
	}
}

// Time returns the earliest instant the date can denote, in UTC.
func (d ReleaseDate) Time() time.Time {
	month, day := max(d.Month, 1), max(d.Day, 1)
	return time.Date(d.Year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

func (d ReleaseDate) String() string {
	switch {
	case d.IsZero():
		return ""
	case d.Month == 0:
		return fmt.Sprintf("%04d", d.Year)
	case d.Day == 0:
		return fmt.Sprintf("%04d-%02d", d.Year, d.Month)
	default:
		return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (d ReleaseDate) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *ReleaseDate) UnmarshalText(text []byte) error {
	v, err := ParseReleaseDate(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}
