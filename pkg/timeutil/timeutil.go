// Package timeutil provides calendar utilities for a configured timezone.
// Daily caps, streaks and leaderboard periods are all keyed by calendar dates
// in that zone, so every date computation in the engine goes through here.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"time"
)

// Common date/time formats.
const (
	// FormatDate is the standard date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatMonth is the month label format (YYYY-MM).
	FormatMonth = "2006-01"
	// FormatDateTime is the standard datetime format.
	FormatDateTime = "2006-01-02 15:04"
)

// ═══════════════════════════════════════════════════════════════════════════
// Date
// ═══════════════════════════════════════════════════════════════════════════

// Date is a civil calendar date without a time of day.
// The zero Date means "absent".
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	y, m, d := t.In(loc).Date()
	return Date{Year: y, Month: m, Day: d}
}

// NewDate builds a normalized Date.
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC), time.UTC)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(FormatDate, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t, time.UTC), nil
}

// IsZero reports whether the date is absent.
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// In returns midnight of the date in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays returns the date n days later (or earlier for negative n).
func (d Date) AddDays(n int) Date {
	return DateOf(d.In(time.UTC).AddDate(0, 0, n), time.UTC)
}

// Before reports whether d is strictly earlier than o.
func (d Date) Before(o Date) bool {
	return DaysBetween(d, o) > 0
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DaysBetween returns to − from in whole calendar days. The result is negative
// when to is earlier. Computed on UTC midnights so DST shifts never skew it.
func DaysBetween(from, to Date) int {
	return int(to.In(time.UTC).Sub(from.In(time.UTC)).Hours() / 24)
}

// ═══════════════════════════════════════════════════════════════════════════
// Calendar
// ═══════════════════════════════════════════════════════════════════════════

// Calendar binds date computations to one timezone and clock.
type Calendar struct {
	loc *time.Location
	now func() time.Time
}

// NewCalendar creates a calendar for loc using the wall clock.
func NewCalendar(loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return &Calendar{loc: loc, now: time.Now}
}

// LoadCalendar creates a calendar for an IANA zone name such as "Europe/Berlin".
func LoadCalendar(name string) (*Calendar, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", name, err)
	}
	return NewCalendar(loc), nil
}

// WithClock returns a copy of the calendar that reads time from now.
func (c *Calendar) WithClock(now func() time.Time) *Calendar {
	return &Calendar{loc: c.loc, now: now}
}

// Location returns the calendar's timezone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Now returns the current time in the calendar's timezone.
func (c *Calendar) Now() time.Time {
	return c.now().In(c.loc)
}

// Today returns the current calendar date.
func (c *Calendar) Today() Date {
	return DateOf(c.now(), c.loc)
}

// DateOf returns the calendar date of t.
func (c *Calendar) DateOf(t time.Time) Date {
	return DateOf(t, c.loc)
}

// StartOfDay returns midnight of t's date.
func (c *Calendar) StartOfDay(t time.Time) time.Time {
	return c.DateOf(t).In(c.loc)
}

// StartOfWeek returns Monday 00:00 of t's ISO week.
func (c *Calendar) StartOfWeek(t time.Time) time.Time {
	local := t.In(c.loc)
	weekday := int(local.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	return c.DateOf(local).AddDays(1 - weekday).In(c.loc)
}

// StartOfMonth returns the first day of t's month at 00:00.
func (c *Calendar) StartOfMonth(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, c.loc)
}

// MonthLabel formats t's month as YYYY-MM.
func (c *Calendar) MonthLabel(t time.Time) string {
	return t.In(c.loc).Format(FormatMonth)
}

// ISOWeekLabel formats t's ISO-8601 week as YYYY-Www.
func (c *Calendar) ISOWeekLabel(t time.Time) string {
	year, week := t.In(c.loc).ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// DaysSince returns whole calendar days between then and now.
func (c *Calendar) DaysSince(then, now time.Time) int {
	return DaysBetween(c.DateOf(then), c.DateOf(now))
}

// ═══════════════════════════════════════════════════════════════════════════
// Period parsing
// ═══════════════════════════════════════════════════════════════════════════

// ParseMonthLabel returns the first instant of a YYYY-MM month in loc.
func ParseMonthLabel(label string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(FormatMonth, label, loc)
}

// ParseISOWeekLabel returns Monday 00:00 of a YYYY-Www week in loc.
func ParseISOWeekLabel(label string, loc *time.Location) (time.Time, error) {
	var year, week int
	if _, err := fmt.Sscanf(label, "%4d-W%2d", &year, &week); err != nil {
		return time.Time{}, fmt.Errorf("parse iso week %q: %w", label, err)
	}
	if week < 1 || week > 53 {
		return time.Time{}, fmt.Errorf("parse iso week %q: week out of range", label)
	}
	// January 4th is always in ISO week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, loc)
	weekday := int(jan4.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	monday := jan4.AddDate(0, 0, 1-weekday)
	start := monday.AddDate(0, 0, (week-1)*7)
	if y, _ := start.ISOWeek(); y != year {
		return time.Time{}, fmt.Errorf("parse iso week %q: year has no such week", label)
	}
	return start, nil
}
