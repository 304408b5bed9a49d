package domain

import (
	"fmt"
	"sync"
	"time"
)

// dateLayout is the storage and wire format of a Date.
const dateLayout = "2006-01-02"

// Date is a calendar day in the engine's canonical location.
// The zero value means "never" (e.g. a profile with no activity yet).
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses "YYYY-MM-DD". The empty string yields the zero Date.
func ParseDate(s string) (Date, error) {
	if s == "" {
		return Date{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// IsZero reports whether d is the "never" date.
func (d Date) IsZero() bool { return d == Date{} }

// String formats d as YYYY-MM-DD ("" for the zero date).
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.midnight().Format(dateLayout)
}

// AddDays returns d shifted by n calendar days.
func (d Date) AddDays(n int) Date {
	return DateOf(d.midnight().AddDate(0, 0, n))
}

// DaysSince returns the number of calendar days from o to d.
func (d Date) DaysSince(o Date) int {
	return int(d.midnight().Sub(o.midnight()).Hours() / 24)
}

// Weekday returns the day of the week.
func (d Date) Weekday() time.Weekday { return d.midnight().Weekday() }

// WeekStart returns the Monday on or before d.
func (d Date) WeekStart() Date {
	offset := (int(d.Weekday()) + 6) % 7 // Monday=0 … Sunday=6
	return d.AddDays(-offset)
}

// Before reports whether d is strictly earlier than o.
func (d Date) Before(o Date) bool { return d.midnight().Before(o.midnight()) }

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) midnight() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// ─── Clock ──────────────────────────────────────────────────────────────────

// Clock is the single source of "now" and "today" for every component.
type Clock interface {
	Now() time.Time
	Today() Date
}

// LocationClock reports wall time in a fixed location.
type LocationClock struct {
	loc *time.Location
}

// NewLocationClock returns a clock whose calendar days are defined by loc.
func NewLocationClock(loc *time.Location) *LocationClock {
	if loc == nil {
		loc = time.UTC
	}
	return &LocationClock{loc: loc}
}

// Now returns the current time in the clock's location.
func (c *LocationClock) Now() time.Time { return time.Now().In(c.loc) }

// Today returns the current calendar day in the clock's location.
func (c *LocationClock) Today() Date { return DateOf(c.Now()) }

// FixedClock is a settable clock for tests and replays.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock returns a clock frozen at now.
func NewFixedClock(now time.Time) *FixedClock {
	return &FixedClock{now: now}
}

// Now returns the frozen time.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Today returns the frozen calendar day.
func (c *FixedClock) Today() Date { return DateOf(c.Now()) }

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
