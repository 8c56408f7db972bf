package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode selects the cadence of reconciliation passes.
type Mode string

const (
	ModeOnce    Mode = "once"
	ModeDaily   Mode = "daily"
	ModeWeekly  Mode = "weekly"
	ModeMonthly Mode = "monthly"
)

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeOnce, ModeDaily, ModeWeekly, ModeMonthly:
		return m, nil
	}
	return "", fmt.Errorf("unknown schedule mode %q", s)
}

// Spec configures a Scheduler.
type Spec struct {
	Mode Mode
	// Hour of day, 0-23, in the clock's location.
	Hour int
	// Day is the weekday for weekly mode (0 = Sunday) or the day of month
	// for monthly mode (1-31, clamped to the month's length).
	Day int
	// ClearEvery resets the index before every Nth pass; 0 disables it.
	ClearEvery   int
	CrawlOnStart bool
	ClearOnStart bool
	// Enabled turns periodic crawling on. A disabled scheduler still
	// honors ClearOnStart.
	Enabled bool
}

// Validate checks the spec for out-of-range values.
func (s Spec) Validate() error {
	var errs []error
	if _, err := ParseMode(string(s.Mode)); err != nil {
		errs = append(errs, err)
	}
	if s.Hour < 0 || s.Hour > 23 {
		errs = append(errs, fmt.Errorf("hour %d out of range 0-23", s.Hour))
	}
	switch s.Mode {
	case ModeWeekly:
		if s.Day < 0 || s.Day > 6 {
			errs = append(errs, fmt.Errorf("weekly day %d out of range 0-6", s.Day))
		}
	case ModeMonthly:
		if s.Day < 1 || s.Day > 31 {
			errs = append(errs, fmt.Errorf("monthly day %d out of range 1-31", s.Day))
		}
	}
	if s.ClearEvery < 0 {
		errs = append(errs, fmt.Errorf("clear interval %d must not be negative", s.ClearEvery))
	}
	return errors.Join(errs...)
}

// Next returns the first trigger strictly after from truncated to the
// hour. It returns false for ModeOnce, which never triggers again.
//
// The configured hour (and day) counts as passed once the truncated hour
// reaches it: with a daily hour of 2, from 02:40 yields 02:00 tomorrow.
// When a DST change skips the hour, the trigger moves to the hour after it.
func Next(spec Spec, from time.Time) (time.Time, bool) {
	base := time.Date(from.Year(), from.Month(), from.Day(), from.Hour(), 0, 0, 0, from.Location())
	at := func(year int, month time.Month, day int) time.Time {
		t := time.Date(year, month, day, spec.Hour, 0, 0, 0, base.Location())
		if t.Hour() != spec.Hour {
			// A DST transition skipped the hour; fire when the clock resumes.
			t = time.Date(year, month, day, spec.Hour+1, 0, 0, 0, base.Location())
		}
		return t
	}

	switch spec.Mode {
	case ModeDaily:
		next := at(base.Year(), base.Month(), base.Day())
		if !next.After(base) {
			next = at(base.Year(), base.Month(), base.Day()+1)
		}
		return next, true

	case ModeWeekly:
		delta := spec.Day - int(base.Weekday())
		next := at(base.Year(), base.Month(), base.Day()+delta)
		if !next.After(base) {
			next = at(base.Year(), base.Month(), base.Day()+delta+7)
		}
		return next, true

	case ModeMonthly:
		y, m := base.Year(), base.Month()
		next := at(y, m, clampDay(y, m, spec.Day))
		if !next.After(base) {
			y, m = nextMonth(y, m)
			next = at(y, m, clampDay(y, m, spec.Day))
		}
		return next, true
	}
	return time.Time{}, false
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func clampDay(year int, month time.Month, day int) int {
	return min(day, daysIn(year, month))
}

func nextMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}
