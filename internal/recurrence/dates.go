package recurrence

import (
	"fmt"
	"time"

	"wprecur/internal/openproject"
)

// NextFixedDelay returns today + interval days.
func NextFixedDelay(today openproject.Date, interval int) (openproject.Date, error) {
	if interval <= 0 {
		return openproject.Date{}, fmt.Errorf("%w: interval must be > 0, got %d", ErrInvalidConfig, interval)
	}
	return today.AddDays(interval), nil
}

// NextFixedInterval returns the next date on the grid start + k*interval
// strictly after today.
//
// When today itself lies on the grid the result is today + interval, not
// today.
func NextFixedInterval(today, start openproject.Date, interval int) (openproject.Date, error) {
	if interval <= 0 {
		return openproject.Date{}, fmt.Errorf("%w: interval must be > 0, got %d", ErrInvalidConfig, interval)
	}
	if start.IsZero() {
		return openproject.Date{}, fmt.Errorf("%w: start date is not set", ErrInvalidConfig)
	}
	delta := today.DaysSince(start)
	mod := ((delta % interval) + interval) % interval
	return today.AddDays(interval - mod), nil
}

// NextDayOfMonth returns the given day of the current month, or of the next
// month if that date is not after today. Days past the end of a month clamp
// to its last day (31 → Apr 30, Feb 28/29).
func NextDayOfMonth(today openproject.Date, day int) (openproject.Date, error) {
	if day < 1 || day > 31 {
		return openproject.Date{}, fmt.Errorf("%w: day of month must be 1..31, got %d", ErrInvalidConfig, day)
	}
	d := clampedDate(today.Year, today.Month, day)
	if !d.After(today) {
		y, m := today.Year, today.Month+1
		if m > time.December {
			y, m = y+1, time.January
		}
		d = clampedDate(y, m, day)
	}
	return d, nil
}

// NextDayOfYear re-stamps anchor's month and day with today's year. The date
// is not rolled forward when it has already passed this year. Feb 29 clamps
// to Feb 28 in non-leap years.
func NextDayOfYear(today, anchor openproject.Date) (openproject.Date, error) {
	if anchor.IsZero() {
		return openproject.Date{}, fmt.Errorf("%w: anchor date is not set", ErrInvalidConfig)
	}
	return clampedDate(today.Year, anchor.Month, anchor.Day), nil
}

// ShiftSpan keeps the template's start→due span when moving its due date to
// due. Without both dates the clone starts on its due date.
func ShiftSpan(start, due, newDue openproject.Date) openproject.Date {
	if start.IsZero() || due.IsZero() || due.Before(start) {
		return newDue
	}
	return newDue.AddDays(-due.DaysSince(start))
}

func clampedDate(year int, month time.Month, day int) openproject.Date {
	if last := daysIn(year, month); day > last {
		day = last
	}
	return openproject.NewDate(year, month, day)
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
