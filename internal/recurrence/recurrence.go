// Package recurrence computes trigger instants for recurring posts.
package recurrence

import (
	"errors"
	"fmt"
	"time"

	"tgcast/internal/domain"
)

var (
	ErrInvalidCadence = errors.New("recurrence: cadence must be daily or weekly")
	ErrInvalidTime    = errors.New("recurrence: hour must be 0-23 and minute 0-59")
	ErrInvalidWeekday = errors.New("recurrence: day of week must be 0-6 for weekly cadence")
)

// Validate checks a cadence/time-of-day combination.
func Validate(cadence domain.Cadence, hour, minute, dayOfWeek int) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return ErrInvalidTime
	}
	switch cadence {
	case domain.CadenceDaily:
		return nil
	case domain.CadenceWeekly:
		if dayOfWeek < 0 || dayOfWeek > 6 {
			return ErrInvalidWeekday
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCadence, cadence)
	}
}

// NextTrigger returns the first instant strictly after now that matches the
// cadence, evaluated in now's location. Invalid input yields the zero time.
func NextTrigger(cadence domain.Cadence, hour, minute, dayOfWeek int, now time.Time) time.Time {
	if Validate(cadence, hour, minute, dayOfWeek) != nil {
		return time.Time{}
	}
	loc := now.Location()
	y, m, d := now.Date()
	candidate := time.Date(y, m, d, hour, minute, 0, 0, loc)

	switch cadence {
	case domain.CadenceDaily:
		if !candidate.After(now) {
			candidate = time.Date(y, m, d+1, hour, minute, 0, 0, loc)
		}
	case domain.CadenceWeekly:
		ahead := (dayOfWeek - int(now.Weekday()) + 7) % 7
		candidate = time.Date(y, m, d+ahead, hour, minute, 0, 0, loc)
		if !candidate.After(now) {
			candidate = time.Date(y, m, d+ahead+7, hour, minute, 0, 0, loc)
		}
	}
	return candidate
}

// Next is NextTrigger for a stored definition.
func Next(def domain.RecurringDefinition, now time.Time) time.Time {
	return NextTrigger(def.Cadence, def.Hour, def.Minute, def.DayOfWeek, now)
}
