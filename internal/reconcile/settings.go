// Package reconcile turns overlapping, multi-day activities into a
// day-segmented, non-overlapping timeline bounded by the work window.
//
// Everything in this package is pure: inputs come in through Settings and
// function arguments, nothing touches the network or the clock.
package reconcile

import (
	"time"

	"tempofill/internal/model"
)

// Settings carries the read-only configuration the engine depends on.
type Settings struct {
	// PriorityOrder lists activity types, highest priority first. Types not
	// listed are never scheduled.
	PriorityOrder []string

	// WorkdayStartHour is the clock hour, in Location, the work window opens.
	WorkdayStartHour int
	// WorkdayDuration is the length of the work window.
	WorkdayDuration time.Duration

	// Location is the run timezone used for work windows and output.
	Location *time.Location

	// Weekend lists weekdays that never receive a segment.
	Weekend []time.Weekday

	// AbsenceType is the category that consumes time during splitting but
	// is never scheduled.
	AbsenceType string
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		WorkdayStartHour: 9,
		WorkdayDuration:  8 * time.Hour,
		Location:         time.UTC,
		Weekend:          []time.Weekday{time.Saturday, time.Sunday},
		AbsenceType:      model.DefaultAbsenceType,
	}
}

func (s Settings) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

func (s Settings) isWeekend(d time.Weekday) bool {
	for _, w := range s.Weekend {
		if w == d {
			return true
		}
	}
	return false
}

func (s Settings) isAbsence(a model.Activity) bool {
	return s.AbsenceType != "" && a.Type == s.AbsenceType
}

// WorkWindow returns [start, end) of the work window for the calendar date
// of day. Only day's year, month and day are used.
func (s Settings) WorkWindow(day time.Time) (time.Time, time.Time) {
	y, m, d := day.Date()
	start := time.Date(y, m, d, s.WorkdayStartHour, 0, 0, 0, s.location())
	return start, start.Add(s.WorkdayDuration)
}
