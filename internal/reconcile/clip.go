package reconcile

import (
	"time"

	"tempofill/internal/model"
)

// Clip fits a into the work window [dayStart, dayEnd) and returns the new
// bounds. Meetings are returned unchanged.
//
// An activity that overlaps the window is clamped to it. One that lies
// entirely before or after the window is moved against the near edge with
// its duration preserved.
func Clip(a model.Activity, dayStart, dayEnd time.Time) (time.Time, time.Time) {
	if a.Type == model.TypeMeeting {
		return a.Start, a.End
	}

	delta := a.End.Sub(a.Start)
	start := latest(a.Start, dayStart)
	end := earliest(a.End, dayEnd)

	switch {
	case end.Before(dayStart):
		start, end = dayStart, dayStart.Add(delta)
	case start.After(dayEnd):
		start, end = dayEnd.Add(-delta), dayEnd
	}
	return start, end
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earliest(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
