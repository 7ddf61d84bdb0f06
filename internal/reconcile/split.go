package reconcile

import (
	"time"

	"tempofill/internal/model"
)

// absenceRemainingLimit is the remaining duration above which an absence
// skips the current day instead of contributing a segment.
const absenceRemainingLimit = 8 * time.Hour

// Split breaks a into day-bounded copies, one per UTC calendar day it
// touches. Weekend days produce nothing. An absence produces nothing for a
// day while more than eight hours of it remain.
//
// The returned activities carry UTC bounds. Incomplete activities yield nil.
func Split(a model.Activity, s Settings) []model.Activity {
	if !a.Complete() {
		return nil
	}

	cursor := a.Start.UTC()
	end := a.End.UTC()

	var out []model.Activity
	for remaining := end.Sub(cursor); remaining > 0; remaining = end.Sub(cursor) {
		next := nextMidnight(cursor)

		if s.isWeekend(cursor.Weekday()) || (s.isAbsence(a) && remaining > absenceRemainingLimit) {
			cursor = next
			continue
		}

		segEnd := next
		if end.Before(segEnd) {
			segEnd = end
		}
		if segEnd.After(cursor) {
			out = append(out, a.WithSpan(cursor, segEnd))
		}
		cursor = segEnd
	}
	return out
}

// nextMidnight returns the UTC midnight strictly after t.
func nextMidnight(t time.Time) time.Time {
	return dayOf(t).AddDate(0, 0, 1)
}

// dayOf truncates t to midnight of its UTC calendar date.
func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
