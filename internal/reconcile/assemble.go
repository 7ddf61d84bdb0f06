package reconcile

import (
	"errors"
	"fmt"
	"time"

	"tempofill/internal/model"
)

// Range is the half-open run range [From, To).
type Range struct {
	From time.Time
	To   time.Time
}

// ParseRange parses two YYYY-MM-DD dates as midnight in loc.
func ParseRange(from, to string, loc *time.Location) (Range, error) {
	if loc == nil {
		loc = time.UTC
	}
	f, err := time.ParseInLocation(time.DateOnly, from, loc)
	if err != nil {
		return Range{}, fmt.Errorf("parse start date %q: %w", from, err)
	}
	t, err := time.ParseInLocation(time.DateOnly, to, loc)
	if err != nil {
		return Range{}, fmt.Errorf("parse end date %q: %w", to, err)
	}
	if !t.After(f) {
		return Range{}, errors.New("end date must be after start date")
	}
	return Range{From: f, To: t}, nil
}

// Contains reports whether a lies entirely inside r.
func (r Range) Contains(a model.Activity) bool {
	return !a.Start.Before(r.From) && !a.End.After(r.To)
}

// Assemble flattens days into the final timeline. Fragments not fully
// inside r are dropped, never clipped. Bounds are converted to loc; order is
// day by day, then placement order.
func Assemble(days []Day, r Range, loc *time.Location) []model.Activity {
	if loc == nil {
		loc = time.UTC
	}
	out := make([]model.Activity, 0)
	for _, day := range days {
		for _, a := range day.Placed {
			if !r.Contains(a) {
				continue
			}
			out = append(out, a.WithSpan(a.Start.In(loc), a.End.In(loc)))
		}
	}
	return out
}

// Reconcile runs Schedule and Assemble with the location from s.
func Reconcile(activities []model.Activity, s Settings, r Range) []model.Activity {
	return Assemble(Schedule(activities, s), r, s.location())
}
