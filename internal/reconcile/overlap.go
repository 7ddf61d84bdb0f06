package reconcile

import (
	"time"

	"tempofill/internal/model"
)

type span struct {
	start, end time.Time
}

// Place adds the candidate [start, end) to placed, cut around every fragment
// already there, and returns the extended slice. Existing fragments are never
// modified, so whatever was placed first keeps contested time.
//
// Each fragment of the candidate is compared against placed in order and the
// first overlapping fragment decides what happens to it:
//
//   - overlap on the left: keep the part after the fragment
//   - overlap on the right: keep the part before the fragment
//   - candidate surrounds the fragment: keep both outer parts
//   - fragment covers the candidate: drop it
//
// A piece that overlaps nothing is appended as a copy of template. Pieces
// with no duration are discarded.
func Place(placed []model.Activity, start, end time.Time, template model.Activity) []model.Activity {
	// The worklist replaces recursion so that a candidate surrounding many
	// small fragments cannot grow the call stack. Popping the left piece of a
	// split first keeps the append order of the recursive formulation.
	stack := []span{{start: start, end: end}}

next:
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !c.start.Before(c.end) {
			continue
		}

		for _, p := range placed {
			switch {
			case !p.Start.After(c.start) && c.start.Before(p.End) && p.End.Before(c.end):
				stack = append(stack, span{start: p.End, end: c.end})
				continue next
			case c.start.Before(p.Start) && p.Start.Before(c.end) && !p.End.Before(c.end):
				stack = append(stack, span{start: c.start, end: p.Start})
				continue next
			case c.start.Before(p.Start) && p.End.Before(c.end):
				stack = append(stack,
					span{start: p.End, end: c.end},
					span{start: c.start, end: p.Start},
				)
				continue next
			case !p.Start.After(c.start) && !p.End.Before(c.end):
				continue next
			}
		}

		placed = append(placed, template.WithSpan(c.start, c.end))
	}

	return placed
}
