package model

import (
	"fmt"
	"time"
)

// Activity is a categorized time interval attributed to the configured
// account: a status interval or comment on an issue, or a calendar meeting.
//
// A zero Start or End means the bound has not been observed yet (an open
// activity). Only complete activities take part in reconciliation.
type Activity struct {
	// ID identifies the originating record: the Jira issue id, or the
	// configured meeting issue id for calendar-derived entries.
	ID string `json:"id"`
	// Key is a human-readable label (issue key or event title).
	Key string `json:"key"`
	// Type is the category: a workflow status name, "Comment", "Meeting", or
	// the absence category.
	Type string `json:"type"`

	Start time.Time `json:"start_time"`
	End   time.Time `json:"end_time"`
}

// Complete reports whether both bounds are set and ordered.
func (a Activity) Complete() bool {
	return !a.Start.IsZero() && !a.End.IsZero() && !a.End.Before(a.Start)
}

// Duration returns End-Start, or zero for an incomplete activity.
func (a Activity) Duration() time.Duration {
	if !a.Complete() {
		return 0
	}
	return a.End.Sub(a.Start)
}

// Clone returns a copy of a. Activity has no reference fields.
func (a Activity) Clone() Activity {
	return a
}

// WithSpan returns a copy of a bounded by [start, end).
func (a Activity) WithSpan(start, end time.Time) Activity {
	c := a.Clone()
	c.Start = start
	c.End = end
	return c
}

// Description is the worklog text: "{type} {key}".
func (a Activity) Description() string {
	return a.Type + " " + a.Key
}

func (a Activity) String() string {
	return fmt.Sprintf("Activity(id=%s, key=%q, type=%q, start=%s, end=%s)",
		a.ID, a.Key, a.Type, formatBound(a.Start), formatBound(a.End))
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return "<unset>"
	}
	return t.Format(time.RFC3339)
}

// Reserved activity types.
const (
	// TypeMeeting marks calendar meetings; they are never clipped to the
	// work window.
	TypeMeeting = "Meeting"
	// TypeComment marks the fixed window that precedes an issue comment.
	TypeComment = "Comment"
	// DefaultAbsenceType is the absence category used when none is configured.
	DefaultAbsenceType = "Out of office"
)
