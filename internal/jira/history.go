package jira

import (
	"slices"
	"time"

	appLog "tempofill/internal/log"
	"tempofill/internal/model"
)

// Assignment is the outcome of looking for an assignee change in one
// direction. It has three values: a history with no assignee
// item at all behaves differently from one whose assignee items concern
// someone else.
type Assignment int

const (
	// AssignmentAbsent: the history has no assignee item.
	AssignmentAbsent Assignment = iota
	// AssignmentMatched: an assignee item moves the issue to/from the account.
	AssignmentMatched
	// AssignmentUnmatched: assignee items exist but none involve the account
	// in the requested direction.
	AssignmentUnmatched
)

func (a Assignment) String() string {
	switch a {
	case AssignmentMatched:
		return "matched"
	case AssignmentUnmatched:
		return "unmatched"
	default:
		return "absent"
	}
}

// Direction selects which side of an assignee change is inspected.
type Direction int

const (
	AssignedTo Direction = iota
	AssignedFrom
)

const (
	fieldStatus   = "status"
	fieldAssignee = "assignee"
)

// AssigneeDirection classifies h for account in direction dir.
func AssigneeDirection(h History, account string, dir Direction) Assignment {
	result := AssignmentAbsent
	for _, it := range h.Items {
		if it.Field != fieldAssignee {
			continue
		}
		if (dir == AssignedTo && it.To == account) || (dir == AssignedFrom && it.From == account) {
			return AssignmentMatched
		}
		result = AssignmentUnmatched
	}
	return result
}

// Rules configure how histories and comments become activities.
type Rules struct {
	AccountID       string
	StartedStates   []string
	FinishedStates  []string
	CommentDuration time.Duration
	// Ongoing lists issue keys whose open activities end at Now.
	Ongoing []string
	Now     func() time.Time
}

// Tracker accumulates per-issue work while histories are replayed in
// chronological order. Each (issue, status) pair maps to one activity whose
// bounds widen as more transitions are seen.
type Tracker struct {
	rules Rules
	work  map[string][]*model.Activity
	keys  []string
}

func NewTracker(rules Rules) *Tracker {
	if rules.Now == nil {
		rules.Now = time.Now
	}
	return &Tracker{
		rules: rules,
		work:  make(map[string][]*model.Activity),
	}
}

// AddHistory replays a single changelog entry of issue.
func (t *Tracker) AddHistory(issue Issue, h History) {
	account := t.rules.AccountID
	to := AssigneeDirection(h, account, AssignedTo)
	from := AssigneeDirection(h, account, AssignedFrom)

	if h.Author.AccountID != account && to != AssignmentMatched && from != AssignmentMatched {
		return
	}

	for _, item := range h.Items {
		switch {
		case item.Field == fieldStatus:
			t.addStatusChange(issue, h, item, to, from)
			appLog.Debug("jira changelog",
				"created", h.Created.Format(time.RFC3339),
				"issue", issue.Key,
				"from", item.FromString,
				"to", item.ToString,
			)
		case item.Field == fieldAssignee && len(h.Items) == 1 && from == AssignmentMatched:
			t.closeNearest(issue, h.Created.Time)
		}
	}
}

func (t *Tracker) addStatusChange(issue Issue, h History, item HistoryItem, to, from Assignment) {
	started := slices.Contains(t.rules.StartedStates, item.ToString)
	wasStarted := slices.Contains(t.rules.StartedStates, item.FromString)
	finished := slices.Contains(t.rules.FinishedStates, item.ToString)

	at := h.Created.Time
	switch {
	case started && !wasStarted:
		t.startWork(issue, item.ToString, at)
	case finished && wasStarted:
		t.closeWork(issue, item.FromString, at)
	case started && wasStarted:
		if to == AssignmentMatched {
			t.startWork(issue, item.ToString, at)
		}
		if from == AssignmentMatched {
			t.closeWork(issue, item.FromString, at)
		}
		// A switch between two working states with no assignee change at
		// all both opens the new state and closes the old one.
		if to == AssignmentAbsent && from == AssignmentAbsent {
			t.startWork(issue, item.ToString, at)
			t.closeWork(issue, item.FromString, at)
		}
	}
}

func (t *Tracker) find(issue Issue, typ string) *model.Activity {
	for _, a := range t.work[issue.Key] {
		if a.Type == typ {
			return a
		}
	}
	return nil
}

func (t *Tracker) add(issue Issue, a *model.Activity) {
	if _, ok := t.work[issue.Key]; !ok {
		t.keys = append(t.keys, issue.Key)
	}
	t.work[issue.Key] = append(t.work[issue.Key], a)
}

func (t *Tracker) startWork(issue Issue, typ string, at time.Time) {
	if a := t.find(issue, typ); a != nil {
		if a.Start.IsZero() || a.Start.After(at) {
			a.Start = at
		}
		return
	}
	t.add(issue, &model.Activity{ID: issue.ID, Key: issue.Key, Type: typ, Start: at})
}

func (t *Tracker) closeWork(issue Issue, typ string, at time.Time) {
	if a := t.find(issue, typ); a != nil {
		if a.End.IsZero() || a.End.Before(at) {
			a.End = at
		}
		return
	}
	t.add(issue, &model.Activity{ID: issue.ID, Key: issue.Key, Type: typ, End: at})
}

// closeNearest ends the activity of issue whose start is closest to at,
// if it is still open. Used when the issue is reassigned away.
func (t *Tracker) closeNearest(issue Issue, at time.Time) {
	var closest *model.Activity
	var best time.Duration
	for _, a := range t.work[issue.Key] {
		if a.Start.IsZero() {
			continue
		}
		diff := a.Start.Sub(at).Abs()
		if closest == nil || diff < best {
			closest, best = a, diff
		}
	}
	if closest != nil && closest.End.IsZero() {
		closest.End = at
	}
}

// ResolveOngoing ends the open activities of issue at Now when the issue is
// listed as ongoing.
func (t *Tracker) ResolveOngoing(issue Issue) {
	if !slices.Contains(t.rules.Ongoing, issue.Key) {
		return
	}
	for _, a := range t.work[issue.Key] {
		if a.End.IsZero() {
			a.End = t.rules.Now()
			appLog.Info("jira ongoing issue detected", "issue", issue.Key, "type", a.Type)
		}
	}
}

// AddComments turns the account's comments on issue into Comment activities
// covering the CommentDuration before each comment.
func (t *Tracker) AddComments(issue Issue) {
	for _, c := range issue.Fields.Comment.Comments {
		if c.Author.AccountID != t.rules.AccountID || c.Created.IsZero() {
			continue
		}
		created := c.Created.Time
		t.add(issue, &model.Activity{
			ID:    issue.ID,
			Key:   issue.Key,
			Type:  model.TypeComment,
			Start: created.Add(-t.rules.CommentDuration),
			End:   created,
		})
		appLog.Debug("jira comment", "created", created.Format(time.RFC3339), "issue", issue.Key)
	}
}

// Activities returns the complete activities in issue order; open ones are
// dropped.
func (t *Tracker) Activities() []model.Activity {
	out := make([]model.Activity, 0)
	for _, key := range t.keys {
		for _, a := range t.work[key] {
			if !a.Complete() {
				appLog.Debug("jira dropping open activity", "activity", a.String())
				continue
			}
			out = append(out, *a)
		}
	}
	return out
}
