package ics

import (
	"context"
	"fmt"
	"strings"
	"time"

	appLog "tempofill/internal/log"
	"tempofill/internal/model"
	"tempofill/internal/reconcile"
)

// DefaultMeetingIssueID is the issue meetings are logged against when no
// meeting issue is configured.
const DefaultMeetingIssueID = "190786"

const (
	statusConfirmed  = "CONFIRMED"
	partStatAccepted = "ACCEPTED"
)

// SourceConfig configures the calendar producer.
type SourceConfig struct {
	Feeds []Feed
	// Email is the attendee whose acceptance makes an event a meeting.
	Email string
	// MeetingIssueID is the issue id stamped on every meeting activity.
	MeetingIssueID string
	// AbsenceLabel is the event title that marks an absence; such events
	// become AbsenceType activities instead of meetings.
	AbsenceLabel string
	AbsenceType  string
	// Location interprets floating times and all-day dates.
	Location *time.Location
}

// Source produces meeting activities from ICS feeds.
type Source struct {
	fetcher *Fetcher
	cfg     SourceConfig
}

func NewSource(fetcher *Fetcher, cfg SourceConfig) *Source {
	if cfg.MeetingIssueID == "" {
		cfg.MeetingIssueID = DefaultMeetingIssueID
	}
	if cfg.AbsenceType == "" {
		cfg.AbsenceType = model.DefaultAbsenceType
	}
	return &Source{fetcher: fetcher, cfg: cfg}
}

func (s *Source) Name() string { return "calendar" }

// Activities fetches every feed and returns the accepted, confirmed events
// intersecting r. Any feed failure aborts.
func (s *Source) Activities(ctx context.Context, r reconcile.Range) ([]model.Activity, error) {
	results, err := s.fetcher.FetchAll(ctx, s.cfg.Feeds)
	if err != nil {
		return nil, fmt.Errorf("fetch calendars: %w", err)
	}

	var events []ParsedEvent
	for _, res := range results {
		parsed, err := ParseICS(res.Feed, res.Body, s.cfg.Location)
		if err != nil {
			return nil, fmt.Errorf("parse calendar %s: %w", res.Feed.ID, err)
		}
		events = append(events, parsed...)
	}

	expanded, err := Expand(events, ExpandConfig{RangeStart: r.From, RangeEnd: r.To})
	if err != nil {
		return nil, err
	}

	acts := make([]model.Activity, 0, len(expanded.Occurrences))
	for _, occ := range expanded.Occurrences {
		if !Accepted(occ, s.cfg.Email) {
			continue
		}
		acts = append(acts, s.toActivity(occ))
	}

	appLog.Info("calendar activities collected",
		"feeds", len(results),
		"occurrences", len(expanded.Occurrences),
		"activities", len(acts),
	)
	return acts, nil
}

func (s *Source) toActivity(occ Occurrence) model.Activity {
	typ := model.TypeMeeting
	if s.cfg.AbsenceLabel != "" && strings.EqualFold(strings.TrimSpace(occ.Summary), s.cfg.AbsenceLabel) {
		typ = s.cfg.AbsenceType
	}
	return model.Activity{
		ID:    s.cfg.MeetingIssueID,
		Key:   occ.Summary,
		Type:  typ,
		Start: occ.Start,
		End:   occ.End,
	}
}

// Accepted reports whether occ is confirmed and email accepted the invite.
func Accepted(occ Occurrence, email string) bool {
	if occ.Status != statusConfirmed {
		return false
	}
	for _, a := range occ.Attendees {
		if strings.EqualFold(a.Email, email) && a.PartStat == partStatAccepted {
			return true
		}
	}
	return false
}
