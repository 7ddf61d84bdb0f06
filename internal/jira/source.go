package jira

import (
	"context"
	"fmt"
	"strings"

	appLog "tempofill/internal/log"
	"tempofill/internal/model"
	"tempofill/internal/reconcile"
)

// Source produces activities from the issue history of a Jira project.
type Source struct {
	client *Client
	jql    string
	rules  Rules
}

// NewSource builds a Source for project. A non-empty jql replaces the
// default "project = '<project>' ORDER BY updated ASC" query.
func NewSource(client *Client, project, jql string, rules Rules) *Source {
	if strings.TrimSpace(jql) == "" {
		jql = DefaultJQL(project)
	}
	return &Source{client: client, jql: jql, rules: rules}
}

func DefaultJQL(project string) string {
	return fmt.Sprintf("project = '%s' ORDER BY updated ASC", strings.ReplaceAll(project, "'", `\'`))
}

func (s *Source) Name() string { return "jira" }

// Activities pages through every matching issue, replays its changelog and
// comments, and returns the complete activities. The range is not pushed
// into the query; history before it still decides when work started.
func (s *Source) Activities(ctx context.Context, _ reconcile.Range) ([]model.Activity, error) {
	tracker := NewTracker(s.rules)

	issueCount := 0
	for token := ""; ; {
		page, err := s.client.Search(ctx, s.jql, token)
		if err != nil {
			return nil, err
		}

		for _, issue := range page.Issues {
			histories, err := s.client.Histories(ctx, issue)
			if err != nil {
				return nil, err
			}
			for _, h := range histories {
				tracker.AddHistory(issue, h)
			}
			tracker.ResolveOngoing(issue)
			tracker.AddComments(issue)
		}

		issueCount += len(page.Issues)
		if page.IsLast || page.NextPageToken == "" || page.NextPageToken == token {
			break
		}
		token = page.NextPageToken
	}

	acts := tracker.Activities()
	appLog.Info("jira activities collected", "issues", issueCount, "activities", len(acts))
	return acts, nil
}
