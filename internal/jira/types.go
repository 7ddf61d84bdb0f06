package jira

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// timeLayout is the timestamp format used by the Jira REST API.
const timeLayout = "2006-01-02T15:04:05.000-0700"

// Time decodes Jira timestamps such as "2024-01-08T10:15:00.000+0100".
type Time struct {
	time.Time
}

func (t *Time) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(timeLayout, s)
	if err != nil {
		// Some deployments return RFC 3339 with a colon in the offset.
		if alt, altErr := time.Parse(time.RFC3339Nano, s); altErr == nil {
			t.Time = alt
			return nil
		}
		return fmt.Errorf("jira time %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(timeLayout))
}

// User is the subset of a Jira user the producer needs.
type User struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName,omitempty"`
}

// HistoryItem is one field change inside a changelog history.
type HistoryItem struct {
	Field      string `json:"field"`
	From       string `json:"from"`
	FromString string `json:"fromString"`
	To         string `json:"to"`
	ToString   string `json:"toString"`
}

// History is a single changelog entry: one author, one instant, one or
// more field changes.
type History struct {
	ID      string        `json:"id"`
	Author  User          `json:"author"`
	Created Time          `json:"created"`
	Items   []HistoryItem `json:"items"`
}

// Changelog is the changelog embedded in a search result.
type Changelog struct {
	StartAt    int       `json:"startAt"`
	MaxResults int       `json:"maxResults"`
	Total      int       `json:"total"`
	Histories  []History `json:"histories"`
}

// ChangelogPage is one page of /rest/api/3/issue/{key}/changelog.
type ChangelogPage struct {
	StartAt    int       `json:"startAt"`
	MaxResults int       `json:"maxResults"`
	Total      int       `json:"total"`
	IsLast     bool      `json:"isLast"`
	Values     []History `json:"values"`
}

type Comment struct {
	ID      string `json:"id"`
	Author  User   `json:"author"`
	Created Time   `json:"created"`
}

type Comments struct {
	Total    int       `json:"total"`
	Comments []Comment `json:"comments"`
}

type IssueFields struct {
	Summary string   `json:"summary"`
	Comment Comments `json:"comment"`
}

type Issue struct {
	ID        string      `json:"id"`
	Key       string      `json:"key"`
	Fields    IssueFields `json:"fields"`
	Changelog Changelog   `json:"changelog"`
}

// SearchPage is one page of /rest/api/3/search/jql.
type SearchPage struct {
	Issues []Issue `json:"issues"`
	// NextPageToken is empty on the last page.
	NextPageToken string `json:"nextPageToken,omitempty"`
	IsLast        bool   `json:"isLast"`
}
