// Package tempo is the submission sink: a small client for the Tempo
// worklog REST API.
package tempo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	appLog "tempofill/internal/log"
	"tempofill/internal/model"
)

// DefaultBaseURL is the Tempo Cloud API root.
const DefaultBaseURL = "https://api.tempo.io/4"

// ErrStatus is wrapped by every error caused by a non-2xx Tempo response.
var ErrStatus = errors.New("tempo: unexpected status")

// Worklog is the create-worklog request body.
type Worklog struct {
	AuthorAccountID  string `json:"authorAccountId"`
	IssueID          string `json:"issueId"`
	StartDate        string `json:"startDate"`
	StartTime        string `json:"startTime"`
	Description      string `json:"description"`
	TimeSpentSeconds int64  `json:"timeSpentSeconds"`
}

// NewWorklog converts a reconciled activity into a worklog. Date and time
// are rendered in the activity's own location.
func NewWorklog(accountID string, a model.Activity) Worklog {
	return Worklog{
		AuthorAccountID:  accountID,
		IssueID:          a.ID,
		StartDate:        a.Start.Format(time.DateOnly),
		StartTime:        a.Start.Format(time.TimeOnly),
		Description:      a.Description(),
		TimeSpentSeconds: int64(a.End.Sub(a.Start) / time.Second),
	}
}

// Created is the subset of the create response that gets logged.
type Created struct {
	TempoWorklogID int64 `json:"tempoWorklogId"`
}

type listResponse struct {
	Metadata struct {
		Count int    `json:"count"`
		Next  string `json:"next"`
	} `json:"metadata"`
	Results []struct {
		TempoWorklogID int64 `json:"tempoWorklogId"`
	} `json:"results"`
}

type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

type Client struct {
	base  string
	token string
	http  *http.Client
}

func NewClient(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{base: base, token: cfg.Token, http: hc}
}

// Create posts a single worklog.
func (c *Client) Create(ctx context.Context, w Worklog) (Created, error) {
	body, err := json.Marshal(w)
	if err != nil {
		return Created{}, err
	}
	var out Created
	if err := c.do(ctx, http.MethodPost, c.base+"/worklogs", bytes.NewReader(body), &out); err != nil {
		return Created{}, fmt.Errorf("create worklog %s %s: %w", w.IssueID, w.StartDate, err)
	}
	return out, nil
}

// List returns the ids of every worklog dated within [from, to], following
// pagination links.
func (c *Client) List(ctx context.Context, from, to time.Time) ([]int64, error) {
	q := url.Values{}
	q.Set("from", from.Format(time.DateOnly))
	q.Set("to", to.Format(time.DateOnly))
	next := c.base + "/worklogs?" + q.Encode()

	ids := make([]int64, 0)
	for next != "" {
		var page listResponse
		if err := c.do(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, fmt.Errorf("list worklogs: %w", err)
		}
		for _, r := range page.Results {
			ids = append(ids, r.TempoWorklogID)
		}
		next = page.Metadata.Next
	}
	return ids, nil
}

// Delete removes a single worklog.
func (c *Client) Delete(ctx context.Context, id int64) error {
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("%s/worklogs/%d", c.base, id), nil, nil); err != nil {
		return fmt.Errorf("delete worklog %d: %w", id, err)
	}
	return nil
}

// DeleteRange removes every worklog listed for [from, to] and returns how
// many were deleted. It stops at the first failure; earlier deletions stay.
func (c *Client) DeleteRange(ctx context.Context, from, to time.Time) (int, error) {
	ids, err := c.List(ctx, from, to)
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		if err := c.Delete(ctx, id); err != nil {
			return i, err
		}
		appLog.Info("tempo worklog deleted", "id", id)
	}
	return len(ids), nil
}

func (c *Client) do(ctx context.Context, method, u string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: %s", ErrStatus, method, resp.Status, strings.TrimSpace(string(msg)))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
