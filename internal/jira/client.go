package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	appLog "tempofill/internal/log"
)

// ErrStatus is wrapped by every error caused by a non-2xx Jira response.
var ErrStatus = errors.New("jira: unexpected status")

const defaultPageSize = 100

// ClientConfig holds connection settings for a Jira Cloud site.
type ClientConfig struct {
	// Server is the site root, e.g. "https://example.atlassian.net".
	Server   string
	Username string
	APIToken string
	// PageSize bounds search and changelog pages. Zero means 100.
	PageSize int
	// HTTPClient overrides the default client (15s timeout).
	HTTPClient *http.Client
}

// Client is a minimal Jira REST v3 client for issue search and changelogs.
type Client struct {
	base     string
	username string
	token    string
	pageSize int
	http     *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	size := cfg.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	return &Client{
		base:     strings.TrimRight(cfg.Server, "/"),
		username: cfg.Username,
		token:    cfg.APIToken,
		pageSize: size,
		http:     hc,
	}
}

// Search returns one page of issues matching jql, with the changelog
// expanded and comments included. An empty pageToken requests the first
// page; later pages pass the previous page's NextPageToken.
func (c *Client) Search(ctx context.Context, jql, pageToken string) (SearchPage, error) {
	q := url.Values{}
	q.Set("jql", jql)
	if pageToken != "" {
		q.Set("nextPageToken", pageToken)
	}
	q.Set("maxResults", strconv.Itoa(c.pageSize))
	q.Set("expand", "changelog")
	q.Set("fields", "summary,comment")

	var page SearchPage
	if err := c.get(ctx, "/rest/api/3/search/jql", q, &page); err != nil {
		return SearchPage{}, fmt.Errorf("search issues: %w", err)
	}
	return page, nil
}

// Changelog returns one page of an issue's changelog.
func (c *Client) Changelog(ctx context.Context, issueKey string, startAt int) (ChangelogPage, error) {
	q := url.Values{}
	q.Set("startAt", strconv.Itoa(startAt))
	q.Set("maxResults", strconv.Itoa(c.pageSize))

	var page ChangelogPage
	path := "/rest/api/3/issue/" + url.PathEscape(issueKey) + "/changelog"
	if err := c.get(ctx, path, q, &page); err != nil {
		return ChangelogPage{}, fmt.Errorf("changelog %s: %w", issueKey, err)
	}
	return page, nil
}

// Histories returns the full changelog of issue, oldest first. The embedded
// changelog is used as-is when complete; otherwise the remaining pages are
// fetched and merged by history id.
func (c *Client) Histories(ctx context.Context, issue Issue) ([]History, error) {
	all := slices.Clone(issue.Changelog.Histories)

	if issue.Changelog.Total > len(all) {
		seen := make(map[string]bool, issue.Changelog.Total)
		for _, h := range all {
			seen[h.ID] = true
		}

		for startAt := 0; ; {
			page, err := c.Changelog(ctx, issue.Key, startAt)
			if err != nil {
				return nil, err
			}
			for _, h := range page.Values {
				if seen[h.ID] {
					continue
				}
				seen[h.ID] = true
				all = append(all, h)
			}
			startAt += len(page.Values)
			if page.IsLast || len(page.Values) == 0 || startAt >= page.Total {
				break
			}
		}
		appLog.Debug("jira changelog paged", "issue", issue.Key, "total", issue.Changelog.Total, "fetched", len(all))
	}

	slices.SortStableFunc(all, func(a, b History) int {
		return a.Created.Compare(b.Created.Time)
	})
	return all, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.username, c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: GET %s: %s: %s", ErrStatus, path, resp.Status, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
