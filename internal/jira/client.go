package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout     = 30 * time.Second
	maxRequestRetries  = 3
	initialRetryDelay  = 1 * time.Second
	maxRetryDelay      = 30 * time.Second
	retryBackoffFactor = 2
)

// Source is the remote-source view the orchestrator consumes. The concrete
// Client implements it against the JIRA Cloud REST API; tests substitute a
// fake.
type Source interface {
	TestConnection(ctx context.Context) (*ConnectionStatus, error)
	GetProjects(ctx context.Context, keys []string) ([]ProjectRecord, error)
	GetIssuesForProject(ctx context.Context, key string, opts IssueOptions) (*IssuePage, error)
	GetWorklogsForIssue(ctx context.Context, issueKey string, maxResults int) ([]WorklogRecord, error)
	GetUpdatedWorklogs(ctx context.Context, projectKey string, since *time.Time, maxPerIssue int) (map[string][]WorklogRecord, error)
}

// Client talks to the JIRA Cloud REST API with basic auth (email + API
// token). Requests are retried on rate limits and server errors with capped
// exponential backoff.
type Client struct {
	baseURL    string
	email      string
	token      string
	httpClient *http.Client
}

var _ Source = (*Client)(nil)

// NewClient creates a JIRA API client. baseURL is the site root, e.g.
// "https://example.atlassian.net".
func NewClient(baseURL, email, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		email:   email,
		token:   token,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// IsConfigured reports whether the client has enough settings to make calls.
func (c *Client) IsConfigured() bool {
	return c.baseURL != "" && c.token != ""
}

// TestConnection verifies credentials against the /myself endpoint.
func (c *Client) TestConnection(ctx context.Context) (*ConnectionStatus, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	var me struct {
		DisplayName  string `json:"displayName"`
		EmailAddress string `json:"emailAddress"`
	}
	if err := c.getJSON(ctx, "/rest/api/3/myself", nil, &me); err != nil {
		return &ConnectionStatus{Success: false, Message: err.Error()}, err
	}

	return &ConnectionStatus{
		Success: true,
		Message: fmt.Sprintf("connected as %s", me.DisplayName),
		Account: me.EmailAddress,
	}, nil
}

// GetProjects fetches project metadata for the given keys.
func (c *Client) GetProjects(ctx context.Context, keys []string) ([]ProjectRecord, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	q := url.Values{}
	q.Set("keys", strings.Join(keys, ","))
	q.Set("maxResults", strconv.Itoa(len(keys)))

	var resp struct {
		Values []ProjectRecord `json:"values"`
	}
	if err := c.getJSON(ctx, "/rest/api/3/project/search", q, &resp); err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// GetIssuesForProject fetches one page of issues for a project via JQL
// search, ordered by issue key so page contents are stable across requests.
func (c *Client) GetIssuesForProject(ctx context.Context, key string, opts IssueOptions) (*IssuePage, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	jql := fmt.Sprintf("project = %q", key)
	if opts.UpdatedSince != nil {
		jql += fmt.Sprintf(" AND updated >= %q", opts.UpdatedSince.Format("2006-01-02 15:04"))
	}
	if opts.OnlyWithWorklogs {
		jql += " AND timespent > 0"
	}
	jql += " ORDER BY key ASC"

	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 50
	}

	q := url.Values{}
	q.Set("jql", jql)
	q.Set("startAt", strconv.Itoa(opts.StartAt))
	q.Set("maxResults", strconv.Itoa(maxResults))
	q.Set("fields", "summary,status,issuetype,assignee,labels,updated")

	var page IssuePage
	if err := c.getJSON(ctx, "/rest/api/3/search", q, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetWorklogsForIssue fetches the most recent worklogs for one issue, bounded
// to maxResults entries.
func (c *Client) GetWorklogsForIssue(ctx context.Context, issueKey string, maxResults int) ([]WorklogRecord, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if maxResults <= 0 {
		maxResults = 100
	}

	q := url.Values{}
	q.Set("maxResults", strconv.Itoa(maxResults))

	var resp struct {
		Worklogs []WorklogRecord `json:"worklogs"`
	}
	path := fmt.Sprintf("/rest/api/3/issue/%s/worklog", url.PathEscape(issueKey))
	if err := c.getJSON(ctx, path, q, &resp); err != nil {
		return nil, err
	}
	return resp.Worklogs, nil
}

// GetUpdatedWorklogs returns worklogs changed since the watermark, grouped by
// issue key. A nil watermark forces a full worklog walk of the project. The
// issue search itself is filtered on the watermark so unchanged issues cost
// nothing.
func (c *Client) GetUpdatedWorklogs(ctx context.Context, projectKey string, since *time.Time, maxPerIssue int) (map[string][]WorklogRecord, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	result := make(map[string][]WorklogRecord)
	startAt := 0
	for {
		page, err := c.GetIssuesForProject(ctx, projectKey, IssueOptions{
			StartAt:          startAt,
			MaxResults:       50,
			UpdatedSince:     since,
			OnlyWithWorklogs: true,
		})
		if err != nil {
			return nil, err
		}

		for _, issue := range page.Issues {
			worklogs, err := c.GetWorklogsForIssue(ctx, issue.Key, maxPerIssue)
			if err != nil {
				return nil, fmt.Errorf("worklogs for %s: %w", issue.Key, err)
			}
			kept := worklogs[:0]
			for _, w := range worklogs {
				if since == nil || (w.Updated != nil && w.Updated.After(*since)) {
					kept = append(kept, w)
				}
			}
			if len(kept) > 0 {
				result[issue.Key] = kept
			}
		}

		startAt += len(page.Issues)
		if startAt >= page.Total || len(page.Issues) == 0 {
			break
		}
	}

	return result, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < maxRequestRetries; attempt++ {
		if attempt > 0 {
			delay := calculateRetryDelay(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = c.doRequest(ctx, u, out)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doRequest(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.SetBasicAuth(c.email, c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500:
		return &ServerError{StatusCode: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func calculateRetryDelay(attempt int) time.Duration {
	delay := initialRetryDelay
	for i := 0; i < attempt; i++ {
		delay *= time.Duration(retryBackoffFactor)
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}
