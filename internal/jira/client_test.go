package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return NewClient(srv.URL, "sync@example.com", "api-token"), srv
}

func TestConnectionSuccess(t *testing.T) {
	var gotAuth bool
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/3/myself", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		gotAuth = ok && user == "sync@example.com" && pass == "api-token"
		json.NewEncoder(w).Encode(map[string]string{
			"displayName":  "Sync Bot",
			"emailAddress": "sync@example.com",
		})
	}))
	defer srv.Close()

	status, err := client.TestConnection(context.Background())
	require.NoError(t, err)
	assert.True(t, gotAuth)
	assert.True(t, status.Success)
	assert.Contains(t, status.Message, "Sync Bot")
	assert.Equal(t, "sync@example.com", status.Account)
}

func TestConnectionNotConfigured(t *testing.T) {
	client := NewClient("", "", "")
	_, err := client.TestConnection(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestConnectionBadCredentials(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	status, err := client.TestConnection(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
	require.NotNil(t, status)
	assert.False(t, status.Success)
}

func TestStatusCodeMapping(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusNotFound, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.code), func(t *testing.T) {
			var requests atomic.Int32
			client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				requests.Add(1)
				w.WriteHeader(tt.code)
			}))
			defer srv.Close()

			_, err := client.GetProjects(context.Background(), []string{"PROJ"})
			assert.ErrorIs(t, err, tt.want)
			// Auth and not-found failures are not worth retrying.
			assert.EqualValues(t, 1, requests.Load())
		})
	}
}

func TestServerErrorIsRetried(t *testing.T) {
	var requests atomic.Int32
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"values": []ProjectRecord{{ID: "1", Key: "PROJ", Name: "Project"}}})
	}))
	defer srv.Close()

	projects, err := client.GetProjects(context.Background(), []string{"PROJ"})
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.EqualValues(t, 2, requests.Load())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrRateLimited))
	assert.True(t, IsRetryable(&ServerError{StatusCode: 502}))
	assert.True(t, IsRetryable(fmt.Errorf("worklogs for PROJ-1: %w", &ServerError{StatusCode: 500})))
	assert.False(t, IsRetryable(ErrUnauthorized))
	assert.False(t, IsRetryable(ErrNotFound))
	assert.False(t, IsRetryable(fmt.Errorf("plain failure")))
}

func TestGetProjectsQuery(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/3/project/search", r.URL.Path)
		assert.Equal(t, "PROJ,OPS", r.URL.Query().Get("keys"))
		assert.Equal(t, "2", r.URL.Query().Get("maxResults"))
		json.NewEncoder(w).Encode(map[string]any{"values": []ProjectRecord{
			{ID: "1", Key: "PROJ", Name: "Project"},
			{ID: "2", Key: "OPS", Name: "Operations"},
		}})
	}))
	defer srv.Close()

	projects, err := client.GetProjects(context.Background(), []string{"PROJ", "OPS"})
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "OPS", projects[1].Key)
}

func TestGetIssuesForProjectJQL(t *testing.T) {
	since := time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC)
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/3/search", r.URL.Path)
		jql := r.URL.Query().Get("jql")
		assert.Contains(t, jql, `project = "PROJ"`)
		assert.Contains(t, jql, `updated >= "2026-08-01 09:30"`)
		assert.Contains(t, jql, "timespent > 0")
		assert.Contains(t, jql, "ORDER BY key ASC")
		assert.Equal(t, "100", r.URL.Query().Get("startAt"))
		assert.Equal(t, "25", r.URL.Query().Get("maxResults"))
		json.NewEncoder(w).Encode(IssuePage{StartAt: 100, MaxResults: 25, Total: 101, Issues: []IssueRecord{{ID: "10", Key: "PROJ-101"}}})
	}))
	defer srv.Close()

	page, err := client.GetIssuesForProject(context.Background(), "PROJ", IssueOptions{
		StartAt:          100,
		MaxResults:       25,
		UpdatedSince:     &since,
		OnlyWithWorklogs: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 101, page.Total)
	require.Len(t, page.Issues, 1)
	assert.Equal(t, "PROJ-101", page.Issues[0].Key)
}

func TestGetWorklogsForIssueDefaultsWindow(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/3/issue/PROJ-1/worklog", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("maxResults"))
		json.NewEncoder(w).Encode(map[string]any{"worklogs": []WorklogRecord{{ID: "wl-1", TimeSpentSeconds: 600}}})
	}))
	defer srv.Close()

	worklogs, err := client.GetWorklogsForIssue(context.Background(), "PROJ-1", 0)
	require.NoError(t, err)
	require.Len(t, worklogs, 1)
	assert.Equal(t, "wl-1", worklogs[0].ID)
}

func TestGetUpdatedWorklogsFiltersOnWatermark(t *testing.T) {
	since := time.Now().Add(-2 * time.Hour)
	fresh := time.Now().Add(-time.Hour)
	stale := time.Now().Add(-3 * time.Hour)

	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/api/3/search":
			json.NewEncoder(w).Encode(IssuePage{Total: 1, Issues: []IssueRecord{{ID: "10", Key: "PROJ-1"}}})
		case "/rest/api/3/issue/PROJ-1/worklog":
			json.NewEncoder(w).Encode(map[string]any{"worklogs": []WorklogRecord{
				{ID: "wl-fresh", TimeSpentSeconds: 600, Updated: &fresh},
				{ID: "wl-stale", TimeSpentSeconds: 600, Updated: &stale},
			}})
		default:
			t.Errorf("unexpected request to %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	byIssue, err := client.GetUpdatedWorklogs(context.Background(), "PROJ", &since, 100)
	require.NoError(t, err)
	require.Len(t, byIssue["PROJ-1"], 1)
	assert.Equal(t, "wl-fresh", byIssue["PROJ-1"][0].ID)
}
