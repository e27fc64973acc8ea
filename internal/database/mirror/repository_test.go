package mirror

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timepulse/jirasync/internal/database"
	"github.com/timepulse/jirasync/internal/entities"
	"github.com/timepulse/jirasync/internal/jira"
)

func setupRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db.DB)
}

func issueRecord(id, key, summary string) jira.IssueRecord {
	return jira.IssueRecord{
		ID:  id,
		Key: key,
		Fields: &jira.IssueFields{
			Summary: summary,
			Status:  &struct {
				Name string `json:"name"`
			}{Name: "In Progress"},
		},
	}
}

func TestStoreProjectIdempotent(t *testing.T) {
	repo := setupRepo(t)

	rec := jira.ProjectRecord{ID: "10001", Key: "PROJ", Name: "Project One"}
	first, err := repo.StoreProject(rec)
	require.NoError(t, err)

	// Same JIRA id again: one row, updated fields.
	rec.Name = "Project One Renamed"
	second, err := repo.StoreProject(rec)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Project One Renamed", second.Name)

	var count int64
	require.NoError(t, repo.db.Model(&entities.Project{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestStoreProjectValidation(t *testing.T) {
	repo := setupRepo(t)

	_, err := repo.StoreProject(jira.ProjectRecord{ID: "10001"})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = repo.StoreProject(jira.ProjectRecord{Key: "PROJ"})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestStoreUser(t *testing.T) {
	repo := setupRepo(t)

	t.Run("missing accountId is skipped, not failed", func(t *testing.T) {
		user, err := repo.StoreUser(jira.UserRecord{DisplayName: "Ghost"})
		require.NoError(t, err)
		assert.Nil(t, user)
	})

	t.Run("missing displayName is a validation failure", func(t *testing.T) {
		_, err := repo.StoreUser(jira.UserRecord{AccountID: "abc123"})
		assert.ErrorIs(t, err, ErrInvalidRecord)
	})

	t.Run("upsert keys on accountId", func(t *testing.T) {
		first, err := repo.StoreUser(jira.UserRecord{AccountID: "abc123", DisplayName: "Alex", Active: true})
		require.NoError(t, err)

		second, err := repo.StoreUser(jira.UserRecord{AccountID: "abc123", DisplayName: "Alex Doe", Active: false})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "Alex Doe", second.DisplayName)
		assert.False(t, second.Active)
	})
}

func TestStoreIssue(t *testing.T) {
	repo := setupRepo(t)

	project, err := repo.StoreProject(jira.ProjectRecord{ID: "10001", Key: "PROJ", Name: "P"})
	require.NoError(t, err)

	t.Run("validation", func(t *testing.T) {
		_, err := repo.StoreIssue(jira.IssueRecord{ID: "1"}, project.ID, nil)
		assert.ErrorIs(t, err, ErrInvalidRecord)

		noFields := jira.IssueRecord{ID: "1", Key: "PROJ-1"}
		_, err = repo.StoreIssue(noFields, project.ID, nil)
		assert.ErrorIs(t, err, ErrInvalidRecord)
	})

	t.Run("upsert keys on JIRA id", func(t *testing.T) {
		first, err := repo.StoreIssue(issueRecord("20001", "PROJ-1", "First summary"), project.ID, nil)
		require.NoError(t, err)

		second, err := repo.StoreIssue(issueRecord("20001", "PROJ-1", "Edited summary"), project.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "Edited summary", second.Summary)

		var count int64
		require.NoError(t, repo.db.Model(&entities.Issue{}).Count(&count).Error)
		assert.EqualValues(t, 1, count)
	})
}

func TestStoreWorklog(t *testing.T) {
	repo := setupRepo(t)

	project, err := repo.StoreProject(jira.ProjectRecord{ID: "10001", Key: "PROJ", Name: "P"})
	require.NoError(t, err)
	issue, err := repo.StoreIssue(issueRecord("20001", "PROJ-1", "Issue"), project.ID, nil)
	require.NoError(t, err)
	author, err := repo.StoreUser(jira.UserRecord{AccountID: "abc123", DisplayName: "Alex"})
	require.NoError(t, err)

	started := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)

	t.Run("validation", func(t *testing.T) {
		_, err := repo.StoreWorklog(jira.WorklogRecord{TimeSpentSeconds: 60, Started: &started}, issue.ID, author.ID)
		assert.ErrorIs(t, err, ErrInvalidRecord)

		_, err = repo.StoreWorklog(jira.WorklogRecord{ID: "30001", Started: &started}, issue.ID, author.ID)
		assert.ErrorIs(t, err, ErrInvalidRecord)

		_, err = repo.StoreWorklog(jira.WorklogRecord{ID: "30001", TimeSpentSeconds: 60}, issue.ID, author.ID)
		assert.ErrorIs(t, err, ErrInvalidRecord)
	})

	t.Run("created then updated", func(t *testing.T) {
		rec := jira.WorklogRecord{ID: "30001", TimeSpentSeconds: 3600, Started: &started, Comment: "backend work"}
		first, err := repo.StoreWorklog(rec, issue.ID, author.ID)
		require.NoError(t, err)
		assert.True(t, first.Created)
		assert.Equal(t, entities.ResourceBackend, first.Worklog.ResourceType)

		rec.TimeSpentSeconds = 7200
		second, err := repo.StoreWorklog(rec, issue.ID, author.ID)
		require.NoError(t, err)
		assert.False(t, second.Created)
		assert.Equal(t, first.Worklog.ID, second.Worklog.ID)
		assert.Equal(t, 7200, second.Worklog.TimeSpentSeconds)
	})
}

func TestFlagOrphanedWorklogs(t *testing.T) {
	repo := setupRepo(t)

	project, err := repo.StoreProject(jira.ProjectRecord{ID: "10001", Key: "PROJ", Name: "P"})
	require.NoError(t, err)
	author, err := repo.StoreUser(jira.UserRecord{AccountID: "abc123", DisplayName: "Alex"})
	require.NoError(t, err)

	started := time.Now().Add(-time.Hour)
	live, err := repo.StoreIssue(issueRecord("20001", "PROJ-1", "Live"), project.ID, nil)
	require.NoError(t, err)
	gone, err := repo.StoreIssue(issueRecord("20002", "PROJ-2", "Deleted upstream"), project.ID, nil)
	require.NoError(t, err)

	_, err = repo.StoreWorklog(jira.WorklogRecord{ID: "1", TimeSpentSeconds: 60, Started: &started}, live.ID, author.ID)
	require.NoError(t, err)
	_, err = repo.StoreWorklog(jira.WorklogRecord{ID: "2", TimeSpentSeconds: 60, Started: &started}, gone.ID, author.ID)
	require.NoError(t, err)

	flagged, err := repo.FlagOrphanedWorklogs(project.ID, []string{"PROJ-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, flagged)

	// Flagged, never deleted.
	var worklogs []entities.Worklog
	require.NoError(t, repo.db.Order("jira_id ASC").Find(&worklogs).Error)
	require.Len(t, worklogs, 2)
	assert.False(t, worklogs[0].Orphaned)
	assert.True(t, worklogs[1].Orphaned)

	// Re-running flags nothing new.
	flagged, err = repo.FlagOrphanedWorklogs(project.ID, []string{"PROJ-1"})
	require.NoError(t, err)
	assert.Equal(t, 0, flagged)
}

func TestIssueByKey(t *testing.T) {
	repo := setupRepo(t)

	project, err := repo.StoreProject(jira.ProjectRecord{ID: "10001", Key: "PROJ", Name: "P"})
	require.NoError(t, err)
	_, err = repo.StoreIssue(issueRecord("20001", "PROJ-1", "Issue"), project.ID, nil)
	require.NoError(t, err)

	found, err := repo.IssueByKey("PROJ-1")
	require.NoError(t, err)
	assert.Equal(t, "PROJ-1", found.Key)

	_, err = repo.IssueByKey("PROJ-999")
	assert.Error(t, err)
}
