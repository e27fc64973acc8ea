package projectstatus

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timepulse/jirasync/internal/database"
	"github.com/timepulse/jirasync/internal/entities"
)

func setupRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db.DB)
}

func TestRecordFullSyncUpserts(t *testing.T) {
	repo := setupRepo(t)

	require.NoError(t, repo.RecordFullSync("PROJ", "completed", 120, "", entities.SyncMetadata{"sync_run_id": 1}))
	require.NoError(t, repo.RecordFullSync("PROJ", "failed", 0, "network down", nil))

	row, err := repo.GetFullSync("PROJ")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "failed", row.LastSyncStatus)
	assert.Equal(t, "network down", row.LastError)
	// Metadata survives a nil update.
	assert.EqualValues(t, 1, row.Metadata["sync_run_id"])

	rows, err := repo.ListFullSync()
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestGetFullSyncUnknownProject(t *testing.T) {
	repo := setupRepo(t)

	row, err := repo.GetFullSync("NOPE")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestDueForFullSync(t *testing.T) {
	repo := setupRepo(t)
	now := time.Now()

	require.NoError(t, repo.RecordFullSync("FRESH", "completed", 10, "", nil))

	require.NoError(t, repo.RecordFullSync("STALE", "completed", 10, "", nil))
	old := now.Add(-30 * time.Hour)
	require.NoError(t, repo.db.Model(&entities.ProjectSyncStatus{}).
		Where("project_key = ?", "STALE").
		UpdateColumn("last_sync_at", old).Error)

	due, err := repo.DueForFullSync([]string{"FRESH", "STALE", "NEVER"}, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"STALE", "NEVER"}, due)
}

func TestWorklogWatermark(t *testing.T) {
	repo := setupRepo(t)
	now := time.Now()

	t.Run("never synced", func(t *testing.T) {
		wm, err := repo.WorklogWatermark("NEVER", now)
		require.NoError(t, err)
		assert.Nil(t, wm)
	})

	t.Run("recent sync yields the watermark", func(t *testing.T) {
		require.NoError(t, repo.RecordWorklogSync("PROJ", "completed", WorklogTallies{Processed: 5, Added: 3, Updated: 2}, ""))
		wm, err := repo.WorklogWatermark("PROJ", now)
		require.NoError(t, err)
		require.NotNil(t, wm)
		assert.WithinDuration(t, now, *wm, time.Minute)
	})

	t.Run("watermark past the window forces a full re-sync", func(t *testing.T) {
		require.NoError(t, repo.RecordWorklogSync("OLD", "completed", WorklogTallies{}, ""))
		old := now.Add(-26 * time.Hour)
		require.NoError(t, repo.db.Model(&entities.WorklogSyncStatus{}).
			Where("project_key = ?", "OLD").
			UpdateColumn("last_sync_at", old).Error)

		wm, err := repo.WorklogWatermark("OLD", now)
		require.NoError(t, err)
		assert.Nil(t, wm)
	})
}

func TestRecordWorklogSyncTallies(t *testing.T) {
	repo := setupRepo(t)

	require.NoError(t, repo.RecordWorklogSync("PROJ", "completed_with_errors",
		WorklogTallies{Processed: 10, Added: 6, Updated: 4}, "2 worklog(s) failed to sync"))

	row, err := repo.GetWorklogSync("PROJ")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, 10, row.WorklogsProcessed)
	assert.Equal(t, 6, row.WorklogsAdded)
	assert.Equal(t, 4, row.WorklogsUpdated)
	assert.Equal(t, "2 worklog(s) failed to sync", row.LastError)
}
