package syncer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timepulse/jirasync/internal/database"
	"github.com/timepulse/jirasync/internal/database/mirror"
	"github.com/timepulse/jirasync/internal/jira"
)

func TestOrphanSweep(t *testing.T) {
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := mirror.NewRepository(db.DB)
	source := newFakeSource()
	sweep := NewOrphanSweep(source, mr)

	live := mirrorIssue(t, mr, "PROJ", "PROJ-1")
	gone := mirrorIssue(t, mr, "PROJ", "PROJ-2")

	author, err := mr.StoreUser(jira.UserRecord{AccountID: "acc-1", DisplayName: "Alex"})
	require.NoError(t, err)
	started := time.Now().Add(-time.Hour)
	_, err = mr.StoreWorklog(worklogRec("wl-1", started), live.ID, author.ID)
	require.NoError(t, err)
	_, err = mr.StoreWorklog(worklogRec("wl-2", started), gone.ID, author.ID)
	require.NoError(t, err)

	// The remote project only knows PROJ-1 now.
	source.issues["PROJ"] = []jira.IssueRecord{{ID: "iid-PROJ-1", Key: "PROJ-1"}}

	// Projects never mirrored locally are skipped, not errors.
	flagged, err := sweep.CleanupOrphans(context.Background(), []string{"PROJ", "NEVER"})
	require.NoError(t, err)
	assert.Equal(t, 1, flagged)

	// A second pass finds nothing new.
	flagged, err = sweep.CleanupOrphans(context.Background(), []string{"PROJ"})
	require.NoError(t, err)
	assert.Equal(t, 0, flagged)
}
