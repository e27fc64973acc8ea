package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectSyncStatusIsDueForSync(t *testing.T) {
	now := time.Now()

	never := ProjectSyncStatus{ProjectKey: "PROJ"}
	assert.True(t, never.IsDueForSync(now))

	recent := now.Add(-12 * time.Hour)
	fresh := ProjectSyncStatus{ProjectKey: "PROJ", LastSyncAt: &recent}
	assert.False(t, fresh.IsDueForSync(now))

	old := now.Add(-25 * time.Hour)
	stale := ProjectSyncStatus{ProjectKey: "PROJ", LastSyncAt: &old}
	assert.True(t, stale.IsDueForSync(now))
}

func TestWorklogSyncStatusIsDueForSync(t *testing.T) {
	now := time.Now()

	never := WorklogSyncStatus{ProjectKey: "PROJ"}
	assert.True(t, never.IsDueForSync(now))

	// 24h30m is inside the worklog window but past the full-sync window;
	// the two clocks diverge here on purpose.
	within := now.Add(-24*time.Hour - 30*time.Minute)
	fresh := WorklogSyncStatus{ProjectKey: "PROJ", LastSyncAt: &within}
	assert.False(t, fresh.IsDueForSync(now))

	beyond := now.Add(-26 * time.Hour)
	stale := WorklogSyncStatus{ProjectKey: "PROJ", LastSyncAt: &beyond}
	assert.True(t, stale.IsDueForSync(now))
}

func TestSyncMetadataRoundTrip(t *testing.T) {
	meta := SyncMetadata{"worklogs_processed": 42, "sync_run_id": 7}

	value, err := meta.Value()
	require.NoError(t, err)

	var decoded SyncMetadata
	require.NoError(t, decoded.Scan(value))
	assert.EqualValues(t, 42, decoded["worklogs_processed"])
}
