package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityProgress(t *testing.T) {
	assert.Equal(t, 0.0, EntityProgress(0, 0))
	assert.Equal(t, 0.0, EntityProgress(5, 0))
	assert.Equal(t, 0.0, EntityProgress(3, -1))
	assert.Equal(t, 50.0, EntityProgress(5, 10))
	assert.Equal(t, 100.0, EntityProgress(10, 10))
	// Totals are estimates from the first page; processed may overshoot.
	assert.Equal(t, 100.0, EntityProgress(15, 10))
}

func TestSyncRunStates(t *testing.T) {
	t.Run("active states", func(t *testing.T) {
		for _, status := range []SyncRunStatus{SyncRunPending, SyncRunInProgress} {
			run := SyncRun{Status: status}
			assert.True(t, run.IsActive(), "%s should be active", status)
			assert.False(t, run.IsTerminal(), "%s should not be terminal", status)
		}
	})

	t.Run("terminal states", func(t *testing.T) {
		for _, status := range []SyncRunStatus{SyncRunCompleted, SyncRunCompletedWithErrors, SyncRunFailed} {
			run := SyncRun{Status: status}
			assert.True(t, run.IsTerminal(), "%s should be terminal", status)
			assert.False(t, run.IsActive(), "%s should not be active", status)
		}
	})
}

func TestSyncRunIsStale(t *testing.T) {
	now := time.Now()

	fresh := SyncRun{Status: SyncRunInProgress, UpdatedAt: now.Add(-time.Hour)}
	assert.False(t, fresh.IsStale(now))

	stale := SyncRun{Status: SyncRunInProgress, UpdatedAt: now.Add(-3 * time.Hour)}
	assert.True(t, stale.IsStale(now))

	// Terminal runs are never stale regardless of age.
	done := SyncRun{Status: SyncRunCompleted, UpdatedAt: now.Add(-48 * time.Hour)}
	assert.False(t, done.IsStale(now))
}

func TestSyncRunIsCancelled(t *testing.T) {
	cancelled := SyncRun{
		Status: SyncRunFailed,
		ErrorDetails: SyncErrorList{
			{Message: "some earlier error"},
			{Message: CancelledByUserMessage},
		},
	}
	assert.True(t, cancelled.IsCancelled())

	failed := SyncRun{
		Status:       SyncRunFailed,
		ErrorDetails: SyncErrorList{{Message: "connection refused"}},
	}
	assert.False(t, failed.IsCancelled())

	// The marker only counts on a failed run.
	inProgress := SyncRun{
		Status:       SyncRunInProgress,
		ErrorDetails: SyncErrorList{{Message: CancelledByUserMessage}},
	}
	assert.False(t, inProgress.IsCancelled())
}

func TestSyncErrorListRoundTrip(t *testing.T) {
	list := SyncErrorList{
		{
			Message:   "failed to store issue PROJ-1",
			Context:   map[string]any{"issue_key": "PROJ-1"},
			Timestamp: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
		},
	}

	value, err := list.Value()
	require.NoError(t, err)

	var decoded SyncErrorList
	require.NoError(t, decoded.Scan(value))
	require.Len(t, decoded, 1)
	assert.Equal(t, "failed to store issue PROJ-1", decoded[0].Message)
	assert.Equal(t, "PROJ-1", decoded[0].Context["issue_key"])
}

func TestSyncErrorListEmptyValue(t *testing.T) {
	value, err := SyncErrorList(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", value)
}

func TestOverallProgress(t *testing.T) {
	run := SyncRun{
		TotalProjects: 2, ProcessedProjects: 2,
		TotalIssues: 10, ProcessedIssues: 5,
		TotalWorklogs: 8, ProcessedWorklogs: 3,
	}
	assert.InDelta(t, 50.0, run.OverallProgress(), 0.01)
}
