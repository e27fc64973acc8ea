package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/timepulse/jirasync/internal/entities"
)

func TestBuildSnapshotCounters(t *testing.T) {
	started := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Second)

	run := &entities.SyncRun{
		Status:             entities.SyncRunInProgress,
		SyncType:           entities.SyncTypeManual,
		CurrentOperation:   "Syncing issues for PROJ",
		ProgressPercentage: 45,
		TotalProjects:      2,
		ProcessedProjects:  1,
		TotalIssues:        100,
		ProcessedIssues:    50,
		TotalWorklogs:      10,
		ProcessedWorklogs:  0,
		ErrorCount:         1,
		StartedAt:          &started,
	}
	run.ID = 7
	run.UpdatedAt = now

	s := BuildSnapshot(run, now)

	assert.EqualValues(t, 7, s.ID)
	assert.Equal(t, entities.SyncRunInProgress, s.Status)
	assert.Equal(t, 45.0, s.ProgressPercentage)
	assert.Equal(t, EntityCounters{Total: 2, Processed: 1, Percentage: 50}, s.Projects)
	assert.Equal(t, EntityCounters{Total: 100, Processed: 50, Percentage: 50}, s.Issues)
	assert.Equal(t, EntityCounters{Total: 10, Processed: 0, Percentage: 0}, s.Worklogs)
	assert.Equal(t, 1, s.ErrorCount)
	assert.False(t, s.IsStale)
	assert.Equal(t, "1m30s", s.Duration)
}

func TestBuildSnapshotETA(t *testing.T) {
	started := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	now := started.Add(time.Minute)

	run := &entities.SyncRun{
		Status:             entities.SyncRunInProgress,
		ProgressPercentage: 25,
		StartedAt:          &started,
	}
	run.UpdatedAt = now

	// 25% in one minute leaves three minutes of work.
	s := BuildSnapshot(run, now)
	assert.Equal(t, "3m0s", s.ETA)

	// No ETA before any progress or after completion.
	run.ProgressPercentage = 0
	assert.Empty(t, BuildSnapshot(run, now).ETA)

	done := now.Add(time.Minute)
	run.ProgressPercentage = 100
	run.CompletedAt = &done
	s = BuildSnapshot(run, done)
	assert.Empty(t, s.ETA)
	assert.Equal(t, "2m0s", s.Duration)
}

func TestBuildSnapshotStaleRun(t *testing.T) {
	started := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	run := &entities.SyncRun{
		Status:             entities.SyncRunInProgress,
		ProgressPercentage: 10,
		StartedAt:          &started,
	}
	run.UpdatedAt = started

	now := started.Add(entities.StaleRunThreshold + time.Minute)
	assert.True(t, BuildSnapshot(run, now).IsStale)
}

func TestMultiEmitterFansOut(t *testing.T) {
	var calls []uint
	record := emitterFunc(func(run *entities.SyncRun) { calls = append(calls, run.ID) })

	run := &entities.SyncRun{}
	run.ID = 3
	MultiEmitter{record, record}.RunUpdated(run)
	assert.Equal(t, []uint{3, 3}, calls)
}

type emitterFunc func(*entities.SyncRun)

func (f emitterFunc) RunUpdated(run *entities.SyncRun) { f(run) }

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", FormatDuration(0))
	assert.Equal(t, "0s", FormatDuration(-5))
	assert.Equal(t, "45s", FormatDuration(45))
	assert.Equal(t, "1h12m3s", FormatDuration(4323))
}
