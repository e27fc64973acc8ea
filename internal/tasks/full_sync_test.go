package tasks

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timepulse/jirasync/internal/syncer"
)

type fakeRunner struct {
	err   error
	calls int
	runID uint
}

func (f *fakeRunner) Run(ctx context.Context, runID uint, opts syncer.Options) error {
	f.calls++
	f.runID = runID
	return f.err
}

func TestRunFullSync(t *testing.T) {
	t.Run("nil runner fails the task", func(t *testing.T) {
		err := runFullSync(context.Background(), nil, 1, syncer.Options{})
		assert.Error(t, err)
	})

	t.Run("clean run completes the task", func(t *testing.T) {
		runner := &fakeRunner{}
		err := runFullSync(context.Background(), runner, 7, syncer.Options{})
		require.NoError(t, err)
		assert.Equal(t, 1, runner.calls)
		assert.EqualValues(t, 7, runner.runID)
	})

	t.Run("retryable failure re-queues the task", func(t *testing.T) {
		runner := &fakeRunner{err: syncer.RetryableRunError(fmt.Errorf("rate limited"))}
		err := runFullSync(context.Background(), runner, 7, syncer.Options{})
		require.Error(t, err)
		assert.True(t, syncer.IsRetryableRunError(err))
	})

	t.Run("settled failure completes the task", func(t *testing.T) {
		// The orchestrator already marked the run terminal; retrying the task
		// would only hammer a settled run.
		runner := &fakeRunner{err: fmt.Errorf("retry budget exhausted")}
		err := runFullSync(context.Background(), runner, 7, syncer.Options{})
		assert.NoError(t, err)
	})
}

func TestLaneQueueBudgets(t *testing.T) {
	// Queue-level attempts stay wider than the orchestrator's own budget so
	// the orchestrator always settles the run itself.
	full := FullSyncTask{}.Config()
	assert.Equal(t, "full_sync", full.Name)
	assert.Equal(t, 5, full.MaxAttempts)

	daily := DailySyncTask{}.Config()
	assert.Equal(t, "daily_sync", daily.Name)
	assert.Equal(t, 3, daily.MaxAttempts)

	worklog := WorklogSyncTask{}.Config()
	assert.Equal(t, "worklog_sync", worklog.Name)

	sweep := StaleRunSweepTask{}.Config()
	assert.Equal(t, "stale_run_sweep", sweep.Name)
	assert.Equal(t, 2, sweep.MaxAttempts)
}
