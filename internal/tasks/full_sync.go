package tasks

import (
	"context"
	"fmt"
	"log"

	"github.com/mikestefanello/backlite"

	"github.com/timepulse/jirasync/internal/syncer"
)

// SyncRunner executes a claimed sync run to a terminal state.
type SyncRunner interface {
	Run(ctx context.Context, runID uint, opts syncer.Options) error
}

// FullSyncTask executes a manually requested full sync run. The run row is
// claimed before the task is enqueued; the task only drives it.
type FullSyncTask struct {
	RunID   uint           `json:"run_id"`
	Options syncer.Options `json:"options"`
}

// Config returns the queue configuration for manual full sync tasks. The
// queue-level attempt budget is deliberately wider than the orchestrator's
// own retry budget so the orchestrator always gets to settle the run itself.
func (t FullSyncTask) Config() backlite.QueueConfig {
	lane := queueSettings.Manual
	return backlite.QueueConfig{
		Name:        "full_sync",
		MaxAttempts: lane.MaxAttempts,
		Backoff:     lane.Backoff,
		Timeout:     lane.Timeout,
		Retention:   queueSettings.retention(),
	}
}

// DailySyncTask executes a scheduler-initiated full sync run. Identical
// mechanics to FullSyncTask, but queued on the lower-priority daily lane.
type DailySyncTask struct {
	RunID   uint           `json:"run_id"`
	Options syncer.Options `json:"options"`
}

// Config returns the queue configuration for scheduled full sync tasks.
func (t DailySyncTask) Config() backlite.QueueConfig {
	lane := queueSettings.Daily
	return backlite.QueueConfig{
		Name:        "daily_sync",
		MaxAttempts: lane.MaxAttempts,
		Backoff:     lane.Backoff,
		Timeout:     lane.Timeout,
		Retention:   queueSettings.retention(),
	}
}

func runFullSync(ctx context.Context, runner SyncRunner, runID uint, opts syncer.Options) error {
	if runner == nil {
		return fmt.Errorf("sync runner not configured")
	}

	err := runner.Run(ctx, runID, opts)
	if err == nil {
		return nil
	}
	if syncer.IsRetryableRunError(err) {
		// Returning the error re-queues the task; the run row stays
		// in_progress and resumes from its checkpoints on the next attempt.
		log.Printf("[TASK] Sync run %d will retry: %v", runID, err)
		return err
	}
	// Non-retryable failures are already settled on the run row; failing the
	// task too would only trigger pointless queue retries against a terminal
	// run.
	log.Printf("[TASK] Sync run %d ended: %v", runID, err)
	return nil
}

// FullSyncProcessor creates a processor function for FullSyncTask.
func FullSyncProcessor(runner SyncRunner) backlite.QueueProcessor[FullSyncTask] {
	return func(ctx context.Context, task FullSyncTask) error {
		return runFullSync(ctx, runner, task.RunID, task.Options)
	}
}

// DailySyncProcessor creates a processor function for DailySyncTask.
func DailySyncProcessor(runner SyncRunner) backlite.QueueProcessor[DailySyncTask] {
	return func(ctx context.Context, task DailySyncTask) error {
		return runFullSync(ctx, runner, task.RunID, task.Options)
	}
}

// NewFullSyncQueue creates a backlite queue for manual full sync tasks.
func NewFullSyncQueue(runner SyncRunner) backlite.Queue {
	return backlite.NewQueue(FullSyncProcessor(runner))
}

// NewDailySyncQueue creates a backlite queue for scheduled full sync tasks.
func NewDailySyncQueue(runner SyncRunner) backlite.Queue {
	return backlite.NewQueue(DailySyncProcessor(runner))
}
