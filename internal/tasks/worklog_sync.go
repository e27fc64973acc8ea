package tasks

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mikestefanello/backlite"

	"github.com/timepulse/jirasync/internal/syncer"
)

// WorklogSyncer runs one incremental worklog delta pass.
type WorklogSyncer interface {
	Run(ctx context.Context, projectKeys []string, since *time.Time) (*syncer.DeltaResult, error)
}

// WorklogSyncTask refreshes worklogs changed since each project's watermark.
// A nil Since uses each project's stored watermark; an explicit Since
// overrides it.
type WorklogSyncTask struct {
	ProjectKeys []string   `json:"project_keys"`
	Since       *time.Time `json:"since,omitempty"`
}

// Config returns the queue configuration for worklog delta tasks.
func (t WorklogSyncTask) Config() backlite.QueueConfig {
	lane := queueSettings.Worklog
	return backlite.QueueConfig{
		Name:        "worklog_sync",
		MaxAttempts: lane.MaxAttempts,
		Backoff:     lane.Backoff,
		Timeout:     lane.Timeout,
		Retention:   queueSettings.retention(),
	}
}

// WorklogSyncProcessor creates a processor function for WorklogSyncTask.
func WorklogSyncProcessor(engine WorklogSyncer) backlite.QueueProcessor[WorklogSyncTask] {
	return func(ctx context.Context, task WorklogSyncTask) error {
		if engine == nil {
			return fmt.Errorf("worklog sync engine not configured")
		}

		result, err := engine.Run(ctx, task.ProjectKeys, task.Since)
		if err != nil {
			return fmt.Errorf("worklog sync: %w", err)
		}

		log.Printf("[TASK] Worklog sync done: %d processed (%d added, %d updated), %d project error(s)",
			result.Processed, result.Added, result.Updated, result.Errors)
		return nil
	}
}

// NewWorklogSyncQueue creates a backlite queue for worklog delta tasks.
func NewWorklogSyncQueue(engine WorklogSyncer) backlite.Queue {
	return backlite.NewQueue(WorklogSyncProcessor(engine))
}
