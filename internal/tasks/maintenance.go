package tasks

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mikestefanello/backlite"
)

// StaleRunSweeper fails runs stuck in an active state past the threshold.
type StaleRunSweeper interface {
	SweepStale(olderThan time.Duration) (int, error)
}

// StaleRunSweepTask marks abandoned in-progress runs as failed so a crashed
// worker never blocks the single-active-run slot forever.
type StaleRunSweepTask struct {
	OlderThan time.Duration `json:"older_than"`
}

// Config returns the queue configuration for stale run sweeps.
func (t StaleRunSweepTask) Config() backlite.QueueConfig {
	lane := queueSettings.Maintenance
	return backlite.QueueConfig{
		Name:        "stale_run_sweep",
		MaxAttempts: lane.MaxAttempts,
		Backoff:     lane.Backoff,
		Timeout:     lane.Timeout,
		Retention:   queueSettings.retention(),
	}
}

// StaleRunSweepProcessor creates a processor function for StaleRunSweepTask.
func StaleRunSweepProcessor(sweeper StaleRunSweeper) backlite.QueueProcessor[StaleRunSweepTask] {
	return func(ctx context.Context, task StaleRunSweepTask) error {
		if sweeper == nil {
			return fmt.Errorf("stale run sweeper not configured")
		}

		swept, err := sweeper.SweepStale(task.OlderThan)
		if err != nil {
			return fmt.Errorf("sweep stale runs: %w", err)
		}
		if swept > 0 {
			log.Printf("[TASK] Marked %d stale sync run(s) as failed", swept)
		}
		return nil
	}
}

// NewStaleRunSweepQueue creates a backlite queue for stale run sweeps.
func NewStaleRunSweepQueue(sweeper StaleRunSweeper) backlite.Queue {
	return backlite.NewQueue(StaleRunSweepProcessor(sweeper))
}

// OrphanCleaner flags worklogs whose issue vanished remotely.
type OrphanCleaner interface {
	CleanupOrphans(ctx context.Context, projectKeys []string) (int, error)
}

// CleanupOrphansTask sweeps the given projects for worklogs attached to
// issues that no longer exist remotely.
type CleanupOrphansTask struct {
	ProjectKeys []string `json:"project_keys"`
}

// Config returns the queue configuration for orphan cleanup sweeps.
func (t CleanupOrphansTask) Config() backlite.QueueConfig {
	lane := queueSettings.Maintenance
	return backlite.QueueConfig{
		Name:        "cleanup_orphans",
		MaxAttempts: lane.MaxAttempts,
		Backoff:     lane.Backoff,
		Timeout:     lane.Timeout,
		Retention:   queueSettings.retention(),
	}
}

// CleanupOrphansProcessor creates a processor function for CleanupOrphansTask.
func CleanupOrphansProcessor(cleaner OrphanCleaner) backlite.QueueProcessor[CleanupOrphansTask] {
	return func(ctx context.Context, task CleanupOrphansTask) error {
		if cleaner == nil {
			return fmt.Errorf("orphan cleaner not configured")
		}

		flagged, err := cleaner.CleanupOrphans(ctx, task.ProjectKeys)
		if err != nil {
			return fmt.Errorf("cleanup orphans: %w", err)
		}
		if flagged > 0 {
			log.Printf("[TASK] Flagged %d orphaned worklog(s)", flagged)
		}
		return nil
	}
}

// NewCleanupOrphansQueue creates a backlite queue for orphan cleanup sweeps.
func NewCleanupOrphansQueue(cleaner OrphanCleaner) backlite.Queue {
	return backlite.NewQueue(CleanupOrphansProcessor(cleaner))
}
