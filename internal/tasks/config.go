package tasks

import (
	"time"

	"github.com/mikestefanello/backlite"
)

// Lane names. Each lane is an isolated worker pool with its own concurrency
// cap and timeouts; a runaway daily sync cannot starve the manual lane.
const (
	LaneManual      = "manual"
	LaneDaily       = "daily"
	LaneWorklog     = "worklog"
	LaneMaintenance = "maintenance"
)

// LaneConfig sizes one priority lane.
type LaneConfig struct {
	// Workers is the number of concurrent workers in this lane.
	Workers int

	// MaxAttempts is the retry budget for tasks in this lane.
	MaxAttempts int

	// Backoff is the fixed queue-level delay between attempts. The sync
	// orchestrator layers its own escalating backoff on top.
	Backoff time.Duration

	// Timeout is the hard wall-clock ceiling for one task execution,
	// enforced by the queue independent of the orchestrator's own logic.
	Timeout time.Duration
}

// Config holds configuration for the whole task queue system.
type Config struct {
	Manual      LaneConfig
	Daily       LaneConfig
	Worklog     LaneConfig
	Maintenance LaneConfig

	// ReleaseAfter is when stuck tasks are released back to their queue.
	ReleaseAfter time.Duration

	// CleanupInterval is how often completed tasks are cleaned up.
	CleanupInterval time.Duration

	// RetentionDuration is how long completed tasks are kept.
	RetentionDuration time.Duration
}

// DefaultConfig returns a Config with sensible defaults: manual syncs get the
// most workers and an hours-scale timeout, the worklog lane is quick and
// frequent, maintenance is single-file.
func DefaultConfig() Config {
	return Config{
		Manual:      LaneConfig{Workers: 2, MaxAttempts: 5, Backoff: 30 * time.Second, Timeout: 4 * time.Hour},
		Daily:       LaneConfig{Workers: 1, MaxAttempts: 3, Backoff: time.Minute, Timeout: 4 * time.Hour},
		Worklog:     LaneConfig{Workers: 2, MaxAttempts: 3, Backoff: 30 * time.Second, Timeout: 30 * time.Minute},
		Maintenance: LaneConfig{Workers: 1, MaxAttempts: 2, Backoff: time.Minute, Timeout: 30 * time.Minute},

		ReleaseAfter:      15 * time.Minute,
		CleanupInterval:   time.Hour,
		RetentionDuration: 72 * time.Hour,
	}
}

// queueSettings backs every task's Config() method. backlite reads queue
// configuration from the task type itself, so NewClient publishes the lane
// settings package-wide before any queue is registered.
var queueSettings = DefaultConfig()

func (c Config) retention() *backlite.Retention {
	return &backlite.Retention{
		Duration:   c.RetentionDuration,
		OnlyFailed: false,
		Data:       &backlite.RetainData{OnlyFailed: true},
	}
}
