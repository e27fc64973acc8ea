package syncer

import (
	"time"

	"github.com/timepulse/jirasync/internal/config"
	"github.com/timepulse/jirasync/internal/entities"
)

// DateRange narrows a sync to issues updated inside the window.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// BatchConfig tunes chunking and retry behaviour for one run.
type BatchConfig struct {
	// IssueBatchSize is the page size for issue fetches; memory per chunk
	// is bounded by it regardless of total dataset size.
	IssueBatchSize int `json:"issue_batch_size"`
	// WorklogWindow bounds per-issue worklog fetches to the most recent N.
	WorklogWindow int `json:"worklog_window"`
	// RateLimit is the pause between API pages.
	RateLimit time.Duration `json:"rate_limit"`
	// MaxRetryAttempts is the orchestrator attempt budget.
	MaxRetryAttempts int `json:"max_retry_attempts"`
}

// Options describes one full sync execution.
type Options struct {
	ProjectKeys            []string          `json:"project_keys"`
	SyncType               entities.SyncType `json:"sync_type"`
	DateRange              *DateRange        `json:"date_range,omitempty"`
	OnlyIssuesWithWorklogs bool              `json:"only_issues_with_worklogs"`
	ReclassifyResources    bool              `json:"reclassify_resources"`
	ValidateData           bool              `json:"validate_data"`
	CleanupOrphaned        bool              `json:"cleanup_orphaned"`
	Batch                  BatchConfig       `json:"batch_config"`
}

// WithDefaults fills unset batch knobs from config.
func (o Options) WithDefaults(cfg config.Sync) Options {
	if o.Batch.IssueBatchSize <= 0 {
		o.Batch.IssueBatchSize = cfg.IssueBatchSize
	}
	if o.Batch.IssueBatchSize <= 0 {
		o.Batch.IssueBatchSize = config.DefaultIssueBatchSize
	}
	if o.Batch.WorklogWindow <= 0 {
		o.Batch.WorklogWindow = cfg.WorklogWindow
	}
	if o.Batch.WorklogWindow <= 0 {
		o.Batch.WorklogWindow = config.DefaultWorklogWindow
	}
	if o.Batch.RateLimit <= 0 {
		o.Batch.RateLimit = cfg.RateLimitDelay
	}
	if o.Batch.MaxRetryAttempts <= 0 {
		o.Batch.MaxRetryAttempts = cfg.MaxRetryAttempts
	}
	if o.Batch.MaxRetryAttempts <= 0 {
		o.Batch.MaxRetryAttempts = config.DefaultMaxRetryAttempts
	}
	if o.SyncType == "" {
		o.SyncType = entities.SyncTypeManual
	}
	return o
}

// retryBackoffSchedule is the escalating delay applied between orchestrator
// attempts, capped at the final entry.
var retryBackoffSchedule = []time.Duration{
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
	240 * time.Second,
	300 * time.Second,
}

// BackoffDelay returns the blocking delay before the given attempt
// (1-based; attempt 1 has no delay).
func BackoffDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	idx := attempt - 2
	if idx >= len(retryBackoffSchedule) {
		idx = len(retryBackoffSchedule) - 1
	}
	return retryBackoffSchedule[idx]
}
