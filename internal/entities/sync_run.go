package entities

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type SyncRunStatus string

const (
	SyncRunPending             SyncRunStatus = "pending"
	SyncRunInProgress          SyncRunStatus = "in_progress"
	SyncRunCompleted           SyncRunStatus = "completed"
	SyncRunCompletedWithErrors SyncRunStatus = "completed_with_errors"
	SyncRunFailed              SyncRunStatus = "failed"
)

type SyncType string

const (
	SyncTypeManual             SyncType = "manual"
	SyncTypeScheduled          SyncType = "scheduled"
	SyncTypeWorklogIncremental SyncType = "worklog_incremental"
	SyncTypeAutomatedDaily     SyncType = "automated_daily"
	SyncTypeManualRetry        SyncType = "manual_retry"
)

// CancelledByUserMessage marks a run that was failed by an explicit cancel
// request rather than an organic error. Cancellation is cooperative: the
// orchestrator observes the flipped status at its next chunk boundary.
const CancelledByUserMessage = "cancelled by user"

// StaleRunThreshold is how long an in_progress run may go without an update
// before monitoring treats the worker as dead.
const StaleRunThreshold = 2 * time.Hour

// SyncError is one recorded per-item failure. Context stays an open map
// because its shape varies by error source (project fetch, issue upsert,
// worklog fetch).
type SyncError struct {
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// SyncErrorList is stored as a JSON text column.
type SyncErrorList []SyncError

func (l SyncErrorList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (l *SyncErrorList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported type for SyncErrorList: %T", value)
	}
}

// SyncRun is the canonical record of one sync execution. At most one run may
// be pending or in_progress at a time; the syncruns repository enforces that
// with a transactional claim.
type SyncRun struct {
	ID       uint          `gorm:"primaryKey" json:"id"`
	Status   SyncRunStatus `gorm:"size:30;index" json:"status"`
	SyncType SyncType      `gorm:"size:30" json:"sync_type"`

	ProjectKeys string `gorm:"size:1024" json:"project_keys"` // comma-separated scope

	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`

	TotalProjects     int `json:"total_projects"`
	ProcessedProjects int `json:"processed_projects"`
	TotalIssues       int `json:"total_issues"`
	ProcessedIssues   int `json:"processed_issues"`
	TotalWorklogs     int `json:"total_worklogs"`
	ProcessedWorklogs int `json:"processed_worklogs"`
	TotalUsers        int `json:"total_users"`
	ProcessedUsers    int `json:"processed_users"`

	ErrorCount   int           `json:"error_count"`
	ErrorDetails SyncErrorList `gorm:"type:text" json:"error_details,omitempty"`

	CurrentOperation   string  `gorm:"size:512" json:"current_operation,omitempty"`
	ProgressPercentage float64 `json:"progress_percentage"`

	// Attempts counts orchestrator attempts for this run, driving the
	// escalating retry backoff.
	Attempts int `json:"attempts"`

	// TriggeredBy is nil for system-triggered runs.
	TriggeredBy *string `gorm:"size:100" json:"triggered_by,omitempty"`

	Checkpoints []SyncCheckpoint `gorm:"foreignKey:SyncRunID;constraint:OnDelete:CASCADE" json:"checkpoints,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SyncRun) TableName() string {
	return "sync_runs"
}

// IsActive reports whether the run still holds the single-active-sync slot.
func (r *SyncRun) IsActive() bool {
	return r.Status == SyncRunPending || r.Status == SyncRunInProgress
}

// IsTerminal reports whether the run reached a final state.
func (r *SyncRun) IsTerminal() bool {
	switch r.Status {
	case SyncRunCompleted, SyncRunCompletedWithErrors, SyncRunFailed:
		return true
	}
	return false
}

// IsStale reports whether an in_progress run stopped updating long enough ago
// that its worker is presumed dead.
func (r *SyncRun) IsStale(now time.Time) bool {
	return r.Status == SyncRunInProgress && now.Sub(r.UpdatedAt) > StaleRunThreshold
}

// IsCancelled reports whether the run was failed by an explicit cancel request.
func (r *SyncRun) IsCancelled() bool {
	if r.Status != SyncRunFailed {
		return false
	}
	for _, e := range r.ErrorDetails {
		if e.Message == CancelledByUserMessage {
			return true
		}
	}
	return false
}

// EntityProgress returns a 0-100 percentage for one entity type, capped at
// 100 and zero when the total is unknown.
func EntityProgress(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(processed) / float64(total) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// OverallProgress derives a percentage from the summed counters, used when no
// phase-weighted value was set explicitly.
func (r *SyncRun) OverallProgress() float64 {
	total := r.TotalProjects + r.TotalIssues + r.TotalWorklogs + r.TotalUsers
	processed := r.ProcessedProjects + r.ProcessedIssues + r.ProcessedWorklogs + r.ProcessedUsers
	return EntityProgress(processed, total)
}
