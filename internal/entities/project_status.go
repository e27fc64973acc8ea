package entities

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// FullSyncStaleAfter gates the daily automation: a project whose last full
// sync is older than this is due again.
const FullSyncStaleAfter = 24 * time.Hour

// WorklogSyncStaleAfter is the incremental engine's own window. It is one
// hour wider than the full-sync window on purpose; the two clocks are not
// coordinated and gate different pipelines.
const WorklogSyncStaleAfter = 25 * time.Hour

// SyncMetadata is a small open map persisted as JSON.
type SyncMetadata map[string]any

func (m SyncMetadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (m *SyncMetadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported type for SyncMetadata: %T", value)
	}
}

// ProjectSyncStatus tracks, per JIRA project and independent of any single
// run, when the project was last fully synced and how it went.
type ProjectSyncStatus struct {
	ID             uint         `gorm:"primaryKey" json:"id"`
	ProjectKey     string       `gorm:"uniqueIndex;size:50" json:"project_key"`
	LastSyncAt     *time.Time   `json:"last_sync_at,omitempty"`
	LastSyncStatus string       `gorm:"size:30" json:"last_sync_status,omitempty"`
	IssuesCount    int          `json:"issues_count"`
	LastError      string       `gorm:"type:text" json:"last_error,omitempty"`
	Metadata       SyncMetadata `gorm:"type:text" json:"sync_metadata,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func (ProjectSyncStatus) TableName() string {
	return "jira_project_sync_statuses"
}

// IsDueForSync reports whether the daily automation should include this
// project.
func (s *ProjectSyncStatus) IsDueForSync(now time.Time) bool {
	if s.LastSyncAt == nil {
		return true
	}
	return now.Sub(*s.LastSyncAt) > FullSyncStaleAfter
}

// WorklogSyncStatus is the incremental worklog pipeline's per-project
// watermark and tallies.
type WorklogSyncStatus struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	ProjectKey        string     `gorm:"uniqueIndex;size:50" json:"project_key"`
	LastSyncAt        *time.Time `json:"last_sync_at,omitempty"`
	LastSyncStatus    string     `gorm:"size:30" json:"last_sync_status,omitempty"`
	WorklogsProcessed int        `json:"worklogs_processed"`
	WorklogsAdded     int        `json:"worklogs_added"`
	WorklogsUpdated   int        `json:"worklogs_updated"`
	LastError         string     `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (WorklogSyncStatus) TableName() string {
	return "jira_worklog_sync_statuses"
}

// IsDueForSync reports whether the worklog refresh automation should include
// this project. A project past the window gets a forced full worklog re-sync
// (nil watermark).
func (s *WorklogSyncStatus) IsDueForSync(now time.Time) bool {
	if s.LastSyncAt == nil {
		return true
	}
	return now.Sub(*s.LastSyncAt) > WorklogSyncStaleAfter
}
