package entities

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type CheckpointType string

const (
	CheckpointTypeProjectSync CheckpointType = "project_sync"
	CheckpointTypeRecovery    CheckpointType = "recovery"
)

type CheckpointStatus string

const (
	CheckpointActive    CheckpointStatus = "active"
	CheckpointCompleted CheckpointStatus = "completed"
	CheckpointFailed    CheckpointStatus = "failed"
)

// CheckpointData is a free-form JSON payload: issues_processed, total_issues,
// worklogs_processed, batch_size, last_sync_time, error, etc.
type CheckpointData map[string]any

func (d CheckpointData) Value() (driver.Value, error) {
	if len(d) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (d *CheckpointData) Scan(value any) error {
	if value == nil {
		*d = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, d)
	case string:
		return json.Unmarshal([]byte(v), d)
	default:
		return fmt.Errorf("unsupported type for CheckpointData: %T", value)
	}
}

// SyncCheckpoint is a durable per-project breadcrumb within one run. A
// completed checkpoint means that project's work is safely skippable on
// resume; granularity is per-project, an incomplete project restarts from its
// first issue page.
type SyncCheckpoint struct {
	ID             uint             `gorm:"primaryKey" json:"id"`
	SyncRunID      uint             `gorm:"index" json:"sync_run_id"`
	ProjectKey     string           `gorm:"size:50;index" json:"project_key"`
	CheckpointType CheckpointType   `gorm:"size:30;default:'project_sync'" json:"checkpoint_type"`
	Status         CheckpointStatus `gorm:"size:20;index" json:"status"`
	Data           CheckpointData   `gorm:"type:text" json:"checkpoint_data,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (SyncCheckpoint) TableName() string {
	return "sync_checkpoints"
}
