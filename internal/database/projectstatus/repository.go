// Package projectstatus tracks the two per-project staleness watermarks: the
// full-sync clock (24h) and the worklog-only clock (25h). The clocks gate
// different pipelines and are deliberately not coordinated.
package projectstatus

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/timepulse/jirasync/internal/entities"
)

// Repository handles project and worklog sync status rows. Rows are mutated
// non-transactionally per project and tolerate last-write-wins races across
// rare overlapping runs.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new project status repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// RecordFullSync upserts the full-sync watermark for a project.
func (r *Repository) RecordFullSync(projectKey, status string, issuesCount int, lastError string, meta entities.SyncMetadata) error {
	now := time.Now()
	var row entities.ProjectSyncStatus
	err := r.db.Where("project_key = ?", projectKey).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = entities.ProjectSyncStatus{
			ProjectKey:     projectKey,
			LastSyncAt:     &now,
			LastSyncStatus: status,
			IssuesCount:    issuesCount,
			LastError:      lastError,
			Metadata:       meta,
		}
		return r.db.Create(&row).Error
	}
	if err != nil {
		return err
	}

	row.LastSyncAt = &now
	row.LastSyncStatus = status
	row.IssuesCount = issuesCount
	row.LastError = lastError
	if meta != nil {
		row.Metadata = meta
	}
	return r.db.Save(&row).Error
}

// GetFullSync returns the full-sync status row for a project, nil when the
// project has never been synced.
func (r *Repository) GetFullSync(projectKey string) (*entities.ProjectSyncStatus, error) {
	var row entities.ProjectSyncStatus
	err := r.db.Where("project_key = ?", projectKey).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListFullSync returns all project status rows.
func (r *Repository) ListFullSync() ([]entities.ProjectSyncStatus, error) {
	var rows []entities.ProjectSyncStatus
	err := r.db.Order("project_key ASC").Find(&rows).Error
	return rows, err
}

// DueForFullSync filters keys down to those whose full-sync watermark is
// older than the 24h window (or missing entirely).
func (r *Repository) DueForFullSync(keys []string, now time.Time) ([]string, error) {
	due := make([]string, 0, len(keys))
	for _, key := range keys {
		row, err := r.GetFullSync(key)
		if err != nil {
			return nil, err
		}
		if row == nil || row.IsDueForSync(now) {
			due = append(due, key)
		}
	}
	return due, nil
}

// WorklogTallies carries the delta engine's per-project counters.
type WorklogTallies struct {
	Processed int
	Added     int
	Updated   int
}

// RecordWorklogSync upserts the worklog-sync watermark and tallies for a
// project.
func (r *Repository) RecordWorklogSync(projectKey, status string, t WorklogTallies, lastError string) error {
	now := time.Now()
	var row entities.WorklogSyncStatus
	err := r.db.Where("project_key = ?", projectKey).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = entities.WorklogSyncStatus{
			ProjectKey:        projectKey,
			LastSyncAt:        &now,
			LastSyncStatus:    status,
			WorklogsProcessed: t.Processed,
			WorklogsAdded:     t.Added,
			WorklogsUpdated:   t.Updated,
			LastError:         lastError,
		}
		return r.db.Create(&row).Error
	}
	if err != nil {
		return err
	}

	row.LastSyncAt = &now
	row.LastSyncStatus = status
	row.WorklogsProcessed = t.Processed
	row.WorklogsAdded = t.Added
	row.WorklogsUpdated = t.Updated
	row.LastError = lastError
	return r.db.Save(&row).Error
}

// GetWorklogSync returns the worklog-sync status row for a project, nil when
// the project has never had a worklog pass.
func (r *Repository) GetWorklogSync(projectKey string) (*entities.WorklogSyncStatus, error) {
	var row entities.WorklogSyncStatus
	err := r.db.Where("project_key = ?", projectKey).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListWorklogSync returns all worklog status rows.
func (r *Repository) ListWorklogSync() ([]entities.WorklogSyncStatus, error) {
	var rows []entities.WorklogSyncStatus
	err := r.db.Order("project_key ASC").Find(&rows).Error
	return rows, err
}

// WorklogWatermark returns the incremental watermark for a project. It is nil
// when the project was never worklog-synced or the last pass is beyond the
// 25h window, which forces a full worklog re-sync.
func (r *Repository) WorklogWatermark(projectKey string, now time.Time) (*time.Time, error) {
	row, err := r.GetWorklogSync(projectKey)
	if err != nil {
		return nil, err
	}
	if row == nil || row.LastSyncAt == nil || row.IsDueForSync(now) {
		return nil, nil
	}
	return row.LastSyncAt, nil
}
