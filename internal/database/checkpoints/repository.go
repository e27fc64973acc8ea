// Package checkpoints provides database operations for per-project sync
// checkpoints, the durable breadcrumbs that make partial resume possible.
package checkpoints

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/timepulse/jirasync/internal/entities"
)

// ResumeStrategy describes how a retried run should treat prior progress.
type ResumeStrategy string

const (
	// StrategyPartialResume skips projects with completed checkpoints and
	// redoes the rest from scratch.
	StrategyPartialResume ResumeStrategy = "partial_resume"
	// StrategyFullRestart redoes every project.
	StrategyFullRestart ResumeStrategy = "full_restart"
)

// ResumePlan is the decision handed to a retrying orchestrator.
type ResumePlan struct {
	CanResume         bool           `json:"can_resume"`
	Strategy          ResumeStrategy `json:"resume_strategy"`
	CompletedProjects []string       `json:"completed_projects"`
	ProjectsToRetry   []string       `json:"projects_to_retry"`
}

// Completed reports whether the plan marks the project as safely skippable.
func (p *ResumePlan) Completed(projectKey string) bool {
	for _, key := range p.CompletedProjects {
		if key == projectKey {
			return true
		}
	}
	return false
}

// Repository handles all checkpoint database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new checkpoint repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Open creates an active checkpoint for (run, project), or reactivates the
// existing one when the project is being redone after a retry.
func (r *Repository) Open(runID uint, projectKey string, cpType entities.CheckpointType) (*entities.SyncCheckpoint, error) {
	var cp entities.SyncCheckpoint
	err := r.db.Where("sync_run_id = ? AND project_key = ?", runID, projectKey).First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cp = entities.SyncCheckpoint{
			SyncRunID:      runID,
			ProjectKey:     projectKey,
			CheckpointType: cpType,
			Status:         entities.CheckpointActive,
			Data:           entities.CheckpointData{},
		}
		if err := r.db.Create(&cp).Error; err != nil {
			return nil, err
		}
		return &cp, nil
	}
	if err != nil {
		return nil, err
	}

	cp.Status = entities.CheckpointActive
	cp.CheckpointType = cpType
	cp.CompletedAt = nil
	if err := r.db.Save(&cp).Error; err != nil {
		return nil, err
	}
	return &cp, nil
}

// UpdateData merges progress fields into the checkpoint payload.
func (r *Repository) UpdateData(id uint, fields entities.CheckpointData) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var cp entities.SyncCheckpoint
		if err := tx.First(&cp, id).Error; err != nil {
			return err
		}
		if cp.Data == nil {
			cp.Data = entities.CheckpointData{}
		}
		for k, v := range fields {
			cp.Data[k] = v
		}
		return tx.Model(&cp).Updates(map[string]any{
			"data":       cp.Data,
			"updated_at": time.Now(),
		}).Error
	})
}

// Complete finalizes a checkpoint; the project is now safely skippable on
// resume.
func (r *Repository) Complete(id uint) error {
	now := time.Now()
	return r.db.Model(&entities.SyncCheckpoint{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       entities.CheckpointCompleted,
			"completed_at": now,
			"updated_at":   now,
		}).Error
}

// Fail finalizes a checkpoint with an error payload.
func (r *Repository) Fail(id uint, errMsg string) error {
	if err := r.UpdateData(id, entities.CheckpointData{"error": errMsg}); err != nil {
		return err
	}
	now := time.Now()
	return r.db.Model(&entities.SyncCheckpoint{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       entities.CheckpointFailed,
			"completed_at": now,
			"updated_at":   now,
		}).Error
}

// ForRun lists all checkpoints of a run.
func (r *Repository) ForRun(runID uint) ([]entities.SyncCheckpoint, error) {
	var cps []entities.SyncCheckpoint
	err := r.db.Where("sync_run_id = ?", runID).Order("id ASC").Find(&cps).Error
	return cps, err
}

// Plan computes the resume decision for a run: partial_resume when at least
// one project checkpoint completed and at least one did not, full_restart
// when none completed. Checkpoint granularity is per-project; an incomplete
// project is always redone from its first issue page.
func (r *Repository) Plan(runID uint) (*ResumePlan, error) {
	cps, err := r.ForRun(runID)
	if err != nil {
		return nil, err
	}

	plan := &ResumePlan{Strategy: StrategyFullRestart}
	for _, cp := range cps {
		if cp.Status == entities.CheckpointCompleted {
			plan.CompletedProjects = append(plan.CompletedProjects, cp.ProjectKey)
		} else {
			plan.ProjectsToRetry = append(plan.ProjectsToRetry, cp.ProjectKey)
		}
	}

	if len(plan.CompletedProjects) > 0 {
		plan.CanResume = true
		plan.Strategy = StrategyPartialResume
	}
	return plan, nil
}
