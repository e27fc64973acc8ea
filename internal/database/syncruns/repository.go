// Package syncruns provides database operations for the sync run lifecycle.
//
// A sync run is the canonical record of one sync execution. The repository
// enforces the single most important concurrency invariant of the system:
// at most one run is pending or in_progress at any time. The check and the
// insert happen inside one write transaction, which SQLite serializes
// against all other writers, so two concurrent claims cannot both succeed.
package syncruns

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/timepulse/jirasync/internal/entities"
)

// ErrSyncActive is returned by Claim when another run already holds the
// active slot.
var ErrSyncActive = errors.New("another sync is already active")

// ErrNotActive is returned when an operation requires an active run and none
// exists.
var ErrNotActive = errors.New("no active sync run")

var activeStatuses = []entities.SyncRunStatus{
	entities.SyncRunPending,
	entities.SyncRunInProgress,
}

// Repository handles all sync run database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new sync run repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Claim creates a new pending run if and only if no run is currently active.
// Returns ErrSyncActive otherwise.
func (r *Repository) Claim(syncType entities.SyncType, projectKeys []string, triggeredBy *string) (*entities.SyncRun, error) {
	run := &entities.SyncRun{
		Status:      entities.SyncRunPending,
		SyncType:    syncType,
		ProjectKeys: strings.Join(projectKeys, ","),
		TriggeredBy: triggeredBy,
	}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&entities.SyncRun{}).
			Where("status IN ?", activeStatuses).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrSyncActive
		}
		return tx.Create(run).Error
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Get retrieves a run by id, checkpoints included.
func (r *Repository) Get(id uint) (*entities.SyncRun, error) {
	var run entities.SyncRun
	err := r.db.Preload("Checkpoints").First(&run, id).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Active returns the currently active run, or ErrNotActive.
func (r *Repository) Active() (*entities.SyncRun, error) {
	var run entities.SyncRun
	err := r.db.Preload("Checkpoints").
		Where("status IN ?", activeStatuses).
		Order("id DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotActive
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Start transitions a pending run to in_progress and counts the attempt.
// Re-entered runs (queue retry) skip the status transition but still bump
// the attempt counter.
func (r *Repository) Start(id uint, operation string) (*entities.SyncRun, error) {
	var run entities.SyncRun
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&run, id).Error; err != nil {
			return err
		}
		if run.IsTerminal() {
			return fmt.Errorf("run %d already reached terminal state %s", id, run.Status)
		}

		now := time.Now()
		updates := map[string]any{
			"status":            entities.SyncRunInProgress,
			"current_operation": operation,
			"attempts":          run.Attempts + 1,
			"updated_at":        now,
		}
		if run.StartedAt == nil {
			updates["started_at"] = now
		}
		if err := tx.Model(&run).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&run, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// CounterDelta carries increments for totals or processed counters.
type CounterDelta struct {
	Projects int
	Issues   int
	Worklogs int
	Users    int
}

// AddTotals increments per-entity totals as they become known.
func (r *Repository) AddTotals(id uint, d CounterDelta) error {
	return r.increment(id, d, "total")
}

// AddProcessed increments per-entity processed counters. Processed counters
// only ever grow over the run's lifetime.
func (r *Repository) AddProcessed(id uint, d CounterDelta) error {
	return r.increment(id, d, "processed")
}

func (r *Repository) increment(id uint, d CounterDelta, prefix string) error {
	updates := map[string]any{"updated_at": time.Now()}
	if d.Projects != 0 {
		updates[prefix+"_projects"] = gorm.Expr(prefix+"_projects + ?", d.Projects)
	}
	if d.Issues != 0 {
		updates[prefix+"_issues"] = gorm.Expr(prefix+"_issues + ?", d.Issues)
	}
	if d.Worklogs != 0 {
		updates[prefix+"_worklogs"] = gorm.Expr(prefix+"_worklogs + ?", d.Worklogs)
	}
	if d.Users != 0 {
		updates[prefix+"_users"] = gorm.Expr(prefix+"_users + ?", d.Users)
	}
	return r.db.Model(&entities.SyncRun{}).Where("id = ?", id).Updates(updates).Error
}

// SetOperation records the current progress label and the phase-weighted
// percentage. The percentage never moves backwards.
func (r *Repository) SetOperation(id uint, operation string, percentage float64) error {
	return r.db.Model(&entities.SyncRun{}).
		Where("id = ? AND progress_percentage <= ?", id, percentage).
		Updates(map[string]any{
			"current_operation":   operation,
			"progress_percentage": percentage,
			"updated_at":          time.Now(),
		}).Error
}

// AppendError records one per-item failure and bumps the error counter.
func (r *Repository) AppendError(id uint, syncErr entities.SyncError) error {
	if syncErr.Timestamp.IsZero() {
		syncErr.Timestamp = time.Now()
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		var run entities.SyncRun
		if err := tx.First(&run, id).Error; err != nil {
			return err
		}
		run.ErrorDetails = append(run.ErrorDetails, syncErr)
		return tx.Model(&run).Updates(map[string]any{
			"error_details": run.ErrorDetails,
			"error_count":   run.ErrorCount + 1,
			"updated_at":    time.Now(),
		}).Error
	})
}

// Complete transitions a run to a terminal state and stamps duration.
func (r *Repository) Complete(id uint, status entities.SyncRunStatus, operation string) error {
	switch status {
	case entities.SyncRunCompleted, entities.SyncRunCompletedWithErrors, entities.SyncRunFailed:
	default:
		return fmt.Errorf("%s is not a terminal status", status)
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		var run entities.SyncRun
		if err := tx.First(&run, id).Error; err != nil {
			return err
		}
		if run.IsTerminal() {
			// Terminal transitions are never reversed or repeated.
			return nil
		}

		now := time.Now()
		duration := 0
		if run.StartedAt != nil {
			duration = int(now.Sub(*run.StartedAt).Seconds())
			if duration < 0 {
				duration = 0
			}
		}
		updates := map[string]any{
			"status":           status,
			"completed_at":     now,
			"duration_seconds": duration,
			"updated_at":       now,
		}
		if operation != "" {
			updates["current_operation"] = operation
		}
		if status != entities.SyncRunFailed {
			updates["progress_percentage"] = 100.0
		}
		return tx.Model(&run).Updates(updates).Error
	})
}

// Cancel force-fails the given run (or the active one when id is 0) with the
// cancelled-by-user marker. The orchestrator observes the flipped status at
// its next chunk boundary; cancellation is cooperative, not instantaneous.
func (r *Repository) Cancel(id uint, cancelledBy string) (*entities.SyncRun, error) {
	var run entities.SyncRun
	err := r.db.Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status IN ?", activeStatuses)
		if id != 0 {
			q = q.Where("id = ?", id)
		}
		if err := q.Order("id DESC").First(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotActive
			}
			return err
		}

		now := time.Now()
		run.ErrorDetails = append(run.ErrorDetails, entities.SyncError{
			Message:   entities.CancelledByUserMessage,
			Context:   map[string]any{"cancelled_by": cancelledBy},
			Timestamp: now,
		})
		duration := 0
		if run.StartedAt != nil {
			duration = int(now.Sub(*run.StartedAt).Seconds())
		}
		return tx.Model(&run).Updates(map[string]any{
			"status":            entities.SyncRunFailed,
			"error_details":     run.ErrorDetails,
			"error_count":       run.ErrorCount + 1,
			"current_operation": entities.CancelledByUserMessage,
			"completed_at":      now,
			"duration_seconds":  duration,
			"updated_at":        now,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return r.Get(run.ID)
}

// IsCancelled reports whether the run was force-failed by a cancel request.
// The orchestrator polls this at chunk boundaries.
func (r *Repository) IsCancelled(id uint) (bool, error) {
	var run entities.SyncRun
	if err := r.db.First(&run, id).Error; err != nil {
		return false, err
	}
	return run.IsCancelled(), nil
}

// SweepStale fails every in_progress run that stopped updating before the
// threshold. This is the safety net for orchestrators that died without
// reaching a terminal state (crash, OOM kill).
func (r *Repository) SweepStale(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	var stale []entities.SyncRun
	err := r.db.Where("status = ? AND updated_at < ?", entities.SyncRunInProgress, cutoff).
		Find(&stale).Error
	if err != nil {
		return 0, err
	}

	for i := range stale {
		run := &stale[i]
		if err := r.AppendError(run.ID, entities.SyncError{
			Message: "sync run went stale and was marked failed",
			Context: map[string]any{"last_update": run.UpdatedAt},
		}); err != nil {
			return i, err
		}
		if err := r.Complete(run.ID, entities.SyncRunFailed, "interrupted: worker presumed dead"); err != nil {
			return i, err
		}
	}
	return len(stale), nil
}

// History lists runs newest-first.
func (r *Repository) History(limit, offset int) ([]entities.SyncRun, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	var total int64
	if err := r.db.Model(&entities.SyncRun{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var runs []entities.SyncRun
	err := r.db.Order("id DESC").Limit(limit).Offset(offset).Find(&runs).Error
	return runs, total, err
}
