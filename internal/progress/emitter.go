// Package progress translates sync run state changes into outbound events.
// The orchestrator calls the Emitter after every meaningful mutation; what
// happens to the event (logging, websocket broadcast) is the emitter's
// business.
package progress

import (
	"log"
	"time"

	"github.com/timepulse/jirasync/internal/entities"
)

// Snapshot is the wire projection of a run, shared by the progress endpoint
// and the websocket hub.
type Snapshot struct {
	ID                 uint                   `json:"id"`
	Status             entities.SyncRunStatus `json:"status"`
	SyncType           entities.SyncType      `json:"sync_type"`
	CurrentOperation   string                 `json:"current_operation,omitempty"`
	ProgressPercentage float64                `json:"progress_percentage"`

	Projects EntityCounters `json:"projects"`
	Issues   EntityCounters `json:"issues"`
	Worklogs EntityCounters `json:"worklogs"`
	Users    EntityCounters `json:"users"`

	ErrorCount int  `json:"error_count"`
	IsStale    bool `json:"is_stale"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Duration    string     `json:"duration,omitempty"`
	ETA         string     `json:"eta,omitempty"`
}

// EntityCounters is the per-entity progress breakdown.
type EntityCounters struct {
	Total      int     `json:"total"`
	Processed  int     `json:"processed"`
	Percentage float64 `json:"percentage"`
}

func counters(processed, total int) EntityCounters {
	return EntityCounters{
		Total:      total,
		Processed:  processed,
		Percentage: entities.EntityProgress(processed, total),
	}
}

// Snapshot builds the projection for a run.
func BuildSnapshot(run *entities.SyncRun, now time.Time) Snapshot {
	s := Snapshot{
		ID:                 run.ID,
		Status:             run.Status,
		SyncType:           run.SyncType,
		CurrentOperation:   run.CurrentOperation,
		ProgressPercentage: run.ProgressPercentage,
		Projects:           counters(run.ProcessedProjects, run.TotalProjects),
		Issues:             counters(run.ProcessedIssues, run.TotalIssues),
		Worklogs:           counters(run.ProcessedWorklogs, run.TotalWorklogs),
		Users:              counters(run.ProcessedUsers, run.TotalUsers),
		ErrorCount:         run.ErrorCount,
		IsStale:            run.IsStale(now),
		StartedAt:          run.StartedAt,
		CompletedAt:        run.CompletedAt,
	}

	if run.StartedAt != nil {
		end := now
		if run.CompletedAt != nil {
			end = *run.CompletedAt
		}
		s.Duration = end.Sub(*run.StartedAt).Round(time.Second).String()

		if run.CompletedAt == nil && run.ProgressPercentage > 0 {
			elapsed := now.Sub(*run.StartedAt)
			remaining := time.Duration(float64(elapsed) * (100 - run.ProgressPercentage) / run.ProgressPercentage)
			s.ETA = remaining.Round(time.Second).String()
		}
	}
	return s
}

// Emitter receives run state changes.
type Emitter interface {
	RunUpdated(run *entities.SyncRun)
}

// LogEmitter writes progress to the standard logger.
type LogEmitter struct{}

func (LogEmitter) RunUpdated(run *entities.SyncRun) {
	log.Printf("[SYNC] run %d %s %.1f%% (%s)",
		run.ID, run.Status, run.ProgressPercentage, run.CurrentOperation)
}

// MultiEmitter fans out to several emitters.
type MultiEmitter []Emitter

func (m MultiEmitter) RunUpdated(run *entities.SyncRun) {
	for _, e := range m {
		e.RunUpdated(run)
	}
}

// FormatDuration renders seconds as a compact human string, e.g. "1h12m3s".
func FormatDuration(seconds int) string {
	if seconds <= 0 {
		return "0s"
	}
	return (time.Duration(seconds) * time.Second).String()
}
