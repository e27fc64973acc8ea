package syncer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/timepulse/jirasync/internal/database/mirror"
	"github.com/timepulse/jirasync/internal/database/projectstatus"
	"github.com/timepulse/jirasync/internal/entities"
	"github.com/timepulse/jirasync/internal/jira"
)

// DeltaEngine is the cheap, frequent path: it syncs only worklogs changed
// since a per-project watermark, without re-walking all issues. It does not
// take the single-active-run lock; it may run alongside a full sync, touching
// only the worklog status counters.
type DeltaEngine struct {
	source   jira.Source
	mirror   *mirror.Repository
	projects *projectstatus.Repository

	worklogWindow int
}

// NewDeltaEngine wires an incremental worklog engine.
func NewDeltaEngine(source jira.Source, mr *mirror.Repository, projects *projectstatus.Repository, worklogWindow int) *DeltaEngine {
	if worklogWindow <= 0 {
		worklogWindow = 100
	}
	return &DeltaEngine{
		source:        source,
		mirror:        mr,
		projects:      projects,
		worklogWindow: worklogWindow,
	}
}

// DeltaResult summarizes one engine pass.
type DeltaResult struct {
	Projects  []ProjectDelta `json:"projects"`
	Processed int            `json:"worklogs_processed"`
	Added     int            `json:"worklogs_added"`
	Updated   int            `json:"worklogs_updated"`
	Errors    int            `json:"errors"`
}

// ProjectDelta is the per-project outcome.
type ProjectDelta struct {
	ProjectKey string `json:"project_key"`
	Status     string `json:"status"`
	Processed  int    `json:"worklogs_processed"`
	Added      int    `json:"worklogs_added"`
	Updated    int    `json:"worklogs_updated"`
	Error      string `json:"error,omitempty"`
}

// Run syncs worklogs changed since each project's watermark. An explicit
// since overrides the stored watermark; when nil, each project's stored
// watermark is used (itself nil, forcing a full re-sync, once the 25h window
// has lapsed). Per-project failures are recorded on the project's worklog
// status and the pass continues.
func (e *DeltaEngine) Run(ctx context.Context, projectKeys []string, since *time.Time) (*DeltaResult, error) {
	if len(projectKeys) == 0 {
		return nil, fmt.Errorf("no project keys given for worklog sync")
	}

	result := &DeltaResult{}
	now := time.Now()

	for _, key := range projectKeys {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		watermark := since
		if watermark == nil {
			wm, err := e.projects.WorklogWatermark(key, now)
			if err != nil {
				return result, err
			}
			watermark = wm
		}

		delta := e.syncProjectWorklogs(ctx, key, watermark)
		result.Projects = append(result.Projects, delta)
		result.Processed += delta.Processed
		result.Added += delta.Added
		result.Updated += delta.Updated
		if delta.Error != "" {
			result.Errors++
		}
	}

	log.Printf("[WORKLOG] delta pass done: %d processed (%d added, %d updated), %d error(s)",
		result.Processed, result.Added, result.Updated, result.Errors)
	return result, nil
}

func (e *DeltaEngine) syncProjectWorklogs(ctx context.Context, key string, since *time.Time) ProjectDelta {
	delta := ProjectDelta{ProjectKey: key}

	if since == nil {
		log.Printf("[WORKLOG] %s: full worklog re-sync (no usable watermark)", key)
	} else {
		log.Printf("[WORKLOG] %s: incremental since %s", key, since.Format(time.RFC3339))
	}

	byIssue, err := e.source.GetUpdatedWorklogs(ctx, key, since, e.worklogWindow)
	if err != nil {
		delta.Status = string(entities.SyncRunFailed)
		delta.Error = err.Error()
		_ = e.projects.RecordWorklogSync(key, delta.Status, projectstatus.WorklogTallies{}, delta.Error)
		return delta
	}

	itemErrors := 0
	for issueKey, worklogs := range byIssue {
		issue, err := e.mirror.IssueByKey(issueKey)
		if err != nil {
			// Issue not mirrored yet; the full sync owns issue
			// discovery, the delta engine only refreshes worklogs.
			itemErrors++
			log.Printf("[WORKLOG] %s: issue %s not mirrored locally, skipping %d worklog(s)",
				key, issueKey, len(worklogs))
			continue
		}

		for _, wl := range worklogs {
			author, err := e.mirror.StoreUser(wl.Author)
			if err != nil {
				itemErrors++
				continue
			}
			if author == nil {
				continue
			}

			stored, err := e.mirror.StoreWorklog(wl, issue.ID, author.ID)
			if err != nil {
				itemErrors++
				continue
			}
			delta.Processed++
			if stored.Created {
				delta.Added++
			} else {
				delta.Updated++
			}
		}
	}

	switch {
	case itemErrors == 0:
		delta.Status = string(entities.SyncRunCompleted)
	case delta.Processed > 0:
		delta.Status = string(entities.SyncRunCompletedWithErrors)
		delta.Error = fmt.Sprintf("%d worklog(s) failed to sync", itemErrors)
	default:
		delta.Status = string(entities.SyncRunFailed)
		delta.Error = fmt.Sprintf("all %d worklog update(s) failed", itemErrors)
	}

	_ = e.projects.RecordWorklogSync(key, delta.Status, projectstatus.WorklogTallies{
		Processed: delta.Processed,
		Added:     delta.Added,
		Updated:   delta.Updated,
	}, delta.Error)
	return delta
}
