package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/timepulse/jirasync/internal/config"
	"github.com/timepulse/jirasync/internal/database/checkpoints"
	"github.com/timepulse/jirasync/internal/database/syncruns"
	"github.com/timepulse/jirasync/internal/entities"
	"github.com/timepulse/jirasync/internal/jira"
	"github.com/timepulse/jirasync/internal/progress"
	"github.com/timepulse/jirasync/internal/syncer"
	"github.com/timepulse/jirasync/internal/tasks"
)

var apiTriggeredBy = "api"

// TriggerSyncRequest is the body of a manual sync request. All fields are
// optional; an empty body syncs every allowed project with default batching.
type TriggerSyncRequest struct {
	ProjectKeys            []string          `json:"project_keys"`
	DateRange              *syncer.DateRange `json:"date_range"`
	OnlyIssuesWithWorklogs bool              `json:"only_issues_with_worklogs"`
	ReclassifyResources    bool              `json:"reclassify_resources"`
	ValidateData           bool              `json:"validate_data"`
	CleanupOrphaned        bool              `json:"cleanup_orphaned"`
	IssueBatchSize         int               `json:"issue_batch_size"`
	WorklogWindow          int               `json:"worklog_window"`
}

// WorklogSyncRequest is the body of a manual worklog delta request. A nil
// Since uses each project's stored watermark.
type WorklogSyncRequest struct {
	ProjectKeys []string   `json:"project_keys"`
	Since       *time.Time `json:"since"`
}

type SyncController struct {
	runs        *syncruns.Repository
	checkpoints *checkpoints.Repository
	queue       *tasks.Client
	source      jira.Source

	syncCfg config.Sync
	allowed []string
}

func NewSyncController(cfg RouterConfig) *SyncController {
	return &SyncController{
		runs:        cfg.Runs,
		checkpoints: cfg.Checkpoints,
		queue:       cfg.TaskQueue,
		source:      cfg.Source,
		syncCfg:     cfg.SyncConfig,
		allowed:     cfg.AllowedProjects,
	}
}

// resolveKeys validates requested project keys against the whitelist; an
// empty request means all allowed projects.
func (s *SyncController) resolveKeys(requested []string) ([]string, error) {
	if len(s.allowed) == 0 {
		return nil, fmt.Errorf("no projects configured; set JIRA_PROJECTS")
	}
	if len(requested) == 0 {
		return s.allowed, nil
	}

	allowed := make(map[string]bool, len(s.allowed))
	for _, k := range s.allowed {
		allowed[k] = true
	}

	keys := make([]string, 0, len(requested))
	for _, k := range requested {
		k = strings.ToUpper(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if !allowed[k] {
			return nil, fmt.Errorf("project %s is not in the allowed list", k)
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no valid project keys in request")
	}
	return keys, nil
}

// Trigger handles POST /api/sync: claims a run and enqueues it on the manual
// lane. Responds 409 when another sync is already active.
func (s *SyncController) Trigger(c *gin.Context) {
	var req TriggerSyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.IndentedJSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}

	keys, err := s.resolveKeys(req.ProjectKeys)
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.DateRange != nil && !req.DateRange.To.IsZero() && req.DateRange.To.Before(req.DateRange.From) {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"error": "date_range end precedes start"})
		return
	}

	opts := syncer.Options{
		ProjectKeys:            keys,
		SyncType:               entities.SyncTypeManual,
		DateRange:              req.DateRange,
		OnlyIssuesWithWorklogs: req.OnlyIssuesWithWorklogs,
		ReclassifyResources:    req.ReclassifyResources,
		ValidateData:           req.ValidateData,
		CleanupOrphaned:        req.CleanupOrphaned,
	}
	opts.Batch.IssueBatchSize = req.IssueBatchSize
	opts.Batch.WorklogWindow = req.WorklogWindow
	opts = opts.WithDefaults(s.syncCfg)

	s.claimAndEnqueue(c, entities.SyncTypeManual, keys, opts)
}

// Retry handles POST /api/sync/:id/retry: starts a fresh run over the same
// projects as a finished run. The new run resumes nothing; it is a clean
// re-execution with its own checkpoints.
func (s *SyncController) Retry(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	prev, err := s.runs.Get(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.IndentedJSON(http.StatusNotFound, gin.H{"error": "sync run not found"})
			return
		}
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !prev.IsTerminal() {
		c.IndentedJSON(http.StatusConflict, gin.H{"error": "run is still active; cancel it first"})
		return
	}

	keys := config.SplitProjectKeys(prev.ProjectKeys)
	keys, err = s.resolveKeys(keys)
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := syncer.Options{
		ProjectKeys: keys,
		SyncType:    entities.SyncTypeManualRetry,
	}.WithDefaults(s.syncCfg)

	s.claimAndEnqueue(c, entities.SyncTypeManualRetry, keys, opts)
}

func (s *SyncController) claimAndEnqueue(c *gin.Context, syncType entities.SyncType, keys []string, opts syncer.Options) {
	run, err := s.runs.Claim(syncType, keys, &apiTriggeredBy)
	if err != nil {
		if errors.Is(err, syncruns.ErrSyncActive) {
			c.IndentedJSON(http.StatusConflict, gin.H{"error": "another sync is already in progress"})
			return
		}
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	op, err := s.queue.Add(tasks.LaneManual, tasks.FullSyncTask{RunID: run.ID, Options: opts})
	if err == nil {
		_, err = op.Save()
	}
	if err != nil {
		// Release the claimed slot so the failed enqueue doesn't block
		// future syncs.
		_, _ = s.runs.Cancel(run.ID, "enqueue failure")
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue sync: " + err.Error()})
		return
	}

	c.IndentedJSON(http.StatusAccepted, gin.H{
		"run": progress.BuildSnapshot(run, time.Now()),
	})
}

// Cancel handles POST /api/sync/cancel. The run is marked failed immediately;
// the worker notices at its next chunk boundary.
func (s *SyncController) Cancel(c *gin.Context) {
	run, err := s.runs.Cancel(0, apiTriggeredBy)
	if err != nil {
		if errors.Is(err, syncruns.ErrNotActive) {
			c.IndentedJSON(http.StatusNotFound, gin.H{"error": "no active sync to cancel"})
			return
		}
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.IndentedJSON(http.StatusOK, gin.H{
		"message": "cancellation requested; the sync stops at the next chunk boundary",
		"run":     progress.BuildSnapshot(run, time.Now()),
	})
}

// Status handles GET /api/sync/status: the active run's snapshot and
// checkpoints, or the most recent run when nothing is active. With ?id= it
// reports that specific run instead.
func (s *SyncController) Status(c *gin.Context) {
	if raw := c.Query("id"); raw != "" {
		id, err := parseID(raw)
		if err != nil {
			c.IndentedJSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}
		run, err := s.runs.Get(id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.IndentedJSON(http.StatusNotFound, gin.H{"error": "sync run not found"})
				return
			}
			c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		s.respondStatus(c, run, run.IsActive())
		return
	}

	run, err := s.runs.Active()
	active := true
	if errors.Is(err, syncruns.ErrNotActive) {
		active = false
		recent, _, histErr := s.runs.History(1, 0)
		if histErr != nil {
			c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": histErr.Error()})
			return
		}
		if len(recent) == 0 {
			c.IndentedJSON(http.StatusOK, gin.H{"active": false, "run": nil})
			return
		}
		run = &recent[0]
	} else if err != nil {
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.respondStatus(c, run, active)
}

func (s *SyncController) respondStatus(c *gin.Context, run *entities.SyncRun, active bool) {
	cps, err := s.checkpoints.ForRun(run.ID)
	if err != nil {
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.IndentedJSON(http.StatusOK, gin.H{
		"active":      active,
		"run":         progress.BuildSnapshot(run, time.Now()),
		"checkpoints": cps,
	})
}

// History handles GET /api/sync/history?limit=&offset=.
func (s *SyncController) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	runs, total, err := s.runs.History(limit, offset)
	if err != nil {
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	now := time.Now()
	snapshots := make([]progress.Snapshot, 0, len(runs))
	for i := range runs {
		snapshots = append(snapshots, progress.BuildSnapshot(&runs[i], now))
	}

	c.IndentedJSON(http.StatusOK, gin.H{
		"runs":   snapshots,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Errors handles GET /api/sync/:id/errors. With ?format=text it renders a
// plain-text report suitable for pasting into a ticket.
func (s *SyncController) Errors(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	run, err := s.runs.Get(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.IndentedJSON(http.StatusNotFound, gin.H{"error": "sync run not found"})
			return
		}
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if c.Query("format") == "text" {
		c.String(http.StatusOK, renderErrorReport(run))
		return
	}

	c.IndentedJSON(http.StatusOK, gin.H{
		"run_id":      run.ID,
		"status":      run.Status,
		"error_count": run.ErrorCount,
		"errors":      run.ErrorDetails,
	})
}

func renderErrorReport(run *entities.SyncRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sync run #%d (%s)\n", run.ID, run.SyncType)
	fmt.Fprintf(&b, "Status:   %s\n", run.Status)
	fmt.Fprintf(&b, "Projects: %s\n", run.ProjectKeys)
	if run.StartedAt != nil {
		fmt.Fprintf(&b, "Started:  %s\n", run.StartedAt.Format(time.RFC3339))
	}
	if run.CompletedAt != nil {
		fmt.Fprintf(&b, "Finished: %s (%s)\n", run.CompletedAt.Format(time.RFC3339),
			progress.FormatDuration(run.DurationSeconds))
	}
	fmt.Fprintf(&b, "Errors:   %d\n", run.ErrorCount)

	if len(run.ErrorDetails) > 0 {
		b.WriteString("\n")
		for i, e := range run.ErrorDetails {
			fmt.Fprintf(&b, "%3d. [%s] %s\n", i+1, e.Timestamp.Format("15:04:05"), e.Message)
			for k, v := range e.Context {
				fmt.Fprintf(&b, "     %s: %v\n", k, v)
			}
		}
	}
	return b.String()
}

// TriggerWorklogSync handles POST /api/sync/worklogs: enqueues an incremental
// worklog pass. It does not claim the single-active-run slot; the delta
// engine may run alongside a full sync.
func (s *SyncController) TriggerWorklogSync(c *gin.Context) {
	var req WorklogSyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.IndentedJSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}

	keys, err := s.resolveKeys(req.ProjectKeys)
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	op, err := s.queue.Add(tasks.LaneWorklog, tasks.WorklogSyncTask{ProjectKeys: keys, Since: req.Since})
	if err == nil {
		_, err = op.Save()
	}
	if err != nil {
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue worklog sync: " + err.Error()})
		return
	}

	c.IndentedJSON(http.StatusAccepted, gin.H{
		"message":      "worklog sync enqueued",
		"project_keys": keys,
	})
}

// CleanupOrphans handles POST /api/maintenance/cleanup-orphans: enqueues an
// orphaned-worklog sweep on the maintenance lane.
func (s *SyncController) CleanupOrphans(c *gin.Context) {
	var req struct {
		ProjectKeys []string `json:"project_keys"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.IndentedJSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}

	keys, err := s.resolveKeys(req.ProjectKeys)
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	op, err := s.queue.Add(tasks.LaneMaintenance, tasks.CleanupOrphansTask{ProjectKeys: keys})
	if err == nil {
		_, err = op.Save()
	}
	if err != nil {
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue orphan cleanup: " + err.Error()})
		return
	}

	c.IndentedJSON(http.StatusAccepted, gin.H{
		"message":      "orphan cleanup enqueued",
		"project_keys": keys,
	})
}

// TestConnection handles GET /api/sync/test-connection.
func (s *SyncController) TestConnection(c *gin.Context) {
	status, err := s.source.TestConnection(c.Request.Context())
	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, jira.ErrUnauthorized) {
			code = http.StatusUnauthorized
		} else if errors.Is(err, jira.ErrNotConfigured) {
			code = http.StatusServiceUnavailable
		}
		c.IndentedJSON(code, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusOK, status)
}

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return uint(id), nil
}
