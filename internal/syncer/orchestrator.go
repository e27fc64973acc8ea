// Package syncer drives sync executions: the full orchestrator walking
// projects, issues and worklogs, and the lighter incremental worklog engine.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/timepulse/jirasync/internal/config"
	"github.com/timepulse/jirasync/internal/database/checkpoints"
	"github.com/timepulse/jirasync/internal/database/mirror"
	"github.com/timepulse/jirasync/internal/database/projectstatus"
	"github.com/timepulse/jirasync/internal/database/syncruns"
	"github.com/timepulse/jirasync/internal/entities"
	"github.com/timepulse/jirasync/internal/jira"
	"github.com/timepulse/jirasync/internal/progress"
)

// Progress bands per phase. The three phases have very different item counts,
// so each gets a fixed percentage band and advances proportionally inside it.
const (
	projectPhaseStart = 5.0
	projectPhaseEnd   = 25.0
	issuePhaseEnd     = 65.0
	worklogPhaseEnd   = 100.0
)

// ErrRunCancelled is returned when the orchestrator observes a cancel request
// at a chunk boundary. The run is already failed by the canceller; the error
// only stops the loop.
var ErrRunCancelled = errors.New("sync run cancelled")

// errRetryable wraps a run-level transient failure so the task lane retries
// the run while it stays in_progress for checkpoint-based resume.
type errRetryable struct {
	cause error
}

func (e *errRetryable) Error() string {
	return fmt.Sprintf("retryable sync failure: %v", e.cause)
}

func (e *errRetryable) Unwrap() error {
	return e.cause
}

// IsRetryableRunError reports whether the orchestrator asked its queue driver
// for another attempt.
func IsRetryableRunError(err error) bool {
	var re *errRetryable
	return errors.As(err, &re)
}

// RetryableRunError marks a failure as transient so the task lane re-queues
// the run instead of settling it.
func RetryableRunError(cause error) error {
	return &errRetryable{cause: cause}
}

// Orchestrator drives one full sync execution from start to terminal state.
type Orchestrator struct {
	source      jira.Source
	runs        *syncruns.Repository
	checkpoints *checkpoints.Repository
	mirror      *mirror.Repository
	projects    *projectstatus.Repository
	emitter     progress.Emitter

	allowedKeys []string
	syncCfg     config.Sync

	// sleep is swapped out in tests so backoff does not block.
	sleep func(time.Duration)
}

// NewOrchestrator wires an orchestrator. emitter may be nil.
func NewOrchestrator(
	source jira.Source,
	runs *syncruns.Repository,
	cps *checkpoints.Repository,
	mr *mirror.Repository,
	projects *projectstatus.Repository,
	emitter progress.Emitter,
	allowedKeys []string,
	syncCfg config.Sync,
) *Orchestrator {
	if emitter == nil {
		emitter = progress.LogEmitter{}
	}
	return &Orchestrator{
		source:      source,
		runs:        runs,
		checkpoints: cps,
		mirror:      mr,
		projects:    projects,
		emitter:     emitter,
		allowedKeys: allowedKeys,
		syncCfg:     syncCfg,
		sleep:       time.Sleep,
	}
}

// Run executes one attempt of the given sync run. Item-level failures are
// recorded and the loop continues; a returned error means the queue driver
// should retry the run (checkpoints make the retry cheap). Terminal outcomes
// are settled on the run row and return nil.
func (o *Orchestrator) Run(ctx context.Context, runID uint, opts Options) error {
	opts = opts.WithDefaults(o.syncCfg)

	run, err := o.runs.Start(runID, "initializing sync")
	if err != nil {
		return fmt.Errorf("start run %d: %w", runID, err)
	}

	// Escalating blocking backoff between attempts, bounded by the
	// wall-clock retry window measured from run creation.
	if run.Attempts > 1 {
		if o.syncCfg.RetryWindow > 0 && time.Since(run.CreatedAt) > o.syncCfg.RetryWindow {
			o.recordRunError(runID, "retry window exhausted", map[string]any{
				"attempts": run.Attempts,
				"window":   o.syncCfg.RetryWindow.String(),
			})
			return o.finish(runID, entities.SyncRunFailed, "retry window exhausted")
		}
		delay := BackoffDelay(run.Attempts)
		log.Printf("[SYNC] run %d attempt %d, backing off %v", runID, run.Attempts, delay)
		o.sleep(delay)
	}

	// Precondition failures are terminal, never retried.
	if reason := o.checkPreconditions(opts); reason != "" {
		o.recordRunError(runID, reason, map[string]any{"project_keys": opts.ProjectKeys})
		return o.finish(runID, entities.SyncRunFailed, reason)
	}

	if o.syncCfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.syncCfg.RunTimeout)
		defer cancel()
	}

	// On retry, consult checkpoints: completed projects are skipped, the
	// rest redone from scratch.
	var plan *checkpoints.ResumePlan
	if run.Attempts > 1 {
		plan, err = o.checkpoints.Plan(runID)
		if err != nil {
			return fmt.Errorf("resume plan for run %d: %w", runID, err)
		}
		if plan.CanResume {
			log.Printf("[SYNC] run %d resuming: skipping %d completed project(s), retrying %d",
				runID, len(plan.CompletedProjects), len(plan.ProjectsToRetry))
		}
	}

	// Totals belong to the run, not the attempt; a retry reuses them.
	if run.Attempts <= 1 {
		if err := o.runs.AddTotals(runID, syncruns.CounterDelta{Projects: len(opts.ProjectKeys)}); err != nil {
			return err
		}
	}

	state := &runState{runID: runID, opts: opts, plan: plan}

	if err := o.syncProjects(ctx, state); err != nil {
		return o.settleAbort(state, err)
	}
	if err := o.syncIssuesAndWorklogs(ctx, state); err != nil {
		return o.settleAbort(state, err)
	}

	return o.settle(state)
}

// runState accumulates per-attempt bookkeeping.
type runState struct {
	runID uint
	opts  Options
	plan  *checkpoints.ResumePlan

	projects []*entities.Project // successfully upserted, in key order
	keys     []string            // keys matching projects

	itemErrors     int
	retryableAbort error
	anyProgress    bool
}

func (o *Orchestrator) checkPreconditions(opts Options) string {
	if len(opts.ProjectKeys) == 0 {
		return "no project keys configured for sync"
	}
	if len(o.allowedKeys) == 0 {
		return "no JIRA projects configured"
	}
	allowed := make(map[string]bool, len(o.allowedKeys))
	for _, k := range o.allowedKeys {
		allowed[k] = true
	}
	for _, k := range opts.ProjectKeys {
		if !allowed[k] {
			return fmt.Sprintf("project key %s is not in the configured project list", k)
		}
	}
	return ""
}

// syncProjects is the project phase (5-25%): fetch metadata, upsert, open
// checkpoints.
func (o *Orchestrator) syncProjects(ctx context.Context, st *runState) error {
	o.setProgress(st.runID, "fetching project metadata", projectPhaseStart)

	records, err := o.source.GetProjects(ctx, st.opts.ProjectKeys)
	if err != nil {
		if jira.IsRetryable(err) {
			return &errRetryable{cause: err}
		}
		o.recordRunError(st.runID, fmt.Sprintf("failed to fetch projects: %v", err), nil)
		return err
	}

	byKey := make(map[string]jira.ProjectRecord, len(records))
	for _, rec := range records {
		byKey[rec.Key] = rec
	}

	total := len(st.opts.ProjectKeys)
	for i, key := range st.opts.ProjectKeys {
		if err := o.chunkBoundary(ctx, st.runID); err != nil {
			return err
		}

		rec, ok := byKey[key]
		if !ok {
			st.itemErrors++
			o.recordRunError(st.runID, fmt.Sprintf("project %s not returned by JIRA", key),
				map[string]any{"project_key": key})
			continue
		}

		project, err := o.mirror.StoreProject(rec)
		if err != nil {
			st.itemErrors++
			o.recordRunError(st.runID, fmt.Sprintf("failed to store project %s: %v", key, err),
				map[string]any{"project_key": key})
			continue
		}

		st.projects = append(st.projects, project)
		st.keys = append(st.keys, key)
		st.anyProgress = true

		pct := projectPhaseStart + (projectPhaseEnd-projectPhaseStart)*float64(i+1)/float64(total)
		o.setProgress(st.runID, fmt.Sprintf("processed project %s", key), pct)
	}

	return nil
}

// syncIssuesAndWorklogs walks each project's issues in pages and each issue's
// worklogs, sequentially. The unit of atomic progress is one chunk (one issue
// page); cancellation and timeouts are observed only at chunk boundaries.
func (o *Orchestrator) syncIssuesAndWorklogs(ctx context.Context, st *runState) error {
	totalProjects := len(st.projects)

	for pi, project := range st.projects {
		key := st.keys[pi]

		if st.plan != nil && st.plan.Completed(key) {
			log.Printf("[SYNC] run %d: project %s already completed, skipping", st.runID, key)
			continue
		}

		cp, err := o.checkpoints.Open(st.runID, key, entities.CheckpointTypeProjectSync)
		if err != nil {
			return err
		}

		// Each project owns a slice of the issue band; chunks advance
		// progress inside it.
		bandStart := projectPhaseEnd + (issuePhaseEnd-projectPhaseEnd)*float64(pi)/float64(totalProjects)
		bandEnd := projectPhaseEnd + (issuePhaseEnd-projectPhaseEnd)*float64(pi+1)/float64(totalProjects)

		result := o.syncOneProject(ctx, st, project, key, cp, bandStart, bandEnd)
		switch {
		case result.abort != nil:
			// Cancellation or timeout: finalize the checkpoint and
			// bubble up.
			_ = o.checkpoints.Fail(cp.ID, result.abort.Error())
			return result.abort
		case result.projectErr != nil:
			_ = o.checkpoints.Fail(cp.ID, result.projectErr.Error())
			_ = o.projects.RecordFullSync(key, string(entities.SyncRunFailed), result.issuesSeen,
				result.projectErr.Error(), nil)
			st.itemErrors++
			if jira.IsRetryable(result.projectErr) {
				st.retryableAbort = result.projectErr
			}
		default:
			_ = o.checkpoints.Complete(cp.ID)
			// A project counts as processed exactly once, when its
			// checkpoint completes; resumed attempts skip completed
			// checkpoints, so retries never double-count.
			_ = o.runs.AddProcessed(st.runID, syncruns.CounterDelta{Projects: 1})
			status := string(entities.SyncRunCompleted)
			if result.itemErrors > 0 {
				status = string(entities.SyncRunCompletedWithErrors)
			}
			_ = o.projects.RecordFullSync(key, status, result.issuesSeen, "", entities.SyncMetadata{
				"worklogs_processed": result.worklogsSeen,
				"sync_run_id":        st.runID,
			})
			st.anyProgress = true
		}
		st.itemErrors += result.itemErrors

		if st.opts.ReclassifyResources {
			if n, err := o.mirror.ReclassifyWorklogs(project.ID); err == nil && n > 0 {
				log.Printf("[SYNC] run %d: reclassified %d worklog(s) in %s", st.runID, n, key)
			}
		}
		if st.opts.CleanupOrphaned && result.projectErr == nil && result.complete {
			if n, err := o.mirror.FlagOrphanedWorklogs(project.ID, result.liveIssueKeys); err == nil && n > 0 {
				log.Printf("[SYNC] run %d: flagged %d orphaned worklog(s) in %s", st.runID, n, key)
			}
		}

		pct := worklogPhaseEnd - (worklogPhaseEnd-issuePhaseEnd)*float64(totalProjects-pi-1)/float64(totalProjects)
		o.setProgress(st.runID, fmt.Sprintf("finished project %s", key), pct)
	}

	return nil
}

// projectResult captures the outcome of one project's issue/worklog loop.
type projectResult struct {
	issuesSeen    int
	worklogsSeen  int
	itemErrors    int
	liveIssueKeys []string
	complete      bool  // all pages walked
	projectErr    error // page-level failure that ended the project early
	abort         error // run-level stop (cancel, timeout)
}

func (o *Orchestrator) syncOneProject(ctx context.Context, st *runState, project *entities.Project, key string, cp *entities.SyncCheckpoint, bandStart, bandEnd float64) projectResult {
	var res projectResult
	opts := st.opts

	issueOpts := jira.IssueOptions{
		MaxResults:       opts.Batch.IssueBatchSize,
		OnlyWithWorklogs: opts.OnlyIssuesWithWorklogs,
	}
	if opts.DateRange != nil {
		issueOpts.UpdatedSince = &opts.DateRange.From
	}

	totalRecorded := false
	for {
		if err := o.chunkBoundary(ctx, st.runID); err != nil {
			res.abort = err
			return res
		}

		page, err := o.source.GetIssuesForProject(ctx, key, issueOpts)
		if err != nil {
			res.projectErr = fmt.Errorf("fetch issues for %s: %w", key, err)
			o.recordRunError(st.runID, res.projectErr.Error(), map[string]any{
				"project_key": key,
				"start_at":    issueOpts.StartAt,
			})
			return res
		}

		if !totalRecorded {
			_ = o.runs.AddTotals(st.runID, syncruns.CounterDelta{Issues: page.Total})
			_ = o.checkpoints.UpdateData(cp.ID, entities.CheckpointData{
				"total_issues": page.Total,
				"batch_size":   opts.Batch.IssueBatchSize,
			})
			totalRecorded = true
		}

		for _, issue := range page.Issues {
			o.syncOneIssue(ctx, st, project, issue, &res)
		}

		// Chunk finished: persist breadcrumbs, release memory, pace the
		// API.
		_ = o.checkpoints.UpdateData(cp.ID, entities.CheckpointData{
			"issues_processed":   res.issuesSeen,
			"worklogs_processed": res.worklogsSeen,
			"last_sync_time":     time.Now().Format(time.RFC3339),
		})
		if page.Total > 0 {
			frac := float64(res.issuesSeen) / float64(page.Total)
			if frac > 1 {
				frac = 1
			}
			o.setProgress(st.runID, fmt.Sprintf("syncing issues for %s", key),
				bandStart+(bandEnd-bandStart)*frac)
		} else {
			o.emitRun(st.runID)
		}
		o.releaseChunkMemory(st.runID)

		issueOpts.StartAt += len(page.Issues)
		if len(page.Issues) == 0 || issueOpts.StartAt >= page.Total {
			break
		}
		if opts.Batch.RateLimit > 0 {
			o.sleep(opts.Batch.RateLimit)
		}
	}

	if opts.ValidateData {
		_ = o.checkpoints.UpdateData(cp.ID, entities.CheckpointData{
			"validated":      true,
			"issues_in_page": res.issuesSeen,
		})
	}

	res.complete = true
	return res
}

func (o *Orchestrator) syncOneIssue(ctx context.Context, st *runState, project *entities.Project, rec jira.IssueRecord, res *projectResult) {
	var assigneeID *uint
	if rec.Fields != nil && rec.Fields.Assignee != nil {
		user, err := o.mirror.StoreUser(*rec.Fields.Assignee)
		if err != nil {
			res.itemErrors++
			o.recordRunError(st.runID, fmt.Sprintf("failed to store assignee for %s: %v", rec.Key, err),
				map[string]any{"issue_key": rec.Key})
		} else if user != nil {
			assigneeID = &user.ID
			_ = o.runs.AddProcessed(st.runID, syncruns.CounterDelta{Users: 1})
		}
	}

	issue, err := o.mirror.StoreIssue(rec, project.ID, assigneeID)
	if err != nil {
		res.itemErrors++
		o.recordRunError(st.runID, fmt.Sprintf("failed to store issue %s: %v", rec.Key, err),
			map[string]any{"issue_key": rec.Key})
		return
	}
	res.issuesSeen++
	res.liveIssueKeys = append(res.liveIssueKeys, issue.Key)
	_ = o.runs.AddProcessed(st.runID, syncruns.CounterDelta{Issues: 1})

	worklogs, err := o.source.GetWorklogsForIssue(ctx, rec.Key, st.opts.Batch.WorklogWindow)
	if err != nil {
		res.itemErrors++
		o.recordRunError(st.runID, fmt.Sprintf("failed to fetch worklogs for %s: %v", rec.Key, err),
			map[string]any{"issue_key": rec.Key})
		return
	}
	_ = o.runs.AddTotals(st.runID, syncruns.CounterDelta{Worklogs: len(worklogs)})

	for _, wl := range worklogs {
		author, err := o.mirror.StoreUser(wl.Author)
		if err != nil {
			res.itemErrors++
			o.recordRunError(st.runID, fmt.Sprintf("failed to store worklog author on %s: %v", rec.Key, err),
				map[string]any{"issue_key": rec.Key, "worklog_id": wl.ID})
			continue
		}
		if author == nil {
			// Author anonymized upstream; nothing to attach the
			// worklog to.
			continue
		}
		_ = o.runs.AddProcessed(st.runID, syncruns.CounterDelta{Users: 1})

		if _, err := o.mirror.StoreWorklog(wl, issue.ID, author.ID); err != nil {
			res.itemErrors++
			o.recordRunError(st.runID, fmt.Sprintf("failed to store worklog %s on %s: %v", wl.ID, rec.Key, err),
				map[string]any{"issue_key": rec.Key, "worklog_id": wl.ID})
			continue
		}
		res.worklogsSeen++
		_ = o.runs.AddProcessed(st.runID, syncruns.CounterDelta{Worklogs: 1})
	}
}

// chunkBoundary is the cooperative suspension point between chunks: it
// observes cancellation and deadline expiry. Nothing interrupts a chunk
// mid-flight.
func (o *Orchestrator) chunkBoundary(ctx context.Context, runID uint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cancelled, err := o.runs.IsCancelled(runID)
	if err != nil {
		return err
	}
	if cancelled {
		return ErrRunCancelled
	}
	return nil
}

// settleAbort maps a run-level stop to its terminal outcome.
func (o *Orchestrator) settleAbort(st *runState, abort error) error {
	switch {
	case errors.Is(abort, ErrRunCancelled):
		// The canceller already failed the run.
		log.Printf("[SYNC] run %d stopped: cancelled by user", st.runID)
		return nil
	case errors.Is(abort, context.DeadlineExceeded):
		o.recordRunError(st.runID, "run exceeded its wall-clock timeout", map[string]any{
			"timeout": o.syncCfg.RunTimeout.String(),
		})
		return o.finish(st.runID, entities.SyncRunFailed, "run timed out")
	case errors.Is(abort, context.Canceled):
		// Worker shutdown: leave the run in_progress so the queue (or
		// the stale sweeper) picks it up.
		return abort
	}

	if IsRetryableRunError(abort) || jira.IsRetryable(abort) {
		return o.retryOrFail(st, abort)
	}

	o.recordRunError(st.runID, abort.Error(), nil)
	return o.finish(st.runID, entities.SyncRunFailed, "sync aborted")
}

// settle decides the terminal state after a full pass.
func (o *Orchestrator) settle(st *runState) error {
	if st.retryableAbort != nil && !st.anyProgress {
		return o.retryOrFail(st, st.retryableAbort)
	}

	switch {
	case st.itemErrors == 0:
		return o.finish(st.runID, entities.SyncRunCompleted, "sync completed")
	case st.anyProgress:
		return o.finish(st.runID, entities.SyncRunCompletedWithErrors,
			fmt.Sprintf("sync completed with %d error(s)", st.itemErrors))
	default:
		return o.finish(st.runID, entities.SyncRunFailed, "sync failed: no progress made")
	}
}

// retryOrFail asks the queue driver for another attempt while the budget
// lasts, otherwise settles the run as failed.
func (o *Orchestrator) retryOrFail(st *runState, cause error) error {
	run, err := o.runs.Get(st.runID)
	if err != nil {
		return err
	}
	if run.Attempts < st.opts.Batch.MaxRetryAttempts {
		log.Printf("[SYNC] run %d attempt %d/%d failed transiently: %v",
			st.runID, run.Attempts, st.opts.Batch.MaxRetryAttempts, cause)
		return &errRetryable{cause: cause}
	}
	o.recordRunError(st.runID, fmt.Sprintf("retry budget exhausted: %v", cause), map[string]any{
		"attempts": run.Attempts,
	})
	return o.finish(st.runID, entities.SyncRunFailed, "retry budget exhausted")
}

func (o *Orchestrator) finish(runID uint, status entities.SyncRunStatus, operation string) error {
	if err := o.runs.Complete(runID, status, operation); err != nil {
		return err
	}
	o.emitRun(runID)
	log.Printf("[SYNC] run %d finished: %s (%s)", runID, status, operation)
	return nil
}

func (o *Orchestrator) setProgress(runID uint, operation string, pct float64) {
	if err := o.runs.SetOperation(runID, operation, pct); err != nil {
		log.Printf("[SYNC] run %d: failed to record progress: %v", runID, err)
		return
	}
	o.emitRun(runID)
}

func (o *Orchestrator) recordRunError(runID uint, message string, ctx map[string]any) {
	if err := o.runs.AppendError(runID, entities.SyncError{
		Message: message,
		Context: ctx,
	}); err != nil {
		log.Printf("[SYNC] run %d: failed to record error %q: %v", runID, message, err)
	}
}

func (o *Orchestrator) emitRun(runID uint) {
	run, err := o.runs.Get(runID)
	if err != nil {
		return
	}
	o.emitter.RunUpdated(run)
}

// releaseChunkMemory is the per-chunk memory release point. The historical
// dataset is large enough that naive accumulation caused out-of-memory kills;
// memory per chunk must stay bounded regardless of total dataset size.
func (o *Orchestrator) releaseChunkMemory(runID uint) {
	debug.FreeOSMemory()
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	log.Printf("[SYNC] run %d: chunk done, heap %d KiB", runID, m.HeapAlloc/1024)
}
