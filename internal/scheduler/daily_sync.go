package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/timepulse/jirasync/internal/config"
	"github.com/timepulse/jirasync/internal/database/projectstatus"
	"github.com/timepulse/jirasync/internal/database/syncruns"
	"github.com/timepulse/jirasync/internal/entities"
	"github.com/timepulse/jirasync/internal/syncer"
	"github.com/timepulse/jirasync/internal/tasks"
)

var schedulerTriggeredBy = "scheduler"

// DailySyncScheduler enqueues a full sync each day for projects whose last
// successful sync is older than the staleness window. It claims the run row
// itself, so an already-active sync makes the tick a no-op.
type DailySyncScheduler struct {
	schedules config.Schedules
	syncCfg   config.Sync
	keys      []string
	runs      *syncruns.Repository
	projects  *projectstatus.Repository
	queue     *tasks.Client

	cron       *cron.Cron
	entryID    cron.EntryID
	mu         sync.RWMutex
	isRunning  bool
	isTicking  bool
	cancelFunc context.CancelFunc
}

// NewDailySyncScheduler creates a new scheduler instance.
func NewDailySyncScheduler(cfg *config.Config, runs *syncruns.Repository, projects *projectstatus.Repository, queue *tasks.Client) *DailySyncScheduler {
	return &DailySyncScheduler{
		schedules: cfg.Schedules,
		syncCfg:   cfg.Sync,
		keys:      cfg.Jira.AllowedProjects,
		runs:      runs,
		projects:  projects,
		queue:     queue,
		cron:      cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow))),
	}
}

// Start begins the scheduler if daily syncs are enabled.
func (s *DailySyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	if !s.schedules.DailySyncEnabled {
		log.Printf("Daily sync scheduler: disabled")
		return nil
	}
	if len(s.keys) == 0 {
		log.Printf("Daily sync scheduler: no projects configured, skipping")
		return nil
	}

	entryID, err := s.cron.AddFunc(s.schedules.DailySyncSchedule, func() {
		s.tick()
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", s.schedules.DailySyncSchedule, err)
	}
	s.entryID = entryID

	var cancelCtx context.Context
	cancelCtx, s.cancelFunc = context.WithCancel(ctx)

	s.cron.Start()
	s.isRunning = true

	log.Printf("Daily sync scheduler: started with schedule '%s' for projects [%s]",
		s.schedules.DailySyncSchedule, strings.Join(s.keys, ", "))

	go func() {
		<-cancelCtx.Done()
		s.Stop()
	}()

	return nil
}

// Stop gracefully stops the scheduler.
func (s *DailySyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.isRunning = false
	s.cancelFunc = nil

	log.Printf("Daily sync scheduler: stopped")
}

// IsRunning returns whether the scheduler is active.
func (s *DailySyncScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetNextRunTime returns when the next tick will occur.
func (s *DailySyncScheduler) GetNextRunTime() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return nil
	}
	for _, entry := range s.cron.Entries() {
		if entry.ID == s.entryID {
			t := entry.Next
			return &t
		}
	}
	return nil
}

// RunNow triggers an immediate tick.
func (s *DailySyncScheduler) RunNow() {
	go s.tick()
}

func (s *DailySyncScheduler) tick() {
	s.mu.Lock()
	if s.isTicking {
		s.mu.Unlock()
		log.Printf("Daily sync: skipped (previous tick still enqueueing)")
		return
	}
	s.isTicking = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isTicking = false
		s.mu.Unlock()
	}()

	due, err := s.projects.DueForFullSync(s.keys, time.Now())
	if err != nil {
		log.Printf("Daily sync: failed to determine due projects: %v", err)
		return
	}
	if len(due) == 0 {
		log.Printf("Daily sync: all projects fresh, nothing to do")
		return
	}

	run, err := s.runs.Claim(entities.SyncTypeAutomatedDaily, due, &schedulerTriggeredBy)
	if err != nil {
		if errors.Is(err, syncruns.ErrSyncActive) {
			log.Printf("Daily sync: skipped (another sync is already active)")
			return
		}
		log.Printf("Daily sync: failed to claim run: %v", err)
		return
	}

	opts := syncer.Options{
		ProjectKeys: due,
		SyncType:    entities.SyncTypeAutomatedDaily,
	}.WithDefaults(s.syncCfg)

	op, err := s.queue.Add(tasks.LaneDaily, tasks.DailySyncTask{RunID: run.ID, Options: opts})
	if err == nil {
		_, err = op.Save()
	}
	if err != nil {
		log.Printf("Daily sync: failed to enqueue run %d: %v", run.ID, err)
		if _, cancelErr := s.runs.Cancel(run.ID, "scheduler"); cancelErr != nil {
			log.Printf("Daily sync: failed to release claimed run %d: %v", run.ID, cancelErr)
		}
		return
	}

	log.Printf("Daily sync: run %d enqueued for %d stale project(s): [%s]",
		run.ID, len(due), strings.Join(due, ", "))
}
