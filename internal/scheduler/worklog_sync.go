package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/timepulse/jirasync/internal/config"
	"github.com/timepulse/jirasync/internal/tasks"
)

// WorklogSyncScheduler enqueues an incremental worklog pass on a fixed
// schedule. The pass itself decides per project whether the stored watermark
// is usable or a full worklog re-sync is needed.
type WorklogSyncScheduler struct {
	schedules config.Schedules
	keys      []string
	queue     *tasks.Client

	cron       *cron.Cron
	entryID    cron.EntryID
	mu         sync.RWMutex
	isRunning  bool
	cancelFunc context.CancelFunc
}

// NewWorklogSyncScheduler creates a new scheduler instance.
func NewWorklogSyncScheduler(cfg *config.Config, queue *tasks.Client) *WorklogSyncScheduler {
	return &WorklogSyncScheduler{
		schedules: cfg.Schedules,
		keys:      cfg.Jira.AllowedProjects,
		queue:     queue,
		cron:      cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow))),
	}
}

// Start begins the scheduler if worklog syncs are enabled.
func (s *WorklogSyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	if !s.schedules.WorklogEnabled {
		log.Printf("Worklog sync scheduler: disabled")
		return nil
	}
	if len(s.keys) == 0 {
		log.Printf("Worklog sync scheduler: no projects configured, skipping")
		return nil
	}

	entryID, err := s.cron.AddFunc(s.schedules.WorklogSchedule, func() {
		s.tick()
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", s.schedules.WorklogSchedule, err)
	}
	s.entryID = entryID

	var cancelCtx context.Context
	cancelCtx, s.cancelFunc = context.WithCancel(ctx)

	s.cron.Start()
	s.isRunning = true

	log.Printf("Worklog sync scheduler: started with schedule '%s'", s.schedules.WorklogSchedule)

	go func() {
		<-cancelCtx.Done()
		s.Stop()
	}()

	return nil
}

// Stop gracefully stops the scheduler.
func (s *WorklogSyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.isRunning = false
	s.cancelFunc = nil

	log.Printf("Worklog sync scheduler: stopped")
}

// IsRunning returns whether the scheduler is active.
func (s *WorklogSyncScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetNextRunTime returns when the next tick will occur.
func (s *WorklogSyncScheduler) GetNextRunTime() *time.Time {
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

func (s *WorklogSyncScheduler) tick() {
	op, err := s.queue.Add(tasks.LaneWorklog, tasks.WorklogSyncTask{ProjectKeys: s.keys})
	if err == nil {
		_, err = op.Save()
	}
	if err != nil {
		log.Printf("Worklog sync: failed to enqueue: %v", err)
		return
	}
	log.Printf("Worklog sync: pass enqueued for %d project(s)", len(s.keys))
}
