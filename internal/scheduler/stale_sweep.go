package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/timepulse/jirasync/internal/config"
	"github.com/timepulse/jirasync/internal/entities"
	"github.com/timepulse/jirasync/internal/tasks"
)

// StaleSweepScheduler periodically enqueues a sweep that fails runs stuck
// in an active state past the staleness threshold, so a crashed worker
// never holds the single-active-run slot indefinitely.
type StaleSweepScheduler struct {
	schedules config.Schedules
	queue     *tasks.Client

	cron       *cron.Cron
	mu         sync.RWMutex
	isRunning  bool
	cancelFunc context.CancelFunc
}

// NewStaleSweepScheduler creates a new scheduler instance.
func NewStaleSweepScheduler(cfg *config.Config, queue *tasks.Client) *StaleSweepScheduler {
	return &StaleSweepScheduler{
		schedules: cfg.Schedules,
		queue:     queue,
		cron:      cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow))),
	}
}

// Start begins the scheduler.
func (s *StaleSweepScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	_, err := s.cron.AddFunc(s.schedules.StaleSweepSchedule, func() {
		s.tick()
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", s.schedules.StaleSweepSchedule, err)
	}

	var cancelCtx context.Context
	cancelCtx, s.cancelFunc = context.WithCancel(ctx)

	s.cron.Start()
	s.isRunning = true

	log.Printf("Stale run sweeper: started with schedule '%s'", s.schedules.StaleSweepSchedule)

	go func() {
		<-cancelCtx.Done()
		s.Stop()
	}()

	return nil
}

// Stop gracefully stops the scheduler.
func (s *StaleSweepScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.isRunning = false
	s.cancelFunc = nil

	log.Printf("Stale run sweeper: stopped")
}

// IsRunning returns whether the scheduler is active.
func (s *StaleSweepScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *StaleSweepScheduler) tick() {
	op, err := s.queue.Add(tasks.LaneMaintenance, tasks.StaleRunSweepTask{
		OlderThan: entities.StaleRunThreshold,
	})
	if err == nil {
		_, err = op.Save()
	}
	if err != nil {
		log.Printf("Stale run sweeper: failed to enqueue: %v", err)
	}
}
