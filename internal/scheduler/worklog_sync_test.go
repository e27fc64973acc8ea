package scheduler

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timepulse/jirasync/internal/config"
	"github.com/timepulse/jirasync/internal/tasks"
)

func setupQueue(t *testing.T) *tasks.Client {
	t.Helper()
	queue, err := tasks.NewClient(filepath.Join(t.TempDir(), "test.db"), tasks.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { queue.Close() })
	return queue
}

func TestWorklogTickEnqueuesPass(t *testing.T) {
	cfg := &config.Config{}
	cfg.Jira.AllowedProjects = []string{"PROJ", "OPS"}
	cfg.Schedules.WorklogEnabled = true
	cfg.Schedules.WorklogSchedule = "30 * * * *"
	queue := setupQueue(t)

	s := NewWorklogSyncScheduler(cfg, queue)
	s.tick()

	assert.Equal(t, 1, queuedTasks(t, queue))
}

func TestStaleSweepTickEnqueues(t *testing.T) {
	cfg := &config.Config{}
	cfg.Schedules.StaleSweepSchedule = "*/15 * * * *"
	queue := setupQueue(t)

	s := NewStaleSweepScheduler(cfg, queue)
	s.tick()

	assert.Equal(t, 1, queuedTasks(t, queue))
}
