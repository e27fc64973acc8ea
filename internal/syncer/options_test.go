package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/timepulse/jirasync/internal/config"
	"github.com/timepulse/jirasync/internal/entities"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 0},
		{2, 30 * time.Second},
		{3, 60 * time.Second},
		{4, 120 * time.Second},
		{5, 240 * time.Second},
		{6, 300 * time.Second},
		{12, 300 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, BackoffDelay(tt.attempt), "attempt %d", tt.attempt)
	}

	assert.Zero(t, BackoffDelay(0))
	assert.Zero(t, BackoffDelay(-1))
}

func TestOptionsWithDefaults(t *testing.T) {
	cfg := config.Sync{
		IssueBatchSize:   50,
		WorklogWindow:    80,
		RateLimitDelay:   200 * time.Millisecond,
		MaxRetryAttempts: 4,
	}

	t.Run("fills unset knobs from config", func(t *testing.T) {
		opts := Options{ProjectKeys: []string{"PROJ"}}.WithDefaults(cfg)
		assert.Equal(t, 50, opts.Batch.IssueBatchSize)
		assert.Equal(t, 80, opts.Batch.WorklogWindow)
		assert.Equal(t, 200*time.Millisecond, opts.Batch.RateLimit)
		assert.Equal(t, 4, opts.Batch.MaxRetryAttempts)
		assert.Equal(t, entities.SyncTypeManual, opts.SyncType)
	})

	t.Run("explicit values win", func(t *testing.T) {
		opts := Options{
			SyncType: entities.SyncTypeAutomatedDaily,
			Batch: BatchConfig{
				IssueBatchSize:   10,
				WorklogWindow:    20,
				RateLimit:        time.Second,
				MaxRetryAttempts: 1,
			},
		}.WithDefaults(cfg)
		assert.Equal(t, 10, opts.Batch.IssueBatchSize)
		assert.Equal(t, 20, opts.Batch.WorklogWindow)
		assert.Equal(t, time.Second, opts.Batch.RateLimit)
		assert.Equal(t, 1, opts.Batch.MaxRetryAttempts)
		assert.Equal(t, entities.SyncTypeAutomatedDaily, opts.SyncType)
	})

	t.Run("falls back to built-in defaults on an empty config", func(t *testing.T) {
		opts := Options{}.WithDefaults(config.Sync{})
		assert.Equal(t, config.DefaultIssueBatchSize, opts.Batch.IssueBatchSize)
		assert.Equal(t, config.DefaultWorklogWindow, opts.Batch.WorklogWindow)
		assert.Equal(t, config.DefaultMaxRetryAttempts, opts.Batch.MaxRetryAttempts)
	})
}
