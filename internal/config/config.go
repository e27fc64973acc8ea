package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type (
	Config struct {
		HTTP
		Jira
		Sync
		WorklogSync
		Schedules
		Lanes
		Database
		Global
		Logging
	}

	HTTP struct {
		Port     int32
		Host     string
		APIToken string // optional static token guarding mutating endpoints
	}
	Jira struct {
		BaseURL  string
		Email    string
		APIToken string
		// AllowedProjects is the whitelist of project keys a sync may touch.
		AllowedProjects []string
	}
	Sync struct {
		IssueBatchSize   int           // issues fetched/processed per chunk
		WorklogWindow    int           // recent-N worklogs fetched per issue
		RateLimitDelay   time.Duration // pause between API pages
		MaxRetryAttempts int           // orchestrator attempt budget
		RetryWindow      time.Duration // wall-clock ceiling on retrying
		RunTimeout       time.Duration // hard ceiling for one full run
	}
	WorklogSync struct {
		RunTimeout time.Duration // ceiling for one delta-engine pass
	}
	Schedules struct {
		DailySyncEnabled   bool
		DailySyncSchedule  string // cron format: "0 3 * * *" = daily at 03:00
		WorklogEnabled     bool
		WorklogSchedule    string // cron format: "30 * * * *" = hourly at :30
		StaleSweepSchedule string // cron format: "*/15 * * * *"
	}
	// Lanes sizes the task-queue priority lanes. Each lane is an isolated
	// worker pool so a runaway daily sync cannot starve manual syncs.
	Lanes struct {
		ManualWorkers      int
		DailyWorkers       int
		WorklogWorkers     int
		MaintenanceWorkers int
		ManualTimeout      time.Duration
		DailyTimeout       time.Duration
		WorklogTimeout     time.Duration
		MaintenanceTimeout time.Duration
		ReleaseAfter       time.Duration
		CleanupInterval    time.Duration
		RetentionDuration  time.Duration
	}
	Database struct {
		Path string
	}
	Global struct {
		ShutdownTimeoutInSeconds int
	}
	Logging struct {
		File       string // empty means stderr only
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
	}
)

// SplitProjectKeys parses a comma-separated key list, trimming and
// upper-casing each key.
func SplitProjectKeys(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if k := strings.TrimSpace(p); k != "" {
			keys = append(keys, strings.ToUpper(k))
		}
	}
	return keys
}

func NewConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("port", 8190)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("api_token", "")
	v.SetDefault("shutdown_timeout_in_seconds", 5)
	v.SetDefault("database_path", DefaultDatabasePath)

	v.SetDefault("jira_base_url", "")
	v.SetDefault("jira_email", "")
	v.SetDefault("jira_api_token", "")
	v.SetDefault("jira_projects", "")

	v.SetDefault("sync_issue_batch_size", DefaultIssueBatchSize)
	v.SetDefault("sync_worklog_window", DefaultWorklogWindow)
	v.SetDefault("sync_rate_limit_delay", "500ms")
	v.SetDefault("sync_max_retry_attempts", DefaultMaxRetryAttempts)
	v.SetDefault("sync_retry_window", "2h")
	v.SetDefault("sync_run_timeout", "4h")
	v.SetDefault("worklog_sync_run_timeout", "30m")

	v.SetDefault("daily_sync_enabled", false)
	v.SetDefault("daily_sync_schedule", "0 3 * * *")
	v.SetDefault("worklog_sync_enabled", false)
	v.SetDefault("worklog_sync_schedule", "30 * * * *")
	v.SetDefault("stale_sweep_schedule", "*/15 * * * *")

	v.SetDefault("lane_manual_workers", 2)
	v.SetDefault("lane_daily_workers", 1)
	v.SetDefault("lane_worklog_workers", 2)
	v.SetDefault("lane_maintenance_workers", 1)
	v.SetDefault("lane_manual_timeout", "4h")
	v.SetDefault("lane_daily_timeout", "4h")
	v.SetDefault("lane_worklog_timeout", "30m")
	v.SetDefault("lane_maintenance_timeout", "10m")
	v.SetDefault("lane_release_after", "15m")
	v.SetDefault("lane_cleanup_interval", "1h")
	v.SetDefault("lane_retention_duration", "72h")

	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", 50)
	v.SetDefault("log_max_backups", 3)
	v.SetDefault("log_max_age_days", 14)

	return &Config{
		HTTP: HTTP{
			Port:     v.GetInt32("PORT"),
			Host:     v.GetString("HOST"),
			APIToken: v.GetString("API_TOKEN"),
		},
		Jira: Jira{
			BaseURL:         v.GetString("JIRA_BASE_URL"),
			Email:           v.GetString("JIRA_EMAIL"),
			APIToken:        v.GetString("JIRA_API_TOKEN"),
			AllowedProjects: SplitProjectKeys(v.GetString("JIRA_PROJECTS")),
		},
		Sync: Sync{
			IssueBatchSize:   v.GetInt("SYNC_ISSUE_BATCH_SIZE"),
			WorklogWindow:    v.GetInt("SYNC_WORKLOG_WINDOW"),
			RateLimitDelay:   v.GetDuration("SYNC_RATE_LIMIT_DELAY"),
			MaxRetryAttempts: v.GetInt("SYNC_MAX_RETRY_ATTEMPTS"),
			RetryWindow:      v.GetDuration("SYNC_RETRY_WINDOW"),
			RunTimeout:       v.GetDuration("SYNC_RUN_TIMEOUT"),
		},
		WorklogSync: WorklogSync{
			RunTimeout: v.GetDuration("WORKLOG_SYNC_RUN_TIMEOUT"),
		},
		Schedules: Schedules{
			DailySyncEnabled:   v.GetBool("DAILY_SYNC_ENABLED"),
			DailySyncSchedule:  v.GetString("DAILY_SYNC_SCHEDULE"),
			WorklogEnabled:     v.GetBool("WORKLOG_SYNC_ENABLED"),
			WorklogSchedule:    v.GetString("WORKLOG_SYNC_SCHEDULE"),
			StaleSweepSchedule: v.GetString("STALE_SWEEP_SCHEDULE"),
		},
		Lanes: Lanes{
			ManualWorkers:      v.GetInt("LANE_MANUAL_WORKERS"),
			DailyWorkers:       v.GetInt("LANE_DAILY_WORKERS"),
			WorklogWorkers:     v.GetInt("LANE_WORKLOG_WORKERS"),
			MaintenanceWorkers: v.GetInt("LANE_MAINTENANCE_WORKERS"),
			ManualTimeout:      v.GetDuration("LANE_MANUAL_TIMEOUT"),
			DailyTimeout:       v.GetDuration("LANE_DAILY_TIMEOUT"),
			WorklogTimeout:     v.GetDuration("LANE_WORKLOG_TIMEOUT"),
			MaintenanceTimeout: v.GetDuration("LANE_MAINTENANCE_TIMEOUT"),
			ReleaseAfter:       v.GetDuration("LANE_RELEASE_AFTER"),
			CleanupInterval:    v.GetDuration("LANE_CLEANUP_INTERVAL"),
			RetentionDuration:  v.GetDuration("LANE_RETENTION_DURATION"),
		},
		Database: Database{
			Path: v.GetString("DATABASE_PATH"),
		},
		Global: Global{
			ShutdownTimeoutInSeconds: v.GetInt("SHUTDOWN_TIMEOUT_IN_SECONDS"),
		},
		Logging: Logging{
			File:       v.GetString("LOG_FILE"),
			MaxSizeMB:  v.GetInt("LOG_MAX_SIZE_MB"),
			MaxBackups: v.GetInt("LOG_MAX_BACKUPS"),
			MaxAgeDays: v.GetInt("LOG_MAX_AGE_DAYS"),
		},
	}
}
