package http

import (
	"github.com/timepulse/jirasync/internal/config"
	"github.com/timepulse/jirasync/internal/database"
	"github.com/timepulse/jirasync/internal/database/checkpoints"
	"github.com/timepulse/jirasync/internal/database/projectstatus"
	"github.com/timepulse/jirasync/internal/database/syncruns"
	"github.com/timepulse/jirasync/internal/jira"
	"github.com/timepulse/jirasync/internal/progress"
	"github.com/timepulse/jirasync/internal/tasks"
)

// RouterConfig holds all dependencies needed to construct the HTTP router.
// Using a config struct instead of positional arguments keeps the router
// testable with partial wiring.
type RouterConfig struct {
	Database    *database.Database
	Runs        *syncruns.Repository
	Checkpoints *checkpoints.Repository
	Projects    *projectstatus.Repository

	Source    jira.Source
	TaskQueue *tasks.Client
	Hub       *progress.Hub

	SyncConfig      config.Sync
	AllowedProjects []string

	// APIToken guards mutating endpoints when non-empty.
	APIToken string
	Version  string
}
