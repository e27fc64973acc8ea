package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timepulse/jirasync/internal/config"
	"github.com/timepulse/jirasync/internal/database"
	"github.com/timepulse/jirasync/internal/database/mirror"
	"github.com/timepulse/jirasync/internal/database/projectstatus"
	"github.com/timepulse/jirasync/internal/jira"
	"github.com/timepulse/jirasync/internal/syncer"
)

// WorklogSyncCommand runs one incremental worklog pass in the foreground.
type WorklogSyncCommand struct {
	Projects     string
	DatabasePath string
	Since        string
	Full         bool
}

// NewWorklogSyncCommand creates a new WorklogSyncCommand.
func NewWorklogSyncCommand() *WorklogSyncCommand {
	return &WorklogSyncCommand{}
}

// ParseFlags parses command line flags.
func (cmd *WorklogSyncCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("worklog-sync", flag.ExitOnError)

	fs.StringVar(&cmd.Projects, "projects", "", "Comma-separated project keys (defaults to JIRA_PROJECTS)")
	fs.StringVar(&cmd.DatabasePath, "db", config.DefaultDatabasePath, "Path to the local database file")
	fs.StringVar(&cmd.Since, "since", "", "Override watermark (RFC 3339, e.g. 2026-08-29T00:00:00Z)")
	fs.BoolVar(&cmd.Full, "full", false, "Ignore watermarks and re-sync all worklogs")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s worklog-sync [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Sync worklogs changed since each project's stored watermark.\n")
		fmt.Fprintf(os.Stderr, "Issues themselves are not re-synced; run sync-now for that.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	return fs.Parse(args)
}

// Run executes the worklog pass.
func (cmd *WorklogSyncCommand) Run() error {
	cfg := config.NewConfig()
	if cmd.DatabasePath != "" {
		cfg.Database.Path = cmd.DatabasePath
	}

	keys := cfg.Jira.AllowedProjects
	if cmd.Projects != "" {
		keys = config.SplitProjectKeys(cmd.Projects)
	}
	if len(keys) == 0 {
		return fmt.Errorf("no project keys given; use -projects or set JIRA_PROJECTS")
	}

	var since *time.Time
	if cmd.Since != "" {
		if cmd.Full {
			return fmt.Errorf("-since and -full are mutually exclusive")
		}
		t, err := time.Parse(time.RFC3339, cmd.Since)
		if err != nil {
			return fmt.Errorf("invalid -since value: %w", err)
		}
		since = &t
	}

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	projects := projectstatus.NewRepository(db.DB)
	engine := syncer.NewDeltaEngine(
		jira.NewClient(cfg.Jira.BaseURL, cfg.Jira.Email, cfg.Jira.APIToken),
		mirror.NewRepository(db.DB),
		projects,
		cfg.Sync.WorklogWindow,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if cfg.WorklogSync.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.WorklogSync.RunTimeout)
		defer cancel()
	}

	if cmd.Full {
		// A watermark far in the past makes every project do a full
		// worklog re-sync.
		epoch := time.Unix(0, 0)
		since = &epoch
	}

	result, err := engine.Run(ctx, keys, since)
	if err != nil {
		return err
	}

	for _, p := range result.Projects {
		fmt.Printf("%-12s %-24s %d processed (%d added, %d updated)\n",
			p.ProjectKey, p.Status, p.Processed, p.Added, p.Updated)
		if p.Error != "" {
			fmt.Printf("%-12s   error: %s\n", "", p.Error)
		}
	}
	fmt.Printf("Total: %d worklogs (%d added, %d updated), %d project error(s)\n",
		result.Processed, result.Added, result.Updated, result.Errors)
	return nil
}
