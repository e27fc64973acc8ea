package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/timepulse/jirasync/internal/config"
	"github.com/timepulse/jirasync/internal/database"
	"github.com/timepulse/jirasync/internal/database/checkpoints"
	"github.com/timepulse/jirasync/internal/database/mirror"
	"github.com/timepulse/jirasync/internal/database/projectstatus"
	"github.com/timepulse/jirasync/internal/database/syncruns"
	"github.com/timepulse/jirasync/internal/entities"
	"github.com/timepulse/jirasync/internal/jira"
	"github.com/timepulse/jirasync/internal/progress"
	"github.com/timepulse/jirasync/internal/syncer"
)

var cliTriggeredBy = "cli"

// SyncNowCommand runs a full sync in the foreground, bypassing the task
// queue. Useful for cron-less deployments and debugging.
type SyncNowCommand struct {
	Projects        string
	DatabasePath    string
	OnlyWorklogs    bool
	Reclassify      bool
	ValidateData    bool
	CleanupOrphaned bool
	BatchSize       int
}

// NewSyncNowCommand creates a new SyncNowCommand.
func NewSyncNowCommand() *SyncNowCommand {
	return &SyncNowCommand{}
}

// ParseFlags parses command line flags.
func (cmd *SyncNowCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("sync-now", flag.ExitOnError)

	fs.StringVar(&cmd.Projects, "projects", "", "Comma-separated project keys (defaults to JIRA_PROJECTS)")
	fs.StringVar(&cmd.DatabasePath, "db", config.DefaultDatabasePath, "Path to the local database file")
	fs.BoolVar(&cmd.OnlyWorklogs, "only-with-worklogs", false, "Sync only issues that carry worklogs")
	fs.BoolVar(&cmd.Reclassify, "reclassify", false, "Re-run resource classification over stored worklogs")
	fs.BoolVar(&cmd.ValidateData, "validate", false, "Record extra validation fields on checkpoints")
	fs.BoolVar(&cmd.CleanupOrphaned, "cleanup-orphaned", false, "Flag worklogs whose issues vanished upstream")
	fs.IntVar(&cmd.BatchSize, "batch-size", 0, "Issues per chunk (defaults to SYNC_ISSUE_BATCH_SIZE)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s sync-now [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Run a full JIRA sync in the foreground.\n\n")
		fmt.Fprintf(os.Stderr, "JIRA credentials are read from JIRA_BASE_URL, JIRA_EMAIL and\n")
		fmt.Fprintf(os.Stderr, "JIRA_API_TOKEN environment variables.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Sync all configured projects:\n")
		fmt.Fprintf(os.Stderr, "  %s sync-now\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  # Sync two projects with a smaller chunk size:\n")
		fmt.Fprintf(os.Stderr, "  %s sync-now -projects PROJ,OPS -batch-size 10\n", os.Args[0])
	}

	return fs.Parse(args)
}

// Run executes the sync.
func (cmd *SyncNowCommand) Run() error {
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

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	runs := syncruns.NewRepository(db.DB)
	orchestrator := syncer.NewOrchestrator(
		jira.NewClient(cfg.Jira.BaseURL, cfg.Jira.Email, cfg.Jira.APIToken),
		runs,
		checkpoints.NewRepository(db.DB),
		mirror.NewRepository(db.DB),
		projectstatus.NewRepository(db.DB),
		progress.LogEmitter{},
		keys,
		cfg.Sync,
	)

	run, err := runs.Claim(entities.SyncTypeManual, keys, &cliTriggeredBy)
	if err != nil {
		return err
	}

	opts := syncer.Options{
		ProjectKeys:            keys,
		SyncType:               entities.SyncTypeManual,
		OnlyIssuesWithWorklogs: cmd.OnlyWorklogs,
		ReclassifyResources:    cmd.Reclassify,
		ValidateData:           cmd.ValidateData,
		CleanupOrphaned:        cmd.CleanupOrphaned,
	}
	opts.Batch.IssueBatchSize = cmd.BatchSize
	opts = opts.WithDefaults(cfg.Sync)

	// SIGINT marks the run cancelled; the orchestrator stops at the next
	// chunk boundary.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		err = orchestrator.Run(ctx, run.ID, opts)
		if err == nil {
			break
		}
		if !syncer.IsRetryableRunError(err) {
			return err
		}
		fmt.Fprintf(os.Stderr, "Sync attempt failed, retrying: %v\n", err)
	}

	final, err := runs.Get(run.ID)
	if err != nil {
		return err
	}
	fmt.Printf("Sync run %d finished: %s (%d projects, %d issues, %d worklogs, %d errors)\n",
		final.ID, final.Status, final.ProcessedProjects, final.ProcessedIssues,
		final.ProcessedWorklogs, final.ErrorCount)
	return nil
}
