package entrypoint

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/timepulse/jirasync/internal/config"
	"github.com/timepulse/jirasync/internal/database"
	"github.com/timepulse/jirasync/internal/database/checkpoints"
	"github.com/timepulse/jirasync/internal/database/mirror"
	"github.com/timepulse/jirasync/internal/database/projectstatus"
	"github.com/timepulse/jirasync/internal/database/syncruns"
	http_controllers "github.com/timepulse/jirasync/internal/http"
	"github.com/timepulse/jirasync/internal/jira"
	"github.com/timepulse/jirasync/internal/progress"
	"github.com/timepulse/jirasync/internal/scheduler"
	"github.com/timepulse/jirasync/internal/syncer"
	"github.com/timepulse/jirasync/internal/tasks"
)

// ShutdownFunc is called during graceful shutdown to clean up resources.
type ShutdownFunc func(ctx context.Context)

// SetupLogging routes log output to the rotating file when configured,
// mirroring everything to stderr.
func SetupLogging(cfg config.Logging) {
	if cfg.File == "" {
		return
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	log.Printf("Logging to %s (max %dMB, %d backups, %d days)",
		cfg.File, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
}

// Serve runs the HTTP server until a termination signal, then drains
// everything through the shutdown callback.
func Serve(router *gin.Engine, cfg *config.Config, onShutdown ShutdownFunc) {
	timeout := time.Duration(cfg.Global.ShutdownTimeoutInSeconds) * time.Second

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler: router,
	}

	go func() {
		fmt.Printf("Starting server at %s:%d\n", cfg.HTTP.Host, cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("Shutdown Server, waiting %v before killing\n", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Stop task workers and schedulers before closing the listener so
	// in-flight syncs checkpoint cleanly.
	if onShutdown != nil {
		onShutdown(ctx)
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}

	log.Println("Server exiting")
}

// Run wires the whole service together and serves until shutdown.
func Run(cfg *config.Config, version string) {
	log.Printf("Starting jirasync v%s", version)

	SetupLogging(cfg.Logging)

	if cfg.Jira.BaseURL == "" || cfg.Jira.Email == "" || cfg.Jira.APIToken == "" {
		log.Printf("WARNING: JIRA credentials are not fully configured. Set JIRA_BASE_URL, JIRA_EMAIL and JIRA_API_TOKEN.")
	}
	if len(cfg.Jira.AllowedProjects) == 0 {
		log.Printf("WARNING: No projects configured. Set JIRA_PROJECTS to a comma-separated list of project keys.")
	}

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	runs := syncruns.NewRepository(db.DB)
	cps := checkpoints.NewRepository(db.DB)
	mirrorRepo := mirror.NewRepository(db.DB)
	projects := projectstatus.NewRepository(db.DB)

	source := jira.NewClient(cfg.Jira.BaseURL, cfg.Jira.Email, cfg.Jira.APIToken)

	hub := progress.NewHub()
	emitter := progress.MultiEmitter{progress.LogEmitter{}, hub}

	orchestrator := syncer.NewOrchestrator(source, runs, cps, mirrorRepo, projects, emitter, cfg.Jira.AllowedProjects, cfg.Sync)
	deltaEngine := syncer.NewDeltaEngine(source, mirrorRepo, projects, cfg.Sync.WorklogWindow)

	// Task queue: one lane per sync category
	taskCfg := tasks.DefaultConfig()
	taskCfg.Manual.Workers = cfg.Lanes.ManualWorkers
	taskCfg.Daily.Workers = cfg.Lanes.DailyWorkers
	taskCfg.Worklog.Workers = cfg.Lanes.WorklogWorkers
	taskCfg.Maintenance.Workers = cfg.Lanes.MaintenanceWorkers
	taskCfg.Manual.Timeout = cfg.Lanes.ManualTimeout
	taskCfg.Daily.Timeout = cfg.Lanes.DailyTimeout
	taskCfg.Worklog.Timeout = cfg.Lanes.WorklogTimeout
	taskCfg.Maintenance.Timeout = cfg.Lanes.MaintenanceTimeout
	taskCfg.ReleaseAfter = cfg.Lanes.ReleaseAfter
	taskCfg.CleanupInterval = cfg.Lanes.CleanupInterval
	taskCfg.RetentionDuration = cfg.Lanes.RetentionDuration

	taskClient, err := tasks.NewClient(cfg.Database.Path, taskCfg)
	if err != nil {
		log.Fatalf("Failed to initialize task queue: %v", err)
	}
	defer func() {
		if err := taskClient.Close(); err != nil {
			log.Printf("Error closing task client: %v", err)
		}
	}()

	if err := taskClient.Register(tasks.LaneManual, tasks.NewFullSyncQueue(orchestrator)); err != nil {
		log.Fatalf("Failed to register manual lane: %v", err)
	}
	if err := taskClient.Register(tasks.LaneDaily, tasks.NewDailySyncQueue(orchestrator)); err != nil {
		log.Fatalf("Failed to register daily lane: %v", err)
	}
	if err := taskClient.Register(tasks.LaneWorklog, tasks.NewWorklogSyncQueue(deltaEngine)); err != nil {
		log.Fatalf("Failed to register worklog lane: %v", err)
	}
	orphanSweep := syncer.NewOrphanSweep(source, mirrorRepo)
	if err := taskClient.Register(tasks.LaneMaintenance,
		tasks.NewStaleRunSweepQueue(runs),
		tasks.NewCleanupOrphansQueue(orphanSweep),
	); err != nil {
		log.Fatalf("Failed to register maintenance lane: %v", err)
	}

	taskCtx, taskCtxCancel := context.WithCancel(context.Background())
	taskClient.Start(taskCtx)

	// Schedulers
	dailyScheduler := scheduler.NewDailySyncScheduler(cfg, runs, projects, taskClient)
	worklogScheduler := scheduler.NewWorklogSyncScheduler(cfg, taskClient)
	staleSweeper := scheduler.NewStaleSweepScheduler(cfg, taskClient)

	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	if err := dailyScheduler.Start(schedulerCtx); err != nil {
		log.Fatalf("Failed to start daily sync scheduler: %v", err)
	}
	if err := worklogScheduler.Start(schedulerCtx); err != nil {
		log.Fatalf("Failed to start worklog sync scheduler: %v", err)
	}
	if err := staleSweeper.Start(schedulerCtx); err != nil {
		log.Fatalf("Failed to start stale run sweeper: %v", err)
	}

	routerCfg := http_controllers.RouterConfig{
		Database:        db,
		Runs:            runs,
		Checkpoints:     cps,
		Projects:        projects,
		Source:          source,
		TaskQueue:       taskClient,
		Hub:             hub,
		SyncConfig:      cfg.Sync,
		AllowedProjects: cfg.Jira.AllowedProjects,
		APIToken:        cfg.HTTP.APIToken,
		Version:         version,
	}

	router := http_controllers.NewRouter(routerCfg)

	onShutdown := func(ctx context.Context) {
		schedulerCancel()
		dailyScheduler.Stop()
		worklogScheduler.Stop()
		staleSweeper.Stop()

		taskClient.Stop(ctx)
		taskCtxCancel()

		hub.Close()
	}

	Serve(router, cfg, onShutdown)
}
