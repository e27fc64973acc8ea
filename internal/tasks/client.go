package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mikestefanello/backlite"
)

// Client runs the task queue as a set of priority lanes. Every lane is its
// own backlite client with its own worker pool, all sharing one dedicated
// SQLite tasks database; queues are registered per lane, so a saturated lane
// never claims another lane's work.
type Client struct {
	lanes  map[string]*backlite.Client
	db     *sql.DB
	config Config

	mu      sync.RWMutex
	started bool
}

// NewClient creates a task queue client with a dedicated SQLite database
// stored alongside the main database with a "-tasks" suffix.
func NewClient(mainDBPath string, cfg Config) (*Client, error) {
	queueSettings = cfg

	dir := filepath.Dir(mainDBPath)
	base := filepath.Base(mainDBPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	tasksDBPath := filepath.Join(dir, name+"-tasks"+ext)

	db, err := sql.Open("sqlite3", tasksDBPath+"?_journal=WAL&_timeout=5000&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open tasks database: %w", err)
	}

	totalWorkers := cfg.Manual.Workers + cfg.Daily.Workers + cfg.Worklog.Workers + cfg.Maintenance.Workers
	db.SetMaxOpenConns(totalWorkers + 5)
	db.SetMaxIdleConns(totalWorkers + 2)
	db.SetConnMaxLifetime(time.Hour)

	lanes := make(map[string]*backlite.Client, 4)
	for laneName, laneCfg := range map[string]LaneConfig{
		LaneManual:      cfg.Manual,
		LaneDaily:       cfg.Daily,
		LaneWorklog:     cfg.Worklog,
		LaneMaintenance: cfg.Maintenance,
	} {
		client, err := backlite.NewClient(backlite.ClientConfig{
			DB:              db,
			NumWorkers:      laneCfg.Workers,
			ReleaseAfter:    cfg.ReleaseAfter,
			CleanupInterval: cfg.CleanupInterval,
			Logger:          &laneLogger{lane: laneName},
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create %s lane: %w", laneName, err)
		}
		lanes[laneName] = client
	}

	// Schema install is idempotent; one lane is enough.
	if err := lanes[LaneManual].Install(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to install task schema: %w", err)
	}

	return &Client{
		lanes:  lanes,
		db:     db,
		config: cfg,
	}, nil
}

// Register registers task queues on a lane. Must be called before Start().
func (c *Client) Register(lane string, queues ...backlite.Queue) error {
	client, ok := c.lanes[lane]
	if !ok {
		return fmt.Errorf("unknown task lane %q", lane)
	}
	for _, q := range queues {
		client.Register(q)
	}
	return nil
}

// Start begins processing on every lane. Non-blocking; use Stop() for
// graceful shutdown.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	for lane, client := range c.lanes {
		log.Printf("Task lane %s started with %d worker(s)", lane, c.laneWorkers(lane))
		client.Start(ctx)
	}
}

func (c *Client) laneWorkers(lane string) int {
	switch lane {
	case LaneManual:
		return c.config.Manual.Workers
	case LaneDaily:
		return c.config.Daily.Workers
	case LaneWorklog:
		return c.config.Worklog.Workers
	case LaneMaintenance:
		return c.config.Maintenance.Workers
	}
	return 0
}

// Stop gracefully shuts down all lanes, waiting for active tasks to finish.
// Returns true if every lane drained before the context deadline.
func (c *Client) Stop(ctx context.Context) bool {
	c.mu.RLock()
	if !c.started {
		c.mu.RUnlock()
		return true
	}
	c.mu.RUnlock()

	log.Println("Stopping task lanes...")
	success := true
	for lane, client := range c.lanes {
		if !client.Stop(ctx) {
			log.Printf("Task lane %s stopped with timeout (some tasks may not have completed)", lane)
			success = false
		}
	}
	if success {
		log.Println("All task lanes stopped gracefully")
	}
	return success
}

// Close releases all resources. Should be called after Stop().
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Add starts an operation to enqueue one or more tasks on a lane.
func (c *Client) Add(lane string, task backlite.Task) (*backlite.TaskAddOp, error) {
	client, ok := c.lanes[lane]
	if !ok {
		return nil, fmt.Errorf("unknown task lane %q", lane)
	}
	return client.Add(task), nil
}

// DB returns the underlying tasks database connection.
func (c *Client) DB() *sql.DB {
	return c.db
}

// laneLogger implements backlite.Logger using the standard library log.
type laneLogger struct {
	lane string
}

func (l *laneLogger) Info(message string, params ...any) {
	log.Printf("[TASK "+l.lane+"] "+message, params...)
}

func (l *laneLogger) Error(message string, params ...any) {
	log.Printf("[TASK "+l.lane+" ERROR] "+message, params...)
}
