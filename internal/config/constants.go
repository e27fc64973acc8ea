package config

// Default paths and sync tuning knobs.
const (
	// DefaultDatabasePath is the default path for the main application database
	DefaultDatabasePath = "./jirasync.db"

	// DefaultIssueBatchSize bounds memory per chunk: issues are fetched and
	// processed in pages of this size regardless of total dataset size.
	DefaultIssueBatchSize = 25

	// DefaultWorklogWindow bounds per-issue worklog fetches to the most
	// recent N entries so huge issues cannot trigger unbounded API calls.
	DefaultWorklogWindow = 100

	// DefaultMaxRetryAttempts is the orchestrator attempt budget before a
	// run settles as failed.
	DefaultMaxRetryAttempts = 3
)
