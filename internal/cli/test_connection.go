package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/timepulse/jirasync/internal/config"
	"github.com/timepulse/jirasync/internal/jira"
)

// TestConnectionCommand verifies JIRA credentials and project visibility.
type TestConnectionCommand struct {
	Projects string
	Timeout  time.Duration
}

// NewTestConnectionCommand creates a new TestConnectionCommand.
func NewTestConnectionCommand() *TestConnectionCommand {
	return &TestConnectionCommand{}
}

// ParseFlags parses command line flags.
func (cmd *TestConnectionCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("test-connection", flag.ExitOnError)

	fs.StringVar(&cmd.Projects, "projects", "", "Also verify these project keys are visible (defaults to JIRA_PROJECTS)")
	fs.DurationVar(&cmd.Timeout, "timeout", 30*time.Second, "Overall timeout")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s test-connection [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Verify JIRA credentials from JIRA_BASE_URL, JIRA_EMAIL and JIRA_API_TOKEN.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	return fs.Parse(args)
}

// Run performs the connection test.
func (cmd *TestConnectionCommand) Run() error {
	cfg := config.NewConfig()
	client := jira.NewClient(cfg.Jira.BaseURL, cfg.Jira.Email, cfg.Jira.APIToken)

	ctx, cancel := context.WithTimeout(context.Background(), cmd.Timeout)
	defer cancel()

	status, err := client.TestConnection(ctx)
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	fmt.Printf("Connection OK: %s", status.Message)
	if status.Account != "" {
		fmt.Printf(" (account: %s)", status.Account)
	}
	fmt.Println()

	keys := cfg.Jira.AllowedProjects
	if cmd.Projects != "" {
		keys = config.SplitProjectKeys(cmd.Projects)
	}
	if len(keys) == 0 {
		return nil
	}

	found, err := client.GetProjects(ctx, keys)
	if err != nil {
		return fmt.Errorf("project lookup failed: %w", err)
	}

	visible := make(map[string]bool, len(found))
	for _, p := range found {
		visible[p.Key] = true
		fmt.Printf("  %-12s %s\n", p.Key, p.Name)
	}
	for _, k := range keys {
		if !visible[k] {
			fmt.Printf("  %-12s NOT VISIBLE\n", k)
		}
	}
	return nil
}
