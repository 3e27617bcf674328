package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/friendflow/internal/automation/bridge"
	"github.com/Iron-Ham/friendflow/internal/config"
	"github.com/Iron-Ham/friendflow/internal/journal"
	"github.com/Iron-Ham/friendflow/internal/logging"
	"github.com/Iron-Ham/friendflow/internal/taskstore"
	"github.com/Iron-Ham/friendflow/internal/welcome"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify configuration and connectivity",
	Long: `Check that the configuration is valid, the task store accepts the app
credentials and resolves the table, the welcome steps load, the journal opens
and the automation helper answers.`,
	RunE: runCheck,
}

var (
	checkTimeout    time.Duration
	checkSkipBridge bool
)

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 15*time.Second, "Timeout for each network check")
	checkCmd.Flags().BoolVar(&checkSkipBridge, "skip-bridge", false, "Do not contact the automation helper")
}

// checker prints one line per check and remembers failures.
type checker struct {
	w      io.Writer
	failed int
}

func (c *checker) pass(name, detail string) {
	fmt.Fprintf(c.w, "  ✓ %-12s %s\n", name, detail)
}

func (c *checker) fail(name string, err error) {
	c.failed++
	fmt.Fprintf(c.w, "  ✗ %-12s %v\n", name, err)
}

func (c *checker) skip(name, why string) {
	fmt.Fprintf(c.w, "  - %-12s %s\n", name, why)
}

func runCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	c := &checker{w: out}
	fmt.Fprintln(out, "Checking friendflow setup:")

	cfg, err := loadRunConfig()
	if err != nil {
		c.fail("config", err)
		return fmt.Errorf("%d check(s) failed", c.failed)
	}
	c.pass("config", configSource())

	steps, source, err := welcome.Resolve(cfg.Welcome)
	switch {
	case err != nil:
		c.fail("welcome", err)
	case cfg.Welcome.Enabled && len(steps) == 0:
		c.fail("welcome", fmt.Errorf("enabled but no steps are configured"))
	default:
		c.pass("welcome", fmt.Sprintf("%d step(s) from %s, enabled=%v", len(steps), source, cfg.Welcome.Enabled))
	}

	checkTaskStore(cmd.Context(), c, cfg)

	if cfg.Journal.Enabled {
		path := cfg.Journal.JournalPath()
		if j, err := journal.Open(path); err != nil {
			c.fail("journal", err)
		} else {
			_ = j.Close()
			c.pass("journal", path)
		}
	} else {
		c.skip("journal", "disabled, attempts are kept in memory")
	}

	if checkSkipBridge {
		c.skip("automation", "skipped")
	} else {
		checkBridge(cmd.Context(), c, cfg)
	}

	if c.failed > 0 {
		return fmt.Errorf("%d check(s) failed", c.failed)
	}
	fmt.Fprintln(out, "All checks passed.")
	return nil
}

func checkTaskStore(ctx context.Context, c *checker, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	client, err := taskstore.New(taskstore.OptionsFromConfig(cfg.TaskStore), logging.NopLogger())
	if err != nil {
		c.fail("task store", err)
		return
	}
	if err := client.Ping(ctx); err != nil {
		c.fail("task store", err)
		return
	}
	c.pass("task store", "credentials accepted")

	table, err := client.Table(ctx)
	if err != nil {
		c.fail("table", err)
		return
	}
	recs, err := client.QueryByStatus(ctx, taskstore.StatusPendingAdd)
	if err != nil {
		c.fail("table", err)
		return
	}
	c.pass("table", fmt.Sprintf("%s/%s, %d record(s) pending", table.AppToken, table.TableID, len(recs)))
}

func checkBridge(ctx context.Context, c *checker, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	client := bridge.New(bridge.DefaultOptions(cfg.Automation.BridgeURL), logging.NopLogger())
	defer func() { _ = client.Close() }()

	running, err := client.Running(ctx)
	if err != nil {
		c.fail("automation", fmt.Errorf("helper at %s: %w", cfg.Automation.BridgeURL, err))
		return
	}
	if !running {
		c.pass("automation", "helper reachable, client not running (it will be launched)")
		return
	}
	c.pass("automation", "helper reachable, client running")
}
