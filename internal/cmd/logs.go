package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/friendflow/internal/config"
	"github.com/Iron-Ham/friendflow/internal/console"
	"github.com/Iron-Ham/friendflow/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View engine logs",
	Long: `View and filter the friendflow log file.

Examples:
  # Show the last 50 entries
  friendflow logs

  # Follow the log while the engine runs
  friendflow logs -f

  # Only the passive loop, warnings and above
  friendflow logs --loop passive --level warn

  # Entries of one run from the last hour
  friendflow logs --run 3f2a... --since 1h

  # Search messages and attributes
  friendflow logs --grep "timeout|not found"`,
	RunE: runLogs,
}

var (
	logsTail   int
	logsFollow bool
	logsLevel  string
	logsSince  string
	logsLoop   string
	logsRun    string
	logsGrep   string
	logsFile   string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show entries since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsLoop, "loop", "", "Only entries of one loop (active/passive)")
	logsCmd.Flags().StringVar(&logsRun, "run", "", "Only entries of one engine run ID")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter entries matching pattern (regex)")
	logsCmd.Flags().StringVar(&logsFile, "file", "", "Log file to read (default from logging.dir)")
}

// logQuery is the parsed form of the logs flags.
type logQuery struct {
	filter logging.Filter
	grep   *regexp.Regexp
}

func newLogQuery(now time.Time) (logQuery, error) {
	q := logQuery{filter: logging.Filter{
		Level: logsLevel,
		Loop:  logsLoop,
		RunID: logsRun,
	}}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return q, fmt.Errorf("invalid duration format: %w", err)
		}
		q.filter.Since = now.Add(-d)
	}
	if logsGrep != "" {
		re, err := regexp.Compile(logsGrep)
		if err != nil {
			return q, fmt.Errorf("invalid grep pattern: %w", err)
		}
		q.grep = re
	}
	return q, nil
}

func (q logQuery) apply(entries []logging.Entry) []logging.Entry {
	entries = logging.FilterEntries(entries, q.filter)
	if q.grep == nil {
		return entries
	}
	out := entries[:0]
	for _, e := range entries {
		if q.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// matches reports whether the grep pattern occurs in the message or any
// attribute value.
func (q logQuery) matches(e logging.Entry) bool {
	if q.grep == nil {
		return true
	}
	if q.grep.MatchString(e.Message) {
		return true
	}
	for _, v := range e.Attrs {
		if q.grep.MatchString(fmt.Sprint(v)) {
			return true
		}
	}
	return false
}

func logPath() (string, error) {
	if logsFile != "" {
		return logsFile, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("invalid configuration: %w", err)
	}
	return filepath.Join(cfg.Logging.LogDir(), logging.FileName), nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	path, err := logPath()
	if err != nil {
		return err
	}
	q, err := newLogQuery(time.Now())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	c := console.New(out, console.Options{Level: logging.LevelDebug})

	if logsFollow {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return followLogs(ctx, out, c, path, q)
	}

	entries, err := logging.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(out, "No logs found. Logs are written to %s\n", path)
			return nil
		}
		return err
	}
	entries = q.apply(entries)
	if logsTail > 0 && len(entries) > logsTail {
		entries = entries[len(entries)-logsTail:]
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No matching log entries found.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintln(out, c.RenderEntry(e))
	}
	return nil
}

// followLogs prints entries appended to the log file until ctx is done.
// A rotation is noticed by the file shrinking and the new file is read
// from the start.
func followLogs(ctx context.Context, out io.Writer, c *console.Console, path string, q logQuery) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}
	fmt.Fprintf(out, "Following %s... (Ctrl+C to stop)\n\n", path)

	reader := bufio.NewReader(f)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var partial string
	for {
		line, err := reader.ReadString('\n')
		offset += int64(len(line))
		if err == nil {
			printFollowed(out, c, q, partial+line)
			partial = ""
			continue
		}
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("error reading log file: %w", err)
		}
		partial += line

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if info, statErr := os.Stat(path); statErr == nil && info.Size() < offset {
			_ = f.Close()
			if f, err = os.Open(path); err != nil {
				return fmt.Errorf("failed to reopen log file: %w", err)
			}
			reader.Reset(f)
			offset, partial = 0, ""
		}
	}
}

func printFollowed(out io.Writer, c *console.Console, q logQuery, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	entry, err := logging.ParseEntry(line)
	if err != nil {
		fmt.Fprintln(out, line)
		return
	}
	if len(q.apply([]logging.Entry{entry})) == 0 {
		return
	}
	fmt.Fprintln(out, c.RenderEntry(entry))
}
