package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/friendflow/internal/config"
	"github.com/Iron-Ham/friendflow/internal/console"
	"github.com/Iron-Ham/friendflow/internal/engine"
	"github.com/Iron-Ham/friendflow/internal/logging"
	"github.com/Iron-Ham/friendflow/internal/server"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the engine and stream its activity",
	Long: `Start the active and passive loops and print their activity to the
terminal until interrupted.

With --serve (or server.enabled in the config) the control API and event
stream are also served on server.addr.`,
	RunE: runRun,
}

var (
	runServe  bool
	runAddr   string
	runLevel  string
	runPaused bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runServe, "serve", false, "Serve the control API and event stream")
	runCmd.Flags().StringVar(&runAddr, "addr", "", "Listen address for --serve (default from server.addr)")
	runCmd.Flags().StringVar(&runLevel, "level", "", "Minimum level printed to the terminal (default from logging.level)")
	runCmd.Flags().BoolVar(&runPaused, "paused", false, "Start with both loops paused")
	_ = viper.BindPFlag("server.enabled", runCmd.Flags().Lookup("serve"))
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig()
	if err != nil {
		return err
	}
	if runAddr != "" {
		cfg.Server.Addr = runAddr
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	eng := engine.New(cfg, engine.WithLogger(logger))

	level := cfg.Logging.Level
	if runLevel != "" {
		level = runLevel
	}
	out := console.New(cmd.OutOrStdout(), console.Options{Level: level})
	out.Attach(eng.Bus())
	defer out.Detach()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		return err
	}
	if runPaused {
		eng.Pause()
	}

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(cfg.Server, eng, logger)
		if err := srv.Start(ctx); err != nil {
			_ = eng.Stop()
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Control API on http://%s (events at /events)\n", srv.Addr())
	}

	<-ctx.Done()
	fmt.Fprintln(cmd.OutOrStdout(), "\nStopping...")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown incomplete", "error", err)
		}
		cancel()
	}
	if err := eng.Stop(); err != nil && !errors.Is(err, engine.ErrStopTimeout) {
		return err
	}
	return nil
}

// loadRunConfig loads the configuration and checks the settings a running
// engine cannot do without.
func loadRunConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if errs := cfg.RequireTaskStore(); len(errs) > 0 {
		return nil, fmt.Errorf("incomplete configuration: %w", config.ValidationErrors(errs))
	}
	return cfg, nil
}

// newLogger builds the file logger, or a discarding one when file logging
// is disabled. The terminal output comes from the console either way.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.New(io.Discard, logging.LevelDebug), nil
	}
	logger, err := logging.NewLogger(logging.Options{
		Dir:   cfg.Logging.LogDir(),
		Level: cfg.Logging.Level,
		Rotation: logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return logger, nil
}
