package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/remoteupdate/internal/config"
	"github.com/muurk/remoteupdate/internal/logging"
	"github.com/muurk/remoteupdate/internal/ui"
	"github.com/muurk/remoteupdate/internal/updater"
	"github.com/muurk/remoteupdate/internal/version"
)

// Run command flags
var (
	configPath string
	envFile    string
	logLevel   string
	logFile    string
	interval   time.Duration
	debug      bool
	showStatus bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the update agent",
	Long: `Run the update agent until interrupted.

The agent polls the network link. When the link comes up it advertises the
host over mDNS, serves the web upload page on port 80 and starts the
background update listener if enabled. When the link drops it withdraws the
advertisement. Received images are staged in the firmware directory and, if
firmware.apply_command is set, handed to that command.`,
	Example: `  # Run with the default configuration file
  updater-agent run

  # Use a specific configuration and debug logging
  updater-agent run --config /etc/remoteupdate/config.yaml --log-level debug

  # Show a live status view, logging to a file
  updater-agent run --tui --log-file /var/log/remoteupdate.log`,
	RunE: runAgent,
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "Path to config.yaml (default: user configuration directory)")
	runCmd.Flags().StringVar(&envFile, "env-file", ".env", "Environment file with REMOTEUPDATE_* overrides (skipped if missing)")
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	runCmd.Flags().StringVar(&logFile, "log-file", "", "Write logs to a rotated file instead of stdout")
	runCmd.Flags().DurationVar(&interval, "interval", 0, "Link poll interval (default 10ms)")
	runCmd.Flags().BoolVar(&debug, "debug", false, "Log the readiness summary, including credentials")
	runCmd.Flags().BoolVar(&showStatus, "tui", false, "Show a live status view")
}

func runAgent(cmd *cobra.Command, args []string) error {
	if err := config.LoadEnvFiles(envFile); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug = debug
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFile != "" {
		cfg.Log.File = logFile
	}
	if interval > 0 {
		cfg.Link.PollInterval = interval
	}

	// The status view owns stdout; only file logging stays on.
	level := cfg.Log.Level
	if showStatus && cfg.Log.File == "" {
		level = logging.LevelOff
	}
	if err := logging.InitializeWithOptions(logging.Options{Level: level, File: cfg.Log.File}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	a, err := newAgent(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			logging.Warn("Shutdown incomplete", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info("Update agent started",
		zap.String("version", version.Version),
		zap.Bool("portal", cfg.Portal.Enabled),
		zap.Bool("listener", cfg.OTA.Enabled),
		zap.Duration("interval", cfg.PollInterval()),
	)

	if !showStatus {
		err = updater.Run(ctx, a.ctrl, cfg.PollInterval(), logTransition)
		logging.Info("Update agent stopped")
		return err
	}
	return runWithStatus(ctx, stop, a, cfg.PollInterval())
}

func logTransition(s updater.Snapshot) {
	logging.LogLinkChange(s.Transition.String(), s.HostIdentity, s.Connected)
}

// runWithStatus runs the poll loop behind the Bubble Tea status view.
func runWithStatus(ctx context.Context, stop context.CancelFunc, a *agent, interval time.Duration) error {
	model := ui.NewStatusModel("Update Agent", a.info(), stop)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	done := make(chan error, 1)
	go func() {
		err := updater.Run(ctx, a.ctrl, interval, ui.Observer(p))
		done <- err
		p.Send(ui.StoppedMsg{Err: err})
	}()

	_, viewErr := p.Run()
	interrupted := ctx.Err() != nil
	stop()
	runErr := <-done
	if viewErr != nil && !interrupted {
		return fmt.Errorf("status view failed: %w", viewErr)
	}
	return runErr
}
