package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"lmsrun/internal/config"
	"lmsrun/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "1.0.0"

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string
	headless   bool
	parallel   int
	noRecon    bool

	// Logger
	logger *zap.Logger
)

// errInterrupted marks a run stopped by a signal.
var errInterrupted = errors.New("interrupted")

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "lmsrun",
	Short: "lmsrun - resumable LMS activity completion",
	Long: `lmsrun walks every enrolled course, views each completable activity
(pages, links, forums, books) in a few parallel tabs and records what it
finished in a local ledger so an interrupted run picks up where it stopped.

Quizzes and assignments are never touched; they are listed in the report for
manual follow-up.

Run "lmsrun login" once to store a session, then run without arguments.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewDevelopmentConfig()
		zc.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		zc.DisableStacktrace = true
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.SetConsole(logger.Core())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
	Args: cobra.NoArgs,
	RunE: runAutomation,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in manually and save the session cookies",
	Long: `Opens a visible browser on the courses page. Sign in (including any
single sign-on steps), then press ENTER in this terminal. The session cookies
are saved to the workspace and reused by every later run.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var reconCmd = &cobra.Command{
	Use:   "recon",
	Short: "Count activities per course without processing anything",
	Args:  cobra.NoArgs,
	RunE:  runRecon,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ledger progress per course",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var historyLimit int

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: ./.lmsrun)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", false, "Run Chrome headless")
	rootCmd.PersistentFlags().IntVarP(&parallel, "parallel", "p", 0, "Tabs per batch (overrides config)")
	rootCmd.Flags().BoolVar(&noRecon, "no-recon", false, "Skip the recon pass")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of runs to show")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(reconCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errInterrupted) {
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves the workspace and config file and applies flag
// overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configPath
	if path == "" {
		if workspace != "" {
			path = filepath.Join(workspace, "config.yaml")
		} else {
			path = config.DefaultConfigPath()
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if workspace != "" {
		cfg.Workspace = workspace
	}
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = headless
	}
	if parallel > 0 {
		cfg.Execution.Parallelism = parallel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(cfg.Workspace, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	if err := logging.Initialize(cfg.Workspace, cfg.Logging); err != nil {
		return nil, err
	}
	logging.BootDebug("Config loaded from %s (workspace %s)", path, cfg.Workspace)
	return cfg, nil
}

// signalContext cancels on SIGINT/SIGTERM. A second signal exits at once.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 2)
	done := make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
		case <-done:
			return
		}
		logger.Warn("Interrupt received, finishing in-flight activities (press Ctrl+C again to abort)")
		cancel()
		select {
		case <-sigCh:
			os.Exit(130)
		case <-done:
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		close(done)
		cancel()
	}
}
