package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"lmsrun/internal/browser"
	"lmsrun/internal/campaign"
	"lmsrun/internal/config"
	"lmsrun/internal/discovery"
	"lmsrun/internal/history"
	"lmsrun/internal/ledger"
	"lmsrun/internal/logging"
	"lmsrun/internal/stats"
	"lmsrun/internal/tracing"
	"lmsrun/internal/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// runtime bundles the stores and the browser a command needs.
type runtime struct {
	cfg     *config.Config
	ledger  *ledger.Store
	stats   *stats.Recorder
	history *history.Store // nil when disabled or unavailable
	browser *browser.SessionManager

	shutdownTracing tracing.Shutdown
}

// openRuntime opens the ledger, history and tracing exporter, and starts the
// browser when withBrowser is set.
func openRuntime(ctx context.Context, cfg *config.Config, withBrowser bool) (*runtime, error) {
	policy := ledger.CorruptPolicy(cfg.Ledger.OnCorrupt)
	if policy == "" {
		policy = ledger.PolicyFail
	}
	store, err := ledger.Open(cfg.Path(cfg.Ledger.Path), policy)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	rt := &runtime{cfg: cfg, ledger: store, stats: stats.NewRecorder()}

	if !cfg.Output.DisableHistory && cfg.Output.HistoryDB != "" {
		h, err := history.Open(ctx, cfg.Path(cfg.Output.HistoryDB))
		if err != nil {
			logger.Warn("Run history disabled", zap.Error(err))
		} else {
			rt.history = h
		}
	}

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(ctx, cfg.Path(cfg.Tracing.File), version)
		if err != nil {
			logger.Warn("Tracing disabled", zap.Error(err))
		} else {
			rt.shutdownTracing = shutdown
		}
	}

	if withBrowser {
		rt.browser = browser.NewSessionManager(browser.ConfigFrom(cfg))
		// The browser outlives the signal context so in-flight tabs can finish.
		if err := rt.browser.Start(context.Background()); err != nil {
			rt.Close()
			return nil, fmt.Errorf("start browser: %w", err)
		}
	}
	return rt, nil
}

// Close releases everything openRuntime acquired.
func (rt *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if rt.browser != nil {
		if err := rt.browser.Shutdown(ctx); err != nil {
			logger.Warn("Browser shutdown failed", zap.Error(err))
		}
	}
	if rt.history != nil {
		if err := rt.history.Close(); err != nil {
			logger.Warn("History close failed", zap.Error(err))
		}
	}
	if rt.shutdownTracing != nil {
		if err := rt.shutdownTracing(ctx); err != nil {
			logger.Warn("Tracing shutdown failed", zap.Error(err))
		}
	}
}

// orchestrator wires the runtime into a campaign orchestrator.
func (rt *runtime) orchestrator(events chan campaign.OrchestratorEvent) *campaign.Orchestrator {
	cfg := rt.cfg
	oc := campaign.OrchestratorConfig{
		Browser:               rt.browser,
		Discoverer:            discovery.New(discovery.ConfigFrom(cfg), types.NewClassifier(nil, cfg.Execution.SkipPatterns)),
		Ledger:                rt.ledger,
		Stats:                 rt.stats,
		EventChan:             events,
		Parallelism:           cfg.Execution.Parallelism,
		MaxAttempts:           cfg.Execution.MaxRetries,
		RetryPause:            cfg.GetRetryPause(),
		RunRecon:              cfg.Execution.RunRecon,
		AvgSecondsPerActivity: cfg.Execution.AvgSecondsPerActivity,
		Timing:                cfg.Timing,
		CompletionSelectors:   cfg.LMS.CompletionSelectors,
		ExternalLinkSelector:  cfg.LMS.ExternalLinkSelector,
		ReportsDir:            cfg.Path(cfg.Output.ReportsDir),
		MetricsFile:           cfg.Path(cfg.Output.MetricsFile),
	}
	if rt.history != nil {
		oc.History = rt.history
	}
	return campaign.NewOrchestrator(oc)
}

// runAutomation is the default command: recon, prioritize, process.
func runAutomation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if noRecon {
		cfg.Execution.RunRecon = false
	}

	ctx, stop := signalContext()
	defer stop()

	rt, err := openRuntime(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	logger.Info("Starting run",
		zap.String("courses_url", cfg.LMS.CoursesURL),
		zap.Int("parallelism", cfg.Execution.Parallelism),
		zap.Bool("headless", cfg.Browser.Headless))

	events := make(chan campaign.OrchestratorEvent, 64)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range events {
			renderEvent(os.Stdout, ev, rt.ledger)
		}
	}()

	orch := rt.orchestrator(events)
	res, runErr := orch.Run(ctx)
	// Run has returned, so nothing sends on events any more.
	close(events)
	<-printed

	renderSummary(os.Stdout, res)

	switch {
	case res != nil && res.Interrupted:
		logging.CampaignWarn("Run interrupted, progress saved to %s", rt.ledger.Path())
		return errInterrupted
	case errors.Is(runErr, campaign.ErrNotAuthenticated):
		return fmt.Errorf("%w: run \"lmsrun login\" first", runErr)
	}
	return runErr
}
