package main

import (
	"context"
	"fmt"
	"os"

	"lmsrun/internal/history"
	"lmsrun/internal/ledger"

	"github.com/spf13/cobra"
)

// runStatus prints the ledger without touching the browser. A corrupt ledger
// is reported, never reset.
func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := ledger.Open(cfg.Path(cfg.Ledger.Path), ledger.PolicyFail)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	global, lastRun := store.Snapshot()
	renderStatus(os.Stdout, store.Courses(), global, lastRun)
	return nil
}

// runHistory lists the most recent runs.
func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Output.DisableHistory || cfg.Output.HistoryDB == "" {
		return fmt.Errorf("run history is disabled in %s", cfg.Workspace)
	}

	ctx := context.Background()
	h, err := history.Open(ctx, cfg.Path(cfg.Output.HistoryDB))
	if err != nil {
		return err
	}
	defer h.Close()

	runs, err := h.Recent(ctx, historyLimit)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	renderHistory(os.Stdout, runs)
	return nil
}
