package main

import (
	"errors"
	"fmt"
	"os"

	"lmsrun/internal/campaign"

	"github.com/spf13/cobra"
)

// runRecon scans every course and prints the counts without processing.
func runRecon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	rt, err := openRuntime(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	rep, err := rt.orchestrator(nil).Recon(ctx)
	renderRecon(os.Stdout, rep)
	switch {
	case errors.Is(err, campaign.ErrNotAuthenticated):
		return fmt.Errorf("%w: run \"lmsrun login\" first", err)
	case err != nil && ctx.Err() != nil:
		return errInterrupted
	}
	return err
}
