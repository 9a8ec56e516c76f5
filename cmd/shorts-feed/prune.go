package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/justestif/go-shorts-feed/internal/log"
)

func newPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove progress for videos no longer in the catalog, for every user",
		RunE:  runPrune,
	}
	cmd.Flags().Bool("idle", false, "Also close idle sessions (requires maintenance.idleTimeout)")
	return cmd
}

func runPrune(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	logger := log.WithComponent("prune")

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.store.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing store")
		}
	}()

	report, err := a.maintenance.Prune(ctx, true)
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d user(s): %d skipped, %d failed\n", report.Users, report.Skipped, report.Failed)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}

	if idle, _ := cmd.Flags().GetBool("idle"); idle {
		closed, err := a.maintenance.CloseIdle(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "Closed %d idle session(s)\n", closed)
		if err != nil {
			return fmt.Errorf("closing idle sessions: %w", err)
		}
	}
	return nil
}
