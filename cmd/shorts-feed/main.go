// Command shorts-feed serves the short-video feed API and runs its maintenance jobs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/justestif/go-shorts-feed/internal/config"
	"github.com/justestif/go-shorts-feed/internal/log"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "shorts-feed",
		Short:         "Short-video feed service",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.PersistentFlags().String("config", "", "Path to YAML config file (environment overrides apply)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newPruneCmd())
	root.AddCommand(newPlayCmd())
	return root
}

// loadConfig reads the --config flag, loads the configuration and configures logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	log.Configure(log.Config{Level: cfg.Log.Level, Output: os.Stderr})
	return cfg, nil
}
