package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pgkeep/pgkeep/internal/config"
)

// Build-time version injection via ldflags, matching the rest of this
// module's binaries.
var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

var configFile string

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Fatal error: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := buildRootCmd()
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pgkeepd",
		Short: "pgkeepd manages scheduled backup, restore, and retention for PostgreSQL-wire-compatible servers",
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/pgkeep/pgkeep.conf", "configuration file path")
	root.AddCommand(buildRunCmd())
	return root
}

func buildRunCmd() *cobra.Command {
	var foreground bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start pgkeepd, serving the management protocol until a shutdown signal arrives",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(foreground)
		},
	}
	cmd.Flags().BoolVar(&foreground, "foreground", true, "stay attached to the controlling terminal (daemonizing is left to the process supervisor)")
	return cmd
}

func runDaemon(foreground bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	if err := setupLogging(cfg.Main, foreground); err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}

	d, err := newDaemon(cfg)
	if err != nil {
		return fmt.Errorf("initializing daemon: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}
	slog.Info("pgkeepd started", "config", configFile)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutdown signal received, stopping")
	d.Stop()
	slog.Info("pgkeepd stopped")
	return nil
}
