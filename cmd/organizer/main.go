package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// globalFlags are shared by every command
type globalFlags struct {
	configPath  string
	verbose     int
	metricsFile string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "organizer",
		Short: "Duplicate detection and transactional file organization",
		Long: `Organizer scans a directory tree, groups byte-identical files and moves
files into category folders. Every reorganization runs as a journaled
transaction: it either completes or is rolled back, and can be undone later.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", "", "config file path (default $XDG_CONFIG_HOME/organizer/config.yaml)")
	rootCmd.PersistentFlags().CountVarP(&g.verbose, "verbose", "v", "verbose output (repeat for more)")
	rootCmd.PersistentFlags().StringVar(&g.metricsFile, "metrics-file", "", "write Prometheus metrics to this file")

	rootCmd.AddCommand(
		newScanCmd(g),
		newDuplicatesCmd(g),
		newOrganizeCmd(g),
		newHistoryCmd(g),
		newUndoCmd(g),
		newCacheCmd(g),
		newConfigCmd(g),
	)
	return rootCmd
}
