package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/fenilsonani/organizer/internal/config"
	"github.com/fenilsonani/organizer/internal/progress"
	"github.com/fenilsonani/organizer/internal/reporter"
	"github.com/fenilsonani/organizer/internal/transaction"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newHistoryCmd(g *globalFlags) *cobra.Command {
	out := &outputFlags{}
	var limit int
	var prune time.Duration
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled transactions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := g.setup(cmd, nil, needJournal)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); err == nil {
					err = cerr
				}
			}()

			if cmd.Flags().Changed("prune") {
				if prune < 0 {
					return fmt.Errorf("--prune must not be negative")
				}
				pruned, err := a.manager.Prune(prune)
				if err != nil {
					return fmt.Errorf("failed to prune history: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Pruned %d transaction(s) older than %s\n", len(pruned), prune)
			}

			txns, err := a.manager.History(limit)
			if err != nil {
				return fmt.Errorf("failed to read history: %w", err)
			}
			return out.write(cmd, func(r *reporter.Reporter) error {
				return r.History(txns)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of transactions to show (0 for all)")
	cmd.Flags().DurationVar(&prune, "prune", 0, "delete transactions that finished longer ago than this (e.g. 720h)")
	out.register(cmd, string(reporter.FormatTable))
	return cmd
}

func newUndoCmd(g *globalFlags) *cobra.Command {
	out := &outputFlags{}
	cmd := &cobra.Command{
		Use:   "undo <transaction-id>",
		Short: "Reverse a committed transaction",
		Long: `Moves every file of a committed transaction back to its original path.
The id may be abbreviated to any unique prefix. Transactions interrupted
mid-commit are reconstructed from their journal and reverted too.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := g.setup(cmd, nil, needJournal)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); err == nil {
					err = cerr
				}
			}()

			txn, undoErr := a.manager.Undo(cmd.Context(), args[0])
			if txn != nil {
				if rerr := out.write(cmd, func(r *reporter.Reporter) error {
					return r.Transaction(txn, false)
				}); rerr != nil && undoErr == nil {
					undoErr = rerr
				}
			}
			switch {
			case errors.Is(undoErr, transaction.ErrNotFound):
				return fmt.Errorf("no transaction matches %q", args[0])
			case errors.Is(undoErr, transaction.ErrAmbiguousID):
				return fmt.Errorf("transaction id %q is ambiguous; use more characters", args[0])
			case undoErr != nil:
				return fmt.Errorf("undo failed: %w", undoErr)
			}
			return nil
		},
	}
	out.register(cmd, string(reporter.FormatSummary))
	return cmd
}

func newCacheCmd(g *globalFlags) *cobra.Command {
	out := &outputFlags{}
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the persistent hash cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache size and hit rate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := g.setup(cmd, nil, needCache)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); err == nil {
					err = cerr
				}
			}()

			stats, err := a.cache.Stats()
			if err != nil {
				return fmt.Errorf("failed to read cache stats: %w", err)
			}
			return out.write(cmd, func(r *reporter.Reporter) error {
				return r.CacheStats(stats, a.cache.Path())
			})
		},
	}
	out.register(statsCmd, string(reporter.FormatSummary))

	vacuumCmd := &cobra.Command{
		Use:   "vacuum",
		Short: "Drop entries for files that no longer exist or changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := g.setup(cmd, nil, needCache)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); err == nil {
					err = cerr
				}
			}()

			res, err := a.cache.Vacuum(cmd.Context())
			if err != nil {
				return fmt.Errorf("vacuum failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scanned %d entries, removed %d stale (%s -> %s)\n",
				res.Scanned, res.Removed, progress.FormatBytes(res.BytesBefore), progress.FormatBytes(res.BytesAfter))
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cache entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := g.setup(cmd, nil, needCache)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); err == nil {
					err = cerr
				}
			}()

			if err := a.cache.Clear(); err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", a.cache.Path())
			return nil
		},
	}

	cacheCmd.AddCommand(statsCmd, vacuumCmd, clearCmd)
	return cacheCmd
}

func newConfigCmd(g *globalFlags) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the example configuration if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := g.resolvedConfigPath()
			created, err := config.EnsureConfigExists(path)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Config file already exists: %s\n", path)
			}
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Prints the configuration after applying, in order: built-in defaults,
the config file, ORGANIZER_* environment variables and flags.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(cmd, nil)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", g.resolvedConfigPath())
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	configCmd.AddCommand(initCmd, showCmd)
	return configCmd
}
