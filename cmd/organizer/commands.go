package main

import (
	"fmt"
	"io"

	"github.com/fenilsonani/organizer/internal/pipeline"
	"github.com/fenilsonani/organizer/internal/progress"
	"github.com/fenilsonani/organizer/internal/reporter"
	"github.com/fenilsonani/organizer/internal/ui"
	"github.com/spf13/cobra"
)

// outputFlags are shared by the reporting commands
type outputFlags struct {
	format     string
	outputFile string
}

func (o *outputFlags) register(cmd *cobra.Command, def string) {
	cmd.Flags().StringVarP(&o.format, "format", "f", def, "output format (table, summary, json, yaml)")
	cmd.Flags().StringVarP(&o.outputFile, "output", "o", "", "save report to file")
}

// write renders a report to stdout or, with --output, to a file
func (o *outputFlags) write(cmd *cobra.Command, fn func(*reporter.Reporter) error) error {
	format, err := reporter.ParseFormat(o.format)
	if err != nil {
		return err
	}
	if o.outputFile != "" {
		if err := reporter.SaveToFile(o.outputFile, format, fn); err != nil {
			return fmt.Errorf("failed to save report: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Report saved to: %s\n", o.outputFile)
		return nil
	}
	if err := fn(reporter.New(cmd.OutOrStdout(), format)); err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}
	return nil
}

// withLiveProgress runs fn with a live status line on w
func withLiveProgress(w io.Writer, bus *progress.Bus, fn func() error) error {
	lp := ui.NewLiveProgress(w)
	detach := lp.Attach(bus)
	err := fn()
	detach()
	lp.Finish()
	return err
}

func newScanCmd(g *globalFlags) *cobra.Command {
	out := &outputFlags{}
	cmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "List the files found under a directory",
		Long: `Walks the tree and lists every regular file with the category it would
be moved to. Nothing is hashed or moved.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := g.setup(cmd, rootOverride(args), 0)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); err == nil {
					err = cerr
				}
			}()

			coord, err := a.coordinator()
			if err != nil {
				return err
			}
			var summary *pipeline.Summary
			err = withLiveProgress(cmd.ErrOrStderr(), a.bus, func() error {
				var runErr error
				summary, runErr = coord.Scan(cmd.Context())
				return runErr
			})
			if err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}

			if err := out.write(cmd, func(r *reporter.Reporter) error {
				return r.Scan(summary.Scan, a.resolver)
			}); err != nil {
				return err
			}
			if s := summary.ScanErrors.Summary(); s != "" {
				fmt.Fprint(cmd.ErrOrStderr(), s)
			}
			return nil
		},
	}
	out.register(cmd, string(reporter.FormatSummary))
	return cmd
}

func newDuplicatesCmd(g *globalFlags) *cobra.Command {
	out := &outputFlags{}
	var mode string
	cmd := &cobra.Command{
		Use:   "duplicates [path]",
		Short: "Find groups of byte-identical files",
		Long: `Groups files by size, then by a partial hash, then by a full hash.

Modes:
  fast    size + partial hash only (may report false positives)
  hybrid  partial hash narrows, full hash confirms (default)
  deep    full hash of every same-size candidate`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			overrides := rootOverride(args)
			if cmd.Flags().Changed("mode") {
				overrides["duplicate_mode"] = mode
			}
			a, err := g.setup(cmd, overrides, needCache)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); err == nil {
					err = cerr
				}
			}()

			coord, err := a.coordinator()
			if err != nil {
				return err
			}
			var summary *pipeline.Summary
			err = withLiveProgress(cmd.ErrOrStderr(), a.bus, func() error {
				var runErr error
				summary, runErr = coord.ScanDuplicates(cmd.Context())
				return runErr
			})
			if err != nil {
				return fmt.Errorf("duplicate detection failed: %w", err)
			}

			return out.write(cmd, func(r *reporter.Reporter) error {
				return r.Duplicates(summary.Duplicates)
			})
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "hybrid", "detection mode (fast, hybrid, deep)")
	out.register(cmd, string(reporter.FormatTable))
	return cmd
}

func newOrganizeCmd(g *globalFlags) *cobra.Command {
	out := &outputFlags{}
	var (
		dryRun   bool
		conflict string
		useTUI   bool
		tree     bool
	)
	cmd := &cobra.Command{
		Use:   "organize [path]",
		Short: "Move files into category folders as one transaction",
		Long: `Scans, detects duplicates, plans a move for every categorized file and
commits the plan as a single journaled transaction. If any move fails, the
moves already made are rolled back.

Conflict policies:
  rename  duplicates get a " (n)" suffix next to the original (default)
  skip    duplicates of a file already placed stay where they are

Use --dry-run to print the plan without touching the filesystem.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			overrides := rootOverride(args)
			if cmd.Flags().Changed("dry-run") {
				overrides["dry_run"] = dryRun
			}
			if cmd.Flags().Changed("conflict") {
				overrides["conflict_policy"] = conflict
			}
			a, err := g.setup(cmd, overrides, needCache|needJournal)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); err == nil {
					err = cerr
				}
			}()

			coord, err := a.coordinator()
			if err != nil {
				return err
			}

			var summary *pipeline.Summary
			work := func() error {
				var runErr error
				summary, runErr = coord.Organize(cmd.Context())
				return runErr
			}
			if useTUI {
				err = ui.RunInteractive("Organizing "+a.cfg.RootPath, a.bus, coord.Cancel, work)
			} else {
				err = withLiveProgress(cmd.ErrOrStderr(), a.bus, work)
			}

			if summary != nil && summary.Transaction != nil {
				if tree {
					ui.PrintPlanTree(cmd.OutOrStdout(), summary.Transaction, 5)
				}
				if rerr := out.write(cmd, func(r *reporter.Reporter) error {
					return r.Transaction(summary.Transaction, summary.DryRun)
				}); rerr != nil && err == nil {
					err = rerr
				}
			}
			if summary != nil {
				if s := summary.ScanErrors.Summary(); s != "" {
					fmt.Fprint(cmd.ErrOrStderr(), s)
				}
				if summary.Duplicates != nil {
					if s := summary.Duplicates.Errors.Summary(); s != "" {
						fmt.Fprint(cmd.ErrOrStderr(), s)
					}
				}
			}
			if err != nil {
				return fmt.Errorf("organize failed: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan the moves without executing them")
	cmd.Flags().StringVar(&conflict, "conflict", "rename", "conflict policy (rename, skip)")
	cmd.Flags().BoolVar(&useTUI, "tui", false, "show a full-screen progress view")
	cmd.Flags().BoolVar(&tree, "tree", false, "print the planned moves as a tree")
	out.register(cmd, string(reporter.FormatSummary))
	return cmd
}
