// Package pipeline drives scan, duplicate detection, planning and commit
// as one cancellable run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fenilsonani/organizer/internal/category"
	"github.com/fenilsonani/organizer/internal/duplicates"
	"github.com/fenilsonani/organizer/internal/fileerr"
	"github.com/fenilsonani/organizer/internal/hashcache"
	"github.com/fenilsonani/organizer/internal/hashing"
	"github.com/fenilsonani/organizer/internal/logging"
	"github.com/fenilsonani/organizer/internal/metrics"
	"github.com/fenilsonani/organizer/internal/progress"
	"github.com/fenilsonani/organizer/internal/scanner"
	"github.com/fenilsonani/organizer/internal/security"
	"github.com/fenilsonani/organizer/internal/transaction"
	"github.com/rs/zerolog"
)

// Deps carries the shared collaborators of a run
type Deps struct {
	Cache    hashing.Source
	Resolver category.Resolver
	Manager  *transaction.Manager
	Bus      *progress.Bus
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

// Options configures each stage. Logger, Bus and hashing fields of the
// stage options are filled from Deps.
type Options struct {
	Scan   scanner.Options
	Detect duplicates.Options
	Plan   transaction.PlanOptions
	DryRun bool
}

// Summary is the outcome of a run
type Summary struct {
	Root        string
	Scan        *scanner.ScanResult
	ScanErrors  *fileerr.Batch
	Duplicates  *duplicates.Result
	Transaction *transaction.Transaction
	Result      transaction.Summary
	Committed   bool
	DryRun      bool
	Cache       *hashcache.Stats
	Duration    time.Duration
}

// statsSource is implemented by hashcache.Cache
type statsSource interface {
	Stats() (hashcache.Stats, error)
}

// Coordinator runs the pipeline. One run at a time; Cancel stops the
// running one.
type Coordinator struct {
	deps   Deps
	opts   Options
	guard  *security.PathValidator
	logger zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates a Coordinator
func New(deps Deps, opts Options) (*Coordinator, error) {
	if deps.Cache == nil {
		deps.Cache = hashing.Direct{}
	}
	if deps.Resolver == nil {
		deps.Resolver = category.Default()
	}
	if opts.Scan.Root == "" {
		return nil, errors.New("root path is required")
	}
	root, err := filepath.Abs(opts.Scan.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}
	opts.Scan.Root = root
	if opts.Plan.DestRoot == "" {
		opts.Plan.DestRoot = root
	}
	if opts.Plan.DestRoot, err = filepath.Abs(opts.Plan.DestRoot); err != nil {
		return nil, fmt.Errorf("failed to resolve destination root: %w", err)
	}

	return &Coordinator{
		deps:   deps,
		opts:   opts,
		guard:  security.NewPathValidator(),
		logger: logging.Component(deps.Logger, "pipeline"),
	}, nil
}

// Cancel stops the current run. Hashing discards in-flight work; a commit
// finishes its current move and rolls back.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Coordinator) begin(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	return ctx, func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
		cancel()
	}
}

// Scan walks the tree only
func (c *Coordinator) Scan(ctx context.Context) (*Summary, error) {
	return c.run(ctx, "scan", func(ctx context.Context, s *Summary) error {
		return c.scan(ctx, s)
	})
}

// ScanDuplicates scans and groups duplicates without planning moves
func (c *Coordinator) ScanDuplicates(ctx context.Context) (*Summary, error) {
	return c.run(ctx, "duplicates", func(ctx context.Context, s *Summary) error {
		if err := c.scan(ctx, s); err != nil {
			return err
		}
		return c.detect(ctx, s)
	})
}

// Organize runs the full pipeline: scan, detect, plan and, unless the run
// is a dry run, commit.
func (c *Coordinator) Organize(ctx context.Context) (*Summary, error) {
	return c.run(ctx, "organize", func(ctx context.Context, s *Summary) error {
		for _, root := range []string{c.opts.Scan.Root, c.opts.Plan.DestRoot} {
			if err := c.guard.ValidateRoot(root); err != nil {
				return err
			}
		}
		if err := c.scan(ctx, s); err != nil {
			return err
		}
		if err := c.detect(ctx, s); err != nil {
			return err
		}
		if err := c.plan(ctx, s); err != nil {
			return err
		}
		if c.opts.DryRun {
			return nil
		}
		return c.commit(ctx, s)
	})
}

// Run is Organize
func (c *Coordinator) Run(ctx context.Context) (*Summary, error) {
	return c.Organize(ctx)
}

func (c *Coordinator) run(ctx context.Context, op string, stages func(context.Context, *Summary) error) (*Summary, error) {
	ctx, done := c.begin(ctx)
	defer done()

	start := time.Now()
	s := &Summary{Root: c.opts.Scan.Root, DryRun: c.opts.DryRun}
	before := c.cacheStats()

	err := stages(ctx, s)

	s.Duration = time.Since(start)
	c.deps.Metrics.RunDuration(op, s.Duration)
	if after := c.cacheStats(); after != nil {
		s.Cache = after
		if before != nil {
			c.deps.Metrics.CacheLookups(after.Hits-before.Hits, after.Misses-before.Misses, after.Shared-before.Shared)
		}
	}

	switch {
	case err == nil:
		c.deps.Bus.SetPhase(progress.PhaseComplete)
	case errors.Is(err, context.Canceled):
		c.deps.Bus.SetPhase(progress.PhaseCancelled)
	default:
		c.deps.Bus.SetPhase(progress.PhaseError)
	}

	c.logger.Info().
		Str("operation", op).
		Dur("duration", s.Duration).
		Bool("dry_run", s.DryRun).
		Err(err).
		Msg("Run finished")
	return s, err
}

func (c *Coordinator) scan(ctx context.Context, s *Summary) error {
	c.deps.Bus.SetPhase(progress.PhaseScanning)

	opts := c.opts.Scan
	bus := c.deps.Bus
	opts.Progress = func(n int64, path string) {
		bus.ScanProgress(n, path)
	}

	sc, err := scanner.New(opts, c.deps.Logger)
	if err != nil {
		return err
	}
	s.Root = sc.Root()

	s.Scan = sc.Scan(ctx)
	s.ScanErrors = &fileerr.Batch{Phase: "scanning"}
	for _, e := range s.Scan.Errors {
		fe := s.ScanErrors.Add("scan", "", e)
		c.deps.Metrics.FileError("scan", fe)
	}

	stats := sc.Stats()
	c.logger.Info().
		Int("files", s.Scan.TotalCount).
		Int64("bytes", s.Scan.TotalSize).
		Int64("dirs", stats.Dirs).
		Int64("skipped", stats.Skipped).
		Int("errors", s.ScanErrors.Len()).
		Msg("Scan complete")
	return ctx.Err()
}

func (c *Coordinator) detect(ctx context.Context, s *Summary) error {
	c.deps.Bus.SetPhase(progress.PhaseHashing)

	opts := c.opts.Detect
	opts.Logger = c.deps.Logger
	opts.Bus = c.deps.Bus
	if c.deps.Metrics != nil {
		opts.Observer = c.deps.Metrics
	}

	res, err := duplicates.New(c.deps.Cache, opts).Detect(ctx, s.Scan.Files)
	s.Duplicates = res
	if res != nil {
		c.deps.Metrics.Duplicates(len(res.Groups), duplicates.TotalReclaimable(res.Groups))
	}
	return err
}

func (c *Coordinator) plan(ctx context.Context, s *Summary) error {
	c.deps.Bus.SetPhase(progress.PhasePlanning)

	opts := c.opts.Plan
	opts.Hasher = c.deps.Cache
	if opts.Algorithm == "" {
		opts.Algorithm = c.opts.Detect.Algorithm
	}
	opts.Bus = c.deps.Bus
	opts.Logger = c.deps.Logger

	var groups []duplicates.Group
	if s.Duplicates != nil {
		groups = s.Duplicates.Groups
	}
	txn, err := transaction.Plan(ctx, s.Scan.Files, groups, c.deps.Resolver, opts)
	if err != nil {
		return err
	}
	s.Transaction = txn
	s.Result = txn.Summarize()
	return nil
}

func (c *Coordinator) commit(ctx context.Context, s *Summary) error {
	if c.deps.Manager == nil {
		return fmt.Errorf("no transaction manager configured")
	}
	c.deps.Bus.SetPhase(progress.PhaseCommitting)

	result, err := c.deps.Manager.Commit(ctx, s.Transaction)
	s.Result = result
	s.Committed = s.Transaction.State == transaction.StateCommitted
	return err
}

func (c *Coordinator) cacheStats() *hashcache.Stats {
	src, ok := c.deps.Cache.(statsSource)
	if !ok {
		return nil
	}
	st, err := src.Stats()
	if err != nil {
		c.logger.Debug().Err(err).Msg("Cache stats unavailable")
		return nil
	}
	return &st
}
