package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/fenilsonani/organizer/internal/category"
	"github.com/fenilsonani/organizer/internal/config"
	"github.com/fenilsonani/organizer/internal/hashcache"
	"github.com/fenilsonani/organizer/internal/logging"
	"github.com/fenilsonani/organizer/internal/metrics"
	"github.com/fenilsonani/organizer/internal/pipeline"
	"github.com/fenilsonani/organizer/internal/progress"
	"github.com/fenilsonani/organizer/internal/transaction"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// needs selects the collaborators a command opens
type needs int

const (
	needCache needs = 1 << iota
	needJournal
)

// app holds the collaborators of one command invocation
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	bus      *progress.Bus
	metrics  *metrics.Metrics
	resolver category.Resolver
	cache    *hashcache.Cache
	manager  *transaction.Manager

	closers []func() error
}

func (g *globalFlags) resolvedConfigPath() string {
	if g.configPath != "" {
		return g.configPath
	}
	return config.GetConfigPath()
}

// loadConfig layers flag overrides on top of file and environment
func (g *globalFlags) loadConfig(cmd *cobra.Command, overrides map[string]interface{}) (*config.Config, error) {
	if overrides == nil {
		overrides = map[string]interface{}{}
	}
	if cmd.Flags().Changed("verbose") {
		overrides["verbose"] = g.verbose
	}
	if cmd.Flags().Changed("metrics-file") {
		overrides["metrics_file"] = g.metricsFile
	}

	cfg, err := config.Load(g.resolvedConfigPath(), overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func (g *globalFlags) setup(cmd *cobra.Command, overrides map[string]interface{}, n needs) (*app, error) {
	cfg, err := g.loadConfig(cmd, overrides)
	if err != nil {
		return nil, err
	}

	closeLog, err := logging.Setup(logging.Options{
		Verbosity: cfg.Verbose,
		Out:       cmd.ErrOrStderr(),
		LogFile:   cfg.LogFile,
	})
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logging.GetLogger("organizer"),
		bus:     progress.NewBus(),
		metrics: metrics.New(),
		closers: []func() error{closeLog},
	}
	a.closers = append(a.closers, func() error {
		return a.metrics.WriteTextfile(cfg.MetricsFile)
	})
	detach := a.metrics.Attach(a.bus)
	a.closers = append(a.closers, func() error { detach(); return nil })

	if a.resolver, err = cfg.Resolver(); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	if n&needCache != 0 {
		a.cache, err = hashcache.Open(hashcache.Options{
			Path:        cfg.ResolvedCachePath(),
			HashTimeout: cfg.HashTimeout,
			OpenTimeout: 2 * time.Second,
			Logger:      a.logger,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open hash cache: %w", err)
		}
		a.closers = append(a.closers, a.cache.Close)
	}

	if n&needJournal != 0 {
		journal, err := transaction.OpenJournal(cfg.ResolvedJournalDir())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		a.manager, err = transaction.NewManager(transaction.Options{
			Journal:             journal,
			Bus:                 a.bus,
			Logger:              a.logger,
			Recorder:            a.metrics,
			AbortOnPlanFailures: !cfg.ContinueOnPlanFailures,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.warnInterrupted()
	}

	return a, nil
}

func (a *app) warnInterrupted() {
	ids, err := a.manager.Interrupted()
	if err != nil {
		a.logger.Debug().Err(err).Msg("Could not list interrupted transactions")
		return
	}
	for _, id := range ids {
		a.logger.Warn().Str("transaction", id).Msg("Found an interrupted transaction; run 'organizer undo " + id + "' to revert it")
	}
}

// coordinator builds a pipeline from the effective configuration
func (a *app) coordinator() (*pipeline.Coordinator, error) {
	deps := pipeline.Deps{
		Resolver: a.resolver,
		Manager:  a.manager,
		Bus:      a.bus,
		Logger:   a.logger,
		Metrics:  a.metrics,
	}
	if a.cache != nil {
		deps.Cache = a.cache
	}
	return pipeline.New(deps, pipeline.OptionsFromConfig(a.cfg))
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// rootOverride maps an optional positional path to root_path
func rootOverride(args []string) map[string]interface{} {
	overrides := map[string]interface{}{}
	if len(args) > 0 {
		overrides["root_path"] = args[0]
	}
	return overrides
}
