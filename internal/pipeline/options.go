package pipeline

import (
	"github.com/fenilsonani/organizer/internal/config"
	"github.com/fenilsonani/organizer/internal/duplicates"
	"github.com/fenilsonani/organizer/internal/scanner"
	"github.com/fenilsonani/organizer/internal/transaction"
)

// OptionsFromConfig maps a validated configuration onto stage options
func OptionsFromConfig(cfg *config.Config) Options {
	mode, _ := duplicates.ParseMode(cfg.DuplicateMode)
	policy, _ := transaction.ParseConflictPolicy(cfg.ConflictPolicy)

	return Options{
		Scan: scanner.Options{
			Root:            cfg.RootPath,
			Recursive:       cfg.Recursive,
			IncludeHidden:   cfg.IncludeHidden,
			FollowSymlinks:  cfg.FollowSymlinks,
			ExcludePatterns: cfg.ExcludePatterns,
			MinSize:         cfg.MinFileSizeBytes(),
		},
		Detect: duplicates.Options{
			Mode:             mode,
			Algorithm:        cfg.HashAlgorithm,
			PartialAlgorithm: cfg.PartialAlgorithm,
			PartialWindow:    cfg.PartialWindowBytes(),
			Workers:          cfg.Workers,
		},
		Plan: transaction.PlanOptions{
			DestRoot:         cfg.ResolvedDestRoot(),
			FallbackCategory: cfg.FallbackCategory,
			MaxSuffix:        cfg.MaxSuffix,
			ConflictPolicy:   policy,
			VerifyBeforeMove: cfg.VerifyBeforeMove,
			Algorithm:        cfg.HashAlgorithm,
		},
		DryRun: cfg.DryRun,
	}
}
