package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/fenilsonani/organizer/internal/category"
	"github.com/fenilsonani/organizer/internal/duplicates"
	"github.com/fenilsonani/organizer/internal/hashing"
	"github.com/fenilsonani/organizer/internal/scanner"
	"github.com/fenilsonani/organizer/internal/transaction"
	"gopkg.in/yaml.v3"
)

const appName = "organizer"

// Config represents the application configuration
type Config struct {
	RootPath        string   `yaml:"root_path"`
	Recursive       bool     `yaml:"recursive"`
	IncludeHidden   bool     `yaml:"include_hidden"`
	FollowSymlinks  bool     `yaml:"follow_symlinks"`
	ExcludePatterns []string `yaml:"exclude_patterns"`
	MinFileSize     string   `yaml:"min_file_size"` // e.g. "1KB"

	HashAlgorithm    string        `yaml:"hash_algorithm"`
	PartialAlgorithm string        `yaml:"partial_algorithm"`
	PartialWindow    string        `yaml:"partial_window"` // e.g. "64KB"
	DuplicateMode    string        `yaml:"duplicate_mode"`
	Workers          int           `yaml:"workers"` // 0 means min(NumCPU, 8)
	HashTimeout      time.Duration `yaml:"hash_timeout"`

	ConflictPolicy         string `yaml:"conflict_policy"`
	VerifyBeforeMove       bool   `yaml:"verify_before_move"`
	ContinueOnPlanFailures bool   `yaml:"continue_on_plan_failures"`
	DryRun                 bool   `yaml:"dry_run"`
	DestRoot               string `yaml:"dest_root"`
	FallbackCategory       string `yaml:"fallback_category"`
	MaxSuffix              int    `yaml:"max_suffix"`
	RulesFile              string `yaml:"rules_file"`

	CachePath   string `yaml:"cache_path"`
	JournalDir  string `yaml:"journal_dir"`
	MetricsFile string `yaml:"metrics_file"`
	LogFile     string `yaml:"log_file"`
	Verbose     int    `yaml:"verbose"`
}

// Save saves configuration to a file
func Save(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RootPath) == "" {
		return fmt.Errorf("root_path must not be empty")
	}

	if _, err := ParseSize(c.MinFileSize); err != nil {
		return fmt.Errorf("invalid min_file_size: %w", err)
	}
	window, err := ParseSize(c.PartialWindow)
	if err != nil {
		return fmt.Errorf("invalid partial_window: %w", err)
	}
	if window <= 0 {
		return fmt.Errorf("partial_window must be > 0")
	}

	if _, err := hashing.Lookup(c.HashAlgorithm); err != nil {
		return fmt.Errorf("invalid hash_algorithm: %w", err)
	}
	if _, err := hashing.Lookup(c.PartialAlgorithm); err != nil {
		return fmt.Errorf("invalid partial_algorithm: %w", err)
	}
	if _, err := duplicates.ParseMode(c.DuplicateMode); err != nil {
		return err
	}
	if _, err := transaction.ParseConflictPolicy(c.ConflictPolicy); err != nil {
		return err
	}

	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0")
	}
	if c.HashTimeout < 0 {
		return fmt.Errorf("hash_timeout must be >= 0")
	}
	if c.MaxSuffix < 1 {
		return fmt.Errorf("max_suffix must be >= 1")
	}
	if c.Verbose < 0 {
		return fmt.Errorf("verbose must be >= 0")
	}

	for _, pattern := range c.ExcludePatterns {
		if err := scanner.ValidateGlobPattern(pattern); err != nil {
			return fmt.Errorf("invalid exclude pattern '%s': %w", pattern, err)
		}
	}

	if c.FallbackCategory != "" {
		if err := category.ValidateCategoryName(c.FallbackCategory); err != nil {
			return fmt.Errorf("invalid fallback_category: %w", err)
		}
	}

	return nil
}

// MinFileSizeBytes returns min_file_size in bytes
func (c *Config) MinFileSizeBytes() int64 {
	n, _ := ParseSize(c.MinFileSize)
	return n
}

// PartialWindowBytes returns partial_window in bytes
func (c *Config) PartialWindowBytes() int64 {
	n, _ := ParseSize(c.PartialWindow)
	return n
}

// ResolvedDestRoot returns dest_root, defaulting to root_path
func (c *Config) ResolvedDestRoot() string {
	if c.DestRoot != "" {
		return c.DestRoot
	}
	return c.RootPath
}

// ResolvedCachePath returns cache_path, defaulting to the XDG cache dir
func (c *Config) ResolvedCachePath() string {
	if c.CachePath != "" {
		return c.CachePath
	}
	return filepath.Join(xdg.CacheHome, appName, "hashes.db")
}

// ResolvedJournalDir returns journal_dir, defaulting to the XDG state dir
func (c *Config) ResolvedJournalDir() string {
	if c.JournalDir != "" {
		return c.JournalDir
	}
	return filepath.Join(xdg.StateHome, appName, "journal")
}

// Resolver loads rules_file, or returns the default rule table
func (c *Config) Resolver() (category.Resolver, error) {
	if c.RulesFile == "" {
		return category.Default(), nil
	}
	rules, err := category.LoadRules(c.RulesFile)
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.yaml")
}

// EnsureConfigExists creates a default config file if it doesn't exist
func EnsureConfigExists(configPath string) (bool, error) {
	if _, err := os.Stat(configPath); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(GetExampleConfig()), 0644); err != nil {
		return false, fmt.Errorf("failed to write config file: %w", err)
	}
	return true, nil
}
