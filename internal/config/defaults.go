package config

import "time"

// GetDefault returns the default configuration
func GetDefault() *Config {
	return &Config{
		RootPath:        ".",
		Recursive:       true,
		ExcludePatterns: []string{},
		MinFileSize:     "0B",

		HashAlgorithm:    "sha256",
		PartialAlgorithm: "xxh64",
		PartialWindow:    "64KB",
		DuplicateMode:    "hybrid",
		Workers:          0,
		HashTimeout:      5 * time.Minute,

		ConflictPolicy:         "rename",
		VerifyBeforeMove:       false,
		ContinueOnPlanFailures: true,
		MaxSuffix:              1000,
	}
}

// GetExampleConfig returns an example configuration with comments
func GetExampleConfig() string {
	return `# organizer configuration file
# Location: ~/.config/organizer/config.yaml
# Every key can also be set through the environment, e.g.
# ORGANIZER_DUPLICATE_MODE=deep

# What to scan
root_path: "."
recursive: true
include_hidden: false   # Dotfiles and $-prefixed names
follow_symlinks: false  # Directory cycles are detected and skipped
exclude_patterns: []    # Glob patterns matched against names and relative paths
min_file_size: "0B"     # Ignore files smaller than this

# Duplicate detection
hash_algorithm: sha256     # sha256 | sha384 | sha512 | xxh64
partial_algorithm: xxh64   # Used for the leading-window phase
partial_window: "64KB"
duplicate_mode: hybrid     # fast | hybrid | deep
workers: 0                 # 0 => min(NumCPU, 8)
hash_timeout: 5m           # Per file

# Reorganization
conflict_policy: rename          # rename | skip (for non-representative duplicates)
verify_before_move: false        # Full-hash fast-mode duplicates before skipping them
continue_on_plan_failures: true  # Commit even if some moves could not be planned
dry_run: false
dest_root: ""                    # Defaults to root_path
fallback_category: ""            # e.g. VARIOS; empty leaves unmatched files in place
max_suffix: 1000                 # Highest "name (N).ext" tried on collisions
rules_file: ""                   # YAML rule table; built-in table when empty

# State
cache_path: ""    # Defaults to ~/.cache/organizer/hashes.db
journal_dir: ""   # Defaults to ~/.local/state/organizer/journal
metrics_file: ""  # Prometheus textfile written after each run
log_file: ""
verbose: 0
`
}
