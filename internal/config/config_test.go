package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// =============================================================================
// Defaults
// =============================================================================

func TestGetDefault(t *testing.T) {
	cfg := GetDefault()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ".", cfg.RootPath)
	assert.True(t, cfg.Recursive)
	assert.Equal(t, "sha256", cfg.HashAlgorithm)
	assert.Equal(t, "hybrid", cfg.DuplicateMode)
	assert.Equal(t, "rename", cfg.ConflictPolicy)
	assert.True(t, cfg.ContinueOnPlanFailures)
	assert.Equal(t, 1000, cfg.MaxSuffix)
	assert.Equal(t, int64(64*KB), cfg.PartialWindowBytes())
	assert.Equal(t, 5*time.Minute, cfg.HashTimeout)
}

func TestResolvedPaths(t *testing.T) {
	cfg := GetDefault()
	assert.Equal(t, ".", cfg.ResolvedDestRoot())
	assert.True(t, strings.HasSuffix(cfg.ResolvedCachePath(), filepath.Join("organizer", "hashes.db")))
	assert.True(t, strings.HasSuffix(cfg.ResolvedJournalDir(), filepath.Join("organizer", "journal")))
	assert.True(t, strings.HasSuffix(GetConfigPath(), filepath.Join("organizer", "config.yaml")))

	cfg.DestRoot = "/srv/sorted"
	cfg.CachePath = "/tmp/h.db"
	cfg.JournalDir = "/tmp/j"
	assert.Equal(t, "/srv/sorted", cfg.ResolvedDestRoot())
	assert.Equal(t, "/tmp/h.db", cfg.ResolvedCachePath())
	assert.Equal(t, "/tmp/j", cfg.ResolvedJournalDir())
}

// =============================================================================
// Load
// =============================================================================

func TestLoadNonExistentFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, GetDefault(), cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
root_path: /data/photos
duplicate_mode: deep
conflict_policy: skip
exclude_patterns:
  - "*.tmp"
  - "cache/*"
partial_window: 128KB
hash_timeout: 30s
workers: 3
fallback_category: VARIOS
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "/data/photos", cfg.RootPath)
	assert.Equal(t, "deep", cfg.DuplicateMode)
	assert.Equal(t, "skip", cfg.ConflictPolicy)
	assert.Equal(t, []string{"*.tmp", "cache/*"}, cfg.ExcludePatterns)
	assert.Equal(t, int64(128*KB), cfg.PartialWindowBytes())
	assert.Equal(t, 30*time.Second, cfg.HashTimeout)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, "VARIOS", cfg.FallbackCategory)
	// Untouched keys keep their defaults.
	assert.Equal(t, "sha256", cfg.HashAlgorithm)
	assert.True(t, cfg.Recursive)
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "duplicate_mode: deep\nworkers: 2\n")
	t.Setenv("ORGANIZER_DUPLICATE_MODE", "fast")
	t.Setenv("ORGANIZER_WORKERS", "6")
	t.Setenv("ORGANIZER_DRY_RUN", "true")
	t.Setenv("ORGANIZER_HASH_TIMEOUT", "90s")
	t.Setenv("ORGANIZER_EXCLUDE_PATTERNS", "*.part,*.crdownload")

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "fast", cfg.DuplicateMode)
	assert.Equal(t, 6, cfg.Workers)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 90*time.Second, cfg.HashTimeout)
	assert.Equal(t, []string{"*.part", "*.crdownload"}, cfg.ExcludePatterns)
}

func TestLoadOverridesWin(t *testing.T) {
	t.Setenv("ORGANIZER_CONFLICT_POLICY", "skip")

	cfg, err := Load("", map[string]interface{}{
		"conflict_policy": "rename",
		"root_path":       "/mnt/usb",
		"verbose":         2,
	})
	require.NoError(t, err)
	assert.Equal(t, "rename", cfg.ConflictPolicy)
	assert.Equal(t, "/mnt/usb", cfg.RootPath)
	assert.Equal(t, 2, cfg.Verbose)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "root_path: [unclosed\n")
	_, err := Load(path, nil)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"mode", "duplicate_mode: fuzzy", "unknown duplicate mode"},
		{"policy", "conflict_policy: overwrite", "unknown conflict policy"},
		{"algorithm", "hash_algorithm: md5", "hash_algorithm"},
		{"partial algorithm", "partial_algorithm: crc32", "partial_algorithm"},
		{"window", "partial_window: 0B", "partial_window"},
		{"window unit", "partial_window: 10 parsecs", "partial_window"},
		{"min size", "min_file_size: lots", "min_file_size"},
		{"workers", "workers: -1", "workers"},
		{"suffix", "max_suffix: 0", "max_suffix"},
		{"pattern", "exclude_patterns: ['[unclosed']", "exclude pattern"},
		{"empty root", "root_path: ''", "root_path"},
		{"fallback", "fallback_category: '../escape'", "fallback_category"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content+"\n"), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(writeConfig(t, GetExampleConfig()), nil)
	require.NoError(t, err)
	assert.Equal(t, GetDefault(), cfg)
}

// =============================================================================
// Save
// =============================================================================

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.yaml")
	cfg := GetDefault()
	cfg.RootPath = "/home/user/Downloads"
	cfg.ExcludePatterns = []string{"*.iso"}
	cfg.HashTimeout = 45 * time.Second
	cfg.VerifyBeforeMove = true

	require.NoError(t, Save(cfg, path))
	loaded, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestEnsureConfigExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "organizer", "config.yaml")

	created, err := EnsureConfigExists(path)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = EnsureConfigExists(path)
	require.NoError(t, err)
	assert.False(t, created)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, GetExampleConfig(), string(data))
}

func TestResolverUsesRulesFile(t *testing.T) {
	cfg := GetDefault()
	r, err := cfg.Resolver()
	require.NoError(t, err)
	cat, ok := r.Resolve("/x/song.mp3")
	assert.True(t, ok)
	assert.Equal(t, "MUSICA", cat)

	cfg.RulesFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = cfg.Resolver()
	assert.Error(t, err)
}

// =============================================================================
// ParseSize
// =============================================================================

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"0B", 0, false},
		{"4096", 4096, false},
		{"64KB", 64 * KB, false},
		{"64kb", 64 * KB, false},
		{"1.5 GB", 3 * GB / 2, false},
		{"2M", 2 * MB, false},
		{"1TiB", TB, false},
		{"abc", 0, true},
		{"10XB", 0, true},
		{"-1KB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
