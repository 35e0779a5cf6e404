// Package testutil provides test helpers and fixtures for organizer tests.
// All file operations use t.TempDir() for safe, isolated testing.
package testutil

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// TestFixture holds the root of an isolated directory tree
type TestFixture struct {
	T       testing.TB
	RootDir string // Root temp directory (auto-cleaned)
}

// NewFixture creates a new empty test fixture
func NewFixture(t testing.TB) *TestFixture {
	t.Helper()
	return &TestFixture{T: t, RootDir: t.TempDir()}
}

// =============================================================================
// File Creation Helpers
// =============================================================================

// CreateFile creates a file with specified content and returns its path
func (f *TestFixture) CreateFile(relPath string, content []byte) string {
	f.T.Helper()

	fullPath := f.Path(relPath)
	dir := filepath.Dir(fullPath)

	if err := os.MkdirAll(dir, 0755); err != nil {
		f.T.Fatalf("failed to create directory %s: %v", dir, err)
	}

	if err := os.WriteFile(fullPath, content, 0644); err != nil {
		f.T.Fatalf("failed to create file %s: %v", fullPath, err)
	}

	return fullPath
}

// CreateFileWithModTime creates a file and pins its modification time
func (f *TestFixture) CreateFileWithModTime(relPath string, content []byte, modTime time.Time) string {
	f.T.Helper()

	fullPath := f.CreateFile(relPath, content)
	if err := os.Chtimes(fullPath, modTime, modTime); err != nil {
		f.T.Fatalf("failed to set file time for %s: %v", fullPath, err)
	}

	return fullPath
}

// CreateFileWithAge creates a file and sets its modification time to the past
func (f *TestFixture) CreateFileWithAge(relPath string, content []byte, age time.Duration) string {
	f.T.Helper()
	return f.CreateFileWithModTime(relPath, content, time.Now().Add(-age))
}

// CreateFilledFile creates a file of size bytes all equal to fill
func (f *TestFixture) CreateFilledFile(relPath string, size int, fill byte) string {
	f.T.Helper()
	return f.CreateFile(relPath, bytes.Repeat([]byte{fill}, size))
}

// CreateRandomFile creates a file with random content
func (f *TestFixture) CreateRandomFile(relPath string, size int) string {
	f.T.Helper()
	content := make([]byte, size)
	if _, err := rand.Read(content); err != nil {
		f.T.Fatalf("failed to generate random content: %v", err)
	}
	return f.CreateFile(relPath, content)
}

// =============================================================================
// Directory Helpers
// =============================================================================

// CreateDir creates a directory and returns its path
func (f *TestFixture) CreateDir(relPath string) string {
	f.T.Helper()

	fullPath := f.Path(relPath)
	if err := os.MkdirAll(fullPath, 0755); err != nil {
		f.T.Fatalf("failed to create directory %s: %v", fullPath, err)
	}

	return fullPath
}

// CreateUnreadableDir creates a directory the current user cannot list
func (f *TestFixture) CreateUnreadableDir(relPath string) string {
	f.T.Helper()

	dirPath := f.CreateDir(relPath)
	f.CreateFile(filepath.Join(relPath, "trapped.txt"), []byte("trapped"))
	if err := os.Chmod(dirPath, 0000); err != nil {
		f.T.Fatalf("failed to chmod directory %s: %v", dirPath, err)
	}

	// Register cleanup to restore permissions so TempDir cleanup works
	f.T.Cleanup(func() {
		os.Chmod(dirPath, 0755)
	})

	return dirPath
}

// =============================================================================
// Symlink Helpers
// =============================================================================

// CreateSymlink creates a symbolic link at linkPath pointing to target
func (f *TestFixture) CreateSymlink(target, linkPath string) string {
	f.T.Helper()

	fullLinkPath := f.Path(linkPath)
	dir := filepath.Dir(fullLinkPath)

	if err := os.MkdirAll(dir, 0755); err != nil {
		f.T.Fatalf("failed to create directory %s: %v", dir, err)
	}

	if err := os.Symlink(target, fullLinkPath); err != nil {
		f.T.Fatalf("failed to create symlink %s -> %s: %v", fullLinkPath, target, err)
	}

	return fullLinkPath
}

// =============================================================================
// Path Helpers
// =============================================================================

// Path returns the absolute path of relPath inside the fixture
func (f *TestFixture) Path(relPath string) string {
	return filepath.Join(f.RootDir, relPath)
}

// Exists reports whether relPath exists inside the fixture
func (f *TestFixture) Exists(relPath string) bool {
	_, err := os.Lstat(f.Path(relPath))
	return err == nil
}

// ReadFile returns the content of relPath, failing the test on error
func (f *TestFixture) ReadFile(relPath string) []byte {
	f.T.Helper()
	data, err := os.ReadFile(f.Path(relPath))
	if err != nil {
		f.T.Fatalf("failed to read %s: %v", relPath, err)
	}
	return data
}

// =============================================================================
// Environment Helpers
// =============================================================================

// SkipIfRoot skips tests that rely on permission errors
func SkipIfRoot(t testing.TB) {
	t.Helper()
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
}

// SkipOnWindows skips tests that rely on unix semantics
func SkipOnWindows(t testing.TB) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix-only behavior")
	}
}
