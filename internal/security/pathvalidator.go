// Package security guards the directories organizer is allowed to reorganize.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrProtectedPath is returned for roots inside a protected system tree
var ErrProtectedPath = errors.New("protected path")

// PathValidator decides whether a directory may be used as a scan root
// or a destination root
type PathValidator struct {
	protectedPaths []string
}

// NewPathValidator creates a new PathValidator with default protected paths
func NewPathValidator() *PathValidator {
	return &PathValidator{
		protectedPaths: []string{
			"/",
			"/bin",
			"/boot",
			"/dev",
			"/etc",
			"/lib",
			"/lib64",
			"/proc",
			"/root",
			"/sbin",
			"/sys",
			"/usr",
			"/var",
			"/System",
			"/Applications",
			"/Library",
		},
	}
}

// ValidateRoot rejects relative paths and protected system directories.
// A root nested two or more levels below a protected directory is
// allowed, so /var/tmp is refused while /var/tmp/photos is not.
func (pv *PathValidator) ValidateRoot(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("path must be absolute: %s", path)
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to resolve symlinks: %w", err)
		}
		resolved = path
	}
	clean := filepath.Clean(resolved)

	for _, protected := range pv.protectedPaths {
		if clean == protected {
			return fmt.Errorf("%w: refusing to reorganize %s", ErrProtectedPath, clean)
		}
		if protected == "/" || !strings.HasPrefix(clean, protected+"/") {
			continue
		}
		rel, _ := filepath.Rel(protected, clean)
		if !strings.Contains(rel, "/") {
			return fmt.Errorf("%w: refusing to reorganize system directory %s", ErrProtectedPath, clean)
		}
	}
	return nil
}

// IsProtectedPath reports whether path lies in a protected tree
func (pv *PathValidator) IsProtectedPath(path string) bool {
	clean := filepath.Clean(path)
	for _, protected := range pv.protectedPaths {
		if protected == "/" {
			if clean == "/" {
				return true
			}
			continue
		}
		if clean == protected || strings.HasPrefix(clean, protected+"/") {
			return true
		}
	}
	return false
}

// AddProtectedPath adds a custom protected path
func (pv *PathValidator) AddProtectedPath(path string) {
	pv.protectedPaths = append(pv.protectedPaths, filepath.Clean(path))
}
