package scanner

import (
	"fmt"
	"path/filepath"
	"strings"
)

// systemDirNames are directory names that never hold user content
var systemDirNames = map[string]bool{
	"system volume information": true,
	"$recycle.bin":              true,
	"lost+found":                true,
	".trash":                    true,
	".trashes":                  true,
	".spotlight-v100":           true,
	".fseventsd":                true,
	".documentrevisions-v100":   true,
}

// Excluder decides which directory entries a walk skips
type Excluder struct {
	root          string
	includeHidden bool
	patterns      []string
}

// NewExcluder validates patterns and builds an exclusion predicate
func NewExcluder(root string, includeHidden bool, patterns []string) (*Excluder, error) {
	for _, p := range patterns {
		if err := ValidateGlobPattern(p); err != nil {
			return nil, err
		}
	}
	return &Excluder{root: root, includeHidden: includeHidden, patterns: patterns}, nil
}

// Excluded reports whether the entry at path should be skipped
func (e *Excluder) Excluded(path string, isDir bool) bool {
	name := filepath.Base(path)

	if isDir && systemDirNames[strings.ToLower(name)] {
		return true
	}
	if !e.includeHidden && IsHidden(name) {
		return true
	}

	if len(e.patterns) == 0 {
		return false
	}
	rel, err := filepath.Rel(e.root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	for _, p := range e.patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
		if ok, _ := filepath.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// IsHidden reports dot-files and Windows "$" system entries
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "$")
}

// ValidateGlobPattern validates that a glob pattern is safe
func ValidateGlobPattern(pattern string) error {
	if strings.Contains(pattern, "..") {
		return fmt.Errorf("glob pattern contains directory traversal: %s", pattern)
	}

	if _, err := filepath.Match(pattern, "test"); err != nil {
		return fmt.Errorf("invalid glob pattern: %w", err)
	}

	return nil
}
