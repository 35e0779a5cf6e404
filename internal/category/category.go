// Package category maps file paths to destination category names.
package category

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Resolver returns the destination category for a path, or false when no
// rule applies.
type Resolver interface {
	Resolve(path string) (string, bool)
}

// ResolverFunc adapts a function to Resolver
type ResolverFunc func(path string) (string, bool)

// Resolve calls f
func (f ResolverFunc) Resolve(path string) (string, bool) {
	return f(path)
}

// Static resolves every path to the same category
type Static string

// Resolve returns the static category
func (s Static) Resolve(string) (string, bool) {
	return string(s), s != ""
}

// FallbackFolder is the review folder for uncategorized files
const FallbackFolder = "VARIOS_REVISAR"

// DefaultFallback is the category used for unmatched files when a
// fallback is enabled without naming one
const DefaultFallback = "VARIOS"

var copySuffix = regexp.MustCompile(`\s*\(\d+\)$`)

// NormalizeName strips a trailing copy counter such as " (2)" from the
// file stem, keeping the extension.
func NormalizeName(name string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	trimmed := copySuffix.ReplaceAllString(stem, "")
	if trimmed == "" {
		return name
	}
	return trimmed + ext
}

// IsLikelyCopy reports whether name carries a copy counter suffix
func IsLikelyCopy(name string) bool {
	return NormalizeName(name) != name
}

// Distribution counts paths per resolved category; unmatched paths are
// counted under fallback.
func Distribution(r Resolver, paths []string, fallback string) map[string]int {
	dist := make(map[string]int)
	for _, p := range paths {
		cat, ok := r.Resolve(p)
		if !ok {
			cat = fallback
		}
		dist[cat]++
	}
	return dist
}

// SuggestExtensions lists extensions of unmatched paths that occur at
// least minFiles times, most frequent first.
func SuggestExtensions(r Resolver, paths []string, minFiles int) []string {
	counts := make(map[string]int)
	for _, p := range paths {
		if _, ok := r.Resolve(p); ok {
			continue
		}
		if ext := strings.ToLower(filepath.Ext(p)); ext != "" {
			counts[ext]++
		}
	}

	var out []string
	for ext, n := range counts {
		if n >= minFiles {
			out = append(out, ext)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}
