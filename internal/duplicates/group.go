package duplicates

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
)

// Mode selects which hashing phases run
type Mode string

const (
	// ModeFast trusts partial-hash matches without full confirmation.
	ModeFast Mode = "fast"
	// ModeHybrid filters by partial hash and confirms with a full hash.
	ModeHybrid Mode = "hybrid"
	// ModeDeep full-hashes every size-matched candidate.
	ModeDeep Mode = "deep"
)

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeFast, ModeHybrid, ModeDeep:
		return m, nil
	case "":
		return ModeHybrid, nil
	default:
		return "", fmt.Errorf("unknown duplicate mode %q (want fast, hybrid or deep)", s)
	}
}

// Member is one file of a duplicate group
type Member struct {
	Path    string    `json:"path" yaml:"path"`
	ModTime time.Time `json:"mod_time" yaml:"mod_time"`
}

// Group is a set of at least two files sharing one digest
type Group struct {
	Digest         digest.Digest `json:"digest" yaml:"digest"`
	Size           int64         `json:"size" yaml:"size"`
	Members        []Member      `json:"members" yaml:"members"`
	Representative string        `json:"representative" yaml:"representative"`
	// Verified is false when the digest only covers a leading window.
	Verified bool `json:"verified" yaml:"verified"`
}

// newGroup sorts members and picks the representative: the smallest
// path, ties broken by the earliest modification time.
func newGroup(d digest.Digest, size int64, members []Member, verified bool) Group {
	sort.Slice(members, func(i, j int) bool {
		if members[i].Path != members[j].Path {
			return members[i].Path < members[j].Path
		}
		return members[i].ModTime.Before(members[j].ModTime)
	})
	return Group{
		Digest:         d,
		Size:           size,
		Members:        members,
		Representative: members[0].Path,
		Verified:       verified,
	}
}

// Paths returns member paths in sorted order
func (g Group) Paths() []string {
	out := make([]string, len(g.Members))
	for i, m := range g.Members {
		out[i] = m.Path
	}
	return out
}

// Duplicates returns every member except the representative
func (g Group) Duplicates() []string {
	out := make([]string, 0, len(g.Members)-1)
	for _, m := range g.Members {
		if m.Path != g.Representative {
			out = append(out, m.Path)
		}
	}
	return out
}

// Contains reports whether path is a member
func (g Group) Contains(path string) bool {
	for _, m := range g.Members {
		if m.Path == path {
			return true
		}
	}
	return false
}

// Reclaimable is the space freed by keeping only the representative
func (g Group) Reclaimable() int64 {
	if len(g.Members) < 2 {
		return 0
	}
	return g.Size * int64(len(g.Members)-1)
}

// SortGroups orders groups by size descending, then digest
func SortGroups(groups []Group) {
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Size != groups[j].Size {
			return groups[i].Size > groups[j].Size
		}
		return groups[i].Digest < groups[j].Digest
	})
}

// Index maps every member path to its group
type Index map[string]*Group

// NewIndex builds a path index over groups
func NewIndex(groups []Group) Index {
	idx := make(Index)
	for i := range groups {
		for _, m := range groups[i].Members {
			idx[m.Path] = &groups[i]
		}
	}
	return idx
}

// TotalReclaimable sums Reclaimable over groups
func TotalReclaimable(groups []Group) int64 {
	var total int64
	for _, g := range groups {
		total += g.Reclaimable()
	}
	return total
}
