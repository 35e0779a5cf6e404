package transaction

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fenilsonani/organizer/internal/category"
	"github.com/fenilsonani/organizer/internal/duplicates"
	"github.com/fenilsonani/organizer/internal/fileerr"
	"github.com/fenilsonani/organizer/internal/hashing"
	"github.com/fenilsonani/organizer/internal/logging"
	"github.com/fenilsonani/organizer/internal/progress"
	"github.com/fenilsonani/organizer/internal/scanner"
	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"
)

// DefaultMaxSuffix bounds the name (N) search for a free destination
const DefaultMaxSuffix = 1000

// ConflictPolicy decides the fate of non-representative duplicates
type ConflictPolicy string

const (
	ConflictRename ConflictPolicy = "rename"
	ConflictSkip   ConflictPolicy = "skip"
)

// ParseConflictPolicy validates a policy name; empty means rename
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case ConflictRename, ConflictSkip:
		return p, nil
	case "":
		return ConflictRename, nil
	default:
		return "", fmt.Errorf("unknown conflict policy %q (want rename or skip)", s)
	}
}

// PlanOptions configures Plan
type PlanOptions struct {
	DestRoot         string
	FallbackCategory string
	MaxSuffix        int
	ConflictPolicy   ConflictPolicy
	VerifyBeforeMove bool

	// Hasher resolves full digests when comparing with existing files.
	// Defaults to hashing without a cache.
	Hasher    hashing.Source
	Algorithm string

	FS     FS
	Bus    *progress.Bus
	Logger zerolog.Logger
}

type candidate struct {
	rec     scanner.FileRecord
	destDir string
	group   *duplicates.Group
}

func (c candidate) duplicate() bool {
	return c.group != nil && c.group.Representative != c.rec.Path
}

type planner struct {
	ctx      context.Context
	opts     PlanOptions
	claimed  map[string]bool
	vacating map[string]bool
	logger   zerolog.Logger
}

// Plan builds a transaction moving each record to
// <DestRoot>/<category>/<basename>. Files without a category stay in
// place unless FallbackCategory is set; files already in their
// destination directory are not planned. Plan reads the filesystem but
// never changes it.
func Plan(ctx context.Context, records []scanner.FileRecord, groups []duplicates.Group, resolver category.Resolver, opts PlanOptions) (*Transaction, error) {
	if opts.DestRoot == "" {
		return nil, errors.New("destination root is empty")
	}
	destRoot, err := filepath.Abs(opts.DestRoot)
	if err != nil {
		return nil, fmt.Errorf("invalid destination root: %w", err)
	}
	opts.DestRoot = destRoot
	if opts.MaxSuffix <= 0 {
		opts.MaxSuffix = DefaultMaxSuffix
	}
	if opts.ConflictPolicy == "" {
		opts.ConflictPolicy = ConflictRename
	}
	if opts.Algorithm == "" {
		opts.Algorithm = hashing.DefaultAlgorithm
	}
	if opts.Hasher == nil {
		opts.Hasher = hashing.Direct{}
	}
	if opts.FS == nil {
		opts.FS = OSFS{}
	}

	p := &planner{
		ctx:      ctx,
		opts:     opts,
		claimed:  make(map[string]bool),
		vacating: make(map[string]bool),
		logger:   logging.Component(opts.Logger, "planner"),
	}

	cands := p.candidates(records, duplicates.NewIndex(groups), resolver)

	txn := NewTransaction()
	txn.DestRoot = destRoot
	byOp := make(map[*Operation]candidate, len(cands))
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		op := p.plan(c)
		byOp[op] = c
		txn.Operations = append(txn.Operations, op)
	}
	if err := p.replanBlocked(txn.Operations, byOp); err != nil {
		return nil, err
	}

	txn.Operations = order(txn.Operations)
	for _, op := range txn.Operations {
		switch op.Status {
		case StatusPlanned:
			opts.Bus.MovePlanned(op)
		case StatusFailed:
			opts.Bus.MoveFailed(op, fileerr.New(op.Kind, "plan", op.Source, errors.New(op.Reason)))
		}
	}

	p.logger.Info().
		Str("transaction", txn.ShortID()).
		Int("planned", txn.Count(StatusPlanned)).
		Int("skipped", txn.Count(StatusSkipped)).
		Int("failed", txn.Count(StatusFailed)).
		Msg("Plan complete")
	return txn, nil
}

// candidates resolves categories and orders records so that group
// representatives and ungrouped files claim names before duplicates.
func (p *planner) candidates(records []scanner.FileRecord, idx duplicates.Index, resolver category.Resolver) []candidate {
	seen := make(map[string]bool, len(records))
	var cands []candidate
	for _, rec := range records {
		if seen[rec.Path] {
			continue
		}
		seen[rec.Path] = true

		cat, ok := resolver.Resolve(rec.Path)
		if !ok {
			if p.opts.FallbackCategory == "" {
				continue
			}
			cat = p.opts.FallbackCategory
		}
		destDir := filepath.Join(p.opts.DestRoot, cat)
		if filepath.Dir(rec.Path) == destDir {
			continue
		}
		cands = append(cands, candidate{rec: rec.WithCategory(cat), destDir: destDir, group: idx[rec.Path]})
	}

	sort.SliceStable(cands, func(a, b int) bool {
		da, db := cands[a].duplicate(), cands[b].duplicate()
		if da != db {
			return !da
		}
		return cands[a].rec.Path < cands[b].rec.Path
	})

	for _, c := range cands {
		if c.duplicate() && p.opts.ConflictPolicy == ConflictSkip {
			continue
		}
		p.vacating[c.rec.Path] = true
	}
	return cands
}

func (p *planner) plan(c candidate) *Operation {
	op := &Operation{
		Source:   c.rec.Path,
		Status:   StatusPlanned,
		Category: c.rec.Category,
		Size:     c.rec.Size,
		ModTime:  c.rec.ModTime,
	}
	if c.group != nil && c.group.Verified {
		op.Digest = c.group.Digest
	}

	if c.duplicate() && p.opts.ConflictPolicy == ConflictSkip {
		if p.confirmDuplicate(c, op) {
			op.Destination = filepath.Join(c.destDir, filepath.Base(c.rec.Path))
			op.skip("duplicate of " + c.group.Representative)
			return op
		}
	}

	base := filepath.Base(c.rec.Path)
	for n := 0; n <= p.opts.MaxSuffix; n++ {
		dest := filepath.Join(c.destDir, SuffixedName(base, n))
		if p.claimed[dest] {
			continue
		}

		taken, err := exists(p.opts.FS, dest)
		if err != nil {
			op.Destination = dest
			fe := fileerr.Classify("plan", dest, err)
			op.fail(fe.Kind, fe.Error())
			return op
		}
		if taken && !p.vacating[dest] {
			if p.sameContent(op, dest) {
				op.Destination = dest
				op.skip("identical file already at destination")
				return op
			}
			continue
		}

		op.Destination = dest
		p.claimed[dest] = true
		return op
	}

	op.Destination = filepath.Join(c.destDir, base)
	op.fail(fileerr.DestinationCollisionUnresolved,
		fmt.Sprintf("no free name after %d suffixes", p.opts.MaxSuffix))
	return op
}

// replanBlocked revisits moves that claimed the source of another
// candidate whose own move was then skipped or failed. That source stays
// occupied, so the dependent move searches for a free name again.
func (p *planner) replanBlocked(ops []*Operation, byOp map[*Operation]candidate) error {
	bySource := make(map[string]*Operation, len(ops))
	for _, op := range ops {
		bySource[op.Source] = op
	}

	for changed := true; changed; {
		changed = false
		for i, op := range ops {
			if op.Status != StatusPlanned {
				continue
			}
			occupant := bySource[op.Destination]
			if occupant == nil || occupant.Status == StatusPlanned {
				continue
			}
			if err := p.ctx.Err(); err != nil {
				return err
			}
			delete(p.vacating, op.Destination)
			c := byOp[op]
			replanned := p.plan(c)
			*ops[i] = *replanned
			changed = true
		}
	}
	return nil
}

// confirmDuplicate reports whether a group member may be skipped. Groups
// from fast mode are only trusted after a full hash when VerifyBeforeMove
// is set.
func (p *planner) confirmDuplicate(c candidate, op *Operation) bool {
	if c.group.Verified || !p.opts.VerifyBeforeMove {
		return true
	}

	mine, err := p.fullDigest(c.rec.Path, "")
	if err != nil {
		p.logger.Warn().Err(err).Str("path", c.rec.Path).Msg("Could not verify duplicate, planning a move")
		return false
	}
	rep, err := p.fullDigest(c.group.Representative, "")
	if err != nil {
		p.logger.Warn().Err(err).Str("path", c.group.Representative).Msg("Could not verify duplicate, planning a move")
		return false
	}
	if mine != rep {
		p.logger.Info().Str("path", c.rec.Path).Msg("Partial-hash match was not a duplicate")
		return false
	}
	op.Digest = mine
	return true
}

// sameContent compares the source of op with an existing file at dest
func (p *planner) sameContent(op *Operation, dest string) bool {
	info, err := p.opts.FS.Lstat(dest)
	if err != nil || !info.Mode().IsRegular() || info.Size() != op.Size {
		return false
	}

	mine, err := p.fullDigest(op.Source, op.Digest)
	if err != nil {
		p.logger.Debug().Err(err).Str("path", op.Source).Msg("Could not hash source")
		return false
	}
	theirs, err := p.fullDigest(dest, "")
	if err != nil {
		p.logger.Debug().Err(err).Str("path", dest).Msg("Could not hash existing destination")
		return false
	}
	if mine != theirs {
		return false
	}
	op.Digest = mine
	return true
}

func (p *planner) fullDigest(path string, known digest.Digest) (digest.Digest, error) {
	if known != "" && known.Algorithm().String() == p.opts.Algorithm {
		return known, nil
	}
	return p.opts.Hasher.GetOrCompute(p.ctx, path, p.opts.Algorithm)
}

// SuffixedName returns "name (n).ext", or name itself for n == 0
func SuffixedName(name string, n int) string {
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		stem, ext = name, ""
	}
	return fmt.Sprintf("%s (%d)%s", stem, n, ext)
}

// order places every planned move after the move that vacates its
// destination. Moves caught in a cycle fail. Planned moves come first in
// dependency order, followed by skipped and failed ones.
func order(ops []*Operation) []*Operation {
	bySource := make(map[string]*Operation, len(ops))
	for _, op := range ops {
		bySource[op.Source] = op
	}

	var ready []*Operation
	next := make(map[*Operation]*Operation)
	for _, op := range ops {
		if op.Status != StatusPlanned {
			continue
		}
		if prev := bySource[op.Destination]; prev != nil && prev.Status == StatusPlanned {
			next[prev] = op
			continue
		}
		ready = append(ready, op)
	}

	out := make([]*Operation, 0, len(ops))
	placed := make(map[*Operation]bool)
	for len(ready) > 0 {
		op := ready[0]
		ready = ready[1:]
		out = append(out, op)
		placed[op] = true
		if dep := next[op]; dep != nil {
			ready = append(ready, dep)
		}
	}

	for _, op := range ops {
		if op.Status == StatusPlanned && !placed[op] {
			op.fail(fileerr.DestinationCollisionUnresolved, "move is part of a cycle")
		}
	}
	for _, op := range ops {
		if op.Status != StatusPlanned {
			out = append(out, op)
		}
	}
	return out
}
