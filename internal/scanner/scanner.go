// Package scanner walks a directory tree and emits file records.
package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/fenilsonani/organizer/internal/fileerr"
	"github.com/fenilsonani/organizer/internal/logging"
	"github.com/rs/zerolog"
)

const (
	// RecordBufferSize is the buffer size of the records channel
	RecordBufferSize = 256
	// ErrorBufferSize is the buffer size of the errors channel
	ErrorBufferSize = 64
)

// Options configures a walk
type Options struct {
	Root            string
	Recursive       bool
	IncludeHidden   bool
	FollowSymlinks  bool
	ExcludePatterns []string
	MinSize         int64
	// Exclude adds a caller-supplied predicate on top of the built-in rules.
	Exclude  func(path string, isDir bool) bool
	Progress ProgressFunc
}

// Scanner produces FileRecords for a directory tree. It is safe to call
// Walk repeatedly; each call restarts the walk from the root.
type Scanner struct {
	opts     Options
	root     string
	excluder *Excluder
	logger   zerolog.Logger

	files   atomic.Int64
	dirs    atomic.Int64
	skipped atomic.Int64
	errors  atomic.Int64
}

// New creates a new Scanner
func New(opts Options, logger zerolog.Logger) (*Scanner, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("scan root is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve scan root: %w", err)
	}

	excluder, err := NewExcluder(root, opts.IncludeHidden, opts.ExcludePatterns)
	if err != nil {
		return nil, err
	}

	return &Scanner{
		opts:     opts,
		root:     root,
		excluder: excluder,
		logger:   logging.Component(logger, "scanner"),
	}, nil
}

// Root returns the absolute scan root
func (s *Scanner) Root() string {
	return s.root
}

// Stats returns counters from the most recent walk
func (s *Scanner) Stats() Stats {
	return Stats{
		Files:   s.files.Load(),
		Dirs:    s.dirs.Load(),
		Skipped: s.skipped.Load(),
		Errors:  s.errors.Load(),
	}
}

// Walk starts a single-producer walk. Both channels are closed when the
// walk ends; callers must drain them concurrently (see Collect).
func (s *Scanner) Walk(ctx context.Context) (<-chan FileRecord, <-chan error) {
	records := make(chan FileRecord, RecordBufferSize)
	errs := make(chan error, ErrorBufferSize)

	s.files.Store(0)
	s.dirs.Store(0)
	s.skipped.Store(0)
	s.errors.Store(0)

	go func() {
		defer close(records)
		defer close(errs)
		s.walk(ctx, records, errs)
	}()

	return records, errs
}

type walker struct {
	s       *Scanner
	ctx     context.Context
	records chan<- FileRecord
	errs    chan<- error
	visited map[fileID]bool
	// links are symlinked files, emitted after the walk unless their
	// target was reached directly.
	links []linkedFile
}

type linkedFile struct {
	path string
	info os.FileInfo
}

func (s *Scanner) walk(ctx context.Context, records chan<- FileRecord, errs chan<- error) {
	w := &walker{s: s, ctx: ctx, records: records, errs: errs, visited: make(map[fileID]bool)}

	info, err := os.Stat(s.root)
	if err != nil {
		w.fail("stat", s.root, err)
		return
	}
	if !info.IsDir() {
		w.fail("scan", s.root, fmt.Errorf("not a directory"))
		return
	}

	if id, err := identify(s.root); err == nil {
		w.visited[id] = true
	}

	stack := []string{s.root}
	for len(stack) > 0 {
		if ctx.Err() != nil {
			return
		}

		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		s.dirs.Add(1)

		subdirs, ok := w.readDir(dir)
		if !ok {
			return
		}
		if !s.opts.Recursive {
			continue
		}
		// Push in reverse so directories are visited in lexical order.
		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, subdirs[i])
		}
	}

	w.emitLinks()
}

// emitLinks emits symlinked files whose target was not already emitted
// under its own path or through an earlier link.
func (w *walker) emitLinks() {
	s := w.s
	for _, l := range w.links {
		if w.ctx.Err() != nil {
			return
		}
		id, err := identify(l.path)
		if err != nil {
			if !w.fail("stat", l.path, err) {
				return
			}
			continue
		}
		if w.visited[id] {
			s.skipped.Add(1)
			s.logger.Debug().Str("path", l.path).Msg("Skipping symlink to an already scanned file")
			continue
		}
		if w.accepts(l.path, l.info) {
			w.visited[id] = true
		}
		if !w.emit(l.path, l.info) {
			return
		}
	}
}

// readDir emits the files of one directory and returns its subdirectories.
// ok is false when the walk was cancelled.
func (w *walker) readDir(dir string) (subdirs []string, ok bool) {
	s := w.s

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !w.fail("readdir", dir, err) {
			return nil, false
		}
		if len(entries) == 0 {
			return nil, true
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if w.ctx.Err() != nil {
			return nil, false
		}

		path := filepath.Join(dir, entry.Name())
		mode := entry.Type()

		if mode&os.ModeSymlink != 0 {
			if !s.opts.FollowSymlinks {
				s.skipped.Add(1)
				s.logger.Debug().Str("path", path).Msg("Skipping symlink")
				continue
			}
			target, err := os.Stat(path)
			if err != nil {
				if !w.fail("stat", path, err) {
					return nil, false
				}
				continue
			}
			if target.IsDir() {
				if sub, keep := w.enterDir(path); keep {
					subdirs = append(subdirs, sub)
				}
				continue
			}
			w.links = append(w.links, linkedFile{path: path, info: target})
			continue
		}

		if entry.IsDir() {
			if sub, keep := w.enterDir(path); keep {
				subdirs = append(subdirs, sub)
			}
			continue
		}

		if !mode.IsRegular() {
			s.skipped.Add(1)
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if !w.fail("stat", path, err) {
				return nil, false
			}
			continue
		}
		if s.opts.FollowSymlinks && w.accepts(path, info) {
			if id, err := identifyInfo(path, info); err == nil {
				w.visited[id] = true
			}
		}
		if !w.emit(path, info) {
			return nil, false
		}
	}

	return subdirs, true
}

// enterDir applies exclusion and cycle detection to a directory
func (w *walker) enterDir(path string) (string, bool) {
	s := w.s
	if !s.opts.Recursive {
		return "", false
	}
	if w.excluded(path, true) {
		s.skipped.Add(1)
		return "", false
	}

	id, err := identify(path)
	if err != nil {
		w.fail("stat", path, err)
		return "", false
	}
	if w.visited[id] {
		s.skipped.Add(1)
		s.logger.Debug().Str("path", path).Msg("Skipping already visited directory (symlink cycle)")
		return "", false
	}
	w.visited[id] = true
	return path, true
}

func (w *walker) excluded(path string, isDir bool) bool {
	if w.s.excluder.Excluded(path, isDir) {
		return true
	}
	return w.s.opts.Exclude != nil && w.s.opts.Exclude(path, isDir)
}

// accepts reports whether a file passes exclusion and size filters
func (w *walker) accepts(path string, info os.FileInfo) bool {
	return info.Mode().IsRegular() && !w.excluded(path, false) && info.Size() >= w.s.opts.MinSize
}

func (w *walker) emit(path string, info os.FileInfo) bool {
	s := w.s
	if !w.accepts(path, info) {
		s.skipped.Add(1)
		return true
	}

	rec := FileRecord{Path: path, Size: info.Size(), ModTime: info.ModTime()}
	select {
	case w.records <- rec:
	case <-w.ctx.Done():
		return false
	}

	n := s.files.Add(1)
	if s.opts.Progress != nil {
		s.opts.Progress(n, path)
	}
	return true
}

// fail reports a per-entry error; it returns false only when cancelled
func (w *walker) fail(op, path string, err error) bool {
	w.s.errors.Add(1)
	w.s.logger.Debug().Err(err).Str("path", path).Str("op", op).Msg("Scan entry failed")
	select {
	case w.errs <- fileerr.Classify(op, path, err):
		return true
	case <-w.ctx.Done():
		return false
	}
}
