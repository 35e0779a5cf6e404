package ui

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fenilsonani/organizer/internal/progress"
	"github.com/fenilsonani/organizer/internal/transaction"
	"github.com/fenilsonani/organizer/internal/ui/styles"
	"golang.org/x/term"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// LiveProgress renders bus snapshots on one status line. On a terminal
// the line is redrawn in place; otherwise only phase changes are printed.
type LiveProgress struct {
	mu         sync.Mutex
	out        io.Writer
	bus        *progress.Bus
	termWidth  int
	live       bool
	interval   time.Duration
	lastUpdate time.Time
	lastPhase  progress.Phase
	frame      int
	drawn      bool
	now        func() time.Time
}

// NewLiveProgress creates a renderer for out. Redrawing is enabled when
// out is a terminal.
func NewLiveProgress(out io.Writer) *LiveProgress {
	lp := &LiveProgress{
		out:       out,
		termWidth: 80,
		interval:  100 * time.Millisecond,
		now:       time.Now,
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		lp.live = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			lp.termWidth = w
		}
	}
	return lp
}

// Attach starts rendering events from bus and returns the detach function
func (lp *LiveProgress) Attach(bus *progress.Bus) func() {
	lp.mu.Lock()
	lp.bus = bus
	lp.mu.Unlock()
	return bus.Observe(lp.handle)
}

func (lp *LiveProgress) handle(e progress.Event) {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	phaseChanged := e.Type == progress.EventPhaseChanged && e.Phase != lp.lastPhase
	if !lp.live {
		if phaseChanged {
			lp.lastPhase = e.Phase
			fmt.Fprintf(lp.out, "==> %s\n", e.Phase)
		}
		return
	}

	// Max 10 redraws per second, phase changes always draw.
	now := lp.now()
	if !phaseChanged && now.Sub(lp.lastUpdate) < lp.interval {
		return
	}
	lp.lastUpdate = now
	lp.lastPhase = lp.bus.Snapshot().Phase
	lp.render(lp.bus.Snapshot(), now)
}

func (lp *LiveProgress) render(s progress.Snapshot, now time.Time) {
	width := lp.termWidth - 2
	lp.frame = (lp.frame + 1) % len(spinnerFrames)

	line := spinnerFrames[lp.frame] + " " + progress.FormatSnapshot(s, now)
	switch s.Phase {
	case progress.PhaseHashing:
		line += " " + styles.ProgressBar(s.Hashed, s.HashTotal, 20)
	case progress.PhaseCommitting:
		line += " " + styles.ProgressBar(s.MovesDone+s.MovesFailed, s.MovesPlanned, 20)
	}
	fmt.Fprintf(lp.out, "\r\033[K%s", truncate(line, width))
	lp.drawn = true
}

// Finish clears the status line and prints the final snapshot
func (lp *LiveProgress) Finish() {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	if !lp.live || lp.bus == nil {
		return
	}
	if lp.drawn {
		fmt.Fprint(lp.out, "\r\033[K")
	}
	fmt.Fprintln(lp.out, progress.FormatSnapshot(lp.bus.Snapshot(), lp.now()))
}

// truncate shortens s to width runes
func truncate(s string, width int) string {
	r := []rune(s)
	if width <= 3 || len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}

// PrintPlanTree prints the planned moves of txn grouped by destination
// directory, showing at most maxFiles entries per directory.
func PrintPlanTree(w io.Writer, txn *transaction.Transaction, maxFiles int) {
	dirs := make(map[string][]*transaction.Operation)
	var total int64
	for _, op := range txn.Operations {
		if op.Status != transaction.StatusPlanned && op.Status != transaction.StatusExecuted {
			continue
		}
		dir := filepath.Dir(op.Destination)
		dirs[dir] = append(dirs[dir], op)
		total += op.Size
	}

	names := make([]string, 0, len(dirs))
	for d := range dirs {
		names = append(names, d)
	}
	sort.Strings(names)

	for i, dir := range names {
		ops := dirs[dir]
		last := i == len(names)-1

		var size int64
		for _, op := range ops {
			size += op.Size
		}
		connector, indent := "├", "│   "
		if last {
			connector, indent = "╰", "    "
		}
		fmt.Fprintf(w, "%s── %s (%d files, %s)\n", connector, dir, len(ops), progress.FormatBytes(size))

		shown := len(ops)
		if maxFiles > 0 && shown > maxFiles {
			shown = maxFiles
		}
		for j := 0; j < shown; j++ {
			leaf := "├"
			if j == len(ops)-1 {
				leaf = "╰"
			}
			op := ops[j]
			fmt.Fprintf(w, "%s%s── %s ← %s\n", indent, leaf, filepath.Base(op.Destination), op.Source)
		}
		if shown < len(ops) {
			fmt.Fprintf(w, "%s╰── ... and %d more files\n", indent, len(ops)-shown)
		}
	}

	fmt.Fprintf(w, "%s\n", strings.Repeat("═", 56))
	fmt.Fprintf(w, "Total: %d moves | %s\n", countMoves(dirs), progress.FormatBytes(total))
}

func countMoves(dirs map[string][]*transaction.Operation) int {
	n := 0
	for _, ops := range dirs {
		n += len(ops)
	}
	return n
}
