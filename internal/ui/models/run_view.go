package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fenilsonani/organizer/internal/duplicates"
	"github.com/fenilsonani/organizer/internal/hashing"
	pbus "github.com/fenilsonani/organizer/internal/progress"
	"github.com/fenilsonani/organizer/internal/transaction"
	"github.com/fenilsonani/organizer/internal/ui/styles"
	"github.com/fenilsonani/organizer/internal/ui/utils"
)

// EventMsg carries one bus event into the program
type EventMsg struct {
	Event pbus.Event
}

// DoneMsg ends the run; Err is the pipeline result
type DoneMsg struct {
	Err error
}

// maxRecent bounds the activity log shown under the bars
const maxRecent = 6

// RunModel renders a live pipeline run from bus events
type RunModel struct {
	title     string
	snapshot  pbus.Snapshot
	spinner   spinner.Model
	bar       progress.Model
	recent    []string
	startTime time.Time
	width     int

	cancel     func()
	cancelling bool
	done       bool
	err        error
	summary    *transaction.Summary
}

// NewRunModel creates a run view. cancel is invoked once when the user
// asks to stop.
func NewRunModel(title string, cancel func()) *RunModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.SelectedStyle

	return &RunModel{
		title:     title,
		snapshot:  pbus.Snapshot{Phase: pbus.PhaseIdle},
		spinner:   s,
		bar:       progress.New(progress.WithDefaultGradient()),
		startTime: time.Now(),
		width:     80,
		cancel:    cancel,
	}
}

// Init starts the spinner
func (m *RunModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages
func (m *RunModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.done {
				return m, tea.Quit
			}
			if !m.cancelling {
				m.cancelling = true
				m.push(styles.WarningStyle.Render("cancelling, finishing current move..."))
				if m.cancel != nil {
					m.cancel()
				}
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = clamp(msg.Width-10, 10, 60)
		return m, nil

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case EventMsg:
		m.apply(msg.Event)
		return m, nil

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit
	}

	return m, nil
}

func (m *RunModel) apply(e pbus.Event) {
	s := &m.snapshot
	switch e.Type {
	case pbus.EventPhaseChanged:
		s.Phase = e.Phase
	case pbus.EventScanProgress:
		s.FilesFound = e.Current
		s.LastPath = e.Path
	case pbus.EventHashProgress:
		s.Hashed, s.HashTotal = e.Current, e.Total
	case pbus.EventDuplicateGroupFound:
		s.GroupsFound++
		if g, ok := e.Payload.(duplicates.Group); ok {
			m.push(fmt.Sprintf("%s %d copies of %s",
				styles.CategoryStyle.Render("dup"), len(g.Members), hashing.Short(g.Digest)))
		}
	case pbus.EventMovePlanned:
		s.MovesPlanned++
	case pbus.EventMoveCommitted:
		s.MovesDone++
		if op, ok := e.Payload.(*transaction.Operation); ok {
			s.LastPath = op.Source
		}
	case pbus.EventMoveFailed:
		s.MovesFailed++
		if op, ok := e.Payload.(*transaction.Operation); ok {
			m.push(styles.ErrorStyle.Render("failed ") + op.Source + ": " + op.Reason)
		}
	case pbus.EventTransactionCompleted:
		if sum, ok := e.Payload.(transaction.Summary); ok {
			m.summary = &sum
		}
	}
}

func (m *RunModel) push(line string) {
	m.recent = append(m.recent, line)
	if len(m.recent) > maxRecent {
		m.recent = m.recent[len(m.recent)-maxRecent:]
	}
}

// Err returns the pipeline result once the run is done
func (m *RunModel) Err() error {
	return m.err
}

// Snapshot returns the aggregate state rendered so far
func (m *RunModel) Snapshot() pbus.Snapshot {
	return m.snapshot
}

// View renders the run view
func (m *RunModel) View() string {
	var b strings.Builder
	s := m.snapshot

	b.WriteString(styles.TitleStyle.Render(m.title))
	b.WriteString("\n")

	if !m.done {
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
	}
	b.WriteString(pbus.FormatSnapshot(s, time.Now()))
	b.WriteString("\n\n")

	switch s.Phase {
	case pbus.PhaseHashing:
		b.WriteString(m.bar.ViewAs(ratio(s.Hashed, s.HashTotal)))
		b.WriteString("\n")
	case pbus.PhaseCommitting:
		b.WriteString(m.bar.ViewAs(ratio(s.MovesDone+s.MovesFailed, s.MovesPlanned)))
		b.WriteString("\n")
	}

	if s.LastPath != "" && !m.done {
		b.WriteString(styles.DimStyle.Render("Current: "))
		b.WriteString(styles.FilePathStyle.Render(utils.TruncatePath(s.LastPath, clamp(m.width-10, 20, 100))))
		b.WriteString("\n")
	}

	if len(m.recent) > 0 {
		b.WriteString("\n")
		for _, line := range m.recent {
			b.WriteString("  " + line + "\n")
		}
	}

	if m.summary != nil {
		b.WriteString("\n")
		b.WriteString(styles.PanelStyle.Render(fmt.Sprintf("%s  moved %d  skipped %d  failed %d",
			styles.Status(string(m.summary.State)), m.summary.Executed, m.summary.Skipped, m.summary.Failed)))
		b.WriteString("\n")
	}

	if m.done {
		if m.err != nil {
			b.WriteString(styles.ErrorStyle.Render("✗ " + m.err.Error()))
		} else {
			b.WriteString(styles.SuccessStyle.Render("✓ Done"))
		}
		b.WriteString("\n")
	} else {
		b.WriteString("\n")
		b.WriteString(styles.HelpStyle.Render("q: cancel"))
	}

	return b.String()
}

func ratio(current, total int64) float64 {
	if total <= 0 {
		return 0
	}
	r := float64(current) / float64(total)
	if r > 1 {
		return 1
	}
	return r
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
