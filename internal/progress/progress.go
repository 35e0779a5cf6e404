// Package progress publishes pipeline events to decoupled subscribers.
package progress

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Phase represents the current phase of a pipeline run
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseScanning   Phase = "scanning"
	PhaseHashing    Phase = "hashing"
	PhasePlanning   Phase = "planning"
	PhaseCommitting Phase = "committing"
	PhaseComplete   Phase = "complete"
	PhaseCancelled  Phase = "cancelled"
	PhaseError      Phase = "error"
)

// EventType identifies an Event
type EventType string

const (
	EventPhaseChanged         EventType = "phase_changed"
	EventScanProgress         EventType = "scan_progress"
	EventHashProgress         EventType = "hash_progress"
	EventDuplicateGroupFound  EventType = "duplicate_group_found"
	EventMovePlanned          EventType = "move_planned"
	EventMoveCommitted        EventType = "move_committed"
	EventMoveFailed           EventType = "move_failed"
	EventTransactionCompleted EventType = "transaction_completed"
)

// Event is one progress notification. Payload carries the domain value
// (a duplicate group, a move operation or a summary) for the event type.
type Event struct {
	Type    EventType
	Phase   Phase
	Time    time.Time
	Path    string
	Current int64
	Total   int64
	Payload interface{}
	Err     error
}

// Observer receives events synchronously on the publishing goroutine
type Observer func(Event)

// Snapshot is the latest aggregate state seen by a Bus
type Snapshot struct {
	Phase        Phase
	FilesFound   int64
	Hashed       int64
	HashTotal    int64
	GroupsFound  int64
	MovesPlanned int64
	MovesDone    int64
	MovesFailed  int64
	StartTime    time.Time
	LastPath     string
}

// ChannelBufferSize is the buffer of every subscriber channel
const ChannelBufferSize = 64

// Bus provides thread-safe event fan-out. Channel subscribers never block
// publishers: events are dropped for a subscriber whose buffer is full.
// A nil *Bus accepts and discards every event.
type Bus struct {
	mu        sync.RWMutex
	listeners []chan Event
	observers map[int]Observer
	nextID    int
	snapshot  Snapshot
	dropped   atomic.Int64
	now       func() time.Time
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		listeners: make([]chan Event, 0),
		observers: make(map[int]Observer),
		snapshot:  Snapshot{Phase: PhaseIdle},
		now:       time.Now,
	}
}

// Subscribe returns a channel that receives events
func (b *Bus) Subscribe() <-chan Event {
	if b == nil {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, ChannelBufferSize)
	b.listeners = append(b.listeners, ch)
	return ch
}

// Unsubscribe closes and removes a listener channel
func (b *Bus) Unsubscribe(ch <-chan Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, listener := range b.listeners {
		if listener == ch {
			close(listener)
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return
		}
	}
}

// Observe registers a synchronous observer and returns a function that removes it
func (b *Bus) Observe(fn Observer) func() {
	if b == nil {
		return func() {}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.observers[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.observers, id)
	}
}

// Close closes every subscriber channel
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, l := range b.listeners {
		close(l)
	}
	b.listeners = nil
}

// Publish stamps the event, updates the snapshot and notifies subscribers
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = b.now()
	}

	b.mu.Lock()
	b.apply(e)
	if e.Phase == "" {
		e.Phase = b.snapshot.Phase
	}
	observers := make([]Observer, 0, len(b.observers))
	for _, o := range b.observers {
		observers = append(observers, o)
	}
	b.mu.Unlock()

	for _, o := range observers {
		o(e)
	}

	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send.
	b.mu.RLock()
	for _, listener := range b.listeners {
		select {
		case listener <- e:
		default:
			b.dropped.Add(1)
		}
	}
	b.mu.RUnlock()
}

func (b *Bus) apply(e Event) {
	s := &b.snapshot
	if e.Path != "" {
		s.LastPath = e.Path
	}
	switch e.Type {
	case EventPhaseChanged:
		s.Phase = e.Phase
		if e.Phase == PhaseScanning || s.StartTime.IsZero() {
			s.StartTime = e.Time
		}
	case EventScanProgress:
		s.FilesFound = e.Current
	case EventHashProgress:
		s.Hashed, s.HashTotal = e.Current, e.Total
	case EventDuplicateGroupFound:
		s.GroupsFound++
	case EventMovePlanned:
		s.MovesPlanned++
	case EventMoveCommitted:
		s.MovesDone++
	case EventMoveFailed:
		s.MovesFailed++
	}
}

// Snapshot returns the aggregate state
func (b *Bus) Snapshot() Snapshot {
	if b == nil {
		return Snapshot{Phase: PhaseIdle}
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshot
}

// Dropped returns how many channel deliveries were skipped
func (b *Bus) Dropped() int64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

// SetPhase announces a phase transition
func (b *Bus) SetPhase(p Phase) {
	b.Publish(Event{Type: EventPhaseChanged, Phase: p})
}

// ScanProgress reports the number of files found so far
func (b *Bus) ScanProgress(count int64, path string) {
	b.Publish(Event{Type: EventScanProgress, Current: count, Path: path})
}

// HashProgress reports hashed files out of candidates
func (b *Bus) HashProgress(current, total int64) {
	b.Publish(Event{Type: EventHashProgress, Current: current, Total: total})
}

// DuplicateGroupFound reports a newly confirmed group
func (b *Bus) DuplicateGroupFound(group interface{}) {
	b.Publish(Event{Type: EventDuplicateGroupFound, Payload: group})
}

// MovePlanned reports an operation added to a transaction
func (b *Bus) MovePlanned(op interface{}) {
	b.Publish(Event{Type: EventMovePlanned, Payload: op})
}

// MoveCommitted reports an executed move
func (b *Bus) MoveCommitted(op interface{}) {
	b.Publish(Event{Type: EventMoveCommitted, Payload: op})
}

// MoveFailed reports a failed move
func (b *Bus) MoveFailed(op interface{}, err error) {
	b.Publish(Event{Type: EventMoveFailed, Payload: op, Err: err})
}

// TransactionCompleted reports the end of a commit or rollback
func (b *Bus) TransactionCompleted(summary interface{}) {
	b.Publish(Event{Type: EventTransactionCompleted, Payload: summary})
}

// FormatSnapshot returns a human-readable progress line
func FormatSnapshot(s Snapshot, now time.Time) string {
	elapsed := time.Duration(0)
	if !s.StartTime.IsZero() {
		elapsed = now.Sub(s.StartTime)
	}

	switch s.Phase {
	case PhaseScanning:
		return fmt.Sprintf("Scanning... Found %d files [%s]", s.FilesFound, FormatDuration(elapsed))
	case PhaseHashing:
		percentage := int64(0)
		if s.HashTotal > 0 {
			percentage = s.Hashed * 100 / s.HashTotal
		}
		return fmt.Sprintf("Hashing... %d/%d files (%d%%) - %d duplicate groups [%s]",
			s.Hashed, s.HashTotal, percentage, s.GroupsFound, FormatDuration(elapsed))
	case PhasePlanning:
		return fmt.Sprintf("Planning... %d moves planned", s.MovesPlanned)
	case PhaseCommitting:
		return fmt.Sprintf("Moving... %d/%d files (%d failed) [%s]",
			s.MovesDone, s.MovesPlanned, s.MovesFailed, FormatDuration(elapsed))
	case PhaseComplete:
		return fmt.Sprintf("Complete: %d files, %d duplicate groups, %d moved in %s",
			s.FilesFound, s.GroupsFound, s.MovesDone, FormatDuration(elapsed))
	case PhaseCancelled:
		return "Cancelled"
	case PhaseError:
		return "Failed"
	default:
		return "Initializing..."
	}
}

// FormatBytes formats bytes in human-readable format
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDuration formats duration in human-readable format
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)

	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
