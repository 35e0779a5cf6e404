// Package transaction plans file moves into an ordered, reversible
// transaction and commits it with rollback on failure.
package transaction

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fenilsonani/organizer/internal/fileerr"
	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
)

// Status is the lifecycle of one move
type Status string

const (
	StatusPlanned    Status = "planned"
	StatusExecuted   Status = "executed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
	StatusSkipped    Status = "skipped"
)

// State is the lifecycle of a transaction
type State string

const (
	StateBuilding        State = "building"
	StateCommitting      State = "committing"
	StateCommitted       State = "committed"
	StateRolledBack      State = "rolled_back"
	StatePartiallyFailed State = "partially_failed"
)

var (
	// ErrCommitInProgress is returned when a commit or undo is already running
	ErrCommitInProgress = errors.New("a transaction is already being committed")
	// ErrNotCommitted is returned when undoing a transaction that did not commit
	ErrNotCommitted = errors.New("transaction is not committed")
	// ErrNotBuilding is returned when committing a transaction twice
	ErrNotBuilding = errors.New("transaction is not in building state")
	// ErrNotFound is returned for unknown transaction ids
	ErrNotFound = errors.New("transaction not found")
	// ErrAmbiguousID is returned when an id prefix matches several transactions
	ErrAmbiguousID = errors.New("transaction id prefix is ambiguous")
	// ErrPlanFailures is returned when plan-time failures block a commit
	ErrPlanFailures = errors.New("transaction has operations that failed during planning")
)

// Operation is a single move
type Operation struct {
	Source      string        `json:"source" yaml:"source"`
	Destination string        `json:"destination" yaml:"destination"`
	Status      Status        `json:"status" yaml:"status"`
	Reason      string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	Kind        fileerr.Kind  `json:"kind,omitempty" yaml:"kind,omitempty"`
	Digest      digest.Digest `json:"digest,omitempty" yaml:"digest,omitempty"`
	Category    string        `json:"category,omitempty" yaml:"category,omitempty"`
	Size        int64         `json:"size" yaml:"size"`
	ModTime     time.Time     `json:"mod_time" yaml:"mod_time"`
}

func (op *Operation) fail(kind fileerr.Kind, reason string) {
	op.Status = StatusFailed
	op.Kind = kind
	op.Reason = reason
}

func (op *Operation) skip(reason string) {
	op.Status = StatusSkipped
	op.Reason = reason
}

// Transaction is an ordered batch of moves
type Transaction struct {
	ID          string       `json:"id" yaml:"id"`
	CreatedAt   time.Time    `json:"created_at" yaml:"created_at"`
	CompletedAt time.Time    `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	State       State        `json:"state" yaml:"state"`
	DestRoot    string       `json:"dest_root,omitempty" yaml:"dest_root,omitempty"`
	Operations  []*Operation `json:"operations" yaml:"operations"`
	// CreatedDirs lists destination directories created by the commit, in
	// creation order.
	CreatedDirs []string `json:"created_dirs,omitempty" yaml:"created_dirs,omitempty"`
	Error       string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewTransaction creates an empty transaction in building state
func NewTransaction() *Transaction {
	return &Transaction{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		State:     StateBuilding,
	}
}

// AddMove appends a planned move
func (t *Transaction) AddMove(source, destination string) *Operation {
	op := &Operation{Source: source, Destination: destination, Status: StatusPlanned}
	t.Operations = append(t.Operations, op)
	return op
}

// Count returns how many operations have status s
func (t *Transaction) Count(s Status) int {
	n := 0
	for _, op := range t.Operations {
		if op.Status == s {
			n++
		}
	}
	return n
}

// Filter returns operations with status s, in order
func (t *Transaction) Filter(s Status) []*Operation {
	var out []*Operation
	for _, op := range t.Operations {
		if op.Status == s {
			out = append(out, op)
		}
	}
	return out
}

// ShortID returns the first 8 characters of the id
func (t *Transaction) ShortID() string {
	if len(t.ID) > 8 {
		return t.ID[:8]
	}
	return t.ID
}

// Summary condenses a transaction for reporting
type Summary struct {
	ID         string        `json:"id" yaml:"id"`
	State      State         `json:"state" yaml:"state"`
	Planned    int           `json:"planned" yaml:"planned"`
	Executed   int           `json:"executed" yaml:"executed"`
	Skipped    int           `json:"skipped" yaml:"skipped"`
	Failed     int           `json:"failed" yaml:"failed"`
	RolledBack int           `json:"rolled_back" yaml:"rolled_back"`
	BytesMoved int64         `json:"bytes_moved" yaml:"bytes_moved"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

// Summarize counts operations by status
func (t *Transaction) Summarize() Summary {
	s := Summary{ID: t.ID, State: t.State}
	for _, op := range t.Operations {
		switch op.Status {
		case StatusPlanned:
			s.Planned++
		case StatusExecuted:
			s.Executed++
			s.BytesMoved += op.Size
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		case StatusRolledBack:
			s.RolledBack++
		}
	}
	if !t.CompletedAt.IsZero() {
		s.Duration = t.CompletedAt.Sub(t.CreatedAt)
	}
	return s
}

// RollbackError lists the paths a rollback could not restore. Each path
// in Unresolved holds a moved file or a stray copy left on disk.
type RollbackError struct {
	TransactionID string
	Unresolved    []string
	Cause         error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("transaction %s partially rolled back, %d unresolved: %s",
		e.TransactionID, len(e.Unresolved), strings.Join(e.Unresolved, ", "))
}

func (e *RollbackError) Unwrap() error {
	return e.Cause
}
