// Package fileerr classifies per-file failures raised while scanning,
// hashing and moving files.
package fileerr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"syscall"
)

// Kind categorizes why an operation on a single file failed
type Kind int

const (
	Unknown Kind = iota
	PermissionDenied
	VanishedFile
	HashTimeout
	DestinationCollisionUnresolved
	PartialTransactionFailure
	CacheCorruption
	Cancelled
)

// String returns a human-readable kind
func (k Kind) String() string {
	switch k {
	case PermissionDenied:
		return "Permission denied"
	case VanishedFile:
		return "File vanished"
	case HashTimeout:
		return "Hash timed out"
	case DestinationCollisionUnresolved:
		return "Destination collision unresolved"
	case PartialTransactionFailure:
		return "Partial transaction failure"
	case CacheCorruption:
		return "Cache corruption"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown error"
	}
}

// Error is a classified failure on one path
type Error struct {
	Path      string
	Kind      Kind
	Op        string
	Original  error
	Retryable bool
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s %s: %s (%v)", e.Op, e.Path, e.Kind, e.Original)
	}
	return fmt.Sprintf("%s: %s (%v)", e.Path, e.Kind, e.Original)
}

// Unwrap exposes the underlying cause to errors.Is/As
func (e *Error) Unwrap() error {
	return e.Original
}

// New builds an Error with an explicit kind
func New(kind Kind, op, path string, err error) *Error {
	return &Error{Path: path, Kind: kind, Op: op, Original: err}
}

// Classify analyzes an error and returns a categorized Error.
// Errors that are already classified are returned unchanged.
func Classify(op, path string, err error) *Error {
	if err == nil {
		return nil
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}

	e := &Error{Path: path, Op: op, Original: err, Kind: Unknown}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		e.Kind = HashTimeout
		e.Retryable = true
		return e
	case errors.Is(err, context.Canceled):
		e.Kind = Cancelled
		return e
	case os.IsNotExist(err):
		e.Kind = VanishedFile
		return e
	case os.IsPermission(err):
		e.Kind = PermissionDenied
		return e
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EACCES, syscall.EPERM:
			e.Kind = PermissionDenied
		case syscall.ENOENT, syscall.ESTALE:
			e.Kind = VanishedFile
		case syscall.EBUSY, syscall.ETXTBSY, syscall.EINTR:
			e.Retryable = true
		}
	}

	return e
}

// KindOf returns the kind of err, or Unknown when err is not classified
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err is a classified error of the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Group groups errors by kind
func Group(errs []*Error) map[Kind][]*Error {
	grouped := make(map[Kind][]*Error)
	for _, err := range errs {
		grouped[err.Kind] = append(grouped[err.Kind], err)
	}
	return grouped
}

// Batch collects per-file errors for one pipeline phase without aborting it
type Batch struct {
	Phase  string
	Errors []*Error
}

// Add classifies err and appends it to the batch
func (b *Batch) Add(op, path string, err error) *Error {
	fe := Classify(op, path, err)
	if fe != nil {
		b.Errors = append(b.Errors, fe)
	}
	return fe
}

// Len returns the number of collected errors
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Errors)
}

// Summary creates a user-friendly summary of the batch
func (b *Batch) Summary() string {
	if b.Len() == 0 {
		return ""
	}
	return FormatSummary(b.Phase, b.Errors)
}

var kindTips = map[Kind]string{
	PermissionDenied: "Check ownership or run with elevated permissions",
	VanishedFile:     "Files changed during the run; rescan to refresh",
	HashTimeout:      "Raise hash_timeout for slow media",
}

// FormatSummary renders a grouped, deterministic summary of errs
func FormatSummary(phase string, errs []*Error) string {
	if len(errs) == 0 {
		return ""
	}

	grouped := Group(errs)
	kinds := make([]Kind, 0, len(grouped))
	for k := range grouped {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var sb strings.Builder
	if phase != "" {
		fmt.Fprintf(&sb, "\nIssues encountered while %s:\n", phase)
	} else {
		sb.WriteString("\nIssues encountered:\n")
	}

	for i, k := range kinds {
		branch := "├─"
		if i == len(kinds)-1 {
			branch = "└─"
		}
		fmt.Fprintf(&sb, "   %s %s: %d files\n", branch, k, len(grouped[k]))
		if tip, ok := kindTips[k]; ok {
			fmt.Fprintf(&sb, "   │  └─ Tip: %s\n", tip)
		}
	}

	return sb.String()
}
