package fileerr

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      Kind
		retryable bool
	}{
		{"EACCES", syscall.EACCES, PermissionDenied, false},
		{"EPERM", syscall.EPERM, PermissionDenied, false},
		{"ENOENT", syscall.ENOENT, VanishedFile, false},
		{"EBUSY", syscall.EBUSY, Unknown, true},
		{"wrapped EACCES", fmt.Errorf("open: %w", syscall.EACCES), PermissionDenied, false},
		{"path error", &os.PathError{Op: "open", Path: "/x", Err: syscall.ENOENT}, VanishedFile, false},
		{"os.ErrNotExist", os.ErrNotExist, VanishedFile, false},
		{"os.ErrPermission", os.ErrPermission, PermissionDenied, false},
		{"deadline", context.DeadlineExceeded, HashTimeout, true},
		{"wrapped deadline", fmt.Errorf("hash: %w", context.DeadlineExceeded), HashTimeout, true},
		{"canceled", context.Canceled, Cancelled, false},
		{"plain", fmt.Errorf("boom"), Unknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("hash", "/tmp/file", tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.Equal(t, "/tmp/file", got.Path)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassifyNil(t *testing.T) {
	assert.Nil(t, Classify("scan", "/x", nil))
}

func TestClassifyKeepsExistingKind(t *testing.T) {
	orig := New(DestinationCollisionUnresolved, "plan", "/a", fmt.Errorf("exhausted"))
	wrapped := fmt.Errorf("planning: %w", orig)

	got := Classify("move", "/b", wrapped)
	assert.Same(t, orig, got)
	assert.True(t, Is(wrapped, DestinationCollisionUnresolved))
	assert.False(t, Is(nil, DestinationCollisionUnresolved))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "Permission denied", PermissionDenied.String())
	assert.Equal(t, "Hash timed out", HashTimeout.String())
	assert.Equal(t, "Unknown error", Kind(99).String())
}

func TestBatchSummary(t *testing.T) {
	var empty *Batch
	assert.Equal(t, 0, empty.Len())

	b := &Batch{Phase: "hashing"}
	assert.Equal(t, "", b.Summary())

	b.Add("hash", "/a", syscall.EACCES)
	b.Add("hash", "/b", syscall.EACCES)
	b.Add("hash", "/c", context.DeadlineExceeded)
	b.Add("hash", "/d", nil)

	require.Equal(t, 3, b.Len())
	summary := b.Summary()
	assert.Contains(t, summary, "while hashing")
	assert.Contains(t, summary, "Permission denied: 2 files")
	assert.Contains(t, summary, "Hash timed out: 1 files")
	assert.Less(t, strings.Index(summary, "Permission denied"), strings.Index(summary, "Hash timed out"))
}
