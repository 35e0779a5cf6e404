package progress

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe()
	b := bus.Subscribe()

	var mu sync.Mutex
	var observed []EventType
	remove := bus.Observe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		observed = append(observed, e.Type)
	})

	bus.SetPhase(PhaseScanning)
	bus.ScanProgress(3, "/data/a.jpg")

	for _, ch := range []<-chan Event{a, b} {
		first := <-ch
		assert.Equal(t, EventPhaseChanged, first.Type)
		second := <-ch
		assert.Equal(t, EventScanProgress, second.Type)
		assert.Equal(t, int64(3), second.Current)
		assert.Equal(t, PhaseScanning, second.Phase)
		assert.False(t, second.Time.IsZero())
	}

	remove()
	bus.HashProgress(1, 2)
	mu.Lock()
	assert.Equal(t, []EventType{EventPhaseChanged, EventScanProgress}, observed)
	mu.Unlock()
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()

	for i := 0; i < ChannelBufferSize+10; i++ {
		bus.ScanProgress(int64(i), "")
	}

	assert.Len(t, ch, ChannelBufferSize)
	assert.Equal(t, int64(10), bus.Dropped())
	assert.Equal(t, int64(ChannelBufferSize+9), bus.Snapshot().FilesFound)
}

func TestBusUnsubscribeAndClose(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)

	other := bus.Subscribe()
	bus.Close()
	_, open = <-other
	assert.False(t, open)

	// Publishing after close must not panic.
	bus.ScanProgress(1, "")
}

func TestNilBusIsNoop(t *testing.T) {
	var bus *Bus
	bus.SetPhase(PhaseHashing)
	bus.MoveFailed("op", errors.New("x"))
	bus.Close()
	assert.Equal(t, PhaseIdle, bus.Snapshot().Phase)
	assert.Zero(t, bus.Dropped())
}

func TestSnapshotAggregates(t *testing.T) {
	bus := NewBus()
	bus.SetPhase(PhaseHashing)
	bus.HashProgress(5, 10)
	bus.DuplicateGroupFound("g1")
	bus.DuplicateGroupFound("g2")
	bus.SetPhase(PhaseCommitting)
	bus.MovePlanned("op1")
	bus.MovePlanned("op2")
	bus.MoveCommitted("op1")
	bus.MoveFailed("op2", errors.New("boom"))

	s := bus.Snapshot()
	assert.Equal(t, PhaseCommitting, s.Phase)
	assert.Equal(t, int64(5), s.Hashed)
	assert.Equal(t, int64(10), s.HashTotal)
	assert.Equal(t, int64(2), s.GroupsFound)
	assert.Equal(t, int64(2), s.MovesPlanned)
	assert.Equal(t, int64(1), s.MovesDone)
	assert.Equal(t, int64(1), s.MovesFailed)
}

func TestFormatSnapshot(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(90 * time.Second)

	line := FormatSnapshot(Snapshot{Phase: PhaseHashing, Hashed: 5, HashTotal: 20, GroupsFound: 2, StartTime: start}, now)
	assert.Equal(t, "Hashing... 5/20 files (25%) - 2 duplicate groups [1m30s]", line)

	assert.Equal(t, "Initializing...", FormatSnapshot(Snapshot{}, now))
	assert.Contains(t, FormatSnapshot(Snapshot{Phase: PhaseScanning, FilesFound: 7, StartTime: start}, now), "Found 7 files")
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1024 * 1024, "1.00 MB"},
		{5 * 1024 * 1024 * 1024, "5.00 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.in))
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5s", FormatDuration(5*time.Second))
	assert.Equal(t, "2m3s", FormatDuration(123*time.Second))
	assert.Equal(t, "1h0m1s", FormatDuration(time.Hour+time.Second))
	require.Equal(t, "0s", FormatDuration(0))
}
