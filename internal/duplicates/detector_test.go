package duplicates

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fenilsonani/organizer/internal/fileerr"
	"github.com/fenilsonani/organizer/internal/hashing"
	"github.com/fenilsonani/organizer/internal/progress"
	"github.com/fenilsonani/organizer/internal/scanner"
	"github.com/fenilsonani/organizer/internal/testutil"
	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSource hashes directly and remembers every (path, key) request
type recordingSource struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (r *recordingSource) GetOrCompute(ctx context.Context, path, key string) (digest.Digest, error) {
	r.mu.Lock()
	r.calls = append(r.calls, key+" "+path)
	err := r.fail[path]
	r.mu.Unlock()
	if err != nil {
		return "", fileerr.Classify("hash", path, err)
	}
	return hashing.Direct{}.GetOrCompute(ctx, path, key)
}

func (r *recordingSource) keys() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int)
	for _, c := range r.calls {
		out[strings.SplitN(c, " ", 2)[0]]++
	}
	return out
}

func (r *recordingSource) touched(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if strings.HasSuffix(c, " "+path) {
			return true
		}
	}
	return false
}

func scan(t *testing.T, root string) []scanner.FileRecord {
	t.Helper()
	s, err := scanner.New(scanner.Options{Root: root, Recursive: true}, zerolog.Nop())
	require.NoError(t, err)
	res := s.Scan(context.Background())
	require.Empty(t, res.Errors)
	return res.Files
}

func detect(t *testing.T, src hashing.Source, opts Options, records []scanner.FileRecord) *Result {
	t.Helper()
	opts.Logger = zerolog.Nop()
	res, err := New(src, opts).Detect(context.Background(), records)
	require.NoError(t, err)
	return res
}

func TestHybridEndToEndScenario(t *testing.T) {
	f := testutil.NewFixture(t)
	content := bytes.Repeat([]byte{0xAB}, 1024)
	a := f.CreateFile("a.jpg", content)
	b := f.CreateFile("b.jpg", content)
	f.CreateFilledFile("c.png", 2048, 0xCD)

	src := &recordingSource{}
	res := detect(t, src, Options{Mode: ModeHybrid}, scan(t, f.RootDir))

	require.Len(t, res.Groups, 1)
	g := res.Groups[0]
	assert.Equal(t, []string{a, b}, g.Paths())
	assert.Equal(t, a, g.Representative)
	assert.Equal(t, []string{b}, g.Duplicates())
	assert.Equal(t, int64(1024), g.Size)
	assert.Equal(t, int64(1024), g.Reclaimable())
	assert.True(t, g.Verified)
	assert.Equal(t, "sha256", g.Digest.Algorithm().String())
	assert.Equal(t, 2, res.Candidates)
	assert.False(t, src.touched(f.Path("c.png")), "size singletons are never hashed")
}

// crafted files share size and the leading window but differ in the tail
func craftPrefixCollision(f *testutil.TestFixture, window int) (string, string) {
	head := bytes.Repeat([]byte("H"), window)
	x := f.CreateFile("x.bin", append(append([]byte{}, head...), []byte("tail-one")...))
	y := f.CreateFile("y.bin", append(append([]byte{}, head...), []byte("tail-two")...))
	return x, y
}

func TestPrefixCollisionModes(t *testing.T) {
	const window = 4096
	f := testutil.NewFixture(t)
	x, y := craftPrefixCollision(f, window)
	records := scan(t, f.RootDir)

	t.Run("hybrid rejects", func(t *testing.T) {
		res := detect(t, &recordingSource{}, Options{Mode: ModeHybrid, PartialWindow: window}, records)
		assert.Empty(t, res.Groups)
	})

	t.Run("deep rejects", func(t *testing.T) {
		src := &recordingSource{}
		res := detect(t, src, Options{Mode: ModeDeep, PartialWindow: window}, records)
		assert.Empty(t, res.Groups)
		assert.Equal(t, map[string]int{"sha256": 2}, src.keys(), "deep mode skips the partial phase")
	})

	t.Run("fast reports a false positive", func(t *testing.T) {
		src := &recordingSource{}
		res := detect(t, src, Options{Mode: ModeFast, PartialWindow: window}, records)
		require.Len(t, res.Groups, 1)
		assert.Equal(t, []string{x, y}, res.Groups[0].Paths())
		assert.False(t, res.Groups[0].Verified)
		assert.Equal(t, map[string]int{hashing.PartialKey(hashing.XXH64, window): 2}, src.keys(), "fast mode never full-hashes")
	})
}

func TestIdenticalFilesShareExactlyOneGroup(t *testing.T) {
	f := testutil.NewFixture(t)
	var want [][]string
	for i := 0; i < 4; i++ {
		content := bytes.Repeat([]byte{byte('a' + i)}, 100+i%2)
		var paths []string
		for j := 0; j < i+2; j++ {
			paths = append(paths, f.CreateFile(fmt.Sprintf("g%d/copy%d.dat", i, j), content))
		}
		want = append(want, paths)
	}
	f.CreateRandomFile("noise/one.dat", 100)
	f.CreateRandomFile("noise/two.dat", 101)

	for _, mode := range []Mode{ModeHybrid, ModeDeep} {
		t.Run(string(mode), func(t *testing.T) {
			res := detect(t, &recordingSource{}, Options{Mode: mode, PartialWindow: 16}, scan(t, f.RootDir))
			require.Len(t, res.Groups, 4)

			seen := make(map[string]int)
			for _, g := range res.Groups {
				assert.GreaterOrEqual(t, len(g.Members), 2)
				for _, p := range g.Paths() {
					seen[p]++
				}
			}
			for _, paths := range want {
				first := NewIndex(res.Groups)[paths[0]]
				require.NotNil(t, first)
				for _, p := range paths {
					assert.Equal(t, 1, seen[p], "path %s must be in exactly one group", p)
					assert.True(t, first.Contains(p))
				}
			}
			assert.Zero(t, seen[f.Path("noise/one.dat")])
		})
	}
}

func TestGroupsAreSortedBySizeThenDigest(t *testing.T) {
	f := testutil.NewFixture(t)
	f.CreateFilledFile("s1.bin", 10, 1)
	f.CreateFilledFile("s2.bin", 10, 1)
	f.CreateFilledFile("l1.bin", 50, 2)
	f.CreateFilledFile("l2.bin", 50, 2)
	f.CreateFilledFile("m1.bin", 10, 3)
	f.CreateFilledFile("m2.bin", 10, 3)

	res := detect(t, &recordingSource{}, Options{}, scan(t, f.RootDir))
	require.Len(t, res.Groups, 3)
	assert.Equal(t, int64(50), res.Groups[0].Size)
	assert.Equal(t, int64(10), res.Groups[1].Size)
	assert.Less(t, string(res.Groups[1].Digest), string(res.Groups[2].Digest))
	assert.Equal(t, int64(50+10+10), TotalReclaimable(res.Groups))
}

func TestZeroByteFilesGroupedWithoutHashing(t *testing.T) {
	f := testutil.NewFixture(t)
	e1 := f.CreateFile("empty1", nil)
	e2 := f.CreateFile("empty2", nil)

	src := &recordingSource{}
	res := detect(t, src, Options{}, scan(t, f.RootDir))

	require.Len(t, res.Groups, 1)
	assert.Equal(t, []string{e1, e2}, res.Groups[0].Paths())
	assert.Equal(t, int64(0), res.Groups[0].Reclaimable())
	assert.Empty(t, src.keys())
	assert.Equal(t, "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", res.Groups[0].Digest.String())
}

func TestPerFileErrorsDropCandidate(t *testing.T) {
	f := testutil.NewFixture(t)
	content := []byte("duplicate content")
	a := f.CreateFile("a.txt", content)
	b := f.CreateFile("b.txt", content)
	gone := f.CreateFile("c.txt", content)
	records := scan(t, f.RootDir)
	require.NoError(t, os.Remove(gone))

	src := &recordingSource{fail: map[string]error{}}
	res := detect(t, src, Options{}, records)

	require.Len(t, res.Groups, 1)
	assert.Equal(t, []string{a, b}, res.Groups[0].Paths())
	require.Equal(t, 1, res.Errors.Len())
	assert.Equal(t, fileerr.VanishedFile, res.Errors.Errors[0].Kind)
	assert.Equal(t, gone, res.Errors.Errors[0].Path)
}

func TestInjectedErrorLeavesSingleton(t *testing.T) {
	f := testutil.NewFixture(t)
	a := f.CreateFile("a.txt", []byte("same"))
	b := f.CreateFile("b.txt", []byte("same"))

	src := &recordingSource{fail: map[string]error{b: context.DeadlineExceeded}}
	res := detect(t, src, Options{}, scan(t, f.RootDir))

	assert.Empty(t, res.Groups)
	require.Equal(t, 1, res.Errors.Len())
	assert.Equal(t, fileerr.HashTimeout, res.Errors.Errors[0].Kind)
	assert.NotEqual(t, a, res.Errors.Errors[0].Path)
}

func TestGroupsStreamToBus(t *testing.T) {
	f := testutil.NewFixture(t)
	f.CreateFilledFile("a1", 10, 1)
	f.CreateFilledFile("a2", 10, 1)
	f.CreateFilledFile("b1", 20, 2)
	f.CreateFilledFile("b2", 20, 2)

	bus := progress.NewBus()
	var mu sync.Mutex
	var found []Group
	var lastHash progress.Event
	bus.Observe(func(e progress.Event) {
		mu.Lock()
		defer mu.Unlock()
		switch e.Type {
		case progress.EventDuplicateGroupFound:
			found = append(found, e.Payload.(Group))
		case progress.EventHashProgress:
			if e.Current > lastHash.Current {
				lastHash = e
			}
		}
	})

	res := detect(t, &recordingSource{}, Options{Bus: bus}, scan(t, f.RootDir))
	assert.Len(t, found, 2)
	assert.Len(t, res.Groups, 2)
	assert.Equal(t, int64(4), lastHash.Current)
	assert.Equal(t, int64(4), lastHash.Total)
	assert.Equal(t, int64(2), bus.Snapshot().GroupsFound)
}

type slowSource struct{ started chan struct{} }

func (s *slowSource) GetOrCompute(ctx context.Context, path, key string) (digest.Digest, error) {
	select {
	case s.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return "", ctx.Err()
}

func TestDetectCancellation(t *testing.T) {
	f := testutil.NewFixture(t)
	for i := 0; i < 6; i++ {
		f.CreateFilledFile(fmt.Sprintf("f%d", i), 64, 7)
	}
	records := scan(t, f.RootDir)

	src := &slowSource{started: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-src.started
		cancel()
	}()

	done := make(chan struct{})
	var err error
	var res *Result
	go func() {
		defer close(done)
		res, err = New(src, Options{Workers: 2, Logger: zerolog.Nop()}).Detect(ctx, records)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("detection did not stop after cancellation")
	}
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Groups)
	assert.Zero(t, res.Errors.Len(), "cancelled work is discarded, not reported as file errors")
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeHybrid, m)

	m, err = ParseMode(" DEEP ")
	require.NoError(t, err)
	assert.Equal(t, ModeDeep, m)

	_, err = ParseMode("fuzzy")
	assert.Error(t, err)
}

func TestRepresentativeTieBreak(t *testing.T) {
	early := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)
	g := newGroup("sha256:x", 1, []Member{
		{Path: "/b", ModTime: early},
		{Path: "/a", ModTime: late},
		{Path: "/a", ModTime: early},
	}, true)

	assert.Equal(t, "/a", g.Representative)
	assert.Equal(t, early, g.Members[0].ModTime)
}
