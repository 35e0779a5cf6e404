package scanner

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/fenilsonani/organizer/internal/fileerr"
	"github.com/fenilsonani/organizer/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScanner(t *testing.T, opts Options) *Scanner {
	t.Helper()
	s, err := New(opts, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func paths(res *ScanResult, root string) []string {
	out := make([]string, 0, len(res.Files))
	for _, f := range res.Files {
		rel, _ := filepath.Rel(root, f.Path)
		out = append(out, filepath.ToSlash(rel))
	}
	sort.Strings(out)
	return out
}

func TestScanRecursive(t *testing.T) {
	f := testutil.NewFixture(t)
	f.CreateFile("a.jpg", []byte("aaaa"))
	f.CreateFile("sub/b.jpg", []byte("bb"))
	f.CreateFile("sub/deeper/c.png", []byte("c"))

	s := newScanner(t, Options{Root: f.RootDir, Recursive: true})
	res := s.Scan(context.Background())

	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{"a.jpg", "sub/b.jpg", "sub/deeper/c.png"}, paths(res, f.RootDir))
	assert.Equal(t, int64(7), res.TotalSize)
	assert.Equal(t, 3, res.TotalCount)
	assert.Equal(t, int64(3), s.Stats().Files)
}

func TestScanNonRecursive(t *testing.T) {
	f := testutil.NewFixture(t)
	f.CreateFile("top.txt", []byte("x"))
	f.CreateFile("sub/nested.txt", []byte("y"))

	s := newScanner(t, Options{Root: f.RootDir})
	res := s.Scan(context.Background())

	assert.Equal(t, []string{"top.txt"}, paths(res, f.RootDir))
}

func TestScanExclusions(t *testing.T) {
	f := testutil.NewFixture(t)
	f.CreateFile("keep.txt", []byte("x"))
	f.CreateFile(".hidden", []byte("x"))
	f.CreateFile("$system", []byte("x"))
	f.CreateFile(".git/config", []byte("x"))
	f.CreateFile("lost+found/orphan", []byte("x"))
	f.CreateFile("build/out.o", []byte("x"))
	f.CreateFile("notes.tmp", []byte("x"))
	f.CreateFile("tiny.txt", []byte{})

	s := newScanner(t, Options{
		Root:            f.RootDir,
		Recursive:       true,
		ExcludePatterns: []string{"*.tmp", "build"},
		MinSize:         1,
	})
	res := s.Scan(context.Background())

	assert.Equal(t, []string{"keep.txt"}, paths(res, f.RootDir))
	assert.Positive(t, s.Stats().Skipped)
}

func TestScanIncludeHidden(t *testing.T) {
	f := testutil.NewFixture(t)
	f.CreateFile(".dotfile", []byte("x"))
	f.CreateFile("System Volume Information/x", []byte("x"))

	s := newScanner(t, Options{Root: f.RootDir, Recursive: true, IncludeHidden: true})
	res := s.Scan(context.Background())

	assert.Equal(t, []string{".dotfile"}, paths(res, f.RootDir))
}

func TestScanSymlinksSkippedByDefault(t *testing.T) {
	testutil.SkipOnWindows(t)
	f := testutil.NewFixture(t)
	target := f.CreateFile("real.txt", []byte("x"))
	f.CreateSymlink(target, "link.txt")

	s := newScanner(t, Options{Root: f.RootDir, Recursive: true})
	res := s.Scan(context.Background())

	assert.Equal(t, []string{"real.txt"}, paths(res, f.RootDir))
	assert.Equal(t, int64(1), s.Stats().Skipped)
}

func TestScanSymlinkLoopIsSkippedNotError(t *testing.T) {
	testutil.SkipOnWindows(t)
	f := testutil.NewFixture(t)
	f.CreateFile("dir/file.txt", []byte("x"))
	f.CreateSymlink(f.Path("dir"), "dir/loop")

	s := newScanner(t, Options{Root: f.RootDir, Recursive: true, FollowSymlinks: true})
	res := s.Scan(context.Background())

	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{"dir/file.txt"}, paths(res, f.RootDir))
	assert.Equal(t, int64(1), s.Stats().Skipped)
}

func TestScanFollowedSymlinkToScannedFile(t *testing.T) {
	testutil.SkipOnWindows(t)
	f := testutil.NewFixture(t)
	target := f.CreateFile("real.txt", []byte("x"))
	f.CreateSymlink(target, "a-link.txt")
	f.CreateSymlink(target, "sub/b-link.txt")

	outside := testutil.NewFixture(t)
	f.CreateSymlink(outside.CreateFile("elsewhere.txt", []byte("y")), "outside.txt")

	s := newScanner(t, Options{Root: f.RootDir, Recursive: true, FollowSymlinks: true})
	res := s.Scan(context.Background())

	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{"outside.txt", "real.txt"}, paths(res, f.RootDir))
	assert.Equal(t, int64(2), s.Stats().Skipped)
}

func TestScanPermissionDeniedContinues(t *testing.T) {
	testutil.SkipOnWindows(t)
	testutil.SkipIfRoot(t)
	f := testutil.NewFixture(t)
	f.CreateFile("ok/a.txt", []byte("x"))
	f.CreateUnreadableDir("locked")
	f.CreateFile("zz/b.txt", []byte("x"))

	s := newScanner(t, Options{Root: f.RootDir, Recursive: true})
	res := s.Scan(context.Background())

	assert.Equal(t, []string{"ok/a.txt", "zz/b.txt"}, paths(res, f.RootDir))
	require.Len(t, res.Errors, 1)
	assert.True(t, fileerr.Is(res.Errors[0], fileerr.PermissionDenied))
}

func TestScanMissingRoot(t *testing.T) {
	s := newScanner(t, Options{Root: filepath.Join(t.TempDir(), "missing"), Recursive: true})
	res := s.Scan(context.Background())

	assert.Empty(t, res.Files)
	require.Len(t, res.Errors, 1)
	assert.True(t, fileerr.Is(res.Errors[0], fileerr.VanishedFile))
}

func TestWalkIsRestartable(t *testing.T) {
	f := testutil.NewFixture(t)
	f.CreateFile("a.txt", []byte("x"))
	f.CreateFile("b.txt", []byte("y"))

	s := newScanner(t, Options{Root: f.RootDir, Recursive: true})
	first := s.Scan(context.Background())
	second := s.Scan(context.Background())

	assert.Equal(t, paths(first, f.RootDir), paths(second, f.RootDir))
	assert.Equal(t, int64(2), s.Stats().Files)
}

func TestWalkCancelled(t *testing.T) {
	f := testutil.NewFixture(t)
	for i := 0; i < 10; i++ {
		f.CreateFile(filepath.Join("d", string(rune('a'+i))+".txt"), []byte("x"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newScanner(t, Options{Root: f.RootDir, Recursive: true})
	records, errs := s.Walk(ctx)
	for range records {
	}
	for range errs {
	}
	assert.Less(t, s.Stats().Files, int64(10))
}

func TestProgressCallback(t *testing.T) {
	f := testutil.NewFixture(t)
	f.CreateFile("a.txt", []byte("x"))
	f.CreateFile("b.txt", []byte("y"))

	var last int64
	s := newScanner(t, Options{Root: f.RootDir, Progress: func(n int64, _ string) { last = n }})
	s.Scan(context.Background())

	assert.Equal(t, int64(2), last)
}

func TestValidateGlobPattern(t *testing.T) {
	assert.NoError(t, ValidateGlobPattern("*.tmp"))
	assert.Error(t, ValidateGlobPattern("../*"))
	assert.Error(t, ValidateGlobPattern("[abc"))

	_, err := New(Options{Root: ".", ExcludePatterns: []string{"[abc"}}, zerolog.Nop())
	assert.Error(t, err)
}

func TestGroupByCategory(t *testing.T) {
	res := &ScanResult{}
	res.Add(FileRecord{Path: "/a", Size: 1}.WithCategory("IMAGENES"))
	res.Add(FileRecord{Path: "/b", Size: 2}.WithCategory("IMAGENES"))
	res.Add(FileRecord{Path: "/c", Size: 4})

	grouped := res.GroupByCategory()
	assert.Equal(t, 2, grouped["IMAGENES"].TotalCount)
	assert.Equal(t, int64(3), grouped["IMAGENES"].TotalSize)
	assert.Equal(t, 1, grouped[""].TotalCount)
}
