package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/fenilsonani/organizer/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	fixture *testutil.TestFixture
	root    string
	config  string
	state   string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	f := testutil.NewFixture(t)
	state := t.TempDir()

	cfg := fmt.Sprintf("cache_path: %q\njournal_dir: %q\n",
		filepath.Join(state, "hashes.db"), filepath.Join(state, "journal"))
	configPath := filepath.Join(state, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0644))

	f.CreateFile("a.jpg", []byte("same picture bytes"))
	f.CreateFile("b.jpg", []byte("same picture bytes"))
	f.CreateFile("notes.txt", []byte("some notes"))

	return &env{fixture: f, root: f.RootDir, config: configPath, state: state}
}

func (e *env) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--config", e.config))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func decode(t *testing.T, out string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &m), out)
	return m
}

func TestScanCommand(t *testing.T) {
	e := newEnv(t)

	out, _, err := e.run(t, "scan", e.root, "-f", "json")
	require.NoError(t, err)

	report := decode(t, out)
	assert.EqualValues(t, 3, report["total_files"])
	cats := report["categories"].(map[string]interface{})
	assert.EqualValues(t, 2, cats["IMAGENES"])
	assert.EqualValues(t, 1, cats["DOCUMENTOS"])
}

func TestDuplicatesCommand(t *testing.T) {
	e := newEnv(t)

	out, _, err := e.run(t, "duplicates", e.root, "--mode", "deep", "-f", "json")
	require.NoError(t, err)

	report := decode(t, out)
	assert.EqualValues(t, 1, report["group_count"])
	groups := report["groups"].([]interface{})
	members := groups[0].(map[string]interface{})["members"].([]interface{})
	assert.Len(t, members, 2)

	out, _, err = e.run(t, "cache", "stats", "-f", "json")
	require.NoError(t, err)
	assert.EqualValues(t, 2, decode(t, out)["entries"])
}

func TestDuplicatesCommandRejectsBadMode(t *testing.T) {
	e := newEnv(t)
	_, _, err := e.run(t, "duplicates", e.root, "--mode", "bogus")
	assert.Error(t, err)
}

func TestOrganizeHistoryUndo(t *testing.T) {
	e := newEnv(t)
	metricsFile := filepath.Join(e.state, "organizer.prom")

	out, _, err := e.run(t, "organize", e.root, "--conflict", "skip", "-f", "json", "--metrics-file", metricsFile)
	require.NoError(t, err)

	report := decode(t, out)
	summary := report["summary"].(map[string]interface{})
	assert.EqualValues(t, 2, summary["executed"])
	assert.EqualValues(t, 1, summary["skipped"])
	assert.Equal(t, "committed", summary["state"])

	assert.True(t, e.fixture.Exists("IMAGENES/a.jpg"))
	assert.True(t, e.fixture.Exists("b.jpg"), "duplicate stays in place")
	assert.True(t, e.fixture.Exists("DOCUMENTOS/notes.txt"))
	assert.False(t, e.fixture.Exists("a.jpg"))

	metrics, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `organizer_transactions_total{state="committed"} 1`)

	out, _, err = e.run(t, "history", "-f", "json")
	require.NoError(t, err)
	txns := decode(t, out)["transactions"].([]interface{})
	require.Len(t, txns, 1)
	id := txns[0].(map[string]interface{})["id"].(string)

	_, _, err = e.run(t, "undo", id[:8])
	require.NoError(t, err)

	assert.True(t, e.fixture.Exists("a.jpg"))
	assert.True(t, e.fixture.Exists("notes.txt"))
	assert.False(t, e.fixture.Exists("IMAGENES/a.jpg"))
	assert.False(t, e.fixture.Exists("IMAGENES"), "created folders are removed")

	_, _, err = e.run(t, "undo", id)
	assert.Error(t, err, "a rolled back transaction cannot be undone twice")
}

func TestHistoryPrune(t *testing.T) {
	e := newEnv(t)

	_, _, err := e.run(t, "organize", e.root)
	require.NoError(t, err)

	_, stderr, err := e.run(t, "history", "--prune", "720h", "-f", "json")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Pruned 0 transaction(s)")

	_, stderr, err = e.run(t, "history", "--prune", "0s")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Pruned 1 transaction(s)")

	out, _, err := e.run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No transactions recorded")

	_, _, err = e.run(t, "history", "--prune=-1h")
	assert.Error(t, err)
}

func TestOrganizeDryRun(t *testing.T) {
	e := newEnv(t)

	out, _, err := e.run(t, "organize", e.root, "--dry-run", "--tree")
	require.NoError(t, err)

	assert.Contains(t, out, "IMAGENES")
	assert.Contains(t, out, "=== Dry Run")
	assert.True(t, e.fixture.Exists("a.jpg"))
	assert.False(t, e.fixture.Exists("IMAGENES"))

	out, _, err = e.run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No transactions recorded")
}

func TestUndoUnknownID(t *testing.T) {
	e := newEnv(t)
	_, _, err := e.run(t, "undo", "deadbeef")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transaction matches")
}

func TestCacheClearAndVacuum(t *testing.T) {
	e := newEnv(t)
	_, _, err := e.run(t, "duplicates", e.root)
	require.NoError(t, err)

	require.NoError(t, os.Remove(e.fixture.Path("b.jpg")))
	out, _, err := e.run(t, "cache", "vacuum")
	require.NoError(t, err)
	assert.Contains(t, out, "removed")

	out, _, err = e.run(t, "cache", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared")

	out, _, err = e.run(t, "cache", "stats", "-f", "json")
	require.NoError(t, err)
	assert.EqualValues(t, 0, decode(t, out)["entries"])
}

func TestConfigInitAndShow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	run := func(args ...string) string {
		var stdout bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&stdout)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(append(args, "--config", path))
		require.NoError(t, cmd.Execute())
		return stdout.String()
	}

	assert.Contains(t, run("config", "init"), "Created")
	assert.FileExists(t, path)
	assert.Contains(t, run("config", "init"), "already exists")

	out := run("config", "show", "-v")
	assert.Contains(t, out, "duplicate_mode: hybrid")
	assert.Contains(t, out, "verbose: 1")
}
