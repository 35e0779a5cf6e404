package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFor(t *testing.T) {
	tests := []struct {
		verbosity int
		want      zerolog.Level
	}{
		{-1, zerolog.WarnLevel},
		{0, zerolog.WarnLevel},
		{1, zerolog.InfoLevel},
		{2, zerolog.DebugLevel},
		{5, zerolog.TraceLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFor(tt.verbosity), "verbosity %d", tt.verbosity)
	}
}

func TestSetupWritesConsoleAndFile(t *testing.T) {
	prevLogger := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "nested", "organizer.log")

	closer, err := Setup(Options{Verbosity: 1, Out: &buf, LogFile: logFile, NoColor: true})
	require.NoError(t, err)

	logger := GetLogger("scanner")
	logger.Info().Str("root", "/data").Msg("walk started")
	logger.Debug().Msg("hidden at info level")
	require.NoError(t, closer())

	assert.Contains(t, buf.String(), "walk started")
	assert.NotContains(t, buf.String(), "hidden at info level")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"scanner"`)
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	parent := zerolog.New(&buf)
	l := Component(parent, "hashcache")
	l.Warn().Msg("x")
	assert.Contains(t, buf.String(), `"component":"hashcache"`)
}
