package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	assert.True(t, l.IsZero())
	l.Info("dropped", String("k", "v"))
	assert.False(t, Nop().IsZero())
}

func TestJSONLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSON(&buf, "debug").With(String("comp", "planner"))
	l.Warn("schedule too tight", Int("stranded", 3), Err(errors.New("boom")), Err(nil))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "warn", m["level"])
	assert.Equal(t, "schedule too tight", m["message"])
	assert.Equal(t, "planner", m["comp"])
	assert.EqualValues(t, 3, m["stranded"])
	assert.Equal(t, "boom", m[zerolog.ErrorFieldName])
	assert.NotEmpty(t, m[zerolog.CallerFieldName])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSON(&buf, "warn")
	l.Info("hidden")
	assert.Zero(t, buf.Len())
	assert.False(t, l.Enabled(LevelDebug))
	assert.True(t, l.Enabled(LevelError))
}

func TestParseLevelDefaults(t *testing.T) {
	assert.Equal(t, LevelWarn, parseLevel(" warning ", LevelInfo))
	assert.Equal(t, LevelInfo, parseLevel("nope", LevelInfo))
}

func TestServiceJSONConsoleFollowsApply(t *testing.T) {
	var buf bytes.Buffer
	s := newService(&buf)
	l := s.Logger().With(Component("runner"))

	require.NoError(t, s.Apply(Config{Level: "info", Console: true, Format: "json"}))
	l.Debug("hidden")
	l.Info("pass done", Int("files", 2))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "pass done", m["message"])
	assert.Equal(t, "runner", m["comp"])
	assert.EqualValues(t, 2, m["files"])

	buf.Reset()
	require.NoError(t, s.Apply(Config{Level: "debug", Console: true}))
	l.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
	assert.NotEqual(t, byte('{'), buf.Bytes()[0])
	require.NoError(t, s.Close())
}

func TestServiceFileSink(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "app.log")
	s := newService(&console)
	require.NoError(t, s.Apply(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}}))

	s.Logger().Info("to file", String("k", "v"))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &m))
	assert.Equal(t, "v", m["k"])
	assert.Zero(t, console.Len())
}

func TestServiceBadFileFallsBackToConsole(t *testing.T) {
	var console bytes.Buffer
	s := newService(&console)
	bad := filepath.Join(t.TempDir(), "missing", "dir", "app.log")
	err := s.Apply(Config{File: FileConfig{Enabled: true, Path: bad}})
	require.Error(t, err)

	s.Logger().Warn("still here")
	assert.Contains(t, console.String(), "still here")
}

func TestStackSkipsBlank(t *testing.T) {
	var buf bytes.Buffer
	NewJSON(&buf, "info").Error("panic", Stack("  "))
	assert.NotContains(t, buf.String(), `"stack"`)
}
