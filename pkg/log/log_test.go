package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/digest/pkg/types"
)

func reset() {
	Logger = zerolog.Nop()
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	buf.Reset()
	return entry
}

// TestInitJSON tests JSON output with the context helpers
func TestInitJSON(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf, Version: "1.2.3"})

	logger := WithComponent("repair")
	logger.Info().Msg("hello")
	entry := decode(t, &buf)
	assert.Equal(t, "repair", entry["component"])
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "1.2.3", entry["version"])

	gl := WithGroupID(42)
	gl.Warn().Msg("group")
	assert.EqualValues(t, 42, decode(t, &buf)["group_id"])

	rl := WithRunID("run-1")
	rl.Info().Msg("run")
	assert.Equal(t, "run-1", decode(t, &buf)["run_id"])

	tl := WithTask(types.SummaryTask{ID: "task-1", GroupID: 7})
	tl.Info().Msg("task")
	entry = decode(t, &buf)
	assert.Equal(t, "task-1", entry["task_id"])
	assert.EqualValues(t, 7, entry["group_id"])
}

// TestInitLevel tests that the configured level filters lower levels
func TestInitLevel(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	Logger.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	Logger.Warn().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   Level
		want zerolog.Level
	}{
		{DebugLevel, zerolog.DebugLevel},
		{InfoLevel, zerolog.InfoLevel},
		{WarnLevel, zerolog.WarnLevel},
		{ErrorLevel, zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), string(tt.in))
	}
}

// TestNopBeforeInit tests that nothing is written before Init
func TestNopBeforeInit(t *testing.T) {
	defer reset()
	Logger = zerolog.Nop()
	assert.NotPanics(t, func() {
		logger := WithComponent("x")
		logger.Error().Msg("ignored")
	})
}
