package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeRedactsSecrets(t *testing.T) {
	s := NewSanitizer()

	tests := []struct {
		name  string
		input string
	}{
		{"anthropic key", "key is sk-ant-" + strings.Repeat("a", 48)},
		{"openai key", "key is sk-" + strings.Repeat("b", 24)},
		{"google key", "key is AIza" + strings.Repeat("c", 35)},
		{"github token", "token ghp_" + strings.Repeat("d", 36)},
		{"bearer header", "Authorization: Bearer " + strings.Repeat("e", 30)},
		{"api key assignment", "api_key=" + strings.Repeat("f", 24)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := s.Sanitize(tt.input)
			assert.Contains(t, out, "[REDACTED]")
			assert.NotContains(t, out, strings.Repeat(tt.input[len(tt.input)-1:], 20))
		})
	}
}

func TestSanitizeLeavesOrdinaryTextAlone(t *testing.T) {
	s := NewSanitizer()
	in := "pushed branch rover/add-endpoint-1 to origin"
	assert.Equal(t, in, s.Sanitize(in))
}

func TestSanitizerAddPattern(t *testing.T) {
	s := NewSanitizer()
	require.NoError(t, s.AddPattern(`rover-secret-\d+`))
	assert.Contains(t, s.Sanitize("found rover-secret-42 in env"), "[REDACTED]")

	assert.Error(t, s.AddPattern("["))
}

func TestLoggerRedactsThroughHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "json", Output: &buf})

	logger.Info("agent invoked", "auth", "Bearer "+strings.Repeat("x", 30))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "agent invoked", rec["msg"])
	assert.Equal(t, "[REDACTED]", rec["auth"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Format: "json", Output: &buf})

	logger.Info("quiet")
	assert.Zero(t, buf.Len())

	logger.Warn("loud")
	assert.Contains(t, buf.String(), "loud")
}

func TestLoggerAutoFormatFallsBackToJSON(t *testing.T) {
	// A plain buffer is not a terminal, so auto selects JSON.
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "auto", Output: &buf})

	logger.Info("hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
}

func TestLoggerWithCarriesContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "json", Output: &buf})

	logger.WithTrace("t-1").WithTask("task-1").Info("step running")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "t-1", rec["trace_id"])
	assert.Equal(t, "task-1", rec["task_id"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLevel("garbage"))
}

func TestNewNopDiscards(t *testing.T) {
	assert.NotPanics(t, func() {
		NewNop().Info("dropped", "k", "v")
	})
}
