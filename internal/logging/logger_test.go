package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected LogLevel
		wantErr  bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			level, err := ParseLevel(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, level)
		})
	}
}

func TestLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelDebug, Format: "json", Output: &buf})

	logger.WithComponent("renderer").With("template", "home.html").
		Warn(context.Background(), errors.New("unbound identifier"), "render failed", "duration_ms", 3)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "render failed", entry["msg"])
	assert.Equal(t, "renderer", entry["component"])
	assert.Equal(t, "home.html", entry["template"])
	assert.Equal(t, "unbound identifier", entry["error"])
	assert.EqualValues(t, 3, entry["duration_ms"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelWarn, Output: &buf})

	logger.Debug(context.Background(), "hidden")
	logger.Info(context.Background(), "hidden too")
	assert.Empty(t, buf.String())

	logger.Error(context.Background(), nil, "visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	assert.NotPanics(t, func() {
		logger.Error(context.Background(), errors.New("x"), "nothing")
	})
}

func TestSanitizeForLog(t *testing.T) {
	assert.Equal(t, "[REDACTED]", SanitizeForLog("csrf token abc"))
	assert.Equal(t, "hello", SanitizeForLog("hello"))

	long := strings.Repeat("a", 1200)
	assert.True(t, strings.HasSuffix(SanitizeForLog(long), "...[TRUNCATED]"))
}

func TestLogSecurityEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelDebug, Format: "json", Output: &buf})

	LogSecurityEvent(context.Background(), logger, "origin_rejected", map[string]interface{}{
		"origin": "http://evil.example",
		"secret": "my secret value",
	})

	out := buf.String()
	assert.Contains(t, out, "origin_rejected")
	assert.Contains(t, out, "http://evil.example")
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "my secret value")
}

func TestStartOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelDebug, Output: &buf})

	op := StartOperation(logger, "render", "template", "a.html")
	op.End(context.Background())
	assert.Contains(t, buf.String(), "operation=render")
	assert.Contains(t, buf.String(), "template=a.html")

	buf.Reset()
	op.EndWithError(context.Background(), errors.New("bad"))
	assert.Contains(t, buf.String(), "Operation failed")
}
