package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"dev":        zapcore.DebugLevel,
		"debug":      zapcore.DebugLevel,
		"info":       zapcore.InfoLevel,
		" WARN ":     zapcore.WarnLevel,
		"warning":    zapcore.WarnLevel,
		"production": zapcore.ErrorLevel,
		"prod":       zapcore.ErrorLevel,
		"":           zapcore.InfoLevel,
		"verbose":    zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in, zapcore.InfoLevel), "input %q", in)
	}
}

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: "warn", DefaultLevel: zapcore.ErrorLevel, Console: &buf})

	l.Info("hidden")
	l.Warn("shown", zap.String("room", "a-b-c-d"))
	require.NoError(t, l.Sync())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "a-b-c-d")
}

func TestNewWritesJSONFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "relay.log")
	l := New(Options{Level: "info", File: file, Console: &bytes.Buffer{}})

	l.Info("room created", zap.String("room_id", "x"))
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(file)
	require.NoError(t, err)

	line := strings.TrimSpace(string(data))
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "room created", entry["msg"])
	assert.Equal(t, "x", entry["room_id"])
	assert.Equal(t, "INFO", entry["level"])
}
