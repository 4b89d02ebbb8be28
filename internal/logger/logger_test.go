package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"none", LevelNone},
		{"invalid", LevelInfo}, // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "NONE", LevelNone.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestNewLoggerWritesFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "test.log")

	l, err := New(LevelInfo, logPath, "test")
	require.NoError(t, err)

	l.Info("test message")
	l.Debug("should not appear")
	require.NoError(t, l.Close())

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)

	assert.Contains(t, string(content), "test message")
	assert.NotContains(t, string(content), "should not appear")
	assert.Contains(t, string(content), "[test]")
	assert.Contains(t, string(content), "[INFO]")
}

func TestLoggerWithPrefixSharesLevel(t *testing.T) {
	var console bytes.Buffer
	l, err := NewWithOptions(Options{Level: LevelInfo, Console: &console}, "parent")
	require.NoError(t, err)

	child := l.WithPrefix("child")
	child.Debug("hidden")

	l.SetLevel(LevelDebug)
	child.Debug("visible")

	out := console.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[parent:child] visible")
}

func TestLoggerDisabled(t *testing.T) {
	l, err := New(LevelNone, "", "test")
	require.NoError(t, err)
	defer l.Close()

	// These should not panic
	l.Debug("debug")
	l.Info("info")
	l.Warn("warn")
	l.Error("error")
}

func TestConsoleWithoutColor(t *testing.T) {
	var console bytes.Buffer
	l, err := NewWithOptions(Options{Level: LevelDebug, Console: &console}, "")
	require.NoError(t, err)

	l.Warn("careful %d", 3)
	assert.Contains(t, console.String(), "[WARN] careful 3")
}

func TestInitReplacesGlobal(t *testing.T) {
	var console bytes.Buffer
	require.NoError(t, Init(Options{Level: LevelInfo, Console: &console}))
	t.Cleanup(func() {
		_ = Init(Options{Level: LevelNone})
	})

	Info("hello %s", "global")
	Debug("quiet")

	assert.Contains(t, console.String(), "hello global")
	assert.NotContains(t, console.String(), "quiet")
}
