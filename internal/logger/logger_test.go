package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// captureOutput redirects logger output to a buffer and returns a cleanup
// that restores the previous writer, level and format.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)

	mu.Lock()
	prevOut, prevColor := output, useColor
	output, useColor = buf, false
	mu.Unlock()
	prevLevel := Level(currentLevel.Load())
	prevFormat, _ := currentFormat.Load().(string)
	reconfigure()

	t.Cleanup(func() {
		mu.Lock()
		output, useColor = prevOut, prevColor
		mu.Unlock()
		currentLevel.Store(int32(prevLevel))
		currentFormat.Store(prevFormat)
		reconfigure()
	})
	return buf
}

// ============================================================================
// Level Filtering Tests
// ============================================================================

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level string
		shown []string
		quiet []string
	}{
		{"DEBUG", []string{"debug msg", "info msg", "warn msg", "error msg"}, nil},
		{"INFO", []string{"info msg", "warn msg", "error msg"}, []string{"debug msg"}},
		{"WARN", []string{"warn msg", "error msg"}, []string{"debug msg", "info msg"}},
		{"ERROR", []string{"error msg"}, []string{"debug msg", "info msg", "warn msg"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf := captureOutput(t)
			SetLevel(tt.level)

			Debug("debug msg")
			Info("info msg")
			Warn("warn msg")
			Error("error msg")

			out := buf.String()
			for _, s := range tt.shown {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.quiet {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	l, ok := ParseLevel("warning")
	assert.True(t, ok)
	assert.Equal(t, LevelWarn, l)

	_, ok = ParseLevel("loud")
	assert.False(t, ok)

	buf := captureOutput(t)
	SetLevel("ERROR")
	SetLevel("loud")
	Warn("still filtered")
	assert.Empty(t, buf.String())
}

// ============================================================================
// Formatting Tests
// ============================================================================

func TestTextFormat(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("INFO")
	SetFormat("text")

	Info("record written",
		KeyRecord, 7,
		KeyLabel, "weekly full",
		Err(errors.New("boom")),
		Err(nil))

	line := buf.String()
	assert.Contains(t, line, "[INFO] record written")
	assert.Contains(t, line, "record=7")
	assert.Contains(t, line, `label="weekly full"`)
	assert.Contains(t, line, "error=boom")
	assert.Equal(t, 1, strings.Count(line, "error="))
}

func TestGroupsAndWith(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("INFO")
	SetFormat("text")

	With(KeyDrive, "/dev/nst0").WithGroup("ring").Info("stats", "gets", 3)
	assert.Contains(t, buf.String(), "drive=/dev/nst0")
	assert.Contains(t, buf.String(), "ring.gets=3")
}

func TestJSONFormat(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("DEBUG")
	SetFormat("json")

	Debug("mark committed", KeyOffset, int64(1<<20), KeyCommitted, true)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "mark committed", entry["msg"])
	assert.Equal(t, "DEBUG", entry["level"])
	assert.Equal(t, float64(1<<20), entry[KeyOffset])
	assert.Equal(t, true, entry[KeyCommitted])
}

// ============================================================================
// Context Tests
// ============================================================================

func TestContextLogging(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("DEBUG")
	SetFormat("text")

	lc := NewLogContext("vtape:default").WithStream(2).WithOperation("end_write").WithTrace("abc", "def")
	ctx := WithContext(context.Background(), lc)

	InfoCtx(ctx, "flushed", KeyCount, 4)
	out := buf.String()
	assert.Contains(t, out, "trace_id=abc")
	assert.Contains(t, out, "span_id=def")
	assert.Contains(t, out, "drive=vtape:default")
	assert.Contains(t, out, "stream=2")
	assert.Contains(t, out, "operation=end_write")
	assert.Less(t, strings.Index(out, "drive="), strings.Index(out, "count=4"))

	t.Run("unbound stream omitted", func(t *testing.T) {
		buf.Reset()
		WarnCtx(WithContext(context.Background(), NewLogContext("d")), "x")
		assert.NotContains(t, buf.String(), "stream=")
	})

	t.Run("no context", func(t *testing.T) {
		buf.Reset()
		ErrorCtx(context.Background(), "plain")
		DebugCtx(nil, "nil ctx") //nolint:staticcheck
		assert.Contains(t, buf.String(), "plain")
		assert.Contains(t, buf.String(), "nil ctx")
	})
}

func TestLogContextClone(t *testing.T) {
	var nilLC *LogContext
	assert.Nil(t, nilLC.Clone())
	assert.Nil(t, nilLC.WithOperation("x"))
	assert.Zero(t, nilLC.DurationMs())

	lc := NewLogContext("drive")
	c := lc.WithOperation("seek_mark")
	assert.Empty(t, lc.Operation)
	assert.Equal(t, "seek_mark", c.Operation)
	assert.Equal(t, -1, c.Stream)
}

// ============================================================================
// Init and Concurrency
// ============================================================================

func TestInitFileOutput(t *testing.T) {
	captureOutput(t)
	path := filepath.Join(t.TempDir(), "dttape.log")

	require.NoError(t, Init(Config{Level: "INFO", Format: "text", Output: path}))
	Info("to file")
	require.NoError(t, Init(Config{Output: "stderr"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")

	assert.Error(t, Init(Config{Output: filepath.Join(t.TempDir(), "missing", "x.log")}))
}

func TestConcurrentLogging(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("INFO")
	SetFormat("text")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				Info("line", KeyWorker, n)
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 400)
	for _, l := range lines {
		assert.True(t, strings.HasPrefix(l, "["), "interleaved line %q", l)
		assert.Contains(t, l, "worker=")
	}
}
