package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileLogger(t *testing.T, level string) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.log")
	l := New(&Config{Level: level, Output: path, Component: "test", JSONFormat: true})
	return l, path
}

func readEntries(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		out = append(out, e)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("WARNING"))
	assert.Equal(t, INFO, ParseLevel("nonsense"))
}

func TestLoggerWritesStructuredFields(t *testing.T) {
	l, path := newFileLogger(t, "INFO")

	l.WithComponent("Detector").WithField("symbol", "SPY").
		Info("analysis complete", "confluence", 82, "err_field", errors.New("boom"))

	entries := readEntries(t, path)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "INFO", e["level"])
	assert.Equal(t, "Detector", e["component"])
	assert.Equal(t, "analysis complete", e["message"])

	fields, ok := e["fields"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "SPY", fields["symbol"])
	assert.Equal(t, float64(82), fields["confluence"])
	assert.Equal(t, "boom", fields["err_field"])
}

func TestLoggerFiltersBelowLevel(t *testing.T) {
	l, path := newFileLogger(t, "WARN")

	l.Debug("dropped")
	l.Info("dropped too")
	l.Warn("kept")

	entries := readEntries(t, path)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0]["message"])
}

func TestTraceContextRoundTrip(t *testing.T) {
	traceID := GenerateTraceID()
	assert.Len(t, traceID, 32)

	ctx := NewContext(context.Background(), traceID)
	assert.Equal(t, traceID, TraceID(ctx))
	assert.NotNil(t, FromContext(ctx))

	// A bare context falls back to the default logger and no trace ID
	assert.Equal(t, "", TraceID(context.Background()))
	assert.Same(t, Default(), FromContext(context.Background()))
}
