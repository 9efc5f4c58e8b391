package observability

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureLog(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	orig := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(orig)
	fn()
	return buf.String()
}

func TestStandardLogger_Levels(t *testing.T) {
	logger := NewStandardLogger("test").(*StandardLogger)

	out := captureLog(t, func() {
		logger.Debug("hidden", nil)
		logger.Info("visible", nil)
	})

	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "[test]")
}

func TestStandardLogger_DebugEnabled(t *testing.T) {
	logger := NewStandardLogger("test").(*StandardLogger).WithLevel(LogLevelDebug)

	out := captureLog(t, func() {
		logger.Debug("now shown", nil)
	})
	assert.Contains(t, out, "now shown")
}

func TestStandardLogger_Fields(t *testing.T) {
	logger := NewStandardLogger("test")

	out := captureLog(t, func() {
		logger.Info("resolved", map[string]interface{}{"tenant": "acme", "source": "cache"})
	})
	assert.Contains(t, out, "tenant=acme")
	assert.Contains(t, out, "source=cache")
}

func TestStandardLogger_With(t *testing.T) {
	logger := NewStandardLogger("test").With(map[string]interface{}{
		"correlation_id": "req-0123456789abcdef",
	})

	out := captureLog(t, func() {
		logger.Info("event published", nil)
	})
	assert.Contains(t, out, "correlation_id=req-0123456789abcdef")

	// Bound fields do not leak into the parent
	parentOut := captureLog(t, func() {
		NewStandardLogger("test").Info("plain", nil)
	})
	assert.NotContains(t, parentOut, "correlation_id")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLogLevel("debug"))
	assert.Equal(t, LogLevelWarn, ParseLogLevel("warning"))
	assert.Equal(t, LogLevelError, ParseLogLevel("ERROR"))
	assert.Equal(t, LogLevelInfo, ParseLogLevel("anything-else"))
}
