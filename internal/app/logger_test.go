package app

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("warn", "text", &buf)

	logger.Info("below threshold")
	logger.Warn("at threshold")

	output := buf.String()
	assert.NotContains(t, output, "below threshold")
	assert.Contains(t, output, "at threshold")
}

func TestNewLoggerUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("", "text", &buf)

	logger.Debug("below default")
	logger.Info("at default")

	output := buf.String()
	assert.NotContains(t, output, "below default")
	assert.Contains(t, output, "at default")
}

func TestNewLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("info", "json", &buf)

	logger.Info("structured entry", "key", "value")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "structured entry", record["msg"])
	assert.Equal(t, "value", record["key"])
}

func TestNewLoggerIsolation(t *testing.T) {
	var first, second bytes.Buffer
	newLogger("info", "text", &first).Info("only in first")
	newLogger("info", "text", &second).Info("only in second")

	assert.NotContains(t, second.String(), "only in first")
	assert.NotContains(t, first.String(), "only in second")
}
