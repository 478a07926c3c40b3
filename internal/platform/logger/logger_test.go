package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductionLogsJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "production", "warn")
	log.Info("dropped")
	log.Warn("kept", "request_id", "r-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "r-1", line["request_id"])
	assert.Equal(t, "mediaguard", line["service"])
}

func TestDevelopmentLogsText(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "development", "debug").Debug("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}
