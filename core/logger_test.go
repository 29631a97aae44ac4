package core

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductionLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := &ProductionLogger{level: "info", format: "json", component: "arbiter", output: &buf}

	logger.Info("permit granted", map[string]interface{}{"client_id": "c1"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "arbiter", entry["component"])
	assert.Equal(t, "permit granted", entry["message"])
	assert.Equal(t, "c1", entry["client_id"])
}

func TestProductionLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := &ProductionLogger{level: "info", format: "text", component: "gate", output: &buf}

	logger.Warn("retry exhausted", nil)
	assert.Contains(t, buf.String(), "[WARN]")
	assert.Contains(t, buf.String(), "[gate]")
	assert.Contains(t, buf.String(), "retry exhausted")
}

func TestProductionLogger_DebugSuppressedUnlessEnabled(t *testing.T) {
	var buf bytes.Buffer
	logger := &ProductionLogger{level: "info", debug: false, format: "text", component: "pacer", output: &buf}
	logger.Debug("should not appear", nil)
	assert.Empty(t, buf.String())

	logger.debug = true
	logger.Debug("should appear", nil)
	assert.True(t, strings.Contains(buf.String(), "should appear"))
}

func TestProductionLogger_RequestIDFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := &ProductionLogger{level: "info", format: "json", component: "arbiter", output: &buf}

	ctx := WithRequestID(context.Background(), "req-123")
	logger.InfoWithContext(ctx, "request_token", nil)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-123", entry["request_id"])
}

func TestNewLogger_DefaultsToInfoAndStdout(t *testing.T) {
	logger := NewLogger(LoggingConfig{}, "arbiter")
	pl, ok := logger.(*ProductionLogger)
	require.True(t, ok)
	assert.Equal(t, "info", pl.level)
	assert.False(t, pl.debug)
	assert.Equal(t, os.Stdout, pl.output)
}
