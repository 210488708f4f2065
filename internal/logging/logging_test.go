package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mackeh/AegisGuard/internal/config"
	"github.com/mackeh/AegisGuard/internal/guardrails"
	"github.com/mackeh/AegisGuard/internal/security/redactor"
)

func TestNew_JSONRedacted(t *testing.T) {
	var buf bytes.Buffer
	r := redactor.New("super-secret-token").WithScrubber(guardrails.NewPIIDetector(nil))
	logger := New(config.LogConfig{Level: "info", Format: "json"}, &buf, r)

	logger.Info("upstream call",
		zap.String("auth", "super-secret-token"),
		zap.String("user", "bob@example.org"),
	)
	require.NoError(t, logger.Sync())

	line := buf.String()
	assert.NotContains(t, line, "super-secret-token")
	assert.NotContains(t, line, "bob@example.org")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "[REDACTED]", entry["auth"])
	assert.Equal(t, "[REDACTED_EMAIL]", entry["user"])
	assert.Contains(t, entry, "timestamp")
}

func TestNew_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := New(config.LogConfig{Level: "warn", Format: "console"}, &buf, nil)

	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	assert.False(t, strings.Contains(out, "dropped"))
	assert.True(t, strings.Contains(out, "kept"))
}
