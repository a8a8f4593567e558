package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ProductionEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, true, "info")
	log.Info("audit persisted", "job_id", "job-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "audit persisted", line["msg"])
	assert.Equal(t, "fieldops", line["service"])
	assert.Equal(t, "job-1", line["job_id"])
}

func TestNew_DevelopmentEmitsText(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, false, "debug")
	log.Debug("probe")

	assert.Contains(t, buf.String(), "msg=probe")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}
