package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogLogger_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := FromSlog(slog.New(handler))

	logger.Info("polled flags", "flag_count", 5)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "polled flags", decoded["msg"])
	assert.Equal(t, float64(5), decoded["flag_count"])
}

func TestSlogLogger_With(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	logger := FromSlog(slog.New(handler)).With("component", "loader")

	logger.Warn("poll failed")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "loader", decoded["component"])
}

func TestNew_DefaultsToStderr(t *testing.T) {
	logger := New(nil, slog.LevelInfo)
	require.NotNil(t, logger)
}

func TestNoop_NeverPanics(t *testing.T) {
	logger := NewNoop()
	logger.Debug("x")
	logger.Info("x")
	logger.Warn("x")
	logger.Error("x")
	logger.With("k", "v").Info("x")
}
