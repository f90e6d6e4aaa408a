package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdsed/internal/logger"
)

func TestSlogLoggerLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		level   logger.LogLevel
		logFn   func(l logger.Logger)
		wantOut bool
	}{
		{"info at info", logger.LogLevelInfo, func(l logger.Logger) { l.Info("hello") }, true},
		{"debug at info", logger.LogLevelInfo, func(l logger.Logger) { l.Debug("hello") }, false},
		{"trace at trace", logger.LogLevelTrace, func(l logger.Logger) { l.Trace("hello") }, true},
		{"warn at error", logger.LogLevelError, func(l logger.Logger) { l.Warn("hello") }, false},
		{"explicit level", logger.LogLevelDebug, func(l logger.Logger) { l.Log(logger.LogLevelDebug, "hello") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			l := logger.NewSlogLogger(&buf, tt.level, time.UTC)
			tt.logFn(l)
			assert.Equal(t, tt.wantOut, strings.Contains(buf.String(), "hello"))
		})
	}
}

func TestModuleAndFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := logger.NewSlogLogger(&buf, logger.LogLevelDebug, time.UTC)
	l := base.Module("train").Module("ema").With(logger.Int("fold", 2))

	l.Info("shadow updated",
		logger.Float64("loss", 0.123456),
		logger.Error(errors.New("none")),
		logger.Duration("elapsed", 1500*time.Millisecond))

	out := buf.String()
	assert.Contains(t, out, "module=train.ema")
	assert.Contains(t, out, "fold=2")
	assert.Contains(t, out, "loss=0.123")
	assert.Contains(t, out, "error=none")
	assert.Contains(t, out, "elapsed=1.5s")
	assert.NotContains(t, out, "time=")
}

func TestWithContextTraceID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := logger.NewSlogLogger(&buf, logger.LogLevelInfo, time.UTC)
	ctx := logger.WithTraceID(context.Background(), "run-42")

	l.WithContext(ctx).Info("start")
	l.WithContext(context.Background()).Info("plain")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "trace_id=run-42")
	assert.NotContains(t, lines[1], "trace_id")
}

func TestCentralLoggerFileOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "run.log")
	cl, err := logger.NewCentralLogger(&logger.LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &logger.ConsoleOutput{Enabled: false},
		FileOutput:   &logger.FileOutput{Enabled: true, Path: path, Level: "debug"},
	})
	require.NoError(t, err)

	cl.Module("aggregate").Info("soft label written", logger.String("clip", "XC1.mp3"), logger.Int("rows", 46))
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &record))
	assert.Equal(t, "soft label written", record["msg"])
	assert.Equal(t, "aggregate", record["module"])
	assert.Equal(t, "XC1.mp3", record["clip"])
	assert.InDelta(t, 46, record["rows"], 0)
	assert.NotEmpty(t, record["time"])
}

func TestCentralLoggerInvalidTimezone(t *testing.T) {
	t.Parallel()

	_, err := logger.NewCentralLogger(&logger.LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid timezone")
}

func TestNilConfigRejected(t *testing.T) {
	t.Parallel()

	_, err := logger.NewCentralLogger(nil)
	require.Error(t, err)
}
