package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyhub/internal/handler/http/requestid"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNewLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", "")

	logger.Info("dispatch finished", slog.Int("devices", 3))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "dispatch finished", entry["msg"])
	assert.Equal(t, float64(3), entry["devices"])
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", "text")

	logger.Info("hello")

	assert.Contains(t, buf.String(), "msg=hello")
}

func TestNewLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "")

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := newLogger(&buf, "info", "")

	ctx := requestid.WithRequestID(context.Background(), "req-123")
	WithRequestID(ctx, base).Info("x")
	assert.Contains(t, buf.String(), `"request_id":"req-123"`)

	buf.Reset()
	WithRequestID(context.Background(), base).Info("y")
	assert.NotContains(t, buf.String(), "request_id")
}

func TestWithTenant(t *testing.T) {
	var buf bytes.Buffer
	base := newLogger(&buf, "info", "")

	WithTenant(base, "t1").Info("x")
	assert.Contains(t, buf.String(), `"tenant_id":"t1"`)

	assert.Same(t, base, WithTenant(base, ""))
}

func TestContextLogger(t *testing.T) {
	// 未設定の場合はデフォルト
	assert.Equal(t, slog.Default(), FromContext(context.Background()))

	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	base := newLogger(&buf, "info", "")

	WithFields(base, map[string]interface{}{"channel": "PUSH"}).Info("x")
	assert.Contains(t, buf.String(), `"channel":"PUSH"`)
}
