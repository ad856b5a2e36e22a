package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{" Warn ", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestStdLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLoggerTo(&buf, LevelWarn)

	l.Debug(context.Background(), "debug line")
	l.Info(context.Background(), "info line")
	l.Warn(context.Background(), "warn line")

	out := buf.String()
	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, "[WARN] warn line")
}

func TestStdLogger_FieldsAreSorted(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLoggerTo(&buf, LevelDebug)

	l.Error(context.Background(), errors.New("boom"), "failed", map[string]interface{}{"zeta": 1, "alpha": 2})

	out := buf.String()
	assert.Contains(t, out, "[ERROR] failed | error: boom | alpha=2 zeta=1")
}

func TestStdLogger_WithBar(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLoggerTo(&buf, LevelDebug)
	bar := time.Date(2024, 3, 1, 12, 15, 0, 0, time.UTC)

	ctx := WithBar(context.Background(), "run-1", bar)
	l.Info(ctx, "handling bar", map[string]interface{}{"price": 1.5})

	assert.Contains(t, buf.String(), "bar=2024-03-01T12:15:00Z price=1.5 run=run-1")
}
