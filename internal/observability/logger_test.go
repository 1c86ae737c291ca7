package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/clipforge/internal/config"
)

// capture returns a logger writing JSON at level into the returned buffer.
func capture(level string) (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLoggerWithWriter(config.LoggingConfig{Level: level, Format: "json"}, &buf), &buf
}

// lastRecord decodes the final JSON line in buf.
func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &rec))
	return rec
}

func TestNewLoggerWithWriter_Formats(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		logger, buf := capture("info")
		logger.Info("export started", slog.Int("clips", 3))

		rec := lastRecord(t, buf)
		assert.Equal(t, "export started", rec["msg"])
		assert.EqualValues(t, 3, rec["clips"])
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, &buf)
		logger.Info("export started", slog.String("backend", "software"))

		assert.Contains(t, buf.String(), "backend=software")
		assert.Contains(t, buf.String(), `msg="export started"`)
	})
}

func TestNewLoggerWithWriter_LevelFiltering(t *testing.T) {
	tests := []struct {
		configured string
		emit       slog.Level
		written    bool
	}{
		{"trace", LevelTrace, true},
		{"debug", LevelTrace, false},
		{"debug", slog.LevelDebug, true},
		{"info", slog.LevelDebug, false},
		{"info", slog.LevelInfo, true},
		{"warn", slog.LevelInfo, false},
		{"error", slog.LevelWarn, false},
		{"error", slog.LevelError, true},
		{"bogus", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.configured+"/"+tt.emit.String(), func(t *testing.T) {
			logger, buf := capture(tt.configured)
			logger.Log(context.Background(), tt.emit, "frame")
			assert.Equal(t, tt.written, buf.Len() > 0)
		})
	}
}

func TestNewLoggerWithWriter_TraceLabel(t *testing.T) {
	logger, buf := capture("trace")
	logger.Log(context.Background(), LevelTrace, "ffmpeg argv")

	assert.Equal(t, "TRACE", lastRecord(t, buf)["level"])
}

func TestNewLoggerWithWriter_SourceAndTime(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{
		Level:      "info",
		Format:     "json",
		AddSource:  true,
		TimeFormat: time.DateOnly,
	}, &buf)
	logger.Info("hello")

	rec := lastRecord(t, &buf)
	assert.Contains(t, rec["logpos"], "internal/observability/logger_test.go:")
	assert.NotContains(t, rec, "source")
	_, err := time.Parse(time.DateOnly, rec["time"].(string))
	assert.NoError(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelTrace, parseLevel("trace"))
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestWithHelpers(t *testing.T) {
	logger, buf := capture("info")
	logger = WithApp(logger, "clipforge", "1.2.3")
	logger = WithComponent(logger, "compositor")
	logger = WithOperation(logger, "render_frame")
	logger = WithJobID(logger, "01J9Z3")
	logger = WithRequestID(logger, "req-1")
	logger = WithCorrelationID(logger, "corr-1")
	logger = WithError(logger, errors.New("seek timed out"))
	logger.Info("frame skipped")

	rec := lastRecord(t, buf)
	want := map[string]string{
		"app":            "clipforge",
		"version":        "1.2.3",
		"component":      "compositor",
		"operation":      "render_frame",
		"job_id":         "01J9Z3",
		"request_id":     "req-1",
		"correlation_id": "corr-1",
		"error":          "seek timed out",
	}
	for k, v := range want {
		assert.Equal(t, v, rec[k], k)
	}
}

func TestWithError_NilKeepsLogger(t *testing.T) {
	logger, _ := capture("info")
	assert.Same(t, logger, WithError(logger, nil))
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	assert.Same(t, slog.Default(), LoggerFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(ctx))
	assert.Empty(t, CorrelationIDFromContext(ctx))

	logger, _ := capture("info")
	ctx = ContextWithLogger(ctx, logger)
	ctx = ContextWithRequestID(ctx, "req-9")
	ctx = ContextWithCorrelationID(ctx, "corr-9")

	assert.Same(t, logger, LoggerFromContext(ctx))
	assert.Equal(t, "req-9", RequestIDFromContext(ctx))
	assert.Equal(t, "corr-9", CorrelationIDFromContext(ctx))
}

func TestTimedOperationWithError(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		logger, buf := capture("debug")
		var err error
		done := TimedOperationWithError(context.Background(), logger, "load_resources", &err)
		done()

		rec := lastRecord(t, buf)
		assert.Equal(t, "operation completed", rec["msg"])
		assert.Equal(t, "load_resources", rec["operation"])
	})

	t.Run("failed", func(t *testing.T) {
		logger, buf := capture("debug")
		var err error
		done := TimedOperationWithError(context.Background(), logger, "encode", &err)
		err = errors.New("ffmpeg exited 1")
		done()

		rec := lastRecord(t, buf)
		assert.Equal(t, "operation failed", rec["msg"])
		assert.Equal(t, "ffmpeg exited 1", rec["error"])
	})
}

func TestRedaction_SensitiveKeys(t *testing.T) {
	for _, key := range []string{"password", "Password", "secret", "token", "ApiKey", "api_key", "credential"} {
		t.Run(key, func(t *testing.T) {
			logger, buf := capture("info")
			logger.Info("auth", slog.String(key, "hunter2"))

			assert.NotContains(t, buf.String(), "hunter2")
			assert.Equal(t, RedactedValue, lastRecord(t, buf)[key])
		})
	}
}

func TestRedaction_Groups(t *testing.T) {
	logger, buf := capture("info")
	logger.Info("db", slog.Group("conn",
		slog.String("user", "clip"),
		slog.String("password", "hunter2"),
	))

	out := buf.String()
	assert.Contains(t, out, "clip")
	assert.NotContains(t, out, "hunter2")
}

func TestRedaction_Structs(t *testing.T) {
	type credentials struct {
		User     string
		Password string
	}
	logger, buf := capture("info")
	logger.Info("connecting", slog.Any("creds", credentials{User: "clip", Password: "hunter2"}))

	out := buf.String()
	assert.Contains(t, out, "clip")
	assert.NotContains(t, out, "hunter2")
}

func TestRedaction_URLAttributes(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		hidden  string
		visible []string
	}{
		{"url", "https://cdn.example.com/a.gif?w=200&token=abc123", "abc123", []string{"w=200", "token=[REDACTED]"}},
		{"asset_url", "https://cdn.example.com/s.webp?Signature=x&secret=s3cr3t", "s3cr3t", []string{"Signature=x"}},
		{"dsn", "postgres://clip:hunter2@db/clipforge", "hunter2", []string{"postgres://clip:"}},
		{"url", "https://cdn.example.com/a.gif?PASSWORD=MySecret", "MySecret", []string{"PASSWORD=[REDACTED]"}},
		{"source", "https://cdn.example.com/a.gif?token=kept", "", []string{"token=kept"}},
	}

	for _, tt := range tests {
		t.Run(tt.key+" "+tt.value, func(t *testing.T) {
			logger, buf := capture("info")
			logger.Info("fetching asset", slog.String(tt.key, tt.value))

			out := buf.String()
			if tt.hidden != "" {
				assert.NotContains(t, out, tt.hidden)
			}
			for _, v := range tt.visible {
				assert.Contains(t, out, v)
			}
		})
	}
}

func TestRedactURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no query", "https://cdn.example.com/a.gif", "https://cdn.example.com/a.gif"},
		{"signed asset", "https://cdn.example.com/a.gif?w=200&token=abc#frag", "https://cdn.example.com/a.gif?w=200&token=[REDACTED]#frag"},
		{"dsn userinfo", "postgres://clip:hunter2@db:5432/clipforge", "postgres://clip:[REDACTED]@db:5432/clipforge"},
		{"user without password", "https://user@example.com/x", "https://user@example.com/x"},
		{"flag without value", "https://example.com/x?token&a=1", "https://example.com/x?token&a=1"},
		{"plain path", "clips/intro.mp4", "clips/intro.mp4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RedactURL(tt.in))
		})
	}
}
