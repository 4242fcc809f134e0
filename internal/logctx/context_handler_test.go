package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func newJSONLogger(buf *bytes.Buffer, level slog.Level) *slog.Logger {
	return slog.New(NewContextHandler(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level})))
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	return entry
}

func spanContext(t *testing.T) context.Context {
	t.Helper()

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})

	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestContextHandler_NoSpanContext(t *testing.T) {
	var buf bytes.Buffer

	newJSONLogger(&buf, slog.LevelInfo).InfoContext(context.Background(), "group download started", "group_id", "forest")

	entry := decode(t, &buf)
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
	assert.Equal(t, "group download started", entry["msg"])
	assert.Equal(t, "forest", entry["group_id"])
}

func TestContextHandler_WithValidSpan(t *testing.T) {
	var buf bytes.Buffer

	newJSONLogger(&buf, slog.LevelInfo).InfoContext(spanContext(t), "tick")

	entry := decode(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
}

func TestContextHandler_ContextAttrs(t *testing.T) {
	var buf bytes.Buffer

	ctx := WithAttrs(context.Background(), slog.String("component", "host"))
	ctx = WithAttrs(ctx, slog.Int64("tick", 42))
	ctx = WithAttrs(ctx)

	newJSONLogger(&buf, slog.LevelInfo).InfoContext(ctx, "tick finished")

	entry := decode(t, &buf)
	assert.Equal(t, "host", entry["component"])
	assert.EqualValues(t, 42, entry["tick"])
}

func TestContextHandler_Enabled(t *testing.T) {
	h := NewContextHandler(slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}))

	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestContextHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer

	h := NewContextHandler(slog.NewJSONHandler(&buf, nil))

	withAttrs := h.WithAttrs([]slog.Attr{slog.String("component", "journal")})
	require.IsType(t, &ContextHandler{}, withAttrs)

	withGroup := withAttrs.WithGroup("event")
	require.IsType(t, &ContextHandler{}, withGroup)

	slog.New(withGroup).Info("appended", "kind", "completed")

	entry := decode(t, &buf)
	assert.Equal(t, "journal", entry["component"])
	assert.Equal(t, map[string]any{"kind": "completed"}, entry["event"])
}

func TestContextHandler_NilHandlerPanics(t *testing.T) {
	assert.Panics(t, func() { NewContextHandler(nil) })
}

func TestLoggerFromContext(t *testing.T) {
	assert.Same(t, slog.Default(), LoggerFromContext(context.Background()))

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, logger, LoggerFromContext(WithLogger(context.Background(), logger)))
}
