package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/godamri/helix-actionlog/pkg/contextx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestOTelHandler_StampsCorrelationIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewOTelHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := contextx.WithTraceID(context.Background(), "abc123")
	ctx = contextx.WithRequestID(ctx, "req-1")
	ctx = contextx.WithAuthPrincipalID(ctx, "42")
	logger.InfoContext(ctx, "record emitted")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "abc123", line["trace_id"])
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "42", line["actor_id"])
	assert.NotContains(t, line, "span_id")
}

func TestOTelHandler_NoContextValues(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewOTelHandler(slog.NewJSONHandler(&buf, nil)).WithAttrs([]slog.Attr{slog.String("component", "x")}))
	logger.InfoContext(context.Background(), "hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "x", line["component"])
	assert.NotContains(t, line, "trace_id")
	assert.NotContains(t, line, "actor_id")
}

func TestToAttribute(t *testing.T) {
	assert.Equal(t, attribute.Int64("n", 3), toAttribute(slog.Int("n", 3)))
	assert.Equal(t, attribute.Bool("ok", true), toAttribute(slog.Bool("ok", true)))
	assert.Equal(t, attribute.String("s", "v"), toAttribute(slog.String("s", "v")))
}
