// Package telemetry bridges slog records and OpenTelemetry spans.
package telemetry

import (
	"context"
	"errors"
	"log/slog"

	"github.com/godamri/helix-actionlog/pkg/contextx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelHandler stamps correlation ids (trace, span, request, actor) on every record,
// and mirrors warnings and errors onto the active span.
type OTelHandler struct {
	slog.Handler
}

func NewOTelHandler(h slog.Handler) *OTelHandler {
	return &OTelHandler{Handler: h}
}

func (h *OTelHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx == nil {
		return h.Handler.Handle(ctx, r)
	}

	for _, kv := range [...][2]string{
		{"request_id", contextx.GetRequestID(ctx)},
		{"actor_id", contextx.GetAuthPrincipalID(ctx)},
	} {
		if kv[1] != "" {
			r.AddAttrs(slog.String(kv[0], kv[1]))
		}
	}

	span := trace.SpanFromContext(ctx)
	sc := span.SpanContext()
	switch {
	case sc.HasTraceID():
		r.AddAttrs(slog.String("trace_id", sc.TraceID().String()), slog.String("span_id", sc.SpanID().String()))
	case contextx.GetTraceID(ctx) != contextx.UntriagedTraceID:
		r.AddAttrs(slog.String("trace_id", contextx.GetTraceID(ctx)))
	}

	if span.IsRecording() && r.Level >= slog.LevelWarn {
		mirror(span, r)
	}
	return h.Handler.Handle(ctx, r)
}

// mirror records an ERROR as a span error (status Error) and a WARN as a span event.
func mirror(span trace.Span, r slog.Record) {
	attrs := make([]attribute.KeyValue, 0, r.NumAttrs()+1)
	var recErr error
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, toAttribute(a))
		if e, ok := a.Value.Any().(error); ok && a.Key == "error" {
			recErr = e
		}
		return true
	})

	if r.Level < slog.LevelError {
		attrs = append(attrs, attribute.String("message", r.Message))
		span.AddEvent("log.warning", trace.WithAttributes(attrs...))
		return
	}
	if recErr == nil {
		recErr = errors.New(r.Message)
	}
	span.RecordError(recErr, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, r.Message)
}

func toAttribute(a slog.Attr) attribute.KeyValue {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindInt64:
		return attribute.Int64(a.Key, v.Int64())
	case slog.KindFloat64:
		return attribute.Float64(a.Key, v.Float64())
	case slog.KindBool:
		return attribute.Bool(a.Key, v.Bool())
	default:
		return attribute.String(a.Key, v.String())
	}
}

func (h *OTelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &OTelHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *OTelHandler) WithGroup(name string) slog.Handler {
	return &OTelHandler{Handler: h.Handler.WithGroup(name)}
}
