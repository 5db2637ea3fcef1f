package middleware

import (
	"net/http"

	"github.com/godamri/helix-actionlog/pkg/contextx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const (
	TraceHeader   = "X-Trace-Id"
	RequestHeader = "X-Request-Id"

	maxCorrelationID = 128
)

// TraceIDMiddleware assigns the correlation ids echoed on every response and logged
// with every record. A well-formed incoming X-Trace-Id wins, then the active span's
// trace id. Malformed caller ids are replaced, never echoed.
func TraceIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		traceID, ok := correlationID(r.Header.Get(TraceHeader))
		if !ok {
			traceID = spanOrRandomTraceID(trace.SpanContextFromContext(ctx))
		}
		reqID, ok := correlationID(r.Header.Get(RequestHeader))
		if !ok {
			reqID = uuid.NewString()
		}

		h := w.Header()
		h.Set(TraceHeader, traceID)
		h.Set(RequestHeader, reqID)
		next.ServeHTTP(w, r.WithContext(contextx.WithRequestID(contextx.WithTraceID(ctx, traceID), reqID)))
	})
}

func spanOrRandomTraceID(sc trace.SpanContext) string {
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return trace.TraceID(uuid.New()).String()
}

// correlationID accepts printable tokens of letters, digits and "-_.:".
func correlationID(v string) (string, bool) {
	if v == "" || len(v) > maxCorrelationID {
		return "", false
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return "", false
		}
	}
	return v, true
}
