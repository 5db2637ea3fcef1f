package response

import (
	"encoding/json"
	"net/http"

	"github.com/godamri/helix-actionlog/pkg/contextx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Envelope wraps every JSON body the API writes, success or failure.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
	Meta    Meta   `json:"meta"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Meta struct {
	TraceID    string      `json:"trace_id"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

type Pagination struct {
	Page        int   `json:"page"`
	PerPage     int   `json:"per_page"`
	Total       int64 `json:"total"`
	Pages       int   `json:"pages"`
	HasNext     bool  `json:"has_next"`
	HasPrevious bool  `json:"has_previous"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	write(w, status, Envelope{Success: true, Data: data, Meta: metaOf(r, nil)})
}

// JSONPage writes one page of a listing with its pagination block.
func JSONPage(w http.ResponseWriter, r *http.Request, data any, p Pagination) {
	write(w, http.StatusOK, Envelope{Success: true, Data: data, Meta: metaOf(r, &p)})
}

func ErrorJSON(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	write(w, status, Envelope{Error: &Error{Code: code, Message: message}, Meta: metaOf(r, nil)})
}

// ErrorCode is ErrorJSON with the status derived from code.
func ErrorCode(w http.ResponseWriter, r *http.Request, code, message string) {
	ErrorJSON(w, r, MapStatus(code), code, message)
}

func metaOf(r *http.Request, p *Pagination) Meta {
	return Meta{TraceID: traceIDOf(r), Pagination: p}
}

func write(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are gone by now; a failed encode means the client left.
	_ = json.NewEncoder(w).Encode(payload)
}

// traceIDOf prefers the id the trace middleware stored, then the caller's
// header, then the active span. Handlers mounted without the middleware still
// get a fresh id.
func traceIDOf(r *http.Request) string {
	ctx := r.Context()
	if id := contextx.GetTraceID(ctx); id != contextx.UntriagedTraceID {
		return id
	}
	if id := r.Header.Get("X-Trace-Id"); id != "" {
		return id
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return trace.TraceID(uuid.New()).String()
}
