package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/godamri/helix-actionlog/audit"
	"github.com/godamri/helix-actionlog/entity"
	"github.com/godamri/helix-actionlog/feature"
)

// ActionRule derives the record for a successfully served request.
// Returning false skips the request.
type ActionRule func(r *http.Request) (audit.Entry, bool)

// ActionLogger records reads of the log itself once the handler has answered with a 2xx.
// Logging is gated by the feature.LogViews flag and never fails the request.
func ActionLogger(em *audit.Emitter, flags *feature.Manager, rule ActionRule, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "action_logger")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if em == nil || !flags.IsEnabled(r.Context(), feature.LogViews) {
				next.ServeHTTP(w, r)
				return
			}

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if ww.Status() < 200 || ww.Status() >= 300 {
				return
			}
			entry, ok := rule(r)
			if !ok {
				return
			}
			entry.Actor = audit.ActorFromContext(r.Context())

			// The response is already written; the client must not cancel the append.
			ctx := context.WithoutCancel(r.Context())
			if _, err := em.Emit(ctx, entry); err != nil {
				logger.WarnContext(ctx, "action logging failed", "action", entry.Action, "path", r.URL.Path, "error", err)
			}
		})
	}
}

// ViewEntityHistory records GET /entities/{kind}/{entityID}/actions as a view of that entity.
func ViewEntityHistory(r *http.Request) (audit.Entry, bool) {
	kind, id := chi.URLParam(r, "kind"), chi.URLParam(r, "entityID")
	if kind == "" || id == "" {
		return audit.Entry{}, false
	}
	return audit.Entry{
		Action:      audit.ActionView,
		Target:      &entity.Ref{Kind: kind, ID: id},
		Description: fmt.Sprintf("Viewed action history of %s#%s", kind, id),
	}, true
}

// DownloadExport records an export as a download.
func DownloadExport(r *http.Request) (audit.Entry, bool) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	return audit.Entry{
		Action:      audit.ActionDownload,
		Description: "Exported action logs as " + format,
	}, true
}
