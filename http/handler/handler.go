package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/godamri/helix-actionlog/audit"
	"github.com/godamri/helix-actionlog/feature"
	"github.com/godamri/helix-actionlog/http/response"
	"github.com/godamri/helix-actionlog/query"
	"github.com/godamri/helix-actionlog/server/middleware"
)

// Handler serves the action log API.
type Handler struct {
	emitter *audit.Emitter
	query   *query.Service
	logger  *slog.Logger
}

func New(emitter *audit.Emitter, q *query.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		emitter: emitter,
		query:   q,
		logger:  logger.With("component", "http_handler"),
	}
}

// RouteOptions carries the per-route middleware. Nil middleware is skipped.
type RouteOptions struct {
	Flags       *feature.Manager
	AdminRole   string
	ExportLimit func(http.Handler) http.Handler
	Idempotency func(http.Handler) http.Handler
}

// Routes builds the /api/v1 subrouter.
func (h *Handler) Routes(opts RouteOptions) http.Handler {
	if opts.AdminRole == "" {
		opts.AdminRole = "admin"
	}
	r := chi.NewRouter()

	r.Get("/actions", h.listActions)
	r.Get("/actions/{recordID}", h.getAction)
	r.With(optional(opts.Idempotency)).Post("/actions", h.emitAction)

	r.With(middleware.ActionLogger(h.emitter, opts.Flags, middleware.ViewEntityHistory, h.logger)).
		Get("/entities/{kind}/{entityID}/actions", h.entityHistory)

	r.Get("/actors/{actorID}/feed", h.actorFeed)
	r.Get("/actors/{actorID}/dashboard", h.actorDashboard)
	r.Get("/stats/{dimension}", h.stats)

	r.With(
		optional(opts.ExportLimit),
		middleware.ActionLogger(h.emitter, opts.Flags, middleware.DownloadExport, h.logger),
	).Get("/export", h.export)

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireRole(opts.AdminRole))
		r.Post("/archive", h.archive)
		r.Delete("/kinds/{kind}", h.purgeKind)
		r.Delete("/actors/{actorID}", h.forgetActor)
	})
	return r
}

func optional(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}

// fail maps service errors onto the response envelope.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, audit.ErrNotFound):
		response.ErrorCode(w, r, response.ErrNotFound, "action record not found")
	case errors.Is(err, audit.ErrInvalidDimension):
		response.ErrorCode(w, r, response.ErrInvalidDimension, err.Error())
	case errors.Is(err, audit.ErrInvalidAction):
		response.ErrorCode(w, r, response.ErrInvalidAction, err.Error())
	case errors.Is(err, query.ErrUnknownFormat):
		response.ErrorCode(w, r, response.ErrUnknownFormat, err.Error())
	case errors.Is(err, audit.ErrStoreUnavailable):
		h.logger.ErrorContext(r.Context(), "action store unavailable", "path", r.URL.Path, "error", err)
		response.ErrorCode(w, r, response.ErrServiceUnavail, "action log store unavailable")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing to render.
	case errors.Is(err, context.DeadlineExceeded):
		response.ErrorCode(w, r, response.ErrGatewayTimeout, "request timed out")
	default:
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		response.ErrorCode(w, r, response.ErrSystem, "internal server error")
	}
}
