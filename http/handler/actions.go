package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/godamri/helix-actionlog/audit"
	"github.com/godamri/helix-actionlog/http/response"
	"github.com/godamri/helix-actionlog/pkg/contextx"
	"github.com/godamri/helix-actionlog/query"
	"github.com/godamri/helix-actionlog/server/middleware"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

// idempotencyNamespace derives record ids from Idempotency-Key headers.
var idempotencyNamespace = uuid.MustParse("4b0e2f53-6d0a-4e57-9f3e-8f7c1d2a9b60")

// recordView is the API shape of a record: the stored fields plus display helpers.
type recordView struct {
	audit.Record
	ActionLabel string `json:"action_label"`
	Browser     string `json:"browser,omitempty"`
	Summary     string `json:"summary"`
}

func viewOf(rec audit.Record) recordView {
	return recordView{
		Record:      rec,
		ActionLabel: rec.Action.Label(),
		Browser:     audit.Browser(rec.ClientSignature),
		Summary:     rec.String(),
	}
}

func viewsOf(recs []audit.Record) []recordView {
	out := make([]recordView, len(recs))
	for i := range recs {
		out[i] = viewOf(recs[i])
	}
	return out
}

// GET /actions
func (h *Handler) listActions(w http.ResponseWriter, r *http.Request) {
	p := query.ParseListParams(r.URL.Query())

	res, err := h.query.List(r.Context(), p.Filter, p.Page, p.PerPage)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSONPage(w, r, viewsOf(res.Records), response.Pagination{
		Page:        res.Page,
		PerPage:     res.PerPage,
		Total:       res.Total,
		Pages:       res.Pages,
		HasNext:     res.HasNext,
		HasPrevious: res.HasPrevious,
	})
}

// GET /actions/{recordID}
func (h *Handler) getAction(w http.ResponseWriter, r *http.Request) {
	rec, err := h.query.Get(r.Context(), chi.URLParam(r, "recordID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	_, live := h.query.Resolve(r.Context(), rec)
	response.JSON(w, r, http.StatusOK, struct {
		recordView
		TargetExists bool `json:"target_exists"`
	}{viewOf(*rec), live})
}

// POST /actions
func (h *Handler) emitAction(w http.ResponseWriter, r *http.Request) {
	var req audit.EmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		response.ErrorCode(w, r, response.ErrInvalidFormat, "malformed JSON body")
		return
	}

	entry, err := req.Entry()
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			response.ValidationProblem(w, r, err)
			return
		}
		response.ErrorCode(w, r, response.ErrValidation, err.Error())
		return
	}

	ctx := r.Context()
	// Services emit on behalf of their users; everyone else records their own actions.
	if !contextx.HasRole(ctx, middleware.EmitterRole) || entry.Actor == nil {
		entry.Actor = audit.ActorFromContext(ctx)
	}
	if key := contextx.GetIdempotencyKey(ctx); key != "" && entry.ID == uuid.Nil {
		entry.ID = uuid.NewSHA1(idempotencyNamespace, []byte(contextx.GetAuthPrincipalID(ctx)+":"+key))
	}

	rec, err := h.emitter.Emit(ctx, entry)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, viewOf(*rec))
}

// GET /entities/{kind}/{entityID}/actions
func (h *Handler) entityHistory(w http.ResponseWriter, r *http.Request) {
	kind, id := chi.URLParam(r, "kind"), chi.URLParam(r, "entityID")
	recs, err := h.query.ForEntity(r.Context(), kind, id, query.ParseLimit(r.URL.Query().Get("limit")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, viewsOf(recs))
}

// GET /actors/{actorID}/feed
func (h *Handler) actorFeed(w http.ResponseWriter, r *http.Request) {
	recs, err := h.query.ActivityFeed(r.Context(), chi.URLParam(r, "actorID"), query.ParseLimit(r.URL.Query().Get("limit")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, viewsOf(recs))
}

// GET /actors/{actorID}/dashboard
func (h *Handler) actorDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.query.Dashboard(r.Context(), chi.URLParam(r, "actorID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, struct {
		ActorID  string         `json:"actor_id"`
		Recent   []recordView   `json:"recent"`
		Total    int64          `json:"total"`
		ByAction []audit.Bucket `json:"by_action"`
	}{d.ActorID, viewsOf(d.Recent), d.Total, d.ByAction})
}

// GET /stats/{dimension}
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	dim := audit.Dimension(chi.URLParam(r, "dimension"))
	p := query.ParseListParams(r.URL.Query())

	buckets, err := h.query.Stats(r.Context(), dim, p.Filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, buckets)
}
