package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/godamri/helix-actionlog/http/response"
	"github.com/godamri/helix-actionlog/query"
)

func formatOf(r *http.Request) (query.Format, error) {
	return query.ParseFormat(r.URL.Query().Get("format"))
}

func writeAttachment(w http.ResponseWriter, format query.Format, data []byte) {
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.Filename()))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// GET /export
func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	format, err := formatOf(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p := query.ParseListParams(r.URL.Query())

	data, err := h.query.Export(r.Context(), p.Filter, format)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeAttachment(w, format, data)
}

// POST /admin/archive
func (h *Handler) archive(w http.ResponseWriter, r *http.Request) {
	format, err := formatOf(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p := query.ParseListParams(r.URL.Query())

	a, err := h.query.Archive(r.Context(), p.Filter, format)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("X-Archive-Exported", strconv.Itoa(a.Exported))
	w.Header().Set("X-Archive-Deleted", strconv.FormatInt(a.Deleted, 10))
	w.Header().Set("X-Archive-Cutoff", a.Cutoff.Format(time.RFC3339Nano))
	writeAttachment(w, a.Format, a.Data)
}

// DELETE /admin/kinds/{kind}
func (h *Handler) purgeKind(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	n, err := h.query.PurgeKind(r.Context(), kind)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "entity kind purged", "kind", kind, "records", n)
	response.JSON(w, r, http.StatusOK, map[string]any{"kind": kind, "deleted": n})
}

// DELETE /admin/actors/{actorID}
func (h *Handler) forgetActor(w http.ResponseWriter, r *http.Request) {
	actorID := chi.URLParam(r, "actorID")
	n, err := h.query.ForgetActor(r.Context(), actorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"actor_id": actorID, "anonymized": n})
}
