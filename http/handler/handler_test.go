package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/godamri/helix-actionlog/audit"
	"github.com/godamri/helix-actionlog/entity"
	"github.com/godamri/helix-actionlog/feature"
	"github.com/godamri/helix-actionlog/query"
	"github.com/godamri/helix-actionlog/server/middleware"
	"github.com/godamri/helix-actionlog/store/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store  *memory.Store
	router http.Handler
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, store audit.Store, flags ...string) *fixture {
	t.Helper()
	logger := discardLogger()
	registry := entity.NewRegistry(logger)
	registry.MustRegister("blog", entity.Int64Codec{}, func(ctx context.Context, id any) (any, error) {
		if id.(int64) == 1 {
			return struct{}{}, nil
		}
		return nil, entity.ErrNotFound
	})

	mem := memory.New()
	if store == nil {
		store = mem
	}
	em := audit.NewEmitter(store, registry, logger)
	q := query.NewService(store, registry, logger)

	auth, err := middleware.NewTrustedHeaderStrategy(middleware.TrustedHeaderConfig{TrustedProxies: []string{"192.0.2.0/24"}}, logger)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(middleware.NewAuthMiddleware(auth, false).HTTPMiddleware)
	r.Use(middleware.RequestOrigin)
	r.Mount("/api/v1", New(em, q, logger).Routes(RouteOptions{
		Flags:       feature.NewManager(feature.NewStaticProvider(flags)),
		Idempotency: middleware.IdempotencyMiddleware(nil, middleware.IdempotencyConfig{}, logger),
	}))
	return &fixture{store: mem, router: r}
}

type request struct {
	method, target, body string
	user, roles          string
	headers              map[string]string
}

func (f *fixture) do(req request) *httptest.ResponseRecorder {
	var body io.Reader
	if req.body != "" {
		body = strings.NewReader(req.body)
	}
	r := httptest.NewRequest(req.method, req.target, body)
	r.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Chrome/120.0 Safari/537.36")
	if req.user != "" {
		r.Header.Set("X-Helix-User-ID", req.user)
		r.Header.Set("X-Helix-User-Name", "user-"+req.user)
		r.Header.Set("X-Helix-Role", req.roles)
	}
	for k, v := range req.headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
	Meta struct {
		Pagination *struct {
			Total int64 `json:"total"`
			Pages int   `json:"pages"`
		} `json:"pagination"`
	} `json:"meta"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

type apiRecord struct {
	ID          string `json:"id"`
	ActionKind  string `json:"action_kind"`
	ActionLabel string `json:"action_label"`
	Browser     string `json:"browser"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Origin      string `json:"origin_address"`
	Actor       *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"actor"`
	Target *struct {
		Kind string `json:"kind"`
		ID   string `json:"id"`
	} `json:"target"`
	TargetExists bool `json:"target_exists"`
}

func (f *fixture) emit(t *testing.T, user, body string) apiRecord {
	t.Helper()
	w := f.do(request{method: http.MethodPost, target: "/api/v1/actions", body: body, user: user})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var rec apiRecord
	decode(t, w, &rec)
	return rec
}

func TestEmitAction_UsesAuthenticatedActor(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.emit(t, "7", `{"action_kind":"update","entity_kind":"blog","entity_id":"1","description":"Updated blog: Go","actor_id":"999"}`)

	require.NotNil(t, rec.Actor)
	assert.Equal(t, "7", rec.Actor.ID)
	assert.Equal(t, "user-7", rec.Actor.Name)
	assert.Equal(t, "update", rec.ActionKind)
	assert.Equal(t, "Update", rec.ActionLabel)
	assert.Equal(t, "Chrome", rec.Browser)
	assert.Equal(t, "192.0.2.1", rec.Origin)
	assert.Equal(t, "Update | user-7 | blog#1", rec.Summary)
}

func TestEmitAction_Validation(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(request{method: http.MethodPost, target: "/api/v1/actions", body: `{"entity_id":"1"}`})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "action_kind")
	assert.Contains(t, w.Body.String(), "entity_kind")

	w = f.do(request{method: http.MethodPost, target: "/api/v1/actions", body: `{not json`})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(request{method: http.MethodPost, target: "/api/v1/actions", body: `{"action_kind":"view","extra":1}`})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, 0, f.store.Len())
}

func TestEmitAction_IdempotencyKey(t *testing.T) {
	f := newFixture(t, nil)
	req := request{
		method:  http.MethodPost,
		target:  "/api/v1/actions",
		body:    `{"action_kind":"login","description":"signed in"}`,
		user:    "3",
		headers: map[string]string{"Idempotency-Key": "abc"},
	}

	var first, second apiRecord
	decode(t, f.do(req), &first)
	decode(t, f.do(req), &second)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.store.Len())
}

type brokenStore struct {
	audit.Store
}

func (brokenStore) Append(context.Context, *audit.Record) (uuid.UUID, error) {
	return uuid.Nil, errors.New("connection refused")
}

func TestEmitAction_StoreUnavailable(t *testing.T) {
	f := newFixture(t, brokenStore{Store: memory.New()})

	w := f.do(request{method: http.MethodPost, target: "/api/v1/actions", body: `{"action_kind":"view"}`})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "SYS_SERVICE_UNAVAILABLE", decode(t, w, nil).Error.Code)
}

func TestListAndGet(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 3; i++ {
		f.emit(t, "1", `{"action_kind":"create","description":"Created blog"}`)
	}
	last := f.emit(t, "2", `{"action_kind":"view","entity_kind":"blog","entity_id":"1","description":"Viewed"}`)

	w := f.do(request{method: http.MethodGet, target: "/api/v1/actions?action_kind=create&per_page=2"})
	require.Equal(t, http.StatusOK, w.Code)
	var recs []apiRecord
	env := decode(t, w, &recs)
	assert.Len(t, recs, 2)
	require.NotNil(t, env.Meta.Pagination)
	assert.Equal(t, int64(3), env.Meta.Pagination.Total)
	assert.Equal(t, 2, env.Meta.Pagination.Pages)

	w = f.do(request{method: http.MethodGet, target: "/api/v1/actions/" + last.ID})
	require.Equal(t, http.StatusOK, w.Code)
	var got apiRecord
	decode(t, w, &got)
	assert.Equal(t, last.ID, got.ID)
	assert.True(t, got.TargetExists)

	w = f.do(request{method: http.MethodGet, target: "/api/v1/actions/" + uuid.NewString()})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(request{method: http.MethodGet, target: "/api/v1/actions/not-a-uuid"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEntityHistory_LogsViewWhenEnabled(t *testing.T) {
	f := newFixture(t, nil, feature.LogViews)
	f.emit(t, "1", `{"action_kind":"create","entity_kind":"blog","entity_id":"1","description":"Created blog: Go"}`)

	w := f.do(request{method: http.MethodGet, target: "/api/v1/entities/blog/1/actions", user: "5"})
	require.Equal(t, http.StatusOK, w.Code)
	var recs []apiRecord
	decode(t, w, &recs)
	require.Len(t, recs, 1)
	assert.Equal(t, "create", recs[0].ActionKind)

	// The read itself is now part of the history.
	w = f.do(request{method: http.MethodGet, target: "/api/v1/entities/blog/1/actions?limit=1"})
	decode(t, w, &recs)
	require.Len(t, recs, 1)
	assert.Equal(t, "view", recs[0].ActionKind)
	assert.Equal(t, "5", recs[0].Actor.ID)
}

func TestEntityHistory_NoViewWhenDisabled(t *testing.T) {
	f := newFixture(t, nil)
	f.do(request{method: http.MethodGet, target: "/api/v1/entities/blog/1/actions", user: "5"})
	assert.Equal(t, 0, f.store.Len())
}

func TestActorFeedAndDashboard(t *testing.T) {
	f := newFixture(t, nil)
	f.emit(t, "1", `{"action_kind":"create"}`)
	f.emit(t, "1", `{"action_kind":"update"}`)
	f.emit(t, "2", `{"action_kind":"delete"}`)

	w := f.do(request{method: http.MethodGet, target: "/api/v1/actors/1/feed?limit=1"})
	var feed []apiRecord
	decode(t, w, &feed)
	require.Len(t, feed, 1)
	assert.Equal(t, "update", feed[0].ActionKind)

	w = f.do(request{method: http.MethodGet, target: "/api/v1/actors/1/dashboard"})
	require.Equal(t, http.StatusOK, w.Code)
	var dash struct {
		Total    int64          `json:"total"`
		Recent   []apiRecord    `json:"recent"`
		ByAction []audit.Bucket `json:"by_action"`
	}
	decode(t, w, &dash)
	assert.Equal(t, int64(2), dash.Total)
	assert.Len(t, dash.Recent, 2)
	assert.Len(t, dash.ByAction, 2)
}

func TestStats(t *testing.T) {
	f := newFixture(t, nil)
	f.emit(t, "1", `{"action_kind":"create","entity_kind":"blog","entity_id":"1"}`)
	f.emit(t, "1", `{"action_kind":"create","entity_kind":"comment","entity_id":"4"}`)

	w := f.do(request{method: http.MethodGet, target: "/api/v1/stats/action_kind"})
	require.Equal(t, http.StatusOK, w.Code)
	var buckets []audit.Bucket
	decode(t, w, &buckets)
	assert.Equal(t, []audit.Bucket{{Key: "create", Count: 2}}, buckets)

	w = f.do(request{method: http.MethodGet, target: "/api/v1/stats/weekday"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExport(t *testing.T) {
	f := newFixture(t, nil, feature.LogViews)
	f.emit(t, "1", `{"action_kind":"create","description":"Created blog: Go"}`)

	w := f.do(request{method: http.MethodGet, target: "/api/v1/export?format=csv", user: "1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="action_logs.csv"`, w.Header().Get("Content-Disposition"))
	assert.Contains(t, w.Body.String(), "Created blog: Go")

	// The export was recorded as a download.
	assert.Equal(t, 2, f.store.Len())

	w = f.do(request{method: http.MethodGet, target: "/api/v1/export?format=xml"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t, nil)
	f.emit(t, "1", `{"action_kind":"create","entity_kind":"blog","entity_id":"1"}`)
	f.emit(t, "2", `{"action_kind":"create","entity_kind":"comment","entity_id":"1"}`)

	w := f.do(request{method: http.MethodDelete, target: "/api/v1/admin/kinds/blog"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = f.do(request{method: http.MethodDelete, target: "/api/v1/admin/kinds/blog", user: "9", roles: "viewer"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(request{method: http.MethodDelete, target: "/api/v1/admin/kinds/blog", user: "9", roles: "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.store.Len())

	w = f.do(request{method: http.MethodDelete, target: "/api/v1/admin/actors/2", user: "9", roles: "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	var forgot struct {
		Anonymized int64 `json:"anonymized"`
	}
	decode(t, w, &forgot)
	assert.Equal(t, int64(1), forgot.Anonymized)

	w = f.do(request{method: http.MethodPost, target: "/api/v1/admin/archive?format=ndjson", user: "9", roles: "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-Archive-Exported"))
	assert.Equal(t, "1", w.Header().Get("X-Archive-Deleted"))
	assert.Equal(t, 1, strings.Count(w.Body.String(), "\n"))
	assert.Equal(t, 0, f.store.Len())
}
