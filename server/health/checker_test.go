package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func ready(t *testing.T, c *Checker) (int, map[string]string) {
	t.Helper()
	r := chi.NewRouter()
	c.RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestReadiness_AllUp(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	code, body := ready(t, NewChecker(db, rdb, nil))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]string{"status": "UP", "db": "UP", "redis": "UP"}, body)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadiness_DatabaseDown(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	code, body := ready(t, NewChecker(db, nil, nil))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "DOWN", body["status"])
	assert.Equal(t, "DOWN", body["db"])
	assert.NotContains(t, body, "redis")
}

func TestReadiness_NoDependencies(t *testing.T) {
	code, body := ready(t, NewChecker(nil, nil, nil))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]string{"status": "UP"}, body)
}

func TestLiveness(t *testing.T) {
	w := httptest.NewRecorder()
	NewChecker(nil, nil, nil).HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestReadiness_ReportsToGRPC(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectPing()

	hs := grpchealth.NewServer()
	c := NewChecker(db, nil, nil).ReportTo(hs)
	status := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{})
		require.NoError(t, err)
		return resp.Status
	}

	_, ok := c.Check(context.Background())
	assert.False(t, ok)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status())

	_, ok = c.Check(context.Background())
	assert.True(t, ok)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status())
}
