package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestNewGRPCServer_RegistersHealth(t *testing.T) {
	srv, hs, err := NewGRPCServer(Config{})
	require.NoError(t, err)
	defer srv.Stop()

	_, ok := srv.GetServiceInfo()[healthpb.Health_ServiceDesc.ServiceName]
	assert.True(t, ok)

	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestServer_StopsOnCancel(t *testing.T) {
	cfg := Config{EnableHTTP: true, HTTPPort: "0", ShutdownTimeout: time.Second}
	s := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), http.NotFoundHandler(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_BindFailureReturnsEarly(t *testing.T) {
	taken, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer taken.Close()
	port := strconv.Itoa(taken.Addr().(*net.TCPAddr).Port)

	s := New(Config{EnableHTTP: true, HTTPPort: port, ShutdownTimeout: time.Second},
		slog.New(slog.NewTextHandler(io.Discard, nil)), http.NotFoundHandler(), nil, nil)
	err = s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http listen")
}

func TestMTLS_MissingFiles(t *testing.T) {
	_, err := loadMTLSConfig("/nonexistent/ca.pem", "/nonexistent/cert.pem", "/nonexistent/key.pem")
	assert.Error(t, err)

	_, _, err = NewGRPCServer(Config{MTLSEnabled: true, MTLSCACert: "/nonexistent/ca.pem"})
	assert.Error(t, err)
}
