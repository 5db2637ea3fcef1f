package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	statusUp   = "UP"
	statusDown = "DOWN"

	pingTimeout = 200 * time.Millisecond
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type dependency struct {
	name string
	ping func(context.Context) error
}

// Checker serves liveness and readiness. Readiness pings every configured
// dependency in parallel; one that misses pingTimeout counts as down.
type Checker struct {
	deps   []dependency
	grpc   *grpchealth.Server
	logger *slog.Logger
}

// NewChecker creates a health checker. db and rdb are optional: the in-memory
// store has nothing to ping and Redis is only used when configured.
func NewChecker(db Pinger, rdb redis.Cmdable, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Checker{logger: logger.With("component", "health")}
	if db != nil {
		c.deps = append(c.deps, dependency{"db", db.PingContext})
	}
	if rdb != nil {
		c.deps = append(c.deps, dependency{"redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() }})
	}
	return c
}

// ReportTo mirrors every readiness verdict onto the gRPC health service.
func (c *Checker) ReportTo(hs *grpchealth.Server) *Checker {
	c.grpc = hs
	return c
}

func (c *Checker) RegisterRoutes(r chi.Router) {
	r.Get("/health", c.HandleHealth)
	r.Get("/ready", c.HandleReadiness)
}

// HandleHealth answers 200 while the process runs.
func (c *Checker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Check pings every dependency and returns per-dependency status plus the overall one.
func (c *Checker) Check(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	errs := make([]error, len(c.deps))
	var wg sync.WaitGroup
	for i, p := range c.deps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = p.ping(ctx)
		}()
	}
	wg.Wait()

	report := map[string]string{"status": statusUp}
	healthy := true
	for i, p := range c.deps {
		if errs[i] != nil {
			c.logger.ErrorContext(ctx, "readiness check failed", "dependency", p.name, "error", errs[i])
			report[p.name] = statusDown
			healthy = false
			continue
		}
		report[p.name] = statusUp
	}
	if !healthy {
		report["status"] = statusDown
	}
	if c.grpc != nil {
		serving := healthpb.HealthCheckResponse_SERVING
		if !healthy {
			serving = healthpb.HealthCheckResponse_NOT_SERVING
		}
		c.grpc.SetServingStatus("", serving)
	}
	return report, healthy
}

func (c *Checker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	report, healthy := c.Check(r.Context())
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		c.logger.Error("failed to write health response", "error", err)
	}
}
