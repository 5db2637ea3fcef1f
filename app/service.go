package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/godamri/helix-actionlog/audit"
	"github.com/godamri/helix-actionlog/cache"
	"github.com/godamri/helix-actionlog/config"
	"github.com/godamri/helix-actionlog/database"
	"github.com/godamri/helix-actionlog/entity"
	"github.com/godamri/helix-actionlog/feature"
	"github.com/godamri/helix-actionlog/hooks"
	"github.com/godamri/helix-actionlog/http/handler"
	"github.com/godamri/helix-actionlog/messaging"
	"github.com/godamri/helix-actionlog/query"
	"github.com/godamri/helix-actionlog/server"
	"github.com/godamri/helix-actionlog/server/health"
	"github.com/godamri/helix-actionlog/server/middleware"
	"github.com/godamri/helix-actionlog/store/memory"
	"github.com/godamri/helix-actionlog/store/postgres"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Service is the assembled action log: write path, read path and transports.
type Service struct {
	Registry *entity.Registry
	Emitter  *audit.Emitter
	Hooks    *hooks.Dispatcher
	Query    *query.Service
	Handler  http.Handler

	queue      *audit.Queue
	components []Component
	closers    []func() error
	logger     *slog.Logger
}

// Build wires every component from the current config snapshot. reloader may be nil.
// On error, whatever was already opened is closed.
func Build(ctx context.Context, cfgs *config.Container[Config], reloader *config.Reloader[Config], logger *slog.Logger) (_ *Service, err error) {
	cfg := cfgs.Get()
	s := &Service{logger: logger}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	// Storage
	var store audit.Store
	var db *sql.DB
	switch cfg.Audit.Store {
	case "memory":
		store = memory.New()
		logger.Warn("using in-memory action store; records are lost on restart")
	default:
		db, err = database.NewPostgres(ctx, cfg.Database, cfg.ServiceName)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)

		pg, err := postgres.New(db, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Database.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		store = pg
	}

	// Redis is optional. Interfaces stay untyped nil when it is off.
	var (
		rdb      redis.UniversalClient
		scripter redis.Scripter
		cmdable  redis.Cmdable
	)
	if cfg.Redis.Enabled() {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, client.Close)
		rdb, scripter, cmdable = client, client, client
	}

	// Write path
	s.Registry = entity.NewRegistry(logger)

	opts := []audit.EmitterOption{audit.WithMaxDescription(cfg.Audit.MaxDescription)}
	if len(cfg.Audit.KafkaBrokers) > 0 {
		sink, err := audit.NewKafkaSink(cfg.Audit, logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, sink.Close)
		opts = append(opts, audit.WithSinks(sink))
	}
	s.Emitter = audit.NewEmitter(store, s.Registry, logger, opts...)

	var hookEmitter hooks.Emitter = s.Emitter
	if cfg.Audit.HookMode == "queue" {
		q := audit.NewQueue(s.Emitter, audit.QueueConfig{
			Shards:      cfg.Audit.QueueShards,
			BufferSize:  cfg.Audit.QueueBufferSize,
			BlockOnFull: cfg.Audit.BlockOnFull,
			MaxRetries:  cfg.Audit.QueueMaxRetries,
		}, logger)
		s.closers = append(s.closers, q.Close)
		s.queue = q
		hookEmitter = q
	}
	s.Hooks = hooks.New(hookEmitter, s.Registry, logger)

	// Read path
	s.Query = query.NewService(store, s.Registry, logger,
		query.WithStatsCache(cache.NewStatsCache(rdb, cfg.Redis, logger)),
		query.WithLimits(NewLiveLimits(cfgs)),
		query.WithKindForgetter(s.Hooks),
	)

	// Transports
	strategy, err := middleware.NewAuthStrategy(ctx, cfg.Auth, logger)
	if err != nil {
		return nil, err
	}
	auth := middleware.NewAuthMiddleware(strategy, cfg.Auth.Required)

	var pinger health.Pinger
	if db != nil {
		pinger = db
	}
	checker := health.NewChecker(pinger, cmdable, logger)
	s.Handler = s.router(cfg, auth, checker, scripter, cmdable, cfgs)

	grpcSrv, hs, err := server.NewGRPCServer(cfg.Server,
		middleware.GRPCRecoveryInterceptor(logger),
		auth.GRPCUnaryInterceptor,
		middleware.GRPCRateLimitInterceptor(scripter, cfg.RateLimit),
	)
	if err != nil {
		return nil, err
	}
	checker.ReportTo(hs)
	srv := server.New(cfg.Server, logger, s.Handler, grpcSrv, hs)
	s.components = append(s.components, Component{Name: "server", Run: srv.Start})

	if cfg.Ingest.Enabled() {
		consumer, err := messaging.NewConsumer(cfg.Ingest, logger, messaging.IngestHandler(s.Emitter, logger))
		if err != nil {
			return nil, err
		}
		manager := messaging.NewConsumerManager(logger)
		manager.Register(consumer)
		s.components = append(s.components, Component{Name: "ingest", Run: manager.Run})
	}

	cfgs.OnChange(func(prev, next *Config) {
		if !slices.Equal(prev.Features, next.Features) {
			logger.Info("feature flags changed", "from", prev.Features, "to", next.Features)
		}
		if prev.Query != next.Query {
			logger.Info("query limits changed",
				"max_per_page", next.Query.MaxPerPage, "default_per_page", next.Query.DefaultPerPage)
		}
	})

	if reloader != nil && cfg.ReloadInterval > 0 {
		s.components = append(s.components, Component{Name: "config_reloader", Run: func(ctx context.Context) error {
			reloader.Run(ctx, cfg.ReloadInterval)
			return nil
		}})
	}
	return s, nil
}

func (s *Service) router(cfg *Config, auth *middleware.AuthMiddleware, checker *health.Checker,
	scripter redis.Scripter, cmdable redis.Cmdable, cfgs *config.Container[Config]) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.PanicRecovery(s.logger))
	r.Use(middleware.OTelMiddleware(cfg.ServiceName))
	r.Use(middleware.TraceIDMiddleware)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.SecurityHeaders)

	checker.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.HTTPMiddleware)
		r.Use(middleware.RequestOrigin)
		r.Mount("/api/v1", handler.New(s.Emitter, s.Query, s.logger).Routes(handler.RouteOptions{
			Flags:       feature.NewManager(NewLiveFeatures(cfgs)),
			AdminRole:   cfg.Auth.AdminRole,
			ExportLimit: middleware.RateLimitMiddleware(scripter, cfg.RateLimit),
			Idempotency: middleware.IdempotencyMiddleware(cmdable, cfg.Idempotency, s.logger),
		}))
	})
	return r
}

// Components are the long-running parts, for Runner.Run.
func (s *Service) Components() []Component {
	return s.components
}

// Drain waits for queued hook records to be stored. Later hook events fail with ErrQueueClosed,
// so it belongs to shutdown or one-shot tools.
func (s *Service) Drain() error {
	if s.queue == nil {
		return nil
	}
	return s.queue.Close()
}

// Close releases queues, producers and connections in reverse order of creation.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("app: close: %w", err)
	}
	return nil
}
