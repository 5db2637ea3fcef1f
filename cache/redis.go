package cache

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config covers the Redis client and the stats cache in front of the query service.
// An empty Addr runs without Redis: stats fall back to an in-process LRU and the
// rate limit and idempotency middleware are disabled.
type Config struct {
	Addr     string        `envconfig:"REDIS_ADDR" yaml:"addr"`
	Password string        `envconfig:"REDIS_PASSWORD" yaml:"password"`
	DB       int           `envconfig:"REDIS_DB" yaml:"db" default:"0" validate:"min=0"`
	PoolSize int           `envconfig:"REDIS_POOL_SIZE" yaml:"pool_size" default:"0" validate:"min=0"`
	Timeout  time.Duration `envconfig:"REDIS_TIMEOUT" yaml:"timeout" default:"500ms"`

	StatsTTL     time.Duration `envconfig:"STATS_CACHE_TTL" yaml:"stats_ttl" default:"5m"`
	StatsEntries int           `envconfig:"STATS_CACHE_ENTRIES" yaml:"stats_entries" default:"512" validate:"min=1"`
}

func (c Config) Enabled() bool { return c.Addr != "" }

// NewRedis connects and pings once, so a bad address fails startup rather than the first request.
// Every command and pipeline gets a client span when the caller is traced.
func NewRedis(ctx context.Context, cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
	rdb.AddHook(tracingHook{tracer: otel.Tracer("helix-actionlog/cache")})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache: redis at %s unreachable: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// tracingHook records command names and the first key only. Values hold cached
// response bodies and must not end up in span attributes.
type tracingHook struct {
	tracer trace.Tracer
}

func (h tracingHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h tracingHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if !trace.SpanFromContext(ctx).IsRecording() {
			return next(ctx, cmd)
		}
		ctx, span := h.start(ctx, "redis."+cmd.Name(), cmd.Name(), statement(cmd))
		defer span.End()
		return h.finish(span, next(ctx, cmd))
	}
}

func (h tracingHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		if !trace.SpanFromContext(ctx).IsRecording() {
			return next(ctx, cmds)
		}
		names := make([]string, len(cmds))
		for i, c := range cmds {
			names[i] = c.Name()
		}
		ctx, span := h.start(ctx, "redis.pipeline", "pipeline", strings.Join(names, " "),
			attribute.Int("db.redis.pipeline_length", len(cmds)))
		defer span.End()
		return h.finish(span, next(ctx, cmds))
	}
}

func (h tracingHook) start(ctx context.Context, name, op, stmt string, extra ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs := append([]attribute.KeyValue{
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", op),
		attribute.String("db.statement", stmt),
	}, extra...)
	return h.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

func (h tracingHook) finish(span trace.Span, err error) error {
	if err != nil && err != redis.Nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// statement renders "NAME key" from a command's args.
func statement(cmd redis.Cmder) string {
	args := cmd.Args()
	if len(args) < 2 {
		return cmd.Name()
	}
	return fmt.Sprintf("%s %v", cmd.Name(), args[1])
}
