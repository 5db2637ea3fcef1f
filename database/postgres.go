package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Config is the connection pool of the durable action store.
type Config struct {
	DSN             string        `envconfig:"DB_DSN" yaml:"dsn"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" yaml:"max_open_conns" default:"25" validate:"min=1"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" yaml:"max_idle_conns" default:"5" validate:"min=0,ltefield=MaxOpenConns"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" yaml:"conn_max_lifetime" default:"15m"`
	ConnMaxIdleTime time.Duration `envconfig:"DB_CONN_MAX_IDLE_TIME" yaml:"conn_max_idle_time" default:"5m"`
	// ConnectTimeout bounds the startup wait for the database to answer.
	ConnectTimeout time.Duration `envconfig:"DB_CONNECT_TIMEOUT" yaml:"connect_timeout" default:"10s"`
	// Migrate runs the action-log DDL on startup.
	Migrate bool `envconfig:"DB_MIGRATE" yaml:"migrate" default:"true"`
}

// NewPostgres opens a traced pgx pool, checks it answers, and exports its pool stats
// as actionlog_db_* metrics.
func NewPostgres(ctx context.Context, cfg Config, serviceName string) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database: DB_DSN is required for the postgres store")
	}

	db, err := otelsql.Open("pgx", cfg.DSN,
		otelsql.WithAttributes(semconv.ServiceNameKey.String(serviceName)),
		otelsql.WithDBName("actionlog"),
	)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := waitReady(ctx, db, cfg.ConnectTimeout); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	if err := prometheus.Register(collectors.NewDBStatsCollector(db, "actionlog")); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			_ = db.Close()
			return nil, fmt.Errorf("database: register pool metrics: %w", err)
		}
	}
	return db, nil
}

// waitReady pings until the database answers or timeout passes. A database
// started alongside the service usually refuses the first few connections.
func waitReady(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t := time.NewTicker(500 * time.Millisecond)
	defer t.Stop()
	for {
		err := db.PingContext(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
}
