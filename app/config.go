package app

import (
	"context"
	"time"

	"github.com/godamri/helix-actionlog/audit"
	"github.com/godamri/helix-actionlog/cache"
	"github.com/godamri/helix-actionlog/config"
	"github.com/godamri/helix-actionlog/database"
	"github.com/godamri/helix-actionlog/feature"
	"github.com/godamri/helix-actionlog/log"
	"github.com/godamri/helix-actionlog/messaging"
	"github.com/godamri/helix-actionlog/query"
	"github.com/godamri/helix-actionlog/server"
	"github.com/godamri/helix-actionlog/server/middleware"
)

// Config is the whole service configuration. Nested sections read their own
// variables (LOG_LEVEL, DB_DSN, ...) and the matching YAML block.
type Config struct {
	ServiceName string `envconfig:"SERVICE_NAME" yaml:"service_name" default:"actionlog" validate:"required"`

	Log         log.Config                   `yaml:"log"`
	Server      server.Config                `yaml:"server"`
	Database    database.Config              `yaml:"database"`
	Redis       cache.Config                 `yaml:"redis"`
	Audit       audit.Config                 `yaml:"audit"`
	Query       query.Limits                 `yaml:"query"`
	Ingest      messaging.ConsumerConfig     `yaml:"ingest"`
	Auth        middleware.AuthConfig        `yaml:"auth"`
	RateLimit   middleware.RateLimitConfig   `yaml:"rate_limit"`
	Idempotency middleware.IdempotencyConfig `yaml:"idempotency"`

	// Features lists enabled feature flags, e.g. log-views.
	Features       []string      `envconfig:"FEATURES" yaml:"features"`
	ReloadInterval time.Duration `envconfig:"CONFIG_RELOAD_INTERVAL" yaml:"reload_interval" default:"5s"`
}

// NewConfigLoader reads CONFIG_FILE (optional) overlaid on the environment.
func NewConfigLoader(path string) *config.Loader[Config] {
	return config.NewLoader[Config]("", path)
}

// LiveLimits exposes the query limits of a reloadable config.
type LiveLimits struct {
	container *config.Container[Config]
}

func NewLiveLimits(c *config.Container[Config]) LiveLimits {
	return LiveLimits{container: c}
}

func (l LiveLimits) Get() *query.Limits {
	return &l.container.Get().Query
}

// LiveFeatures reads the enabled flags from the current config snapshot, so a
// config reload toggles them. Flags absent from the config fall back to FEATURE_* env vars.
type LiveFeatures struct {
	container *config.Container[Config]
}

func NewLiveFeatures(c *config.Container[Config]) LiveFeatures {
	return LiveFeatures{container: c}
}

func (l LiveFeatures) IsEnabled(ctx context.Context, key string) bool {
	return feature.NewStaticProvider(l.container.Get().Features).IsEnabled(ctx, key)
}
