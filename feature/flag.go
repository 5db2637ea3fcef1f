package feature

import (
	"context"
	"os"
	"strconv"
	"strings"
)

// LogViews records entity history reads as view actions and exports as download actions.
const LogViews = "log-views"

// Provider defines how we fetch flags.
type Provider interface {
	IsEnabled(ctx context.Context, key string) bool
}

// Manager is the main entry point. A nil Manager reports every flag disabled.
type Manager struct {
	provider Provider
}

func NewManager(p Provider) *Manager {
	if p == nil {
		p = &EnvProvider{}
	}
	return &Manager{provider: p}
}

func (m *Manager) IsEnabled(ctx context.Context, key string) bool {
	if m == nil {
		return false
	}
	return m.provider.IsEnabled(ctx, key)
}

// EnvProvider reads FEATURE_<KEY> variables, with dashes as underscores:
// log-views is FEATURE_LOG_VIEWS. Values follow strconv.ParseBool.
type EnvProvider struct{}

func (e *EnvProvider) IsEnabled(ctx context.Context, key string) bool {
	on, err := strconv.ParseBool(os.Getenv(EnvKey(key)))
	return err == nil && on
}

// EnvKey is the variable EnvProvider consults for key.
func EnvKey(key string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// StaticProvider serves a fixed flag set, typically the configured FEATURES list.
// It falls back to the environment for flags it does not name.
type StaticProvider struct {
	enabled  map[string]bool
	fallback Provider
}

func NewStaticProvider(enabled []string) *StaticProvider {
	m := make(map[string]bool, len(enabled))
	for _, k := range enabled {
		if k = strings.TrimSpace(k); k != "" {
			m[k] = true
		}
	}
	return &StaticProvider{enabled: m, fallback: &EnvProvider{}}
}

func (s *StaticProvider) IsEnabled(ctx context.Context, key string) bool {
	if s.enabled[key] {
		return true
	}
	return s.fallback.IsEnabled(ctx, key)
}
