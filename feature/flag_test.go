package feature

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvProvider(t *testing.T) {
	ctx := context.Background()
	p := &EnvProvider{}

	assert.False(t, p.IsEnabled(ctx, LogViews))
	t.Setenv("FEATURE_LOG_VIEWS", "true")
	assert.True(t, p.IsEnabled(ctx, LogViews))
	t.Setenv("FEATURE_LOG_VIEWS", "1")
	assert.True(t, p.IsEnabled(ctx, LogViews))
	t.Setenv("FEATURE_LOG_VIEWS", "yes")
	assert.False(t, p.IsEnabled(ctx, LogViews))
}

func TestStaticProvider(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewStaticProvider([]string{" log-views ", ""}))

	assert.True(t, m.IsEnabled(ctx, LogViews))
	assert.False(t, m.IsEnabled(ctx, "other"))

	t.Setenv("FEATURE_OTHER", "true")
	assert.True(t, m.IsEnabled(ctx, "other"))
}

func TestNilManagerIsDisabled(t *testing.T) {
	var m *Manager
	assert.False(t, m.IsEnabled(context.Background(), LogViews))
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "FEATURE_LOG_VIEWS", EnvKey(LogViews))
	assert.Equal(t, "FEATURE_X", EnvKey("x"))
}
