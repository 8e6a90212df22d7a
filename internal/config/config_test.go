package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFrom(t *testing.T, vars map[string]string) (*Config, error) {
	t.Helper()
	return LoadWith(env.Options{Environment: vars})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadFrom(t, map[string]string{
		"DATABASE_URL": "postgres://localhost:5432/swing?sslmode=disable",
	})
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, StorePostgres, cfg.Store.Backend)
	assert.Equal(t, ObjectsLocal, cfg.Objects.Backend)
	assert.Equal(t, DispatchInline, cfg.Queue.Mode)
	assert.Equal(t, DefaultFrameBudget, cfg.Pipeline.FrameBudget)
	assert.Equal(t, DefaultLockWindow, cfg.Pipeline.LockWindow)
	assert.Equal(t, DefaultHistoryLimit, cfg.Pipeline.HistoryLimit)
	assert.Equal(t, DefaultFetchConcurrency, cfg.Pipeline.FetchConcurrency)
	assert.Equal(t, DefaultKeyCacheTTL, cfg.Identity.KeyCacheTTL)
	assert.Equal(t, 90*time.Second, cfg.Inference.Timeout)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := loadFrom(t, map[string]string{
		"PORT":              "9090",
		"STORE_BACKEND":     "mongo",
		"MONGODB_URI":       "mongodb://localhost:27017",
		"DISPATCH_MODE":     "pubsub",
		"PUBSUB_PROJECT_ID": "swing-dev",
		"FRAME_BUDGET":      "8",
		"LOCK_WINDOW":       "5m",
		"KEY_CACHE_TTL":     "2h",
		"CORS_ORIGINS":      "http://localhost:3000,https://coach.example.com",
		"LOG_FORMAT":        "json",
	})
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, StoreMongo, cfg.Store.Backend)
	assert.Equal(t, "swing-dev", cfg.Queue.ProjectID)
	assert.Equal(t, 8, cfg.Pipeline.FrameBudget)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.LockWindow)
	assert.Equal(t, 2*time.Hour, cfg.Identity.KeyCacheTTL)
	assert.Equal(t, []string{"http://localhost:3000", "https://coach.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"postgres without url", map[string]string{}},
		{"mongo without uri", map[string]string{"STORE_BACKEND": "mongo"}},
		{"pubsub without project", map[string]string{"DATABASE_URL": "postgres://x", "DISPATCH_MODE": "pubsub"}},
		{"unknown backend", map[string]string{"STORE_BACKEND": "sqlite"}},
		{"bad port", map[string]string{"DATABASE_URL": "postgres://x", "PORT": "0"}},
		{"negative budget", map[string]string{"DATABASE_URL": "postgres://x", "FRAME_BUDGET": "-3"}},
		{"bad log format", map[string]string{"DATABASE_URL": "postgres://x", "LOG_FORMAT": "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadFrom(t, tt.vars)
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestLoad_ParseError(t *testing.T) {
	_, err := loadFrom(t, map[string]string{"DATABASE_URL": "postgres://x", "LOCK_WINDOW": "ten minutes"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse environment")
}

func TestClampFrameBudget(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 12},
		{-1, 12},
		{1, 6},
		{6, 6},
		{12, 12},
		{20, 20},
		{50, 20},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampFrameBudget(tt.in), "budget %d", tt.in)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DispatchInline, cfg.Queue.Mode)
	assert.Equal(t, DefaultLockWindow, cfg.Pipeline.LockWindow)
	assert.Equal(t, DefaultFrameBudget, cfg.Pipeline.FrameBudget)
}
