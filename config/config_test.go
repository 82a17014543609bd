package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcelsud/webhook-guard/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("success - defaults without a file", func(t *testing.T) {
		cfg, err := config.Load(t.TempDir())

		require.NoError(t, err)
		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, 3, cfg.LoopSoftLimit)
		assert.Equal(t, 6, cfg.LoopHardLimit)
		assert.Equal(t, 2*time.Minute, cfg.LoopQuietWindow)
		assert.Equal(t, 500*time.Millisecond, cfg.LoopThrottleDelay)
		assert.Equal(t, 0.95, cfg.AlertMinSuccessRate)
		assert.Equal(t, 15*time.Minute, cfg.AlertWindow)
		assert.Equal(t, 1000, cfg.MonitorCapacity)
		assert.Equal(t, []string{"whatsapp_instances", "contacts", "messages", "conversations"}, cfg.RealtimeResources)
		assert.Empty(t, cfg.RealtimeAllowedOrigins)
	})

	t.Run("success - list values from the environment", func(t *testing.T) {
		t.Setenv("REALTIME_RESOURCES", "messages,contacts")
		t.Setenv("REALTIME_ALLOWED_ORIGINS", "https://app.example.com")
		t.Setenv("HUB_APP_SECRET", "current, previous ,")

		cfg, err := config.Load(t.TempDir())

		require.NoError(t, err)
		assert.Equal(t, []string{"messages", "contacts"}, cfg.RealtimeResources)
		assert.Equal(t, []string{"https://app.example.com"}, cfg.RealtimeAllowedOrigins)
		assert.Equal(t, []string{"current", "previous"}, cfg.HubAppSecrets())
	})

	t.Run("success - environment overrides", func(t *testing.T) {
		t.Setenv("PORT", "9090")
		t.Setenv("LOOP_HARD_LIMIT", "10")
		t.Setenv("ALERT_MAX_AVG_LATENCY", "2s")

		cfg, err := config.Load(t.TempDir())

		require.NoError(t, err)
		assert.Equal(t, "9090", cfg.Port)
		assert.Equal(t, 10, cfg.LoopHardLimit)
		assert.Equal(t, 2*time.Second, cfg.AlertMaxAvgLatency)
	})

	t.Run("success - toml file", func(t *testing.T) {
		dir := t.TempDir()
		content := "REDIS_ADDR = \"redis:6379\"\nHUB_VERIFY_TOKEN = \"verify-me\"\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600))

		cfg, err := config.Load(dir)

		require.NoError(t, err)
		assert.Equal(t, "redis:6379", cfg.RedisAddr)
		assert.Equal(t, "verify-me", cfg.HubVerifyToken)
	})

	t.Run("error - hard limit not above soft limit", func(t *testing.T) {
		t.Setenv("LOOP_SOFT_LIMIT", "5")
		t.Setenv("LOOP_HARD_LIMIT", "5")

		_, err := config.Load(t.TempDir())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "LOOP_HARD_LIMIT")
	})

	t.Run("error - unknown log format", func(t *testing.T) {
		t.Setenv("LOG_FORMAT", "xml")

		_, err := config.Load(t.TempDir())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "LOG_FORMAT")
	})
}
