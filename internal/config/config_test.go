package config_test

import (
	"testing"
	"time"

	"github.com/italolelis/qbit_mover/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "config.yaml", cfg.ConfigFile)
	assert.Equal(t, "relocations.db", cfg.DBPath)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 4, cfg.MaxParallel)
	assert.Equal(t, 720*time.Hour, cfg.KeepHistoryFor)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "qbit_mover", cfg.Telemetry.ServiceName)
	assert.False(t, cfg.Web.Enabled)
	assert.Equal(t, "0.0.0.0:9092", cfg.Web.BindAddress)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", "/etc/qbit_mover/config.yaml")
	t.Setenv("MAX_PARALLEL", "8")
	t.Setenv("HTTP_TIMEOUT", "5s")
	t.Setenv("TELEMETRY_ENABLED", "true")
	t.Setenv("TELEMETRY_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("WEB_BIND_ADDRESS", "127.0.0.1:8000")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "/etc/qbit_mover/config.yaml", cfg.ConfigFile)
	assert.Equal(t, 8, cfg.MaxParallel)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, "127.0.0.1:8000", cfg.Web.BindAddress)
}

func TestLoadConfig_InvalidParallelism(t *testing.T) {
	t.Setenv("MAX_PARALLEL", "0")

	_, err := config.LoadConfig()
	assert.Error(t, err)
}
