package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	// Each sub-config should be non-zero
	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, GatewayConfig{}, cfg.Gateway)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
}

// --- Individual Default*Config functions ---

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.IsProduction())
}

func TestDefaultGatewayConfig(t *testing.T) {
	cfg := DefaultGatewayConfig()
	assert.Equal(t, 10, cfg.LogBatchSize)
	assert.Equal(t, time.Second, cfg.WorkerTickInterval)
	assert.Equal(t, 120, cfg.AutoTopUpEveryNTicks)
	assert.Equal(t, 10*time.Minute, cfg.AutoTopUpLockLease)
	assert.Equal(t, "full", cfg.DefaultRetentionLevel)
	assert.Equal(t, time.Hour, cfg.DefaultCacheTTL)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, 0, cfg.DB)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, 2, cfg.MinIdleConns)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.Equal(t, "postgres", cfg.Driver)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "llmgateway", cfg.User)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, "llmgateway", cfg.Name)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
	assert.False(t, cfg.EnableStacktrace)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "llmgateway", cfg.ServiceName)
	assert.InDelta(t, 0.1, cfg.SampleRate, 0.001)
}
