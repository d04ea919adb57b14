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
	assert.NotEqual(t, BackendConfig{}, cfg.Backend)
	assert.NotEqual(t, ModelsConfig{}, cfg.Models)
	assert.NotEqual(t, SessionConfig{}, cfg.Session)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, UsageConfig{}, cfg.Usage)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
}

// --- Individual Default*Config functions ---

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, ModeBoth, cfg.Mode)
	assert.Equal(t, 8765, cfg.WSPort)
	assert.Equal(t, 9765, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 20*time.Second, cfg.PingInterval)
	assert.Equal(t, 20*time.Second, cfg.PingTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Positive(t, cfg.MaxPendingPrompts)
}

func TestDefaultBackendConfig(t *testing.T) {
	cfg := DefaultBackendConfig()
	assert.Equal(t, "http://ollama:11434/api/chat", cfg.URL)
	assert.Positive(t, cfg.MaxBlankLines)
}

func TestDefaultModelsConfig(t *testing.T) {
	cfg := DefaultModelsConfig()
	assert.Equal(t, 1024, cfg.ResponseTokens)
	assert.Equal(t, "cl100k_base", cfg.DefaultEncoding)
	assert.Contains(t, cfg.ContextLimits, "mistral")
	assert.Contains(t, cfg.ContextLimits, "gpt-oss:20b")
	assert.Contains(t, cfg.ContextLimits, "saki007ster/CybersecurityRiskAnalyst")

	// 每次返回独立的 map
	cfg.ContextLimits["mistral"] = 1
	assert.NotEqual(t, 1, DefaultModelsConfig().ContextLimits["mistral"])
}

func TestDefaultSessionConfig(t *testing.T) {
	cfg := DefaultSessionConfig()
	assert.Equal(t, SessionBackendMemory, cfg.Backend)
	assert.Equal(t, 32, cfg.Shards)
	assert.Equal(t, 2*time.Hour, cfg.TTL)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Equal(t, 0, cfg.DB)
	assert.Equal(t, "chatrelay:", cfg.KeyPrefix)
}

func TestDefaultUsageConfig(t *testing.T) {
	cfg := DefaultUsageConfig()
	assert.Empty(t, cfg.Driver)
	assert.Equal(t, time.Hour, cfg.ConnMaxLifetime)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "chatrelay", cfg.ServiceName)
	assert.Equal(t, 0.1, cfg.SampleRate)
}
