// =============================================================================
// 📦 chatrelay 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Backend:   DefaultBackendConfig(),
		Models:    DefaultModelsConfig(),
		Session:   DefaultSessionConfig(),
		Redis:     DefaultRedisConfig(),
		Usage:     DefaultUsageConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Mode:              ModeBoth,
		WSPort:            8765,
		HTTPPort:          9765,
		MetricsPort:       9091,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		PingInterval:      20 * time.Second,
		PingTimeout:       20 * time.Second,
		MaxMessageBytes:   1 << 20,
		MaxPendingPrompts: 16,
	}
}

// DefaultBackendConfig 返回默认后端配置
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		URL:                   "http://ollama:11434/api/chat",
		ConnectTimeout:        10 * time.Second,
		ResponseHeaderTimeout: 5 * time.Minute,
		MaxBlankLines:         1000,
	}
}

// DefaultModelsConfig 返回默认模型配置
func DefaultModelsConfig() ModelsConfig {
	return ModelsConfig{
		ContextLimits: map[string]int{
			"mistral":                              32768,
			"gpt-oss:20b":                          131072,
			"gpt-oss:120b":                         131072,
			"deepseeker-r1":                        131072,
			"saki007ster/CybersecurityRiskAnalyst": 8192,
		},
		Encodings:       map[string]string{},
		DefaultEncoding: "cl100k_base",
		ResponseTokens:  1024,
	}
}

// DefaultSessionConfig 返回默认会话配置
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Backend: SessionBackendMemory,
		Shards:  32,
		TTL:     2 * time.Hour,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "chatrelay:",
	}
}

// DefaultUsageConfig 返回默认用量台账配置（默认关闭）
func DefaultUsageConfig() UsageConfig {
	return UsageConfig{
		Driver:          "",
		DSN:             "chatrelay_usage.db",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "chatrelay",
		SampleRate:   0.1,
	}
}
