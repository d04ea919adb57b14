// Package cache manages the shared Redis connection.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/chatrelay/config"
)

// =============================================================================
// 💾 Redis 连接管理器
// =============================================================================

// DefaultHealthCheckInterval 后台 Ping 间隔
const DefaultHealthCheckInterval = 30 * time.Second

// Manager 持有 Redis 客户端，负责连接生命周期
type Manager struct {
	redis     *redis.Client
	keyPrefix string
	logger    *zap.Logger

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
}

// NewManager 创建连接管理器并测试连接
func NewManager(cfg config.RedisConfig, logger *zap.Logger) (*Manager, error) {
	return newManager(cfg, DefaultHealthCheckInterval, logger)
}

func newManager(cfg config.RedisConfig, healthInterval time.Duration, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := &Manager{
		redis:     client,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger.With(zap.String("component", "redis")),
		stop:      make(chan struct{}),
	}

	// 启动健康检查
	if healthInterval > 0 {
		go m.healthCheckLoop(healthInterval)
	}

	m.logger.Info("redis manager initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("pool_size", cfg.PoolSize),
	)

	return m, nil
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Client 返回底层客户端
func (m *Manager) Client() *redis.Client {
	return m.redis
}

// Key 拼接带前缀的键
func (m *Manager) Key(parts ...string) string {
	key := m.keyPrefix
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += p
	}
	return key
}

// Ping 检查 Redis 连接
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("redis manager is closed")
	}

	return m.redis.Ping(ctx).Err()
}

// Close 关闭连接管理器
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	close(m.stop)
	m.logger.Info("closing redis manager")

	return m.redis.Close()
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

// healthCheckLoop 健康检查循环
func (m *Manager) healthCheckLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.Ping(ctx); err != nil {
			m.logger.Error("redis health check failed", zap.Error(err))
		} else {
			m.logger.Debug("redis health check passed")
		}
		cancel()
	}
}
