// Package cache provides the shared Redis connection.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/constraintflow/config"
)

// =============================================================================
// 💾 Redis 连接管理器
// =============================================================================

// Manager 持有进程内唯一的 Redis 客户端，并周期性做健康检查
type Manager struct {
	redis    *redis.Client
	interval time.Duration
	logger   *zap.Logger

	healthy atomic.Bool
	stop    chan struct{}
	once    sync.Once
}

// DefaultHealthCheckInterval 默认健康检查间隔
const DefaultHealthCheckInterval = 30 * time.Second

// NewManager 连接 Redis；连接失败直接返回错误。interval <= 0 时不启动健康检查。
func NewManager(cfg config.RedisConfig, interval time.Duration, logger *zap.Logger) (*Manager, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
	return newManager(client, interval, logger)
}

func newManager(client *redis.Client, interval time.Duration, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := &Manager{
		redis:    client,
		interval: interval,
		logger:   logger.With(zap.String("component", "redis")),
		stop:     make(chan struct{}),
	}
	m.healthy.Store(true)
	if interval > 0 {
		go m.healthCheckLoop()
	}
	m.logger.Info("redis connected", zap.String("addr", client.Options().Addr))
	return m, nil
}

// Client 返回底层客户端（供幂等存储等组件复用连接池）
func (m *Manager) Client() *redis.Client {
	return m.redis
}

// Ping 检查 Redis 连接
func (m *Manager) Ping(ctx context.Context) error {
	select {
	case <-m.stop:
		return fmt.Errorf("redis manager is closed")
	default:
	}
	return m.redis.Ping(ctx).Err()
}

// Healthy 最近一次健康检查的结果
func (m *Manager) Healthy() bool {
	return m.healthy.Load()
}

// Close 停止健康检查并关闭连接，可重复调用
func (m *Manager) Close() error {
	var err error
	m.once.Do(func() {
		close(m.stop)
		m.logger.Info("closing redis connection")
		err = m.redis.Close()
	})
	return err
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

func (m *Manager) healthCheckLoop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.checkOnce()
		}
	}
}

func (m *Manager) checkOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Ping(ctx); err != nil {
		if m.healthy.Swap(false) {
			m.logger.Error("redis health check failed", zap.Error(err))
		}
		return
	}
	if !m.healthy.Swap(true) {
		m.logger.Info("redis health check recovered")
	}
}
