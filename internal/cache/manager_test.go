package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/constraintflow/config"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T, interval time.Duration) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	manager, err := NewManager(config.RedisConfig{Addr: mr.Addr(), PoolSize: 4}, interval, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return mr, manager
}

func TestNewManager(t *testing.T) {
	_, manager := setupTestRedis(t, 0)

	assert.NotNil(t, manager.Client())
	assert.True(t, manager.Healthy())
	assert.NoError(t, manager.Ping(context.Background()))
}

func TestNewManager_Unreachable(t *testing.T) {
	manager, err := NewManager(config.RedisConfig{Addr: "127.0.0.1:1"}, 0, zap.NewNop())
	assert.Nil(t, manager)
	assert.ErrorContains(t, err, "failed to connect to redis")
}

func TestManager_ClientIsShared(t *testing.T) {
	mr, manager := setupTestRedis(t, 0)
	ctx := context.Background()

	require.NoError(t, manager.Client().Set(ctx, "k", "v", time.Minute).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestManager_HealthCheckTracksOutage(t *testing.T) {
	mr, manager := setupTestRedis(t, 0)

	mr.SetError("LOADING")
	manager.checkOnce()
	assert.False(t, manager.Healthy())

	mr.SetError("")
	manager.checkOnce()
	assert.True(t, manager.Healthy())
}

func TestManager_HealthCheckLoop(t *testing.T) {
	mr, manager := setupTestRedis(t, 10*time.Millisecond)

	mr.SetError("LOADING")
	assert.Eventually(t, func() bool { return !manager.Healthy() }, time.Second, 5*time.Millisecond)
	mr.SetError("")
	assert.Eventually(t, manager.Healthy, time.Second, 5*time.Millisecond)
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	_, manager := setupTestRedis(t, 10*time.Millisecond)

	require.NoError(t, manager.Close())
	assert.NoError(t, manager.Close())
	assert.ErrorContains(t, manager.Ping(context.Background()), "closed")
}
