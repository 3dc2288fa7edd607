package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/constraintflow/api"
)

// DefaultTTL 响应默认保留时长
const DefaultTTL = time.Hour

// Store 按幂等键保存已完成的生成响应。
//
// Claim 标记某个键的生成正在进行，相同键的并发请求据此等待首个结果，
// 而不是各自再跑一遍模型。占用在 Release 或 ttl 到期时解除。
type Store interface {
	Lookup(ctx context.Context, key string) (*api.GenerationResponse, bool, error)
	Save(ctx context.Context, key string, resp *api.GenerationResponse, ttl time.Duration) error
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Key 由客户端的 Idempotency-Key 与请求体生成存储键。
// 同一个客户端键配不同请求体得到不同的存储键。
func Key(clientKey string, req any) (string, error) {
	if clientKey == "" {
		return "", errors.New("idempotency key is empty")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(clientKey))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

// =============================================================================
// 🗄️ Redis（多实例共享）
// =============================================================================

// RedisStore 响应存于 <prefix>resp:<key>，占用标记存于 <prefix>claim:<key>（SET NX）
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisStore 创建 Redis 存储；prefix 为空时使用 constraintflow:idempotency:
func NewRedisStore(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "constraintflow:idempotency:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger.With(zap.String("component", "idempotency"), zap.String("backend", "redis")),
	}
}

func (s *RedisStore) respKey(key string) string  { return s.prefix + "resp:" + key }
func (s *RedisStore) claimKey(key string) string { return s.prefix + "claim:" + key }

func (s *RedisStore) Lookup(ctx context.Context, key string) (*api.GenerationResponse, bool, error) {
	data, err := s.client.Get(ctx, s.respKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var resp api.GenerationResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		// 损坏的条目当作未命中，下一次 Save 覆盖
		s.logger.Warn("discarding undecodable stored response", zap.String("key", key), zap.Error(err))
		return nil, false, nil
	}
	return &resp, true, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, resp *api.GenerationResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if err := s.client.Set(ctx, s.respKey(key), data, ttlOrDefault(ttl)).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	s.logger.Debug("response stored", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}

func (s *RedisStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.claimKey(key), 1, ttlOrDefault(ttl)).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.claimKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// =============================================================================
// 🧠 进程内（ttlcache）
// =============================================================================

// MemoryStore 单实例存储。过期条目由 ttlcache 后台清理，用完需 Close。
type MemoryStore struct {
	responses *ttlcache.Cache[string, *api.GenerationResponse]

	mu     sync.Mutex
	claims *ttlcache.Cache[string, struct{}]
}

// NewMemoryStore capacity > 0 时限制保存的响应数
func NewMemoryStore(capacity uint64) *MemoryStore {
	opts := []ttlcache.Option[string, *api.GenerationResponse]{
		ttlcache.WithTTL[string, *api.GenerationResponse](DefaultTTL),
		ttlcache.WithDisableTouchOnHit[string, *api.GenerationResponse](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, *api.GenerationResponse](capacity))
	}
	s := &MemoryStore{
		responses: ttlcache.New[string, *api.GenerationResponse](opts...),
		claims:    ttlcache.New[string, struct{}](ttlcache.WithDisableTouchOnHit[string, struct{}]()),
	}
	go s.responses.Start()
	go s.claims.Start()
	return s
}

// Close 停止后台清理
func (s *MemoryStore) Close() {
	s.responses.Stop()
	s.claims.Stop()
}

// Len 当前保存的响应数
func (s *MemoryStore) Len() int {
	return s.responses.Len()
}

func (s *MemoryStore) Lookup(_ context.Context, key string) (*api.GenerationResponse, bool, error) {
	item := s.responses.Get(key)
	if item == nil {
		return nil, false, nil
	}
	// 返回副本，调用方修改不影响存储
	resp := *item.Value()
	return &resp, true, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, resp *api.GenerationResponse, ttl time.Duration) error {
	if resp == nil {
		return errors.New("nil response")
	}
	stored := *resp
	s.responses.Set(key, &stored, ttlOrDefault(ttl))
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claims.Has(key) {
		return false, nil
	}
	s.claims.Set(key, struct{}{}, ttlOrDefault(ttl))
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims.Delete(key)
	return nil
}
