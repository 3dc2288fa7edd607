package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/constraintflow/api"
	"github.com/BaSui01/constraintflow/compiler"
	"github.com/BaSui01/constraintflow/compiler/cache"
	"github.com/BaSui01/constraintflow/config"
	"github.com/BaSui01/constraintflow/constraint"
	"github.com/BaSui01/constraintflow/engine"
	"github.com/BaSui01/constraintflow/idempotency"
	"github.com/BaSui01/constraintflow/internal/metrics"
	"github.com/BaSui01/constraintflow/internal/pool"
	"github.com/BaSui01/constraintflow/internal/telemetry"
	"github.com/BaSui01/constraintflow/provenance"
	"github.com/BaSui01/constraintflow/types"
)

// =============================================================================
// 🧭 生成服务
// =============================================================================

// 默认内存溯源存储容量与保留时长
const (
	defaultProvenanceCapacity  = 10000
	defaultProvenanceRetention = 24 * time.Hour
)

// Service 生成服务边界：参数校验、编译缓存、懒加载模型、执行生成、记录溯源。
// Service 持有自己的编译缓存，可并发使用。
type Service struct {
	cfg config.Config

	cache  *cache.Cache
	pool   *pool.Pool
	loader ModelLoader

	engine     atomic.Pointer[engine.Engine]
	loadGroup  singleflight.Group
	loadFailed atomic.Bool

	store provenance.Store
	idem  idempotency.Store

	// 由 Service 创建、需在 Close 时释放的资源
	ownedStore *provenance.MemoryStore
	ownedIdem  *idempotency.MemoryStore

	metrics *metrics.Collector
	otel    *telemetry.Instruments
	logger  *zap.Logger
	now     func() time.Time
	version string
}

// Option 配置 Service
type Option func(*Service)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithModelLoader 替换模型加载器（默认按 config.ModelConfig 构建）
func WithModelLoader(loader ModelLoader) Option {
	return func(s *Service) {
		if loader != nil {
			s.loader = loader
		}
	}
}

// WithMetrics 设置 Prometheus 收集器
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Service) { s.metrics = m }
}

// WithProvenanceStore 设置溯源存储（默认进程内存储）
func WithProvenanceStore(store provenance.Store) Option {
	return func(s *Service) { s.store = store }
}

// WithIdempotency 设置幂等存储（默认按配置创建内存存储）
func WithIdempotency(m idempotency.Store) Option {
	return func(s *Service) { s.idem = m }
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithVersion 设置 /health 展示的版本号
func WithVersion(v string) Option {
	return func(s *Service) { s.version = v }
}

// New 创建服务。cfg 为 nil 时使用默认配置；配置在此之后视为不可变。
func New(cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Service{
		cfg:    *cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "generation_service"))
	if s.loader == nil {
		s.loader = DefaultModelLoader(s.cfg.Model)
	}
	if inst, err := telemetry.NewInstruments(); err != nil {
		s.logger.Warn("otel instruments unavailable", zap.Error(err))
	} else {
		s.otel = inst
	}

	comp := compiler.New(
		compiler.WithMaxDFAStates(s.cfg.Cache.MaxDFAStates),
		compiler.WithLogger(s.logger),
	)
	cacheOpts := []cache.Option{
		cache.WithCompileFunc(s.compileFunc(comp)),
		cache.WithLogger(s.logger),
		cache.WithClock(s.now),
	}
	if s.metrics != nil {
		cacheOpts = append(cacheOpts, cache.WithObserver(s.metrics))
	}
	s.cache = cache.New(cache.Config{Enabled: s.cfg.Cache.Enabled, Limit: s.cfg.Cache.Limit}, cacheOpts...)

	s.pool = pool.New(pool.Config{
		Size:        s.cfg.Generation.Workers,
		Queue:       s.cfg.Generation.QueueSize,
		IdleTimeout: s.cfg.Generation.WorkerIdleTimeout,
	}, s.logger)

	if s.store == nil {
		s.ownedStore = provenance.NewMemoryStore(defaultProvenanceCapacity, defaultProvenanceRetention)
		s.store = s.ownedStore
	}
	if s.idem == nil && s.cfg.Idempotency.Enabled {
		s.ownedIdem = idempotency.NewMemoryStore(s.cfg.Idempotency.Capacity)
		s.idem = s.ownedIdem
	}
	return s
}

// compileFunc 包装编译器以记录编译指标
func (s *Service) compileFunc(comp *compiler.Compiler) cache.CompileFunc {
	return func(specs []constraint.Spec) (compiler.Acceptor, error) {
		start := time.Now()
		acc, err := comp.Compile(specs)
		if s.metrics != nil {
			s.metrics.RecordCompile(specKind(specs), err, time.Since(start))
		}
		return acc, err
	}
}

func specKind(specs []constraint.Spec) string {
	if len(specs) == 1 {
		return string(specs[0].Kind())
	}
	return string(constraint.KindComposite)
}

// Close 停止接受新的生成并释放 Service 自己创建的存储
func (s *Service) Close() {
	s.pool.Close()
	if s.ownedIdem != nil {
		s.ownedIdem.Close()
	}
	if s.ownedStore != nil {
		s.ownedStore.Close()
	}
}

// =============================================================================
// 🧩 编译诊断
// =============================================================================

// Compile 编译（或命中缓存）一组约束。失败时同时返回 valid=false 的响应与 *types.Error。
func (s *Service) Compile(ctx context.Context, specs []constraint.Spec) (*api.CompileResponse, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "service.Compile")
	defer span.End()

	if len(specs) == 0 {
		err := types.NewError(types.ErrInvalidRequest, "constraints must not be empty")
		return invalidCompile(err), err
	}

	entry, hit, err := s.cache.GetOrCompile(ctx, specs)
	if err != nil {
		e := contextError(err)
		telemetry.FailSpan(span, e.ErrorType(), e)
		return invalidCompile(e), e
	}
	s.otel.RecordCacheLookup(ctx, hit)
	span.SetAttributes(telemetry.AttrConstraintHash.String(entry.Key), telemetry.AttrCacheHit.Bool(hit))

	compiledAt := entry.CompiledAt
	return &api.CompileResponse{
		Valid:         true,
		Hash:          entry.Key,
		CompiledAt:    &compiledAt,
		SchemaPreview: compiler.Preview(specs),
		CacheHit:      hit,
	}, nil
}

func invalidCompile(err *types.Error) *api.CompileResponse {
	return &api.CompileResponse{
		Valid:     false,
		Error:     err.Detail(),
		ErrorType: err.ErrorType(),
	}
}

// =============================================================================
// 💾 缓存与健康
// =============================================================================

// CacheStats 返回编译缓存统计
func (s *Service) CacheStats() api.CacheStats {
	st := s.cache.Stats()
	return api.CacheStats{
		Size:      st.Size,
		Limit:     st.Limit,
		Enabled:   st.Enabled,
		Hits:      st.Hits,
		Misses:    st.Misses,
		Evictions: st.Evictions,
	}
}

// ClearCache 清空编译缓存
func (s *Service) ClearCache() api.ClearCacheResponse {
	return api.ClearCacheResponse{Cleared: s.cache.Clear()}
}

// PoolStats 返回生成 worker 池统计
func (s *Service) PoolStats() pool.Stats {
	return s.pool.Stats()
}

// Health 报告服务状态。模型尚未加载（缩容到零）仍视为健康；
// 最近一次加载失败且尚无可用模型时为 unhealthy。
func (s *Service) Health(_ context.Context) api.HealthResponse {
	stats := s.CacheStats()
	resp := api.HealthResponse{
		Status:      "healthy",
		Model:       s.cfg.Model.Name,
		Backend:     s.cfg.Model.Backend,
		GPU:         s.cfg.Model.GPU,
		ModelLoaded: s.ModelLoaded(),
		Cache:       &stats,
		Timestamp:   s.now(),
		Version:     s.version,
	}
	if eng := s.engine.Load(); eng != nil {
		resp.Model = eng.Model().Name()
	} else if s.loadFailed.Load() {
		resp.Status = "unhealthy"
	}
	return resp
}

// Provenance 按 generation_id 查询溯源记录
func (s *Service) Provenance(ctx context.Context, generationID string) (*provenance.Record, error) {
	if generationID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "generation id is required")
	}
	rec, err := s.store.Get(ctx, generationID)
	if err != nil {
		return nil, types.ToError(err)
	}
	return rec, nil
}

// contextError 把 ctx 错误映射为 TIMEOUT，其余转换为 *types.Error
func contextError(err error) *types.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if _, ok := types.AsError(err); !ok {
			return types.NewError(types.ErrTimeout, "request deadline exceeded").WithCause(err)
		}
	}
	return types.ToError(err)
}
