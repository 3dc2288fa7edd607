package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/constraintflow/api/handlers"
	"github.com/BaSui01/constraintflow/config"
	"github.com/BaSui01/constraintflow/idempotency"
	"github.com/BaSui01/constraintflow/internal/cache"
	"github.com/BaSui01/constraintflow/internal/database"
	"github.com/BaSui01/constraintflow/internal/metrics"
	"github.com/BaSui01/constraintflow/internal/server"
	"github.com/BaSui01/constraintflow/internal/telemetry"
	"github.com/BaSui01/constraintflow/provenance"
	"github.com/BaSui01/constraintflow/service"
)

// 免鉴权路径
var publicPaths = []string{"/health", "/healthz", "/ready", "/version"}

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装配置、依赖与 HTTP/Metrics 两个监听端口
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 测试注入
	serviceOpts []service.Option

	registry  *prometheus.Registry
	collector *metrics.Collector
	otel      *telemetry.Providers
	dbPool    *database.Pool
	redis     *cache.Manager
	svc       *service.Service
	health    *handlers.HealthHandler

	httpManager    *server.Manager
	metricsManager *server.Manager

	rateLimiterCancel context.CancelFunc
	shutdownOnce      sync.Once
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, opts ...service.Option) *Server {
	return &Server{
		cfg:         cfg,
		logger:      logger,
		serviceOpts: opts,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化依赖并启动两个监听端口（非阻塞）。失败时释放已创建的资源。
func (s *Server) Start(ctx context.Context) error {
	if err := s.init(ctx); err != nil {
		s.Shutdown()
		return err
	}

	s.httpManager = server.NewManager(s.Handler(), server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		MaxConnections:  s.cfg.Server.MaxConnections,
		TLSCertFile:     s.cfg.Server.TLSCertFile,
		TLSKeyFile:      s.cfg.Server.TLSKeyFile,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	if err := s.httpManager.Start(); err != nil {
		s.Shutdown()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	s.metricsManager = server.NewManager(metricsMux, server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.ReadTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		s.Shutdown()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.String("http_addr", s.httpManager.ListenAddr()),
		zap.String("metrics_addr", s.metricsManager.ListenAddr()),
		zap.String("model", s.cfg.Model.Name),
		zap.String("database", s.cfg.Database.Driver),
		zap.String("idempotency", s.idempotencyBackend()),
	)
	return nil
}

// init 创建指标、遥测、存储与服务
func (s *Server) init(ctx context.Context) error {
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollector("constraintflow", s.registry, s.logger)

	otelProviders, err := telemetry.Init(s.cfg.Telemetry, Version, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.otel = otelProviders

	opts := []service.Option{
		service.WithLogger(s.logger),
		service.WithMetrics(s.collector),
		service.WithVersion(Version),
	}

	var probes []handlers.Probe
	if s.cfg.Database.Driver != "" && s.cfg.Database.Driver != "memory" {
		store, err := s.openProvenanceStore()
		if err != nil {
			return err
		}
		opts = append(opts, service.WithProvenanceStore(store))
		probes = append(probes, handlers.Probe{Name: "database", Ping: s.dbPool.Ping})
	}

	if s.cfg.Idempotency.Enabled && s.cfg.Idempotency.Backend == "redis" {
		mgr, err := cache.NewManager(s.cfg.Redis, cache.DefaultHealthCheckInterval, s.logger)
		if err != nil {
			return fmt.Errorf("failed to connect redis for idempotency: %w", err)
		}
		s.redis = mgr
		opts = append(opts, service.WithIdempotency(idempotency.NewRedisStore(mgr.Client(), "", s.logger)))
		probes = append(probes, handlers.Probe{Name: "redis", Ping: mgr.Ping})
	}

	s.svc = service.New(s.cfg, append(opts, s.serviceOpts...)...)
	s.health = handlers.NewHealthHandler(s.svc, s.logger, probes...)

	if s.cfg.Model.Preload {
		warmCtx, cancel := context.WithTimeout(ctx, s.cfg.Generation.Timeout)
		defer cancel()
		if err := s.svc.Warmup(warmCtx); err != nil {
			// 不阻止启动：/health 报告 unhealthy，下一次请求重试加载
			s.logger.Error("model preload failed", zap.Error(err))
		}
	}
	return nil
}

// openProvenanceStore 连接数据库并创建 GORM 溯源存储
func (s *Server) openProvenanceStore() (provenance.Store, error) {
	driver := s.cfg.Database.Driver
	pool, err := database.Connect(s.cfg.Database, s.logger,
		database.WithStatsObserver(func(stats sql.DBStats) {
			s.collector.RecordDBConnections(driver, stats.OpenConnections, stats.Idle)
		}),
	)
	if err != nil {
		return nil, err
	}
	s.dbPool = pool

	store, err := provenance.NewGormStore(pool.DB(), s.logger)
	if err != nil {
		return nil, err
	}
	return store.WithQueryObserver(func(op string, d time.Duration) {
		s.collector.RecordDBQuery(driver, op, d)
	}), nil
}

func (s *Server) idempotencyBackend() string {
	if !s.cfg.Idempotency.Enabled {
		return "disabled"
	}
	return s.cfg.Idempotency.Backend
}

// =============================================================================
// 🌐 路由
// =============================================================================

// Handler 注册路由并包装中间件链
func (s *Server) Handler() http.Handler {
	gen := handlers.NewGenerateHandler(s.svc, s.logger)
	stream := handlers.NewStreamHandler(s.svc, nil, s.logger)
	comp := handlers.NewCompileHandler(s.svc, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health.HandleHealth)
	mux.HandleFunc("GET /healthz", s.health.HandleHealthz)
	mux.HandleFunc("GET /ready", s.health.HandleReady)
	mux.HandleFunc("GET /version", handlers.VersionHandler(handlers.VersionInfo{Version: Version, BuildTime: BuildTime, GitCommit: GitCommit}))

	mux.HandleFunc("POST /generate", gen.HandleGenerate)
	mux.HandleFunc("GET /generate/stream", stream.HandleStream)
	mux.HandleFunc("GET /provenance/{id}", gen.HandleProvenance)
	mux.HandleFunc("POST /compile", comp.HandleCompile)
	mux.HandleFunc("GET /cache/stats", comp.HandleCacheStats)
	mux.HandleFunc("POST /cache/clear", comp.HandleCacheClear)

	rateLimiterCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		Authenticate(AuthConfig{
			APIKeys:          s.cfg.Server.APIKeys,
			AllowQueryAPIKey: s.cfg.Server.AllowQueryAPIKey,
			JWTSecret:        s.cfg.Server.JWTSecret,
			JWTIssuer:        s.cfg.Server.JWTIssuer,
			SkipPaths:        publicPaths,
		}, s.logger),
	)
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待信号、ctx 结束或监听失败，然后优雅关闭
func (s *Server) WaitForShutdown(ctx context.Context) {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown(ctx)
	}
	s.Shutdown()
}

// Shutdown 依次关闭监听、服务与外部连接；可重复调用
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(s.shutdown)
}

func (s *Server) shutdown() {
	s.logger.Info("Starting graceful shutdown...")
	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}
	if s.svc != nil {
		s.svc.Close()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Redis close error", zap.Error(err))
		}
	}
	if s.dbPool != nil {
		if err := s.dbPool.Close(); err != nil {
			s.logger.Error("Database close error", zap.Error(err))
		}
	}
	if s.otel != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.otel.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
