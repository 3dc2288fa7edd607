package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/BaSui01/constraintflow/internal/tlsutil"
)

// =============================================================================
// 🌐 监听器生命周期
// =============================================================================

// Config 单个监听端口的配置
type Config struct {
	// 日志中区分 api / metrics 等监听
	Name string `yaml:"name" json:"name"`
	Addr string `yaml:"addr" json:"addr"`

	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`
	// 生成接口需覆盖一次最长的生成
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	MaxHeaderBytes int `yaml:"max_header_bytes" json:"max_header_bytes"`

	// 同时处理的连接上限，超出的连接在 accept 处排队；0 不限制
	MaxConnections int `yaml:"max_connections" json:"max_connections"`

	// 两者都设置时以 HTTPS 提供服务
	TLSCertFile string `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file" json:"tls_key_file"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig 返回 API 监听的默认配置
func DefaultConfig() Config {
	return Config{
		Name:            "api",
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 15 * time.Second,
	}
}

func (c Config) tlsEnabled() bool {
	return c.TLSCertFile != "" || c.TLSKeyFile != ""
}

// Manager 管理一个 http.Server：非阻塞启动、连接上限、优雅关闭
type Manager struct {
	server *http.Server
	config Config
	logger *zap.Logger
	errCh  chan error

	mu       sync.RWMutex
	listener net.Listener
	closed   bool
}

// NewManager 创建管理器；不监听端口，直到 Start
func NewManager(handler http.Handler, config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Name == "" {
		config.Name = "http"
	}
	return &Manager{
		server: &http.Server{
			Addr:           config.Addr,
			Handler:        handler,
			ReadTimeout:    config.ReadTimeout,
			WriteTimeout:   config.WriteTimeout,
			IdleTimeout:    config.IdleTimeout,
			MaxHeaderBytes: config.MaxHeaderBytes,
		},
		config: config,
		logger: logger.With(zap.String("component", "http_server"), zap.String("listener", config.Name)),
		errCh:  make(chan error, 1),
	}
}

// Start 加载证书、绑定端口并在后台开始服务。
// 证书或端口错误同步返回；之后的服务错误通过 Errors() 送达。
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return fmt.Errorf("%s server is closed", m.config.Name)
	case m.listener != nil:
		return fmt.Errorf("%s server already started", m.config.Name)
	}

	if m.config.tlsEnabled() {
		tlsCfg, err := tlsutil.ServerConfig(m.config.TLSCertFile, m.config.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("%s server: %w", m.config.Name, err)
		}
		m.server.TLSConfig = tlsCfg
	}

	ln, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.Addr, err)
	}
	if m.config.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, m.config.MaxConnections)
	}
	m.listener = ln

	m.logger.Info("listening",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", m.config.tlsEnabled()),
		zap.Int("max_connections", m.config.MaxConnections),
	)
	go m.serve(ln)
	return nil
}

func (m *Manager) serve(ln net.Listener) {
	var err error
	if m.server.TLSConfig != nil {
		// 证书已在 TLSConfig.Certificates 中
		err = m.server.ServeTLS(ln, "", "")
	} else {
		err = m.server.Serve(ln)
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return
	}
	m.logger.Error("serve failed", zap.Error(err))
	select {
	case m.errCh <- err:
	default:
	}
}

// Shutdown 停止接受新连接并等待进行中的请求（最长 ShutdownTimeout）。可重复调用。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	timeout := m.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	m.logger.Info("shutting down", zap.Duration("timeout", timeout))
	if err := m.server.Shutdown(shutdownCtx); err != nil {
		m.logger.Error("shutdown incomplete", zap.Error(err))
		return err
	}
	m.listener = nil
	m.logger.Info("stopped")
	return nil
}

// WaitForShutdown 阻塞到 SIGINT/SIGTERM、ctx 结束或服务异常退出，然后关闭
func (m *Manager) WaitForShutdown(ctx context.Context) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		m.logger.Info("received signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		m.logger.Info("context done")
	case err := <-m.errCh:
		m.logger.Error("server exited unexpectedly", zap.Error(err))
	}

	if err := m.Shutdown(context.Background()); err != nil {
		m.logger.Error("shutdown error", zap.Error(err))
	}
}

// Errors 后台服务错误（最多缓冲一个）
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// ListenAddr 实际绑定的地址（Addr 为 :0 时有用）；未启动或已关闭时为空
func (m *Manager) ListenAddr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// Closed 是否已关闭
func (m *Manager) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
