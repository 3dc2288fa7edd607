package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/constraintflow/config"
)

// ErrClosed 连接池已关闭
var ErrClosed = errors.New("database pool is closed")

// memoryDSN sqlite 未指定文件时使用共享内存库
const memoryDSN = "file::memory:?cache=shared"

// Dialector 按驱动名返回 GORM 方言；sqlite 走 glebarez 纯 Go 实现
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		if dsn == "" {
			dsn = memoryDSN
		}
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

// Open 打开 GORM 连接；GORM 自带日志关闭
func Open(driver, dsn string) (*gorm.DB, error) {
	dialector, err := Dialector(driver, dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	return db, nil
}

// =============================================================================
// 🗄️ Pool
// =============================================================================

// Limits 连接池上限；零值字段使用 DefaultLimits 中的值
type Limits struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

// DefaultLimits 默认连接池上限
func DefaultLimits() Limits {
	return Limits{MaxOpen: 25, MaxIdle: 5, MaxLifetime: 5 * time.Minute}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxOpen <= 0 {
		l.MaxOpen = d.MaxOpen
	}
	if l.MaxIdle <= 0 {
		l.MaxIdle = d.MaxIdle
	}
	if l.MaxIdle > l.MaxOpen {
		l.MaxIdle = l.MaxOpen
	}
	if l.MaxLifetime <= 0 {
		l.MaxLifetime = d.MaxLifetime
	}
	return l
}

// PoolOption 配置 Pool
type PoolOption func(*Pool)

// WithProbeInterval 后台探活间隔，0 关闭探活
func WithProbeInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.interval = d }
}

// WithStatsObserver 每次探活成功后回调连接池统计
func WithStatsObserver(fn func(sql.DBStats)) PoolOption {
	return func(p *Pool) { p.observe = fn }
}

// Pool 溯源存储使用的 GORM 实例及其连接池
type Pool struct {
	db       *gorm.DB
	sqlDB    *sql.DB
	limits   Limits
	interval time.Duration
	observe  func(sql.DBStats)
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

// Connect 按配置打开数据库并创建 Pool
func Connect(cfg config.DatabaseConfig, logger *zap.Logger, opts ...PoolOption) (*Pool, error) {
	db, err := Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, err
	}
	limits := Limits{MaxOpen: cfg.MaxOpenConns, MaxIdle: cfg.MaxIdleConns, MaxLifetime: cfg.ConnMaxLifetime}
	p, err := NewPool(db, limits, logger, opts...)
	if err != nil {
		return nil, err
	}
	p.logger.Info("database connected", zap.String("driver", cfg.Driver))
	return p, nil
}

// NewPool 包装已打开的 GORM 连接
func NewPool(db *gorm.DB, limits Limits, logger *zap.Logger, opts ...PoolOption) (*Pool, error) {
	if db == nil {
		return nil, errors.New("nil gorm db")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("underlying sql.DB: %w", err)
	}

	p := &Pool{
		db:       db,
		sqlDB:    sqlDB,
		limits:   limits.withDefaults(),
		interval: 30 * time.Second,
		logger:   logger.With(zap.String("component", "database")),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	sqlDB.SetMaxOpenConns(p.limits.MaxOpen)
	sqlDB.SetMaxIdleConns(p.limits.MaxIdle)
	sqlDB.SetConnMaxLifetime(p.limits.MaxLifetime)

	if p.interval > 0 {
		p.wg.Add(1)
		go p.probeLoop()
	}
	return p, nil
}

// DB GORM 实例
func (p *Pool) DB() *gorm.DB { return p.db }

// Limits 生效的连接池上限
func (p *Pool) Limits() Limits { return p.limits }

// Stats 连接池统计
func (p *Pool) Stats() sql.DBStats { return p.sqlDB.Stats() }

// Ping 用于 /ready 探测
func (p *Pool) Ping(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	return p.sqlDB.PingContext(ctx)
}

// Close 停止探活并关闭连接，重复调用返回 nil
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stop)
	p.mu.Unlock()

	p.wg.Wait()
	return p.sqlDB.Close()
}

func (p *Pool) probeLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.probe()
		}
	}
}

func (p *Pool) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		if !errors.Is(err, ErrClosed) {
			p.logger.Warn("database probe failed", zap.Error(err))
		}
		return
	}
	if p.observe != nil {
		p.observe(p.Stats())
	}
}
