package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/constraintflow/compiler"
	"github.com/BaSui01/constraintflow/constraint"
)

// DefaultLimit 默认容量
const DefaultLimit = 1000

// Entry 缓存条目
type Entry struct {
	Key        string
	Compiled   compiler.Acceptor
	CompiledAt time.Time

	seq  uint64
	prev *Entry
	next *Entry
}

// Stats 缓存统计
type Stats struct {
	Size      int    `json:"size"`
	Limit     int    `json:"limit"`
	Enabled   bool   `json:"enabled"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// Observer 接收命中/未命中/淘汰事件（通常是 Prometheus 收集器）
type Observer interface {
	RecordCacheHit()
	RecordCacheMiss()
	RecordCacheEviction()
	SetCacheSize(n int)
}

// CompileFunc 编译函数
type CompileFunc func(specs []constraint.Spec) (compiler.Acceptor, error)

// Config 缓存配置
type Config struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Limit   int  `yaml:"limit" json:"limit"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{Enabled: true, Limit: DefaultLimit}
}

// Option 配置 Cache
type Option func(*Cache)

// WithCompileFunc 替换编译函数（默认 compiler.Compile）
func WithCompileFunc(fn CompileFunc) Option {
	return func(c *Cache) {
		if fn != nil {
			c.compile = fn
		}
	}
}

// WithObserver 设置事件观察者
func WithObserver(o Observer) Option {
	return func(c *Cache) { c.observer = o }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// Cache 内容寻址、容量有界、FIFO 淘汰的编译缓存
type Cache struct {
	mu      sync.RWMutex
	cfg     Config
	items   map[string]*Entry
	head    *Entry // 最早插入
	tail    *Entry // 最新插入
	nextSeq uint64

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions uint64

	group    singleflight.Group
	compile  CompileFunc
	observer Observer
	logger   *zap.Logger
	now      func() time.Time
}

// New 创建缓存。Limit <= 0 时使用 DefaultLimit。
func New(cfg Config, opts ...Option) *Cache {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	c := &Cache{
		cfg:     cfg,
		items:   make(map[string]*Entry),
		compile: compiler.Compile,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "constraint_cache"))
	return c
}

// GetOrCompile 返回 specs 对应的已编译条目。hit 表示条目来自缓存。
// 编译错误原样返回（*types.Error: INVALID_SPEC / UNSATISFIABLE），不会写入缓存。
func (c *Cache) GetOrCompile(ctx context.Context, specs []constraint.Spec) (*Entry, bool, error) {
	key, err := constraint.Hash(specs)
	if err != nil {
		return nil, false, err
	}

	if !c.cfg.Enabled {
		c.recordMiss()
		acc, err := c.compile(specs)
		if err != nil {
			return nil, false, err
		}
		return &Entry{Key: key, Compiled: acc, CompiledAt: c.now()}, false, nil
	}

	if e, ok := c.lookup(key); ok {
		c.recordHit()
		return e, true, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// 排队期间可能已有其他调用完成插入
		if e, ok := c.lookup(key); ok {
			return e, nil
		}
		acc, err := c.compile(specs)
		if err != nil {
			return nil, err
		}
		return c.insert(key, acc), nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		c.recordMiss()
		return res.Val.(*Entry), false, nil
	}
}

// Get 只查找，不编译
func (c *Cache) Get(key string) (*Entry, bool) {
	if !c.cfg.Enabled {
		return nil, false
	}
	return c.lookup(key)
}

func (c *Cache) lookup(key string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	return e, ok
}

func (c *Cache) insert(key string, acc compiler.Acceptor) *Entry {
	c.mu.Lock()
	if e, ok := c.items[key]; ok {
		c.mu.Unlock()
		return e
	}

	var evicted []string
	for len(c.items) >= c.cfg.Limit && c.head != nil {
		evicted = append(evicted, c.evictHead())
	}

	c.nextSeq++
	e := &Entry{
		Key:        key,
		Compiled:   acc,
		CompiledAt: c.now(),
		seq:        c.nextSeq,
	}
	c.items[key] = e
	c.appendTail(e)
	size := len(c.items)
	c.evictions += uint64(len(evicted))
	c.mu.Unlock()

	for _, k := range evicted {
		c.logger.Debug("淘汰最早插入的约束", zap.String("key", k))
		if c.observer != nil {
			c.observer.RecordCacheEviction()
		}
	}
	if c.observer != nil {
		c.observer.SetCacheSize(size)
	}
	return e
}

// appendTail 追加到链表尾部 O(1)
func (c *Cache) appendTail(e *Entry) {
	e.prev = c.tail
	e.next = nil
	if c.tail != nil {
		c.tail.next = e
	}
	c.tail = e
	if c.head == nil {
		c.head = e
	}
}

// evictHead 淘汰链表头部（最早插入）O(1)。调用方持有写锁。
func (c *Cache) evictHead() string {
	e := c.head
	c.head = e.next
	if c.head != nil {
		c.head.prev = nil
	} else {
		c.tail = nil
	}
	e.next = nil
	delete(c.items, e.Key)
	return e.Key
}

// Clear 清空缓存，返回清除的条目数
func (c *Cache) Clear() int {
	c.mu.Lock()
	n := len(c.items)
	c.items = make(map[string]*Entry)
	c.head = nil
	c.tail = nil
	c.mu.Unlock()

	c.logger.Info("约束缓存已清空", zap.Int("entries", n))
	if c.observer != nil {
		c.observer.SetCacheSize(0)
	}
	return n
}

// Stats 返回当前统计
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Size:      len(c.items),
		Limit:     c.cfg.Limit,
		Enabled:   c.cfg.Enabled,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions,
	}
}

// Keys 按插入顺序返回所有键
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.items))
	for e := c.head; e != nil; e = e.next {
		keys = append(keys, e.Key)
	}
	return keys
}

func (c *Cache) recordHit() {
	c.hits.Add(1)
	if c.observer != nil {
		c.observer.RecordCacheHit()
	}
}

func (c *Cache) recordMiss() {
	c.misses.Add(1)
	if c.observer != nil {
		c.observer.RecordCacheMiss()
	}
}
