// Package pool 运行生成调用的有界 worker 池。worker 按需启动，空闲超过
// IdleTimeout 后退出，空闲实例不持有任何 goroutine。
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrClosed Close 之后提交
var ErrClosed = errors.New("worker pool is closed")

// Task 在 worker goroutine 上执行；ctx 为提交时的 ctx
type Task func(ctx context.Context) error

// Config 零值字段使用默认值
type Config struct {
	Size        int
	Queue       int
	IdleTimeout time.Duration
}

// Stats 运行时统计
type Stats struct {
	Workers    int   `json:"workers"`
	Busy       int   `json:"busy"`
	Queued     int   `json:"queued"`
	Submitted  int64 `json:"submitted"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Abandoned  int64 `json:"abandoned"`
	ColdStarts int64 `json:"cold_starts"`
}

type job struct {
	ctx  context.Context
	run  Task
	done chan error
}

// Pool 最多 Size 个 worker，最多 Queue 个待执行任务
type Pool struct {
	size int32
	idle time.Duration
	jobs chan job

	// 读锁保护向 jobs 发送，Close 持写锁关闭 jobs
	gate   sync.RWMutex
	closed atomic.Bool
	wg     sync.WaitGroup

	workers atomic.Int32
	busy    atomic.Int32
	n       struct{ submitted, completed, failed, abandoned, cold atomic.Int64 }

	logger *zap.Logger
}

// New Size 默认 4，Queue 至少 1，IdleTimeout 默认 1 分钟
func New(cfg Config, logger *zap.Logger) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 4
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 1
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		size:   int32(cfg.Size),
		idle:   cfg.IdleTimeout,
		jobs:   make(chan job, cfg.Queue),
		logger: logger.With(zap.String("component", "pool")),
	}
}

// Do 排队执行 task 并等待结果。ctx 结束时立即返回 ctx.Err()；
// 已开始的任务继续运行，须自行观察 ctx。尚未开始的任务出队时被丢弃。
func (p *Pool) Do(ctx context.Context, task Task) error {
	p.gate.RLock()
	if p.closed.Load() {
		p.gate.RUnlock()
		return ErrClosed
	}
	p.n.submitted.Add(1)
	j := job{ctx: ctx, run: task, done: make(chan error, 1)}

	p.grow()
	select {
	case p.jobs <- j:
	case <-ctx.Done():
		p.gate.RUnlock()
		p.n.abandoned.Add(1)
		return ctx.Err()
	}
	// 所有 worker 恰好在入队前空闲退出
	if p.workers.Load() == 0 {
		p.grow()
	}
	p.gate.RUnlock()

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// grow 未满 Size 时启动一个 worker
func (p *Pool) grow() {
	for {
		n := p.workers.Load()
		if n >= p.size {
			return
		}
		if p.workers.CompareAndSwap(n, n+1) {
			if n == 0 {
				p.n.cold.Add(1)
			}
			p.wg.Add(1)
			go p.work()
			return
		}
	}
}

func (p *Pool) work() {
	defer p.wg.Done()
	idle := time.NewTimer(p.idle)
	defer idle.Stop()

	for {
		select {
		case j, ok := <-p.jobs:
			if !ok {
				p.workers.Add(-1)
				return
			}
			p.busy.Add(1)
			err := p.exec(j)
			p.busy.Add(-1)
			j.done <- err
			if err != nil {
				p.n.failed.Add(1)
			} else {
				p.n.completed.Add(1)
			}
			idle.Reset(p.idle)

		case <-idle.C:
			p.workers.Add(-1)
			// 退出与入队竞争：队列非空时补一个 worker
			if len(p.jobs) > 0 && !p.closed.Load() {
				p.grow()
			}
			return
		}
	}
}

func (p *Pool) exec(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	if err := j.ctx.Err(); err != nil {
		return err
	}
	return j.run(j.ctx)
}

// Close 拒绝新任务并等待已排队任务执行完；可重复调用
func (p *Pool) Close() {
	p.gate.Lock()
	if p.closed.Swap(true) {
		p.gate.Unlock()
		return
	}
	close(p.jobs)
	p.gate.Unlock()
	p.wg.Wait()
}

func (p *Pool) Stats() Stats {
	return Stats{
		Workers:    int(p.workers.Load()),
		Busy:       int(p.busy.Load()),
		Queued:     len(p.jobs),
		Submitted:  p.n.submitted.Load(),
		Completed:  p.n.completed.Load(),
		Failed:     p.n.failed.Load(),
		Abandoned:  p.n.abandoned.Load(),
		ColdStarts: p.n.cold.Load(),
	}
}
