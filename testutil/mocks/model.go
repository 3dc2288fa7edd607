// ScriptedModel 的推理后端测试模拟实现。
//
// 支持固定续写目标、候选子集、延迟与错误注入。
package mocks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/constraintflow/engine"
)

// --- ScriptedModel 结构 ---

// ScriptedModel 偏好续写 target：与剩余目标前缀匹配的片段 logit 最高，
// 目标写完后偏好 EOS。约束掩码掉目标片段时退回到其余允许的候选。
type ScriptedModel struct {
	mu sync.RWMutex

	name   string
	vocab  engine.Vocabulary
	target string
	err    error
	delay  time.Duration

	calls int
}

// NewScriptedModel 创建脚本模型。vocab 为 nil 时使用默认单字符词表。
func NewScriptedModel(target string) *ScriptedModel {
	return &ScriptedModel{
		name:   "scripted",
		vocab:  engine.NewCharVocabulary(),
		target: target,
	}
}

// --- Builder 方法 ---

// WithName 设置模型名称
func (m *ScriptedModel) WithName(name string) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
	return m
}

// WithVocabulary 替换词表
func (m *ScriptedModel) WithVocabulary(vocab engine.Vocabulary) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vocab = vocab
	return m
}

// WithError 每次 Candidates 都返回 err
func (m *ScriptedModel) WithError(err error) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithDelay 每步前等待 d（遵守 ctx）
func (m *ScriptedModel) WithDelay(d time.Duration) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// --- engine.Model 实现 ---

func (m *ScriptedModel) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

func (m *ScriptedModel) Vocabulary() engine.Vocabulary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vocab
}

func (m *ScriptedModel) Candidates(ctx context.Context, _ string, generated []int) ([]engine.Candidate, error) {
	m.mu.Lock()
	m.calls++
	vocab, target, err, delay := m.vocab, m.target, m.err, m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	for _, id := range generated {
		b.WriteString(vocab.Piece(id))
	}
	done := b.String()
	rest := ""
	if strings.HasPrefix(target, done) {
		rest = target[len(done):]
	}

	out := make([]engine.Candidate, 0, vocab.Size())
	for id := 0; id < vocab.Size(); id++ {
		c := engine.Candidate{ID: id}
		piece := vocab.Piece(id)
		switch {
		case id == vocab.EOS():
			c.Logit = -10
			if done == target {
				c.Logit = 5
			}
		case rest != "" && piece != "" && strings.HasPrefix(rest, piece):
			c.Logit = 10 + float64(len(piece))
		}
		out = append(out, c)
	}
	return out, nil
}

// Calls 返回 Candidates 调用次数
func (m *ScriptedModel) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// --- 加载器 ---

// Loader 记录加载次数的模型加载器，前 FailFirst 次加载返回 Err
type Loader struct {
	mu        sync.Mutex
	Model     engine.Model
	Err       error
	FailFirst int
	Delay     time.Duration
	loads     int
}

// Load 可直接作为 service.ModelLoader 使用
func (l *Loader) Load(ctx context.Context) (engine.Model, error) {
	l.mu.Lock()
	l.loads++
	n := l.loads
	l.mu.Unlock()

	if l.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.Delay):
		}
	}
	if n <= l.FailFirst {
		return nil, l.Err
	}
	return l.Model, nil
}

// Loads 返回 Load 调用次数
func (l *Loader) Loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}
