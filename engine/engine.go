package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/constraintflow/compiler"
	"github.com/BaSui01/constraintflow/constraint"
	"github.com/BaSui01/constraintflow/types"
)

// State 生成状态
type State int

const (
	StateSampling State = iota
	StateEmitting
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSampling:
		return "sampling"
	case StateEmitting:
		return "emitting"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FinishReason 结束原因
type FinishReason string

const (
	FinishEOS    FinishReason = "eos"
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
)

// Params 单次生成参数（已校验、已填默认值）
type Params struct {
	Prompt        string
	MaxTokens     int
	Temperature   float64
	TopP          float64
	TopK          int
	StopSequences []string
	Seed          *int64
}

// Token 一个已输出的 token
type Token struct {
	Index int    `json:"index"`
	ID    int    `json:"id"`
	Text  string `json:"text"`
}

// Observer 接收每个输出的 token（流式接口使用）
type Observer func(Token)

// Result 生成结果
type Result struct {
	Text                string
	Tokens              []int
	FinishReason        FinishReason
	ConstraintSatisfied bool
	Violations          []constraint.ParseError
	Duration            time.Duration
}

// TokensGenerated 返回输出的 token 数
func (r *Result) TokensGenerated() int { return len(r.Tokens) }

// Engine 约束执行引擎。Engine 本身无每次调用的状态，可并发使用。
type Engine struct {
	model  Model
	logger *zap.Logger
}

// Option 配置 Engine
type Option func(*Engine)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New 创建引擎
func New(model Model, opts ...Option) *Engine {
	e := &Engine{model: model, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "engine"), zap.String("model", model.Name()))
	return e
}

// Model 返回底层模型
func (e *Engine) Model() Model { return e.model }

// run 单次生成的可变状态
type run struct {
	state    State
	params   Params
	acc      compiler.Acceptor
	cursor   compiler.Cursor
	vocab    Vocabulary
	sampler  *sampler
	text     strings.Builder
	tokens   []int
	observer Observer
	next     pending
	finish   FinishReason
}

// Generate 在 acc 约束下生成。acc 为 nil 表示无约束。
// 失败时返回 *types.Error（NO_VALID_CONTINUATION / TIMEOUT / MODEL_UNAVAILABLE），
// 并通过 PartialText 携带已生成的文本。
func (e *Engine) Generate(ctx context.Context, p Params, acc compiler.Acceptor, observer Observer) (*Result, error) {
	start := time.Now()
	r := &run{
		state:    StateSampling,
		params:   p,
		acc:      acc,
		vocab:    e.model.Vocabulary(),
		sampler:  newSampler(p.Seed),
		observer: observer,
	}
	if acc != nil {
		r.cursor = acc.Begin()
	}

	for r.state != StateCompleted && r.state != StateFailed {
		switch r.state {
		case StateSampling:
			if err := e.sample(ctx, r); err != nil {
				r.state = StateFailed
				e.logger.Debug("生成失败",
					zap.Int("tokens", len(r.tokens)),
					zap.Error(err))
				return nil, err
			}
		case StateEmitting:
			e.emit(r)
		}
	}

	res := &Result{
		Text:         r.text.String(),
		Tokens:       r.tokens,
		FinishReason: r.finish,
		Duration:     time.Since(start),
	}
	res.ConstraintSatisfied = acc == nil || acc.Validate(res.Text)
	if !res.ConstraintSatisfied {
		if ex, ok := acc.(compiler.Explainer); ok {
			res.Violations = ex.Violations(res.Text)
		}
	}
	e.logger.Debug("生成完成",
		zap.String("finish_reason", string(r.finish)),
		zap.Int("tokens", len(r.tokens)),
		zap.Bool("constraint_satisfied", res.ConstraintSatisfied),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// pending 是 Sampling 选出、等待 Emitting 输出的 token
type pending struct {
	id    int
	piece string
}

// sample 执行一次 Sampling：取候选、掩码、采样。选中 EOS 时直接完成。
func (e *Engine) sample(ctx context.Context, r *run) error {
	if len(r.tokens) >= r.params.MaxTokens {
		r.finish = FinishLength
		r.state = StateCompleted
		return nil
	}
	if err := ctx.Err(); err != nil {
		return r.timeout(err)
	}

	cands, err := e.model.Candidates(ctx, r.params.Prompt, r.tokens)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return r.timeout(ctxErr)
		}
		return types.NewError(types.ErrModelUnavailable, "model failed to produce candidates").
			WithCause(err).
			WithPartialText(r.text.String())
	}

	allowed := r.mask(cands)
	if len(allowed) == 0 {
		return types.Errorf(types.ErrNoValidContinuation,
			"no candidate token is allowed after %d tokens", len(r.tokens)).
			WithPartialText(r.text.String())
	}

	choice := r.sampler.pick(allowed, r.params.Temperature, r.params.TopP, r.params.TopK)
	if choice.ID == r.vocab.EOS() {
		r.finish = FinishEOS
		r.state = StateCompleted
		return nil
	}
	r.next = pending{id: choice.ID, piece: r.vocab.Piece(choice.ID)}
	r.state = StateEmitting
	return nil
}

// mask 过滤候选：EOS 仅在当前输出可结束时放行，其余 token 片段必须是可行续写。
func (r *run) mask(cands []Candidate) []Candidate {
	eos := r.vocab.EOS()
	allowed := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if c.ID == eos {
			if r.acc == nil || r.cursor.Accepting() {
				allowed = append(allowed, c)
			}
			continue
		}
		piece := r.vocab.Piece(c.ID)
		if piece == "" {
			continue
		}
		if r.acc == nil || r.cursor.Allows(piece) {
			allowed = append(allowed, c)
		}
	}
	return allowed
}

// emit 执行一次 Emitting：追加文本、推进游标、检查停止序列。
func (e *Engine) emit(r *run) {
	tok := r.next
	before := r.text.Len()
	r.text.WriteString(tok.piece)
	r.tokens = append(r.tokens, tok.id)
	if r.acc != nil {
		r.cursor, _ = r.cursor.Feed(tok.piece)
	}
	if r.observer != nil {
		r.observer(Token{Index: len(r.tokens) - 1, ID: tok.id, Text: tok.piece})
	}

	if cut, ok := findStop(r.text.String(), before, r.params.StopSequences); ok {
		text := r.text.String()[:cut]
		r.text.Reset()
		r.text.WriteString(text)
		r.finish = FinishStop
		r.state = StateCompleted
		return
	}
	r.state = StateSampling
}

// findStop 查找最早出现的停止序列。只检查可能包含新片段的尾部。
func findStop(text string, newFrom int, stops []string) (int, bool) {
	best := -1
	for _, s := range stops {
		if s == "" {
			continue
		}
		from := newFrom - len(s) + 1
		if from < 0 {
			from = 0
		}
		if i := strings.Index(text[from:], s); i >= 0 {
			if at := from + i; best < 0 || at < best {
				best = at
			}
		}
	}
	return best, best >= 0
}

func (r *run) timeout(err error) error {
	msg := "generation deadline exceeded"
	if errors.Is(err, context.Canceled) {
		msg = "generation cancelled"
	}
	return types.Errorf(types.ErrTimeout, "%s after %d tokens", msg, len(r.tokens)).
		WithCause(err).
		WithPartialText(r.text.String())
}
