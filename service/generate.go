package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/constraintflow/api"
	"github.com/BaSui01/constraintflow/compiler"
	"github.com/BaSui01/constraintflow/engine"
	"github.com/BaSui01/constraintflow/idempotency"
	"github.com/BaSui01/constraintflow/internal/ctxkeys"
	"github.com/BaSui01/constraintflow/internal/pool"
	"github.com/BaSui01/constraintflow/internal/telemetry"
	"github.com/BaSui01/constraintflow/provenance"
	"github.com/BaSui01/constraintflow/types"
)

// =============================================================================
// ✍️ 生成
// =============================================================================

// Generate 执行一次约束生成。失败返回 *types.Error（可能携带 PartialText）。
// constraint_satisfied=false 不是错误。
func (s *Service) Generate(ctx context.Context, req *api.GenerationRequest) (*api.GenerationResponse, error) {
	return s.generate(ctx, req, nil)
}

// GenerateStream 与 Generate 相同，但每个输出的 token 都会交给 observer。
// observer 在 worker goroutine 上同步调用。
func (s *Service) GenerateStream(ctx context.Context, req *api.GenerationRequest, observer engine.Observer) (*api.GenerationResponse, error) {
	return s.generate(ctx, req, observer)
}

// claimPoll 等待同键请求完成时的轮询间隔
const claimPoll = 20 * time.Millisecond

// GenerateIdempotent 按 Idempotency-Key 重放已完成的响应。键与请求体一起决定存储键，
// 同一个键配不同请求体时重新生成。replayed 表示响应来自存储。
// 同键的并发请求只有一个执行生成，其余等待其结果；只保存成功的响应。
// 存储读写失败只记日志，不影响生成。
func (s *Service) GenerateIdempotent(ctx context.Context, key string, req *api.GenerationRequest) (resp *api.GenerationResponse, replayed bool, err error) {
	if key == "" || s.idem == nil {
		resp, err = s.Generate(ctx, req)
		return resp, false, err
	}

	storeKey, err := idempotency.Key(key, req)
	if err != nil {
		return nil, false, types.NewError(types.ErrInvalidRequest, "request cannot be keyed for idempotency").WithCause(err)
	}
	log := s.logger.With(zap.String("idempotency_key", key))

	// 占用有效期覆盖一次生成的最长耗时
	claimTTL := s.cfg.Generation.Timeout + time.Minute
	for {
		cached, found, err := s.idem.Lookup(ctx, storeKey)
		if err != nil {
			log.Warn("idempotency lookup failed", zap.Error(err))
			break
		}
		if found && cached != nil {
			log.Debug("idempotent replay", zap.String("generation_id", cached.ID))
			return cached, true, nil
		}

		claimed, err := s.idem.Claim(ctx, storeKey, claimTTL)
		if err != nil {
			log.Warn("idempotency claim failed", zap.Error(err))
			break
		}
		if claimed {
			defer func() {
				// 请求取消后仍需释放占用
				if rerr := s.idem.Release(context.WithoutCancel(ctx), storeKey); rerr != nil {
					log.Warn("idempotency release failed", zap.Error(rerr))
				}
			}()
			break
		}

		select {
		case <-ctx.Done():
			return nil, false, types.NewError(types.ErrTimeout, "timed out waiting for in-flight request with the same idempotency key").WithCause(ctx.Err())
		case <-time.After(claimPoll):
		}
	}

	resp, err = s.Generate(ctx, req)
	if err != nil {
		return nil, false, err
	}
	if err := s.idem.Save(context.WithoutCancel(ctx), storeKey, resp, s.cfg.Idempotency.TTL); err != nil {
		log.Warn("idempotency store failed", zap.Error(err))
	}
	return resp, false, nil
}

// generation 单次调用的簿记
type generation struct {
	id        string
	requestID string
	prompt    string
	started   time.Time
	hash      string
	cacheHit  bool
}

func (s *Service) generate(ctx context.Context, req *api.GenerationRequest, observer engine.Observer) (*api.GenerationResponse, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "service.Generate")
	defer span.End()

	params, verr := s.params(req)
	if verr != nil {
		failSpan(span, verr)
		return nil, verr
	}

	if s.cfg.Generation.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Generation.Timeout)
		defer cancel()
	}

	g := &generation{
		id:      uuid.NewString(),
		prompt:  req.Prompt,
		started: s.now(),
	}
	g.requestID, _ = ctxkeys.RequestID(ctx)
	span.SetAttributes(
		telemetry.AttrGenerationID.String(g.id),
		telemetry.AttrConstraintCount.Int(len(req.Constraints)),
		telemetry.AttrMaxTokens.Int(params.MaxTokens),
	)

	// 只有 Do 返回 nil 时 worker 写入的 result 才可读
	var result *engine.Result
	acc, err := s.acceptor(ctx, req, g)
	if err == nil {
		err = s.pool.Do(ctx, func(ctx context.Context) error {
			eng, err := s.loadEngine(ctx)
			if err != nil {
				return err
			}
			res, err := eng.Generate(ctx, params, acc, observer)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	}
	completed := s.now()

	if err != nil {
		e := s.classify(err)
		failSpan(span, e)
		s.recordFailure(ctx, g, e, completed)
		return nil, e
	}

	resp := s.buildResponse(req, g, result, completed)
	span.SetAttributes(
		telemetry.AttrFinishReason.String(resp.FinishReason),
		telemetry.AttrTokens.Int(resp.TokensGenerated),
		telemetry.AttrConstraintSatisfied.Bool(resp.ConstraintSatisfied),
	)
	s.otel.RecordGeneration(ctx, resp.TokensGenerated, resp.FinishReason, resp.ConstraintSatisfied)
	s.recordSuccess(ctx, g, resp, completed)
	return resp, nil
}

// acceptor 编译（或命中缓存）请求的约束。无约束时返回 nil，引擎跳过掩码。
func (s *Service) acceptor(ctx context.Context, req *api.GenerationRequest, g *generation) (compiler.Acceptor, error) {
	if len(req.Constraints) == 0 {
		return nil, nil
	}
	ctx, span := telemetry.Tracer().Start(ctx, "service.CompileConstraints")
	defer span.End()

	entry, hit, err := s.cache.GetOrCompile(ctx, req.Constraints)
	if err != nil {
		e := types.ToError(err)
		telemetry.FailSpan(span, e.ErrorType(), e)
		return nil, err
	}
	g.hash = entry.Key
	g.cacheHit = hit
	s.otel.RecordCacheLookup(ctx, hit)
	span.SetAttributes(
		telemetry.AttrConstraintHash.String(entry.Key),
		telemetry.AttrCacheHit.Bool(hit),
	)
	return entry.Compiled, nil
}

func (s *Service) classify(err error) *types.Error {
	if errors.Is(err, pool.ErrClosed) {
		return types.NewError(types.ErrModelUnavailable, "service is shutting down").WithCause(err)
	}
	return contextError(err)
}

func failSpan(span trace.Span, err *types.Error) {
	telemetry.FailSpan(span, err.ErrorType(), err)
}

// =============================================================================
// 🔎 参数校验
// =============================================================================

// params 校验请求并填入配置默认值
func (s *Service) params(req *api.GenerationRequest) (engine.Params, *types.Error) {
	if req == nil {
		return engine.Params{}, types.NewError(types.ErrInvalidRequest, "request is required")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return engine.Params{}, types.NewError(types.ErrInvalidRequest, "prompt is required")
	}

	gen := s.cfg.Generation
	p := engine.Params{
		Prompt:        req.Prompt,
		MaxTokens:     req.MaxTokens,
		Temperature:   gen.DefaultTemperature,
		TopP:          gen.DefaultTopP,
		TopK:          gen.DefaultTopK,
		StopSequences: req.StopSequences,
		Seed:          req.Seed,
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = gen.DefaultMaxTokens
	}
	if req.Temperature != nil {
		p.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		p.TopP = *req.TopP
	}
	if req.TopK != nil {
		p.TopK = *req.TopK
	}

	if p.MaxTokens <= 0 || (gen.MaxTokensLimit > 0 && p.MaxTokens > gen.MaxTokensLimit) {
		return p, types.Errorf(types.ErrInvalidRequest, "max_tokens must be between 1 and %d", gen.MaxTokensLimit)
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return p, types.NewError(types.ErrInvalidRequest, "temperature must be between 0 and 2")
	}
	if p.TopP <= 0 || p.TopP > 1 {
		return p, types.NewError(types.ErrInvalidRequest, "top_p must be in (0, 1]")
	}
	if p.TopK < 0 {
		return p, types.NewError(types.ErrInvalidRequest, "top_k must not be negative")
	}
	for _, stop := range p.StopSequences {
		if stop == "" {
			return p, types.NewError(types.ErrInvalidRequest, "stop_sequences must not contain empty strings")
		}
	}
	return p, nil
}

// =============================================================================
// 📜 响应与溯源
// =============================================================================

func (s *Service) buildResponse(req *api.GenerationRequest, g *generation, res *engine.Result, completed time.Time) *api.GenerationResponse {
	elapsed := completed.Sub(g.started)
	tokens := res.TokensGenerated()

	var metadata map[string]any
	if len(req.Metadata) > 0 || len(res.Violations) > 0 {
		metadata = make(map[string]any, len(req.Metadata)+1)
		for k, v := range req.Metadata {
			metadata[k] = v
		}
		if !res.ConstraintSatisfied && len(res.Violations) > 0 {
			metadata["violations"] = res.Violations
		}
	}

	return &api.GenerationResponse{
		ID:                  g.id,
		Status:              api.StatusCompleted,
		Text:                res.Text,
		TokensGenerated:     tokens,
		GenerationTimeMs:    elapsed.Milliseconds(),
		ConstraintSatisfied: res.ConstraintSatisfied,
		FinishReason:        string(res.FinishReason),
		Provenance: &api.Provenance{
			GenerationID:    g.id,
			Model:           s.modelName(),
			Backend:         s.cfg.Model.Backend,
			StartedAt:       g.started,
			CompletedAt:     completed,
			TokensPerSecond: tokensPerSecond(tokens, elapsed),
			ConstraintHash:  g.hash,
			CacheHit:        g.cacheHit,
		},
		Metadata: metadata,
	}
}

func tokensPerSecond(tokens int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(tokens) / elapsed.Seconds()
}

func (s *Service) modelName() string {
	if eng := s.engine.Load(); eng != nil {
		return eng.Model().Name()
	}
	return s.cfg.Model.Name
}

func (s *Service) recordSuccess(ctx context.Context, g *generation, resp *api.GenerationResponse, completed time.Time) {
	elapsed := completed.Sub(g.started)
	if s.metrics != nil {
		s.metrics.RecordGeneration(api.StatusCompleted, resp.FinishReason, resp.ConstraintSatisfied, resp.TokensGenerated, elapsed)
	}
	s.logger.Info("generation completed",
		zap.String("generation_id", g.id),
		zap.String("request_id", g.requestID),
		zap.String("finish_reason", resp.FinishReason),
		zap.Int("tokens", resp.TokensGenerated),
		zap.Bool("constraint_satisfied", resp.ConstraintSatisfied),
		zap.Bool("cache_hit", g.cacheHit),
		zap.Duration("duration", elapsed))

	s.saveProvenance(ctx, &provenance.Record{
		GenerationID:        g.id,
		RequestID:           g.requestID,
		Status:              api.StatusCompleted,
		Model:               resp.Provenance.Model,
		Backend:             resp.Provenance.Backend,
		ConstraintHash:      g.hash,
		CacheHit:            g.cacheHit,
		PromptSHA256:        provenance.PromptDigest(g.prompt),
		TokensGenerated:     resp.TokensGenerated,
		TokensPerSecond:     resp.Provenance.TokensPerSecond,
		FinishReason:        resp.FinishReason,
		ConstraintSatisfied: resp.ConstraintSatisfied,
		StartedAt:           g.started,
		CompletedAt:         completed,
	})
}

func (s *Service) recordFailure(ctx context.Context, g *generation, e *types.Error, completed time.Time) {
	elapsed := completed.Sub(g.started)
	if s.metrics != nil {
		s.metrics.RecordGeneration(api.StatusFailed, "", false, 0, elapsed)
	}
	s.logger.Warn("generation failed",
		zap.String("generation_id", g.id),
		zap.String("request_id", g.requestID),
		zap.String("error_type", e.ErrorType()),
		zap.Int("partial_text_len", len(e.PartialText)),
		zap.Error(e))

	s.saveProvenance(ctx, &provenance.Record{
		GenerationID:   g.id,
		RequestID:      g.requestID,
		Status:         api.StatusFailed,
		Model:          s.modelName(),
		Backend:        s.cfg.Model.Backend,
		ConstraintHash: g.hash,
		CacheHit:       g.cacheHit,
		PromptSHA256:   provenance.PromptDigest(g.prompt),
		ErrorType:      e.ErrorType(),
		ErrorMessage:   truncate(e.Detail(), 1000),
		StartedAt:      g.started,
		CompletedAt:    completed,
	})
}

// saveProvenance 尽力写入；调用方 ctx 可能已超时，因此使用独立的短超时
func (s *Service) saveProvenance(ctx context.Context, rec *provenance.Record) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.Save(saveCtx, rec); err != nil {
		s.logger.Warn("failed to save provenance",
			zap.String("generation_id", rec.GenerationID),
			zap.Error(err))
	}
}

// truncate 截到至多 n 字节，不拆开多字节字符
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
