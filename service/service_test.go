package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/constraintflow/api"
	"github.com/BaSui01/constraintflow/config"
	"github.com/BaSui01/constraintflow/constraint"
	"github.com/BaSui01/constraintflow/engine"
	"github.com/BaSui01/constraintflow/idempotency"
	"github.com/BaSui01/constraintflow/internal/ctxkeys"
	"github.com/BaSui01/constraintflow/internal/metrics"
	"github.com/BaSui01/constraintflow/provenance"
	"github.com/BaSui01/constraintflow/testutil"
	"github.com/BaSui01/constraintflow/testutil/fixtures"
	"github.com/BaSui01/constraintflow/testutil/mocks"
	"github.com/BaSui01/constraintflow/types"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Generation.Timeout = 5 * time.Second
	cfg.Model.Name = "scripted"
	return cfg
}

func newTestService(t *testing.T, cfg *config.Config, loader *mocks.Loader, opts ...Option) *Service {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	base := []Option{WithModelLoader(loader.Load), WithLogger(zaptest.NewLogger(t))}
	svc := New(cfg, append(base, opts...)...)
	t.Cleanup(svc.Close)
	return svc
}

func float(v float64) *float64 { return &v }

// ===== 生成 =====

func TestGenerate_ConstrainedAndCached(t *testing.T) {
	ctx := testutil.TestContext(t)
	loader := &mocks.Loader{Model: mocks.NewScriptedModel("123")}
	svc := newTestService(t, nil, loader)

	req := fixtures.GreedyRequest("three digits:", 16, fixtures.DigitsRegex())
	first, err := svc.Generate(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, api.StatusCompleted, first.Status)
	assert.Equal(t, "123", first.Text)
	assert.Equal(t, 3, first.TokensGenerated)
	assert.True(t, first.ConstraintSatisfied)
	assert.Equal(t, string(engine.FinishEOS), first.FinishReason)
	require.NotNil(t, first.Provenance)
	assert.Equal(t, first.ID, first.Provenance.GenerationID)
	assert.Equal(t, "scripted", first.Provenance.Model)
	assert.Equal(t, "uniform", first.Provenance.Backend)
	assert.NotEmpty(t, first.Provenance.ConstraintHash)
	assert.False(t, first.Provenance.CacheHit)
	assert.False(t, first.Provenance.CompletedAt.Before(first.Provenance.StartedAt))

	second, err := svc.Generate(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Provenance.ConstraintHash, second.Provenance.ConstraintHash)
	assert.True(t, second.Provenance.CacheHit)

	stats := svc.CacheStats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, loader.Loads(), "model is loaded once")
}

func TestGenerate_Unconstrained(t *testing.T) {
	ctx := testutil.TestContext(t)
	svc := newTestService(t, nil, &mocks.Loader{Model: mocks.NewScriptedModel("hi")})

	resp, err := svc.Generate(ctx, fixtures.GreedyRequest("say hi", 8))
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Text)
	assert.True(t, resp.ConstraintSatisfied)
	assert.Empty(t, resp.Provenance.ConstraintHash)
	assert.Equal(t, 0, svc.CacheStats().Size, "unconstrained calls bypass the cache")
}

func TestGenerate_DefaultsApplied(t *testing.T) {
	cfg := testConfig()
	cfg.Generation.DefaultMaxTokens = 2
	cfg.Generation.DefaultTemperature = 0
	svc := newTestService(t, cfg, &mocks.Loader{Model: mocks.NewScriptedModel("hello")})

	resp, err := svc.Generate(testutil.TestContext(t), &api.GenerationRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "he", resp.Text)
	assert.Equal(t, string(engine.FinishLength), resp.FinishReason)
}

func TestGenerate_InvalidRequests(t *testing.T) {
	loader := &mocks.Loader{Model: mocks.NewScriptedModel("x")}
	svc := newTestService(t, nil, loader)
	ctx := testutil.TestContext(t)

	neg := -1
	tests := []struct {
		name string
		req  *api.GenerationRequest
	}{
		{"nil request", nil},
		{"empty prompt", &api.GenerationRequest{Prompt: "  "}},
		{"negative max_tokens", &api.GenerationRequest{Prompt: "p", MaxTokens: -1}},
		{"max_tokens over limit", &api.GenerationRequest{Prompt: "p", MaxTokens: 100000}},
		{"temperature too high", &api.GenerationRequest{Prompt: "p", Temperature: float(2.5)}},
		{"negative temperature", &api.GenerationRequest{Prompt: "p", Temperature: float(-0.1)}},
		{"zero top_p", &api.GenerationRequest{Prompt: "p", TopP: float(0)}},
		{"top_p above one", &api.GenerationRequest{Prompt: "p", TopP: float(1.5)}},
		{"negative top_k", &api.GenerationRequest{Prompt: "p", TopK: &neg}},
		{"empty stop sequence", &api.GenerationRequest{Prompt: "p", StopSequences: []string{""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Generate(ctx, tt.req)
			testutil.AssertErrorCode(t, err, types.ErrInvalidRequest)
		})
	}
	assert.Equal(t, 0, loader.Loads(), "invalid requests never load the model")
}

func TestGenerate_TemperatureZeroAndBoundsAccepted(t *testing.T) {
	svc := newTestService(t, nil, &mocks.Loader{Model: mocks.NewScriptedModel("ok")})
	zero := 0
	req := &api.GenerationRequest{Prompt: "p", MaxTokens: 4, Temperature: float(0), TopP: float(1), TopK: &zero}
	resp, err := svc.Generate(testutil.TestContext(t), req)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
}

func TestGenerate_CompileErrorsNeverCache(t *testing.T) {
	svc := newTestService(t, nil, &mocks.Loader{Model: mocks.NewScriptedModel("x")})
	ctx := testutil.TestContext(t)

	_, err := svc.Generate(ctx, fixtures.GreedyRequest("p", 4, constraint.Regex("(")))
	testutil.AssertErrorCode(t, err, types.ErrInvalidSpec)

	_, err = svc.Generate(ctx, fixtures.GreedyRequest("p", 4, fixtures.ConflictingPrefixes()))
	testutil.AssertErrorCode(t, err, types.ErrUnsatisfiable)

	assert.Equal(t, 0, svc.CacheStats().Size)
}

func TestGenerate_NoValidContinuation(t *testing.T) {
	model := mocks.NewScriptedModel("ab").WithVocabulary(engine.NewCharVocabulary('a', 'b'))
	svc := newTestService(t, nil, &mocks.Loader{Model: model})

	_, err := svc.Generate(testutil.TestContext(t), fixtures.GreedyRequest("p", 4, constraint.Regex(`^[0-9]+$`)))
	testutil.AssertErrorCode(t, err, types.ErrNoValidContinuation)
}

func TestGenerate_Timeout(t *testing.T) {
	cfg := testConfig()
	cfg.Generation.Timeout = 60 * time.Millisecond
	model := mocks.NewScriptedModel("abcdefghijklmnopqrstuvwxyz").WithDelay(20 * time.Millisecond)
	svc := newTestService(t, cfg, &mocks.Loader{Model: model})

	start := time.Now()
	_, err := svc.Generate(testutil.TestContext(t), fixtures.GreedyRequest("p", 100))
	testutil.AssertErrorCode(t, err, types.ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second, "sampling stops at the next token boundary")
}

func TestGenerate_CallerCancellation(t *testing.T) {
	model := mocks.NewScriptedModel("abcdefghijklmnopqrstuvwxyz").WithDelay(20 * time.Millisecond)
	svc := newTestService(t, nil, &mocks.Loader{Model: model})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := svc.Generate(ctx, fixtures.GreedyRequest("p", 100, constraint.Regex(`^[a-z]+$`)))
	testutil.AssertErrorCode(t, err, types.ErrTimeout)

	// 取消的调用不会让缓存条目失效
	assert.Equal(t, 1, svc.CacheStats().Size)
}

func TestGenerate_ViolationsInMetadata(t *testing.T) {
	svc := newTestService(t, nil, &mocks.Loader{Model: mocks.NewScriptedModel("1+2")})

	req := fixtures.GreedyRequest("sum", 2, fixtures.Arithmetic())
	req.Metadata = map[string]any{"trace": "abc"}
	resp, err := svc.Generate(testutil.TestContext(t), req)
	require.NoError(t, err, "an unsatisfied constraint is not an error")

	assert.Equal(t, "1+", resp.Text)
	assert.False(t, resp.ConstraintSatisfied)
	assert.Equal(t, string(engine.FinishLength), resp.FinishReason)
	assert.Equal(t, "abc", resp.Metadata["trace"])
	assert.NotEmpty(t, resp.Metadata["violations"])
}

func TestGenerateStream_ObservesEveryToken(t *testing.T) {
	svc := newTestService(t, nil, &mocks.Loader{Model: mocks.NewScriptedModel("123")})
	var rec testutil.TokenRecorder

	resp, err := svc.GenerateStream(testutil.TestContext(t), fixtures.GreedyRequest("p", 8, fixtures.DigitsRegex()), rec.Observer())
	require.NoError(t, err)
	tokens := rec.Tokens()
	require.Len(t, tokens, 3)
	assert.Equal(t, resp.Text, rec.Text())
	for i, tok := range tokens {
		assert.Equal(t, i, tok.Index)
	}
}

// ===== 模型加载 =====

func TestModelLoad_FailureIsRetried(t *testing.T) {
	loader := &mocks.Loader{
		Model:     mocks.NewScriptedModel("ok"),
		Err:       errors.New("weights not found"),
		FailFirst: 1,
	}
	svc := newTestService(t, nil, loader)
	ctx := testutil.TestContext(t)

	assert.Equal(t, "healthy", svc.Health(ctx).Status, "not loaded yet is still healthy")

	_, err := svc.Generate(ctx, fixtures.GreedyRequest("p", 4))
	testutil.AssertErrorCode(t, err, types.ErrModelUnavailable)
	assert.True(t, types.IsRetryable(err))
	assert.False(t, svc.ModelLoaded())
	assert.Equal(t, "unhealthy", svc.Health(ctx).Status)

	resp, err := svc.Generate(ctx, fixtures.GreedyRequest("p", 4))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.True(t, svc.ModelLoaded())

	h := svc.Health(ctx)
	assert.Equal(t, "healthy", h.Status)
	assert.True(t, h.ModelLoaded)
	assert.Equal(t, 2, loader.Loads())
}

func TestModelLoad_ConcurrentFirstCallersLoadOnce(t *testing.T) {
	loader := &mocks.Loader{Model: mocks.NewScriptedModel("x"), Delay: 50 * time.Millisecond}
	svc := newTestService(t, nil, loader)
	ctx := testutil.TestContext(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Generate(ctx, fixtures.GreedyRequest("p", 2))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, loader.Loads())
}

func TestWarmup(t *testing.T) {
	loader := &mocks.Loader{Model: mocks.NewScriptedModel("x")}
	svc := newTestService(t, nil, loader)

	require.NoError(t, svc.Warmup(testutil.TestContext(t)))
	assert.True(t, svc.ModelLoaded())
	assert.Equal(t, "scripted", svc.Health(context.Background()).Model)
}

func TestDefaultModelLoader(t *testing.T) {
	ctx := testutil.TestContext(t)

	m, err := DefaultModelLoader(config.ModelConfig{Name: "u", Backend: "uniform", Vocabulary: "char"})(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u", m.Name())
	assert.Equal(t, 98, m.Vocabulary().Size(), "printable ASCII, \\n, \\t and EOS")

	_, err = DefaultModelLoader(config.ModelConfig{Backend: "vllm"})(ctx)
	assert.ErrorContains(t, err, "unsupported model backend")

	_, err = DefaultModelLoader(config.ModelConfig{Vocabulary: "sentencepiece"})(ctx)
	assert.ErrorContains(t, err, "unsupported vocabulary")

	_, err = DefaultModelLoader(config.ModelConfig{})(testutil.CancelledContext())
	assert.ErrorIs(t, err, context.Canceled)
}

// ===== 编译诊断 =====

func TestCompile(t *testing.T) {
	svc := newTestService(t, nil, &mocks.Loader{Model: mocks.NewScriptedModel("x")})
	ctx := testutil.TestContext(t)
	specs := []constraint.Spec{fixtures.PersonSchema()}

	first, err := svc.Compile(ctx, specs)
	require.NoError(t, err)
	assert.True(t, first.Valid)
	assert.Len(t, first.Hash, 64)
	require.NotNil(t, first.CompiledAt)
	assert.NotEmpty(t, first.SchemaPreview)
	assert.False(t, first.CacheHit)

	second, err := svc.Compile(ctx, specs)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, *first.CompiledAt, *second.CompiledAt, "cache hit keeps compiled_at")
}

func TestCompile_Invalid(t *testing.T) {
	svc := newTestService(t, nil, &mocks.Loader{Model: mocks.NewScriptedModel("x")})
	ctx := testutil.TestContext(t)

	resp, err := svc.Compile(ctx, nil)
	testutil.AssertErrorCode(t, err, types.ErrInvalidRequest)
	assert.False(t, resp.Valid)

	resp, err = svc.Compile(ctx, []constraint.Spec{constraint.Regex("(")})
	testutil.AssertErrorCode(t, err, types.ErrInvalidSpec)
	assert.False(t, resp.Valid)
	assert.Equal(t, "invalid_spec", resp.ErrorType)
	assert.NotEmpty(t, resp.Error)
	assert.Empty(t, resp.Hash)

	resp, err = svc.Compile(ctx, []constraint.Spec{fixtures.ConflictingPrefixes()})
	testutil.AssertErrorCode(t, err, types.ErrUnsatisfiable)
	assert.Equal(t, "unsatisfiable", resp.ErrorType)
}

func TestCache_FIFOEvictionAndClear(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Limit = 2
	svc := newTestService(t, cfg, &mocks.Loader{Model: mocks.NewScriptedModel("x")})
	ctx := testutil.TestContext(t)

	a := []constraint.Spec{constraint.Regex("a")}
	for _, specs := range [][]constraint.Spec{a, {constraint.Regex("b")}, {constraint.Regex("c")}} {
		_, err := svc.Compile(ctx, specs)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, svc.CacheStats().Size)
	assert.Equal(t, uint64(1), svc.CacheStats().Evictions)

	resp, err := svc.Compile(ctx, a)
	require.NoError(t, err)
	assert.False(t, resp.CacheHit, "oldest entry was evicted")

	assert.Equal(t, 2, svc.ClearCache().Cleared)
	assert.Equal(t, 0, svc.CacheStats().Size)
}

func TestCache_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Enabled = false
	svc := newTestService(t, cfg, &mocks.Loader{Model: mocks.NewScriptedModel("x")})
	ctx := testutil.TestContext(t)

	for i := 0; i < 2; i++ {
		resp, err := svc.Compile(ctx, []constraint.Spec{constraint.Regex("a")})
		require.NoError(t, err)
		assert.False(t, resp.CacheHit)
	}
	stats := svc.CacheStats()
	assert.False(t, stats.Enabled)
	assert.Equal(t, 0, stats.Size)
}

// ===== 溯源 =====

func TestProvenance_RecordedForSuccessAndFailure(t *testing.T) {
	store := provenance.NewMemoryStore(100, 0)
	loader := &mocks.Loader{Model: mocks.NewScriptedModel("123")}
	svc := newTestService(t, nil, loader, WithProvenanceStore(store))
	ctx := ctxkeys.WithRequestID(testutil.TestContext(t), "req-1")

	resp, err := svc.Generate(ctx, fixtures.GreedyRequest("digits", 8, fixtures.DigitsRegex()))
	require.NoError(t, err)

	rec, err := svc.Provenance(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, api.StatusCompleted, rec.Status)
	assert.Equal(t, "req-1", rec.RequestID)
	assert.Equal(t, provenance.PromptDigest("digits"), rec.PromptSHA256)
	assert.Equal(t, resp.Provenance.ConstraintHash, rec.ConstraintHash)
	assert.Equal(t, 3, rec.TokensGenerated)
	assert.True(t, rec.ConstraintSatisfied)

	_, err = svc.Generate(ctx, fixtures.GreedyRequest("digits", 8, fixtures.ConflictingPrefixes()))
	require.Error(t, err)
	assert.Equal(t, 2, store.Len(), "failed generations are recorded too")

	_, err = svc.Provenance(ctx, "missing")
	testutil.AssertErrorCode(t, err, types.ErrNotFound)
	_, err = svc.Provenance(ctx, "")
	testutil.AssertErrorCode(t, err, types.ErrInvalidRequest)
}

type failingStore struct{}

func (failingStore) Save(context.Context, *provenance.Record) error { return errors.New("db down") }
func (failingStore) Get(context.Context, string) (*provenance.Record, error) {
	return nil, errors.New("db down")
}

func TestProvenance_StoreErrorsAreNotSurfaced(t *testing.T) {
	svc := newTestService(t, nil, &mocks.Loader{Model: mocks.NewScriptedModel("ok")}, WithProvenanceStore(failingStore{}))

	resp, err := svc.Generate(testutil.TestContext(t), fixtures.GreedyRequest("p", 4))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
}

// ===== 幂等 =====

func TestGenerateIdempotent_Replay(t *testing.T) {
	model := mocks.NewScriptedModel("123")
	svc := newTestService(t, nil, &mocks.Loader{Model: model})
	ctx := testutil.TestContext(t)
	req := fixtures.GreedyRequest("p", 8, fixtures.DigitsRegex())

	first, replayed, err := svc.GenerateIdempotent(ctx, "key-1", req)
	require.NoError(t, err)
	assert.False(t, replayed)
	calls := model.Calls()

	second, replayed, err := svc.GenerateIdempotent(ctx, "key-1", req)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, calls, model.Calls(), "replay does not run the model")

	other := fixtures.GreedyRequest("different prompt", 8, fixtures.DigitsRegex())
	third, replayed, err := svc.GenerateIdempotent(ctx, "key-1", other)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.NotEqual(t, first.ID, third.ID)

	fourth, replayed, err := svc.GenerateIdempotent(ctx, "", req)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.NotEqual(t, first.ID, fourth.ID)
}

func TestGenerateIdempotent_FailuresAreNotStored(t *testing.T) {
	loader := &mocks.Loader{Model: mocks.NewScriptedModel("ok"), Err: errors.New("boom"), FailFirst: 1}
	svc := newTestService(t, nil, loader)
	ctx := testutil.TestContext(t)
	req := fixtures.GreedyRequest("p", 4)

	_, _, err := svc.GenerateIdempotent(ctx, "k", req)
	testutil.AssertErrorCode(t, err, types.ErrModelUnavailable)

	resp, replayed, err := svc.GenerateIdempotent(ctx, "k", req)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, "ok", resp.Text)
}

func TestGenerateIdempotent_ConcurrentDuplicatesGenerateOnce(t *testing.T) {
	model := mocks.NewScriptedModel("123").WithDelay(20 * time.Millisecond)
	svc := newTestService(t, nil, &mocks.Loader{Model: model})
	ctx := testutil.TestContext(t)
	req := fixtures.GreedyRequest("p", 8, fixtures.DigitsRegex())

	const n = 4
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ids      = map[string]int{}
		replayed int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, rep, err := svc.GenerateIdempotent(ctx, "dup", req)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[resp.ID]++
			if rep {
				replayed++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1, "all callers observe the same generation")
	assert.Equal(t, n-1, replayed)
}

func TestGenerateIdempotent_WaiterHonoursContext(t *testing.T) {
	store := idempotency.NewMemoryStore(0)
	t.Cleanup(store.Close)
	svc := newTestService(t, nil, &mocks.Loader{Model: mocks.NewScriptedModel("ok")}, WithIdempotency(store))
	req := fixtures.GreedyRequest("p", 4)

	// 另一个实例持有占用
	key, err := idempotency.Key("held", req)
	require.NoError(t, err)
	ok, err := store.Claim(context.Background(), key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, _, err = svc.GenerateIdempotent(ctx, "held", req)
	testutil.AssertErrorCode(t, err, types.ErrTimeout)

	require.NoError(t, store.Release(context.Background(), key))
	resp, replayed, err := svc.GenerateIdempotent(testutil.TestContext(t), "held", req)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 1, store.Len())
}

// ===== 指标与生命周期 =====

func TestMetricsRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("cf", reg, nil)
	svc := newTestService(t, nil, &mocks.Loader{Model: mocks.NewScriptedModel("123")}, WithMetrics(collector))
	ctx := testutil.TestContext(t)

	_, err := svc.Generate(ctx, fixtures.GreedyRequest("p", 8, fixtures.DigitsRegex()))
	require.NoError(t, err)
	_, err = svc.Generate(ctx, fixtures.GreedyRequest("p", 8, constraint.Regex("(")))
	require.Error(t, err)

	n, err := promtestutil.GatherAndCount(reg, "cf_generations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one completed and one failed series")

	n, err = promtestutil.GatherAndCount(reg, "cf_constraint_compilations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one success and one error series")

	n, err = promtestutil.GatherAndCount(reg, "cf_model_loaded")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClose_RejectsNewGenerations(t *testing.T) {
	cfg := testConfig()
	svc := New(cfg, WithModelLoader((&mocks.Loader{Model: mocks.NewScriptedModel("x")}).Load))
	svc.Close()

	_, err := svc.Generate(testutil.TestContext(t), fixtures.GreedyRequest("p", 2))
	testutil.AssertErrorCode(t, err, types.ErrModelUnavailable)
}

func TestPoolStats_CountsGenerations(t *testing.T) {
	svc := newTestService(t, nil, &mocks.Loader{Model: mocks.NewScriptedModel("123")})
	ctx := testutil.TestContext(t)

	for i := 0; i < 3; i++ {
		_, err := svc.Generate(ctx, fixtures.GreedyRequest("p", 8, fixtures.DigitsRegex()))
		require.NoError(t, err)
	}
	st := svc.PoolStats()
	assert.Equal(t, int64(3), st.Submitted)
	assert.Equal(t, int64(3), st.Completed)
	assert.Equal(t, int64(1), st.ColdStarts)
	assert.Zero(t, st.Busy)
}

func TestTruncate_KeepsRuneBoundary(t *testing.T) {
	t.Parallel()

	msg := strings.Repeat("a", 998) + "约束冲突"
	got := truncate(msg, 1000)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 998), got)

	assert.Equal(t, "ab约", truncate("ab约束", 5))
	assert.Equal(t, "short", truncate("short", 1000))
	assert.Empty(t, truncate("约", 2))
}
