package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/constraintflow/config"
)

// restoreGlobals 测试结束时恢复全局 provider
func restoreGlobals(t *testing.T) {
	t.Helper()
	tp := otel.GetTracerProvider()
	mp := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
}

func TestInit_DisabledInstallsNothing(t *testing.T) {
	restoreGlobals(t)
	before := otel.GetTracerProvider()

	p, err := Init(config.TelemetryConfig{Enabled: false}, "v1", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)
	assert.Equal(t, before, otel.GetTracerProvider())
	assert.NoError(t, p.Shutdown(context.Background()))

	_, span := Tracer().Start(context.Background(), "compile")
	defer span.End()
	assert.False(t, span.SpanContext().IsValid(), "noop tracer yields invalid span contexts")
}

func TestInit_EnabledInstallsSDKProviders(t *testing.T) {
	restoreGlobals(t)

	p, err := Init(config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "127.0.0.1:4317",
		ServiceName:  "constraintflow-test",
		SampleRate:   0.5,
	}, "", nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		// collector 不存在，导出错误可忽略
		_ = p.Shutdown(ctx)
	})

	_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, mpIsSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, tpIsSDK)
	assert.True(t, mpIsSDK)
}

func TestProviders_ShutdownNil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestFailSpan(t *testing.T) {
	restoreGlobals(t)
	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))

	_, span := Tracer().Start(context.Background(), "service.Compile")
	FailSpan(span, "unsatisfiable", errors.New("regex prefixes conflict"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "regex prefixes conflict", ended[0].Status().Description)
	assert.Contains(t, ended[0].Attributes(), AttrErrorType.String("unsatisfiable"))
	require.Len(t, ended[0].Events(), 1)
	assert.Equal(t, "exception", ended[0].Events()[0].Name)
}

func TestInstruments_Record(t *testing.T) {
	restoreGlobals(t)
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	inst, err := NewInstruments()
	require.NoError(t, err)

	ctx := context.Background()
	inst.RecordGeneration(ctx, 12, "eos", true)
	inst.RecordGeneration(ctx, 4, "max_tokens", false)
	inst.RecordCacheLookup(ctx, false)
	inst.RecordCacheLookup(ctx, true)
	inst.RecordCacheLookup(ctx, true)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	assert.Equal(t, InstrumentationName, rm.ScopeMetrics[0].Scope.Name)

	byName := map[string]metricdata.Metrics{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		byName[m.Name] = m
	}

	hist, ok := byName["constraintflow.generation.tokens"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	var count uint64
	var sum int64
	for _, dp := range hist.DataPoints {
		count += dp.Count
		sum += dp.Sum
	}
	assert.Equal(t, uint64(2), count)
	assert.Equal(t, int64(16), sum)

	lookups, ok := byName["constraintflow.compile_cache.lookups"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	hits := map[bool]int64{}
	for _, dp := range lookups.DataPoints {
		v, _ := dp.Attributes.Value(AttrCacheHit)
		hits[v.AsBool()] = dp.Value
	}
	assert.Equal(t, map[bool]int64{true: 2, false: 1}, hits)
}

func TestInstruments_NilIsNoop(t *testing.T) {
	var inst *Instruments
	assert.NotPanics(t, func() {
		inst.RecordGeneration(context.Background(), 1, "eos", true)
		inst.RecordCacheLookup(context.Background(), true)
	})
}
