// =============================================================================
// 📡 ConstraintFlow OpenTelemetry
// =============================================================================
// Spans cover HTTP requests, constraint compilation and generation. OTel
// instruments mirror the per-generation numbers that the Prometheus collector
// aggregates, so a trace backend can correlate them with spans.
// Disabled telemetry installs nothing; the global providers stay noop.
// =============================================================================

package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/constraintflow/config"
)

// InstrumentationName tracer/meter scope
const InstrumentationName = "github.com/BaSui01/constraintflow"

// Span attribute keys
const (
	AttrGenerationID        = attribute.Key("generation.id")
	AttrConstraintCount     = attribute.Key("generation.constraints")
	AttrMaxTokens           = attribute.Key("generation.max_tokens")
	AttrFinishReason        = attribute.Key("generation.finish_reason")
	AttrTokens              = attribute.Key("generation.tokens")
	AttrConstraintSatisfied = attribute.Key("generation.constraint_satisfied")
	AttrConstraintHash      = attribute.Key("constraint.hash")
	AttrCacheHit            = attribute.Key("constraint.cache_hit")
	AttrErrorType           = attribute.Key("error.type")
)

// Tracer 全局 provider 上的服务 tracer；Init 之前为 noop
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// FailSpan 把分类后的错误写入 span
func FailSpan(span trace.Span, errorType string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(AttrErrorType.String(errorType))
}

// =============================================================================
// 📈 Instruments
// =============================================================================

// Instruments 生成相关的 OTel 指标
type Instruments struct {
	tokens       metric.Int64Histogram
	cacheLookups metric.Int64Counter
}

// NewInstruments 在全局 MeterProvider 上创建指标；provider 为 noop 时记录被丢弃
func NewInstruments() (*Instruments, error) {
	meter := otel.Meter(InstrumentationName)
	tokens, err := meter.Int64Histogram("constraintflow.generation.tokens",
		metric.WithDescription("Tokens emitted per generation"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create tokens histogram: %w", err)
	}
	lookups, err := meter.Int64Counter("constraintflow.compile_cache.lookups",
		metric.WithDescription("Compiled constraint cache lookups"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache lookup counter: %w", err)
	}
	return &Instruments{tokens: tokens, cacheLookups: lookups}, nil
}

// RecordGeneration 记录一次生成的 token 数
func (i *Instruments) RecordGeneration(ctx context.Context, tokens int, finishReason string, satisfied bool) {
	if i == nil {
		return
	}
	i.tokens.Record(ctx, int64(tokens), metric.WithAttributes(
		AttrFinishReason.String(finishReason),
		AttrConstraintSatisfied.Bool(satisfied),
	))
}

// RecordCacheLookup 记录一次编译缓存查找
func (i *Instruments) RecordCacheLookup(ctx context.Context, hit bool) {
	if i == nil {
		return
	}
	i.cacheLookups.Add(ctx, 1, metric.WithAttributes(AttrCacheHit.Bool(hit)))
}

// =============================================================================
// 🚀 SDK 初始化
// =============================================================================

// Providers 持有 SDK provider；禁用时两者为 nil
type Providers struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Init 按配置安装 OTLP gRPC trace/metric 导出器并设为全局 provider。
// 导出器延迟连接，collector 不可达不会导致 Init 失败。
func Init(cfg config.TelemetryConfig, version string, logger *zap.Logger) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Info("telemetry disabled")
		return &Providers{}, nil
	}
	if version == "" {
		version = "dev"
	}

	ctx := context.Background()
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(version),
	))
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 || sampleRate > 1 {
		sampleRate = 1
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		_ = traceExporter.Shutdown(ctx)
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("telemetry initialized",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.String("service_name", cfg.ServiceName),
		zap.String("version", version),
		zap.Float64("sample_rate", sampleRate),
	)
	return &Providers{tp: tp, mp: mp}, nil
}

// Shutdown 刷出未导出的 span/指标；禁用时为 no-op
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
