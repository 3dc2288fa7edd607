// Package ctxkeys 在 context 中传递请求级的标识：请求 ID、trace ID 与鉴权主体。
package ctxkeys

import "context"

// stringKey 每个实例是一个独立的 context 键；空字符串视为未设置
type stringKey struct{ name string }

func (k *stringKey) with(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, k, v)
}

func (k *stringKey) from(ctx context.Context) (string, bool) {
	v, _ := ctx.Value(k).(string)
	return v, v != ""
}

var (
	requestID = &stringKey{"request_id"}
	traceID   = &stringKey{"trace_id"}
	principal = &stringKey{"principal"}
)

// WithRequestID 由 RequestID 中间件写入，随生成记录进入溯源
func WithRequestID(ctx context.Context, id string) context.Context { return requestID.with(ctx, id) }

func RequestID(ctx context.Context) (string, bool) { return requestID.from(ctx) }

// WithTraceID 由追踪中间件写入当前 span 的 trace ID
func WithTraceID(ctx context.Context, id string) context.Context { return traceID.with(ctx, id) }

func TraceID(ctx context.Context) (string, bool) { return traceID.from(ctx) }

// WithPrincipal 鉴权主体：apikey:<序号> 或 jwt[:subject]
func WithPrincipal(ctx context.Context, p string) context.Context { return principal.with(ctx, p) }

func Principal(ctx context.Context) (string, bool) { return principal.from(ctx) }
