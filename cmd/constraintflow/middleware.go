package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/constraintflow/api/handlers"
	"github.com/BaSui01/constraintflow/internal/ctxkeys"
	"github.com/BaSui01/constraintflow/internal/metrics"
	"github.com/BaSui01/constraintflow/internal/telemetry"
	"github.com/BaSui01/constraintflow/types"
)

// RequestIDHeader 请求 ID 头
const RequestIDHeader = "X-Request-ID"

// Middleware 类型定义
type Middleware func(http.Handler) http.Handler

// Chain 将多个中间件串联，第一个在最外层
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Recovery panic 恢复中间件
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.Error("panic recovered",
						zap.Any("error", err),
						zap.String("path", r.URL.Path),
						zap.Stack("stack"),
					)
					handlers.WriteErrorMessage(w, r, types.ErrInternalError, "internal server error", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID 注入请求 ID（保留客户端传入的 X-Request-ID）
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" || len(id) > 128 {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(ctxkeys.WithRequestID(r.Context(), id)))
		})
	}
}

// SecurityHeaders adds common security response headers to every request.
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Content-Security-Policy", "default-src 'none'")
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger 请求日志中间件
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.StatusCode),
				zap.Int64("bytes", rw.Size),
				zap.Duration("took", time.Since(start)),
				zap.String("client", clientIP(r)),
			}
			if id, ok := ctxkeys.RequestID(r.Context()); ok {
				fields = append(fields, zap.String("request_id", id))
			}
			if id, ok := ctxkeys.TraceID(r.Context()); ok {
				fields = append(fields, zap.String("trace_id", id))
			}
			logger.Info("request", fields...)
		})
	}
}

// =============================================================================
// 📊 指标与追踪
// =============================================================================

// MetricsMiddleware 通过 metrics.Collector 记录请求耗时、状态与响应大小
func MetricsMiddleware(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)
			collector.RecordHTTPRequest(r.Method, normalizePath(r.URL.Path), rw.StatusCode, time.Since(start), rw.Size)
		})
	}
}

// dynamicSegment matches UUIDs, long hex strings and numeric ids.
var dynamicSegment = regexp.MustCompile(`^[0-9a-fA-F]{8,}(-[0-9a-fA-F]{4,}){0,4}$|^[0-9]+$`)

// normalizePath 把动态路径段替换为 :id，限制 Prometheus 标签基数
//
//	/provenance/5b0c...  -> /provenance/:id
//	/generate            -> /generate
func normalizePath(path string) string {
	switch path {
	case "/health", "/healthz", "/ready", "/version", "/generate", "/generate/stream",
		"/compile", "/cache/stats", "/cache/clear":
		return path
	}
	if strings.HasPrefix(path, "/provenance/") {
		return "/provenance/:id"
	}

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg != "" && dynamicSegment.MatchString(seg) {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

// OTelTracing 为每个请求创建 server span，并从请求头提取上游 trace 上下文
func OTelTracing() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := telemetry.Tracer().Start(ctx, r.Method+" "+normalizePath(r.URL.Path),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if sc := span.SpanContext(); sc.HasTraceID() {
				ctx = ctxkeys.WithTraceID(ctx, sc.TraceID().String())
			}

			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))
			span.SetAttributes(attribute.Int("http.response.status_code", rw.StatusCode))
		})
	}
}

// =============================================================================
// 🔐 鉴权
// =============================================================================

// AuthConfig 鉴权配置；APIKeys 与 JWTSecret 都为空时不鉴权
type AuthConfig struct {
	APIKeys          []string
	AllowQueryAPIKey bool
	JWTSecret        string
	JWTIssuer        string
	// 免鉴权路径（健康检查等）
	SkipPaths []string
}

func (c AuthConfig) enabled() bool {
	return len(c.APIKeys) > 0 || c.JWTSecret != ""
}

// Authenticate 接受 Authorization: Bearer <JWT>（HS256）或 X-API-Key（可选 ?api_key=）。
// 通过后把调用方身份写入 ctxkeys.Principal。
func Authenticate(cfg AuthConfig, logger *zap.Logger) Middleware {
	skipSet := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skipSet[p] = struct{}{}
	}

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired()}
	if cfg.JWTIssuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.JWTIssuer))
	}
	secret := []byte(cfg.JWTSecret)
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(next http.Handler) http.Handler {
		if !cfg.enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := skipSet[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}

			var (
				principal string
				err       error
			)
			if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && len(secret) > 0 {
				principal, err = verifyJWT(bearer, keyFunc, parserOpts)
			} else {
				principal, err = verifyAPIKey(r, cfg)
			}
			if err != nil {
				logger.Debug("authentication failed", zap.String("path", r.URL.Path), zap.Error(err))
				handlers.WriteErrorMessage(w, r, types.ErrUnauthorized, err.Error(), nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctxkeys.WithPrincipal(r.Context(), principal)))
		})
	}
}

func verifyJWT(tokenStr string, keyFunc jwt.Keyfunc, opts []jwt.ParserOption) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if _, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, opts...); err != nil {
		return "", fmt.Errorf("invalid or expired token")
	}
	if claims.Subject == "" {
		return "jwt", nil
	}
	return "jwt:" + claims.Subject, nil
}

var errMissingKey = errors.New("invalid or missing API key")

func verifyAPIKey(r *http.Request, cfg AuthConfig) (string, error) {
	if len(cfg.APIKeys) == 0 {
		return "", errors.New("missing bearer token")
	}
	key := r.Header.Get("X-API-Key")
	if key == "" && cfg.AllowQueryAPIKey {
		key = r.URL.Query().Get("api_key")
	}
	if key == "" {
		return "", errMissingKey
	}
	for i, valid := range cfg.APIKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			return fmt.Sprintf("apikey:%d", i), nil
		}
	}
	return "", errMissingKey
}

// =============================================================================
// 🚦 限流
// =============================================================================

// visitorTTL 空闲多久后丢弃某个 IP 的令牌桶
const visitorTTL = 3 * time.Minute

// RateLimiter 按客户端 IP 的令牌桶限流；rps <= 0 时关闭。
// 令牌桶保存在 ttlcache 中，ctx 结束时停止过期清理。
func RateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		if rps <= 0 {
			return next
		}
		if burst <= 0 {
			burst = 1
		}
		visitors := ttlcache.New[string, *rate.Limiter](ttlcache.WithTTL[string, *rate.Limiter](visitorTTL))
		go visitors.Start()
		context.AfterFunc(ctx, visitors.Stop)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			item, _ := visitors.GetOrSet(ip, rate.NewLimiter(rate.Limit(rps), burst))
			if !item.Value().Allow() {
				logger.Debug("rate limited", zap.String("ip", ip))
				w.Header().Set("Retry-After", "1")
				handlers.WriteErrorMessage(w, r, types.ErrRateLimited, "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
