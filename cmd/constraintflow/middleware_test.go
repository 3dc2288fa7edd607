package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/constraintflow/api"
	"github.com/BaSui01/constraintflow/internal/ctxkeys"
	"github.com/BaSui01/constraintflow/internal/metrics"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'none'", w.Header().Get("Content-Security-Policy"))
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ctxkeys.RequestID(r.Context())
	}), SecurityHeaders(), RequestID())

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
		assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
		assert.Equal(t, w.Header().Get(RequestIDHeader), seen)
	})

	t.Run("preserved", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/test", nil)
		r.Header.Set(RequestIDHeader, "client-id-1")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, "client-id-1", w.Header().Get(RequestIDHeader))
		assert.Equal(t, "client-id-1", seen)
	})
}

func TestRecovery(t *testing.T) {
	handler := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), Recovery(zap.NewNop()))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/generate", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp api.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "internal_error", resp.ErrorType)
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/generate":                                     "/generate",
		"/generate/stream":                              "/generate/stream",
		"/provenance/7c9e6679-7425-40de-944b-e07fc1f90ae7": "/provenance/:id",
		"/provenance/anything":                          "/provenance/:id",
		"/unknown/12345":                                "/unknown/:id",
		"/unknown/path":                                 "/unknown/path",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizePath(in), in)
	}
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("mw", reg, zap.NewNop())
	handler := MetricsMiddleware(collector)(okHandler())

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/provenance/abc", nil))
	}

	n, err := promtestutil.GatherAndCount(reg, "mw_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "dynamic segments collapse to one series")
}

func TestAuthenticate_APIKey(t *testing.T) {
	var principal string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ = ctxkeys.Principal(r.Context())
	})
	handler := Authenticate(AuthConfig{
		APIKeys:          []string{"key-a", "key-b"},
		AllowQueryAPIKey: true,
		SkipPaths:        publicPaths,
	}, zap.NewNop())(inner)

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
		wantWho    string
	}{
		{name: "missing key", path: "/generate", wantStatus: http.StatusUnauthorized},
		{name: "wrong key", path: "/generate", header: "nope", wantStatus: http.StatusUnauthorized},
		{name: "header key", path: "/generate", header: "key-b", wantStatus: http.StatusOK, wantWho: "apikey:1"},
		{name: "query key", path: "/generate?api_key=key-a", wantStatus: http.StatusOK, wantWho: "apikey:0"},
		{name: "public path", path: "/health", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			principal = ""
			r := httptest.NewRequest(http.MethodPost, tt.path, nil)
			if tt.header != "" {
				r.Header.Set("X-API-Key", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantWho, principal)
			if tt.wantStatus == http.StatusUnauthorized {
				var resp api.ErrorResponse
				require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
				assert.Equal(t, "unauthorized", resp.ErrorType)
			}
		})
	}
}

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAuthenticate_JWT(t *testing.T) {
	var principal string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ = ctxkeys.Principal(r.Context())
	})
	handler := Authenticate(AuthConfig{JWTSecret: "s3cret", JWTIssuer: "constraintflow"}, zap.NewNop())(inner)

	future := jwt.NewNumericDate(time.Now().Add(time.Hour))
	past := jwt.NewNumericDate(time.Now().Add(-time.Hour))

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{
			name:       "valid",
			token:      signToken(t, "s3cret", jwt.RegisteredClaims{Subject: "alice", Issuer: "constraintflow", ExpiresAt: future}),
			wantStatus: http.StatusOK,
		},
		{
			name:       "expired",
			token:      signToken(t, "s3cret", jwt.RegisteredClaims{Subject: "alice", Issuer: "constraintflow", ExpiresAt: past}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong issuer",
			token:      signToken(t, "s3cret", jwt.RegisteredClaims{Subject: "alice", Issuer: "other", ExpiresAt: future}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong secret",
			token:      signToken(t, "other", jwt.RegisteredClaims{Subject: "alice", Issuer: "constraintflow", ExpiresAt: future}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "no expiry",
			token:      signToken(t, "s3cret", jwt.RegisteredClaims{Subject: "alice", Issuer: "constraintflow"}),
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			principal = ""
			r := httptest.NewRequest(http.MethodPost, "/generate", nil)
			r.Header.Set("Authorization", "Bearer "+tt.token)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "jwt:alice", principal)
			}
		})
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/generate", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code, "no credentials")
}

func TestAuthenticate_DisabledPassesThrough(t *testing.T) {
	handler := Authenticate(AuthConfig{}, zap.NewNop())(okHandler())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/generate", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimiter(ctx, 1, 2, zap.NewNop())(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodPost, "/generate", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// 其他 IP 不受影响
	r := httptest.NewRequest(http.MethodPost, "/generate", nil)
	r.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter_Disabled(t *testing.T) {
	handler := RateLimiter(context.Background(), 0, 0, zap.NewNop())(okHandler())
	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
