package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/constraintflow/api"
	"github.com/BaSui01/constraintflow/constraint"
	"github.com/BaSui01/constraintflow/internal/tlsutil"
	"github.com/BaSui01/constraintflow/provenance"
	"github.com/BaSui01/constraintflow/retry"
)

// maxResponseBytes 单个响应体读取上限
const maxResponseBytes = 16 << 20

// Config 客户端配置
type Config struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	APIKey  string `yaml:"api_key" json:"api_key"`
	// 单次尝试的墙钟超时
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// 瞬时失败的最大重试次数
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay" json:"max_delay"`
	Jitter     bool          `yaml:"jitter" json:"jitter"`
	// 批量并发度，<= 1 时顺序执行
	Concurrency int `yaml:"concurrency" json:"concurrency"`
	// 额外信任的 CA 证书（PEM），用于自签证书的 HTTPS 部署
	CAFile string `yaml:"ca_file" json:"ca_file"`
}

// DefaultConfig 返回默认客户端配置
func DefaultConfig() Config {
	return Config{
		BaseURL:     "http://localhost:8080",
		Timeout:     2 * time.Minute,
		MaxRetries:  3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Concurrency: 1,
	}
}

// Option 客户端选项
type Option func(*Client)

// WithHTTPClient 使用自定义 http.Client（超时应交给 Config.Timeout）
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger 设置日志器
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client ConstraintFlow HTTP 客户端，可并发使用
type Client struct {
	cfg     Config
	http    *http.Client
	retryer retry.Retryer
	logger  *zap.Logger
}

// New 创建客户端
func New(cfg Config, opts ...Option) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	// 超时由每次尝试的 ctx 控制，http.Client 本身不设超时
	transport, err := tlsutil.ClientTransport(tlsutil.TransportOptions{
		CAFile:              cfg.CAFile,
		MaxIdleConnsPerHost: cfg.Concurrency,
	})
	if err != nil {
		return nil, err
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Transport: transport},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "constraintflow_client"))
	c.retryer = retry.NewBackoffRetryer(&retry.Policy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.BaseDelay,
		MaxDelay:     cfg.MaxDelay,
		Multiplier:   2.0,
		Jitter:       cfg.Jitter,
	}, c.logger)
	return c, nil
}

// =============================================================================
// 🎯 API 方法
// =============================================================================

// CallOption 单次调用选项
type CallOption func(http.Header)

// WithIdempotencyKey 设置 Idempotency-Key，服务端对相同键重放首个响应
func WithIdempotencyKey(key string) CallOption {
	return func(h http.Header) { h.Set("Idempotency-Key", key) }
}

// Generate 发起一次约束生成
func (c *Client) Generate(ctx context.Context, req *api.GenerationRequest, opts ...CallOption) (*api.GenerationResponse, error) {
	if req == nil {
		return nil, &Error{Kind: KindPermanent, ErrorType: "invalid_request", Message: "request is nil"}
	}
	header := http.Header{}
	for _, opt := range opts {
		opt(header)
	}
	var resp api.GenerationResponse
	if err := c.do(ctx, http.MethodPost, "/generate", req, &resp, header); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthCheck 查询服务健康状态
func (c *Client) HealthCheck(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Compile 只编译不生成。约束无效时返回 Valid=false 的响应而非错误。
func (c *Client) Compile(ctx context.Context, specs []constraint.Spec) (*api.CompileResponse, error) {
	var resp api.CompileResponse
	err := c.do(ctx, http.MethodPost, "/compile", api.CompileRequest{Constraints: specs}, &resp, nil)
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) && ce.Kind == KindPermanent && ce.ErrorType != "" &&
			(ce.StatusCode == http.StatusBadRequest || ce.StatusCode == http.StatusUnprocessableEntity) {
			return &api.CompileResponse{Valid: false, Error: ce.Message, ErrorType: ce.ErrorType}, nil
		}
		return nil, err
	}
	return &resp, nil
}

// CacheStats 查询编译缓存统计
func (c *Client) CacheStats(ctx context.Context) (*api.CacheStats, error) {
	var resp api.CacheStats
	if err := c.do(ctx, http.MethodGet, "/cache/stats", nil, &resp, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearCache 清空编译缓存
func (c *Client) ClearCache(ctx context.Context) (*api.ClearCacheResponse, error) {
	var resp api.ClearCacheResponse
	if err := c.do(ctx, http.MethodPost, "/cache/clear", nil, &resp, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Provenance 按 generation_id 查询溯源记录
func (c *Client) Provenance(ctx context.Context, generationID string) (*provenance.Record, error) {
	var rec provenance.Record
	if err := c.do(ctx, http.MethodGet, "/provenance/"+url.PathEscape(generationID), nil, &rec, nil); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GenerateBatch 批量生成。失败项替换为 Status=failed 的占位响应，顺序与输入一致。
func (c *Client) GenerateBatch(ctx context.Context, reqs []*api.GenerationRequest) []*api.GenerationResponse {
	out := make([]*api.GenerationResponse, len(reqs))
	run := func(i int) {
		resp, err := c.Generate(ctx, reqs[i])
		if err != nil {
			c.logger.Warn("batch item failed", zap.Int("index", i), zap.Error(err))
			out[i] = failedResponse(err)
			return
		}
		out[i] = resp
	}

	if c.cfg.Concurrency <= 1 {
		for i := range reqs {
			run(i)
		}
		return out
	}

	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for i := range reqs {
		g.Go(func() error {
			run(i)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func failedResponse(err error) *api.GenerationResponse {
	var ce *Error
	if !errors.As(err, &ce) {
		return api.NewFailedResponse(err.Error(), "client_error")
	}
	resp := api.NewFailedResponse(ce.Error(), ce.Type())
	if ce.PartialText != "" {
		resp.Metadata["partial_text"] = ce.PartialText
	}
	return resp
}

// =============================================================================
// 🔌 传输
// =============================================================================

func (c *Client) do(ctx context.Context, method, path string, in, out any, header http.Header) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return &Error{Kind: KindPermanent, Message: "encode request", Err: err}
		}
	}
	attempts := 0
	err := c.retryer.Do(ctx, func(attempt int) error {
		attempts = attempt
		return c.attempt(ctx, method, path, body, header, out)
	})
	return finalize(err, attempts)
}

// attempt 执行一次请求。返回的瞬时错误会被重试，retry.Permanent 包装的不会。
func (c *Client) attempt(ctx context.Context, method, path string, body []byte, header http.Header, out any) error {
	actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(actx, method, c.cfg.BaseURL+path, rdr)
	if err != nil {
		return retry.Permanent(&Error{Kind: KindPermanent, Message: "build request", Err: err})
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(ctx, actx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.transportError(ctx, actx, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return retry.Permanent(&Error{
				Kind:       KindPermanent,
				StatusCode: resp.StatusCode,
				Message:    "malformed response body",
				Err:        err,
			})
		}
		return nil
	}

	// 错误体解析失败时仍按状态码分类
	var er api.ErrorResponse
	_ = json.Unmarshal(data, &er)
	e := &Error{
		StatusCode:  resp.StatusCode,
		ErrorType:   er.ErrorType,
		Message:     er.Error,
		PartialText: er.PartialText,
	}
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	if transientStatus(resp.StatusCode) {
		e.Kind = KindTransient
		c.logger.Debug("transient response",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("error_type", e.ErrorType),
		)
		return e
	}
	e.Kind = KindPermanent
	return retry.Permanent(e)
}

func (c *Client) transportError(parent, attempt context.Context, err error) error {
	if parent.Err() != nil {
		kind := KindPermanent
		if errors.Is(parent.Err(), context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return retry.Permanent(&Error{Kind: kind, Message: "request cancelled", Err: parent.Err()})
	}
	if errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: fmt.Sprintf("attempt exceeded %s", c.cfg.Timeout), Err: err}
	}
	return &Error{Kind: KindTransient, Message: "connection error", Err: err}
}
