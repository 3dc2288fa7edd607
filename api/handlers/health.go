package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/constraintflow/api"
)

// =============================================================================
// 🏥 /health /healthz /ready /version
// =============================================================================

// probeTimeout 单个依赖探测的超时
const probeTimeout = 3 * time.Second

// HealthReporter 提供 /health 的服务状态
type HealthReporter interface {
	Health(ctx context.Context) api.HealthResponse
}

// Probe 一项依赖探测（数据库、Redis ...）
type Probe struct {
	Name string
	Ping func(ctx context.Context) error
}

// ReadyStatus /ready 与 /healthz 响应
type ReadyStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]ProbeResult `json:"checks,omitempty"`
}

// ProbeResult 单项探测结果，Status 为 pass 或 fail
type ProbeResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// VersionInfo /version 响应
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}

// HealthHandler 健康与就绪端点
type HealthHandler struct {
	reporter HealthReporter
	probes   []Probe
	logger   *zap.Logger
}

// NewHealthHandler probes 在 /ready 时并发执行
func NewHealthHandler(reporter HealthReporter, logger *zap.Logger, probes ...Probe) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		reporter: reporter,
		probes:   probes,
		logger:   logger.With(zap.String("handler", "health")),
	}
}

// HandleHealth 服务状态；模型加载失败时 503
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := h.reporter.Health(r.Context())
	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, resp)
}

// HandleHealthz 存活探针：进程能响应即可
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, ReadyStatus{Status: "healthy", Timestamp: time.Now()})
}

// HandleReady 就绪探针：所有依赖探测通过才返回 200
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	results := h.runProbes(r.Context())

	status := ReadyStatus{Status: "healthy", Timestamp: time.Now(), Checks: results}
	code := http.StatusOK
	for _, res := range results {
		if res.Status != "pass" {
			status.Status = "unhealthy"
			code = http.StatusServiceUnavailable
			break
		}
	}
	WriteJSON(w, code, status)
}

func (h *HealthHandler) runProbes(ctx context.Context) map[string]ProbeResult {
	results := make(map[string]ProbeResult, len(h.probes))
	var mu sync.Mutex

	// 探测失败写入结果而不是中断其它探测，因此 goroutine 总是返回 nil
	var g errgroup.Group
	for _, p := range h.probes {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			start := time.Now()
			err := p.Ping(pctx)
			elapsed := time.Since(start)

			res := ProbeResult{Status: "pass", Latency: elapsed.String()}
			if err != nil {
				res.Status = "fail"
				res.Message = err.Error()
				h.logger.Warn("readiness probe failed",
					zap.String("probe", p.Name),
					zap.Duration("latency", elapsed),
					zap.Error(err),
				)
			}
			mu.Lock()
			results[p.Name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// VersionHandler 返回固定的构建信息
func VersionHandler(info VersionInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, info)
	}
}
