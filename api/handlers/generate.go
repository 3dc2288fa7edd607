package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/constraintflow/api"
	"github.com/BaSui01/constraintflow/constraint"
	"github.com/BaSui01/constraintflow/engine"
	"github.com/BaSui01/constraintflow/provenance"
	"github.com/BaSui01/constraintflow/types"
)

// =============================================================================
// ✍️ 生成接口 Handler
// =============================================================================

// IdempotencyKeyHeader 幂等键请求头
const IdempotencyKeyHeader = "Idempotency-Key"

// IdempotentReplayHeader 响应来自幂等重放时设置为 "true"
const IdempotentReplayHeader = "Idempotent-Replayed"

// GenerationService handlers 依赖的服务边界（*service.Service 实现）
type GenerationService interface {
	GenerateIdempotent(ctx context.Context, key string, req *api.GenerationRequest) (*api.GenerationResponse, bool, error)
	GenerateStream(ctx context.Context, req *api.GenerationRequest, observer engine.Observer) (*api.GenerationResponse, error)
	Compile(ctx context.Context, specs []constraint.Spec) (*api.CompileResponse, error)
	CacheStats() api.CacheStats
	ClearCache() api.ClearCacheResponse
	Health(ctx context.Context) api.HealthResponse
	Provenance(ctx context.Context, generationID string) (*provenance.Record, error)
}

// GenerateHandler 生成与溯源查询处理器
type GenerateHandler struct {
	service GenerationService
	logger  *zap.Logger
}

// NewGenerateHandler 创建生成处理器
func NewGenerateHandler(service GenerationService, logger *zap.Logger) *GenerateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerateHandler{
		service: service,
		logger:  logger.With(zap.String("handler", "generate")),
	}
}

// HandleGenerate 处理约束生成请求
// @Summary 约束生成
// @Description 在约束下生成文本，响应附带溯源信息
// @Tags 生成
// @Accept json
// @Produce json
// @Param request body api.GenerationRequest true "生成请求"
// @Param Idempotency-Key header string false "幂等键"
// @Success 200 {object} api.GenerationResponse "生成响应"
// @Failure 400 {object} api.ErrorResponse "无效请求或约束"
// @Failure 422 {object} api.ErrorResponse "约束不可满足或无合法续写"
// @Failure 503 {object} api.ErrorResponse "模型不可用"
// @Failure 504 {object} api.ErrorResponse "超时"
// @Security ApiKeyAuth
// @Router /generate [post]
func (h *GenerateHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.GenerationRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	resp, replayed, err := h.service.GenerateIdempotent(r.Context(), r.Header.Get(IdempotencyKeyHeader), &req)
	if err != nil {
		WriteError(w, r, types.ToError(err), h.logger)
		return
	}
	if replayed {
		w.Header().Set(IdempotentReplayHeader, "true")
	}
	WriteJSON(w, http.StatusOK, resp)
}

// HandleProvenance 按 generation_id 查询溯源记录
// @Summary 溯源查询
// @Tags 生成
// @Produce json
// @Param id path string true "generation_id"
// @Success 200 {object} provenance.Record "溯源记录"
// @Failure 404 {object} api.ErrorResponse "不存在"
// @Security ApiKeyAuth
// @Router /provenance/{id} [get]
func (h *GenerateHandler) HandleProvenance(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Provenance(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, types.ToError(err), h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}
