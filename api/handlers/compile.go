package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/constraintflow/api"
	"github.com/BaSui01/constraintflow/types"
)

// =============================================================================
// 🧩 编译诊断与缓存运维 Handler
// =============================================================================

// CompileHandler 处理 /compile 与 /cache/*
type CompileHandler struct {
	service GenerationService
	logger  *zap.Logger
}

// NewCompileHandler 创建编译诊断处理器
func NewCompileHandler(service GenerationService, logger *zap.Logger) *CompileHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompileHandler{
		service: service,
		logger:  logger.With(zap.String("handler", "compile")),
	}
}

// HandleCompile 编译（或命中缓存）约束并返回诊断信息
// @Summary 约束编译诊断
// @Tags 编译
// @Accept json
// @Produce json
// @Param request body api.CompileRequest true "约束列表"
// @Success 200 {object} api.CompileResponse "valid=true"
// @Failure 400 {object} api.CompileResponse "valid=false，invalid_spec / invalid_request"
// @Failure 422 {object} api.CompileResponse "valid=false，unsatisfiable"
// @Security ApiKeyAuth
// @Router /compile [post]
func (h *CompileHandler) HandleCompile(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.CompileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeInvalid(w, err)
		return
	}

	resp, err := h.service.Compile(r.Context(), req.Constraints)
	if err != nil {
		h.writeInvalid(w, types.ToError(err))
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *CompileHandler) writeInvalid(w http.ResponseWriter, err *types.Error) {
	status := err.HTTPStatus
	if status == 0 {
		status = types.DefaultHTTPStatus(err.Code)
	}
	h.logger.Info("compile rejected",
		zap.String("error_type", err.ErrorType()),
		zap.String("message", err.Message),
		zap.Int("status", status),
	)
	WriteJSON(w, status, api.CompileResponse{
		Valid:     false,
		Error:     err.Detail(),
		ErrorType: err.ErrorType(),
	})
}

// HandleCacheStats 返回编译缓存统计
// @Summary 缓存统计
// @Tags 编译
// @Produce json
// @Success 200 {object} api.CacheStats "缓存统计"
// @Security ApiKeyAuth
// @Router /cache/stats [get]
func (h *CompileHandler) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.service.CacheStats())
}

// HandleCacheClear 清空编译缓存
// @Summary 清空缓存
// @Tags 编译
// @Produce json
// @Success 200 {object} api.ClearCacheResponse "清除的条目数"
// @Security ApiKeyAuth
// @Router /cache/clear [post]
func (h *CompileHandler) HandleCacheClear(w http.ResponseWriter, r *http.Request) {
	resp := h.service.ClearCache()
	h.logger.Info("compile cache cleared", zap.Int("cleared", resp.Cleared))
	WriteJSON(w, http.StatusOK, resp)
}
