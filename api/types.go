package api

import (
	"time"

	"github.com/BaSui01/constraintflow/constraint"
)

// =============================================================================
// ✍️ 生成类型
// =============================================================================

// GenerationRequest 生成请求。
// 采样参数为指针：缺省时使用服务端配置的默认值，显式的 0 仍然有效（temperature=0 即贪心）。
// @Description 约束生成请求结构
type GenerationRequest struct {
	// 提示词
	Prompt string `json:"prompt" example:"Write a function:" binding:"required"`
	// 约束列表（多个约束为隐式 AND）
	Constraints []constraint.Spec `json:"constraints,omitempty"`
	// 最大生成 token 数
	MaxTokens int `json:"max_tokens,omitempty" example:"256"`
	// 采样温度（0-2）
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
	// 核采样参数（0-1]
	TopP *float64 `json:"top_p,omitempty" example:"0.95"`
	// top-k，0 表示不限制
	TopK *int `json:"top_k,omitempty" example:"50"`
	// 停止序列
	StopSequences []string `json:"stop_sequences,omitempty"`
	// 随机种子，设置后同一请求可复现
	Seed *int64 `json:"seed,omitempty"`
	// 自定义元数据，原样回传
	Metadata map[string]any `json:"metadata,omitempty"`
}

// 生成状态
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// GenerationResponse 生成响应。
// Status 区分"生成了空文本"与"失败"，批量调用时失败项 Status 为 failed，
// 错误写入 Metadata["error"] / Metadata["error_type"]。
// @Description 约束生成响应结构
type GenerationResponse struct {
	ID                  string         `json:"id,omitempty"`
	Status              string         `json:"status"`
	Text                string         `json:"text"`
	TokensGenerated     int            `json:"tokens_generated"`
	GenerationTimeMs    int64          `json:"generation_time_ms"`
	ConstraintSatisfied bool           `json:"constraint_satisfied"`
	FinishReason        string         `json:"finish_reason,omitempty"`
	Provenance          *Provenance    `json:"provenance,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

// Failed 报告响应是否为失败项
func (r *GenerationResponse) Failed() bool {
	return r.Status == StatusFailed
}

// Provenance 生成溯源信息
type Provenance struct {
	GenerationID    string    `json:"generation_id"`
	Model           string    `json:"model"`
	Backend         string    `json:"backend"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	TokensPerSecond float64   `json:"tokens_per_second"`
	ConstraintHash  string    `json:"constraint_hash,omitempty"`
	CacheHit        bool      `json:"cache_hit"`
}

// NewFailedResponse 构造批量调用中的失败占位响应
func NewFailedResponse(message, errorType string) *GenerationResponse {
	return &GenerationResponse{
		Status: StatusFailed,
		Metadata: map[string]any{
			"error":      message,
			"error_type": errorType,
		},
	}
}

// =============================================================================
// 🧩 编译类型
// =============================================================================

// CompileRequest 编译诊断请求
type CompileRequest struct {
	Constraints []constraint.Spec `json:"constraints"`
}

// CompileResponse 编译诊断响应
type CompileResponse struct {
	Valid         bool       `json:"valid"`
	Hash          string     `json:"hash,omitempty"`
	CompiledAt    *time.Time `json:"compiled_at,omitempty"`
	SchemaPreview string     `json:"schema_preview,omitempty"`
	CacheHit      bool       `json:"cache_hit"`
	Error         string     `json:"error,omitempty"`
	ErrorType     string     `json:"error_type,omitempty"`
}

// =============================================================================
// 🏥 健康与缓存
// =============================================================================

// HealthResponse /health 响应
type HealthResponse struct {
	Status      string      `json:"status"` // "healthy" | "unhealthy"
	Model       string      `json:"model"`
	Backend     string      `json:"backend"`
	GPU         string      `json:"gpu"`
	ModelLoaded bool        `json:"model_loaded"`
	Cache       *CacheStats `json:"cache,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	Version     string      `json:"version,omitempty"`
}

// CacheStats 缓存统计
type CacheStats struct {
	Size      int    `json:"size"`
	Limit     int    `json:"limit"`
	Enabled   bool   `json:"enabled"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// ClearCacheResponse /cache/clear 响应
type ClearCacheResponse struct {
	Cleared int `json:"cleared"`
}

// =============================================================================
// ❌ 错误
// =============================================================================

// ErrorResponse 失败响应。error_type 是可编程分支的稳定字符串。
type ErrorResponse struct {
	Error       string `json:"error"`
	ErrorType   string `json:"error_type"`
	PartialText string `json:"partial_text,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}

// =============================================================================
// 📡 流式
// =============================================================================

// 流式帧类型
const (
	FrameToken = "token"
	FrameDone  = "done"
	FrameError = "error"
)

// StreamFrame WebSocket 流式帧
type StreamFrame struct {
	Type     string              `json:"type"`
	Index    int                 `json:"index,omitempty"`
	Text     string              `json:"text,omitempty"`
	Response *GenerationResponse `json:"response,omitempty"`
	Error    *ErrorResponse      `json:"error,omitempty"`
}
