/*
Package handlers 提供 ConstraintFlow HTTP API 的请求处理器。

# 核心类型

  - GenerateHandler — POST /generate（支持 Idempotency-Key）与 GET /provenance/{id}
  - StreamHandler   — GET /generate/stream，WebSocket 逐 token 推送
  - CompileHandler  — POST /compile、GET /cache/stats、POST /cache/clear
  - HealthHandler   — /health、/healthz、/ready、/version
  - ResponseWriter  — 包装 http.ResponseWriter 以捕获状态码与响应大小

所有 handler 只依赖 GenerationService 接口，由 *service.Service 实现。

# 错误响应

失败统一写出 api.ErrorResponse：

	{"error": "...", "error_type": "invalid_spec", "partial_text": "...", "request_id": "..."}

状态码取自 types.Error；/compile 例外，失败时返回 valid=false 的 api.CompileResponse。
*/
package handlers
