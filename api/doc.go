// Package api 定义 ConstraintFlow HTTP 接口的请求/响应契约。
//
// # API 概览
//
//   - GET  /health            服务健康（模型、后端、GPU、缓存）
//   - POST /generate          约束生成，支持 Idempotency-Key 请求头
//   - GET  /generate/stream   WebSocket 流式生成
//   - POST /compile           编译诊断（hash、编译时间、Schema 预览）
//   - GET  /cache/stats       缓存统计
//   - POST /cache/clear       清空缓存
//   - GET  /provenance/{id}   查询生成溯源
//
// # 认证
//
// 配置了 API Key 时，请求需携带 X-API-Key 请求头；也可启用 JWT Bearer 认证。
//
// # 错误
//
// 所有失败都返回 {error, error_type}，error_type 取值见 types.ErrorCode（小写）。
package api
