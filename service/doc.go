/*
包 service 是生成服务边界：HTTP handlers 与 CLI 都通过它调用编译缓存与执行引擎。

# 一次生成的流程

 1. 校验请求并填入 config.GenerationConfig 的默认值（INVALID_REQUEST）
 2. 按配置的单次超时收紧调用方 ctx
 3. 经编译缓存取得接受器（INVALID_SPEC / UNSATISFIABLE 直接返回，不写缓存）
 4. 在有界 worker 池上懒加载模型（MODEL_UNAVAILABLE，下次调用重试）并执行引擎
 5. 组装带溯源信息的响应；成功与失败都尽力写入溯源存储

constraint_satisfied=false 是正常结果，违规路径写入 metadata["violations"]。

# 其他操作

  - Compile — 编译诊断，返回 hash、compiled_at、预览与缓存命中
  - GenerateStream — 逐 token 回调，供 WebSocket 流式接口使用
  - GenerateIdempotent — 按 Idempotency-Key 重放已完成的响应
  - CacheStats / ClearCache / Health / Provenance
*/
package service
