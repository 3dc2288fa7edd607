/*
包 client 是 ConstraintFlow 服务的 Go 客户端。

# 重试与超时

每次尝试受 Config.Timeout 约束。HTTP 429/500/502/503/504、连接错误与单次超时
视为瞬时失败，按指数退避（BaseDelay·2^(n-1)，上限 MaxDelay）最多重试
MaxRetries 次；其余 4xx 与无法解析的响应体立即失败。错误统一为 *Error，
Kind 取 transient / permanent / timeout。

# 批量

GenerateBatch 在 Concurrency <= 1 时顺序执行，否则用 errgroup 限流并发；
单项失败替换为 Status=failed 的占位响应，不影响其余请求，结果保持输入顺序。
*/
package client
