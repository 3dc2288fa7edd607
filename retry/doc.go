// Package retry 提供指数退避重试。
//
// 第 n 次重试前等待 InitialDelay·Multiplier^(n-1)（上限 MaxDelay），抖动默认关闭。
// 被 Permanent 包装的错误立即返回；次数耗尽时返回 *ExhaustedError，
// 其中 Attempts 为实际尝试次数，errors.Unwrap 得到最后一次的错误。
package retry
