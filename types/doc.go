// Copyright (c) ConstraintFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 ConstraintFlow 的全局共享错误类型。

# 概述

types 是最底层的公共包，不依赖任何内部包。constraint、compiler、engine、
service、api 与 client 通过同一套错误码沟通失败原因，HTTP 层据此映射状态码。

# 错误码

  - INVALID_REQUEST        — 请求格式或参数不合法（400）
  - INVALID_SPEC           — 约束本身不合法：正则/文法/Schema 解析失败（400）
  - UNSATISFIABLE          — 约束合法但不可能同时满足（422）
  - NO_VALID_CONTINUATION  — 生成过程中没有任何 token 能满足约束（422）
  - TIMEOUT                — 生成超时（504）
  - MODEL_UNAVAILABLE      — 推理后端未加载或加载失败（503）
  - RATE_LIMITED           — 限流（429）
  - UNAUTHORIZED           — 鉴权失败（401）
  - NOT_FOUND              — 溯源记录不存在（404）
  - INTERNAL_ERROR         — 其他内部错误（500）

# 核心类型

  - Error：携带 Code、Message、HTTPStatus、Retryable、PartialText 与 Cause，
    支持 errors.Is / errors.As 链式判断。
  - NewError / Errorf 构造，WithCause / WithHTTPStatus / WithRetryable /
    WithPartialText 链式补充上下文。
  - AsError / IsRetryable / GetErrorCode / ToError 辅助从任意 error 提取信息。

# 使用示例

	err := types.NewError(types.ErrUnsatisfiable, "regex prefixes conflict").
		WithPartialText("A")
	if types.GetErrorCode(err) == types.ErrUnsatisfiable {
		// ...
	}
*/
package types
