/*
包 engine 实现逐 token 的约束执行循环（Enforcement Engine）。

# 概述

每一步：检查 ctx（在 token 边界协作式取消）→ 向模型请求候选 →
用 Acceptor 掩码（EOS 仅在 CanStop 时放行）→ 采样 → 输出。
掩码为空时以 NO_VALID_CONTINUATION 失败并附带已生成的部分文本。

# 状态机

	Sampling → Emitting → Sampling … → Completed | Failed

完成条件：EOS、命中停止序列（文本截断到停止序列之前）或达到 max_tokens。
完成后调用 Validate 设置 ConstraintSatisfied；无约束运行跳过掩码并报告 true。

# 模型边界

Model 与 Vocabulary 是外部推理后端的边界。内置 UniformModel 对词表给出
平坦 logits，输出完全由约束塑形，便于无 GPU 环境运行服务。
词表可用 CharVocabulary（单字符 token）或 TiktokenVocabulary（BPE）。
*/
package engine
