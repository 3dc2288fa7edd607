/*
Package testutil 提供 ConstraintFlow 测试的共享工具和辅助函数。

# 概述

testutil 包为 service、handlers 与 cmd 的测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / CancelledContext，自动注册 Cleanup 防止泄漏
  - 断言与等待: AssertErrorCode / AssertEventuallyTrue / WaitFor / WaitForChannel
  - 流式辅助: TokenRecorder 并发安全地收集引擎 Observer 输出的 token

# 子包

  - testutil/mocks: ScriptedModel（按目标文本偏好候选的推理后端）与
    Loader（可注入失败次数的模型加载器）
  - testutil/fixtures: 预置约束（人员 JSON Schema、函数定义正则、
    算术文法、前缀冲突组合）与生成请求样例

# 使用示例

	model := mocks.NewScriptedModel(`{"name":"Ann","age":3}`)
	loader := &mocks.Loader{Model: model}
	svc := service.New(cfg, service.WithModelLoader(loader.Load))
	resp, err := svc.Generate(testutil.TestContext(t), fixtures.GreedyRequest("p", 64, fixtures.PersonSchema()))
*/
package testutil
