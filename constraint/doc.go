// Copyright 2026 ConstraintFlow Authors
// Use of this source code is governed by the project license.

/*
# 概述

包 constraint 定义生成约束（ConstraintSpec）的封闭标签联合类型，
以及约束的规范化字节、哈希与 JSON Schema 校验能力。

Spec 一经构造即不可变；JSON 反序列化阶段就拒绝未知的 type 与
combinator，而不是推迟到编译阶段。

# 主要类型

  - Spec — json_schema / regex / grammar / composite(and) 四种约束
  - Schema — 驱动逐 token 掩码的 Schema 子集的强类型视图
  - SchemaValidator — 基于 santhosh-tekuri/jsonschema 的全文档校验（draft 2020-12）
  - ParseError / ValidationErrors — 带字段路径的违规报告

# 规范化

CanonicalSet 对 Spec 列表生成确定性字节：Schema 对象键递归排序，
数字统一写法（"1.0" 与 "1" 等价），composite 的 parts 保持原顺序。
Hash 为其 SHA-256 十六进制串，作为编译缓存的键。

# 典型用法

	spec := constraint.Composite(
		constraint.Regex(`^\{.*`),
		constraint.JSONSchema(json.RawMessage(`{"type":"object"}`)),
	)
	key, _ := constraint.Hash([]constraint.Spec{spec})
*/
package constraint
