/*
# 概述

包 compiler 把 constraint.Spec 编译为 Acceptor（接受器），供采样循环逐 token
查询允许的续写，并在生成结束后做全文校验。

# 各类约束的编译方式

  - regex — regexp/syntax 解析为 Prog 后惰性确定化（子集构造，状态表带上限）；
    AllowedNext 精确对应"仍有路径可达 Match"，Validate 为全串匹配
  - json_schema — 双重编译：santhosh-tekuri/jsonschema 作为真值校验器，
    Schema 子集编译为下推式遍历器做逐 token 掩码（必填键、闭合对象、
    数值上下界、字符串长度/pattern/format、数组长度）
  - grammar — GBNF 风格规则降级为 BNF，用 Earley 识别器（含可空修正）
  - composite — 各部分独立编译后取交集；强制前缀冲突时报 UNSATISFIABLE

# 精度约定

JSON Schema 的掩码是保守的过近似：组合关键字（allOf/anyOf/oneOf/not/if/$ref）
不参与掩码，因此生成可能在掩码下完成却未通过 Validate。Validate 始终是真值。

# 典型用法

	acc, err := compiler.Compile([]constraint.Spec{constraint.Regex(`^def \w+\(.*\):.*`)})
	if err != nil { ... }
	allowed := acc.AllowedNext("def ad")
	allowed("d(")  // true
*/
package compiler
