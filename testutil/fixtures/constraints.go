// Package fixtures 提供测试用的约束与请求样例。
package fixtures

import (
	"encoding/json"

	"github.com/BaSui01/constraintflow/api"
	"github.com/BaSui01/constraintflow/constraint"
)

// --- 约束样例 ---

// PersonSchemaJSON {name: string, age: integer}，两者必填
const PersonSchemaJSON = `{
  "type": "object",
  "properties": {
    "name": {"type": "string"},
    "age": {"type": "integer"}
  },
  "required": ["name", "age"]
}`

// FunctionPattern 匹配单行 Python 函数定义
const FunctionPattern = `^def \w+\(.*\):.*`

// ArithmeticGrammar 个位数加减表达式
const ArithmeticGrammar = `
expr   ::= term (("+" | "-") term)*
term   ::= [0-9]
`

// PersonSchema 返回 PersonSchemaJSON 对应的约束
func PersonSchema() constraint.Spec {
	return constraint.JSONSchema(json.RawMessage(PersonSchemaJSON))
}

// FunctionRegex 返回 FunctionPattern 对应的约束
func FunctionRegex() constraint.Spec {
	return constraint.Regex(FunctionPattern)
}

// Arithmetic 返回 ArithmeticGrammar 对应的约束
func Arithmetic() constraint.Spec {
	return constraint.Grammar(ArithmeticGrammar)
}

// ConflictingPrefixes 两个前缀冲突的正则组合，编译结果为 UNSATISFIABLE
func ConflictingPrefixes() constraint.Spec {
	return constraint.Composite(constraint.Regex("^A.*"), constraint.Regex("^B.*"))
}

// DigitsRegex 固定长度数字串
func DigitsRegex() constraint.Spec {
	return constraint.Regex(`^[0-9]{3}$`)
}

// --- 请求样例 ---

// GenerationRequest 构造一个带约束的生成请求；采样参数使用服务端默认值
func GenerationRequest(prompt string, specs ...constraint.Spec) *api.GenerationRequest {
	return &api.GenerationRequest{
		Prompt:      prompt,
		Constraints: specs,
	}
}

// GreedyRequest 构造 temperature=0 的请求，结果只取决于模型与约束
func GreedyRequest(prompt string, maxTokens int, specs ...constraint.Spec) *api.GenerationRequest {
	temp := 0.0
	return &api.GenerationRequest{
		Prompt:      prompt,
		Constraints: specs,
		MaxTokens:   maxTokens,
		Temperature: &temp,
	}
}
