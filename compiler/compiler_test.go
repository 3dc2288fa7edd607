package compiler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/constraintflow/constraint"
	"github.com/BaSui01/constraintflow/types"
)

func TestCompiler_NoSpecsIsUnconstrained(t *testing.T) {
	t.Parallel()

	acc := mustCompile(t)
	assert.True(t, acc.Validate(""))
	assert.True(t, acc.Validate("anything at all"))
	assert.True(t, acc.AllowedNext("x")("y"))
	assert.True(t, acc.CanStop(""))
}

func TestCompiler_Deterministic(t *testing.T) {
	t.Parallel()

	c := New(WithLogger(zaptest.NewLogger(t)), WithMaxDFAStates(64))
	specs := []constraint.Spec{
		constraint.JSONSchema(json.RawMessage(personSchema)),
		constraint.Regex(`\{.*\}`),
	}
	a1, err := c.Compile(specs)
	require.NoError(t, err)
	a2, err := c.Compile(specs)
	require.NoError(t, err)

	for _, text := range []string{
		`{"name": "Ann", "age": 31}`,
		`{"name": "Ann"}`,
		`[]`,
		``,
	} {
		assert.Equal(t, a1.Validate(text), a2.Validate(text), text)
		assert.Equal(t, a1.CanStop(text), a2.CanStop(text), text)
	}
}

func TestCompiler_RejectsMalformedSpec(t *testing.T) {
	t.Parallel()

	_, err := Compile([]constraint.Spec{{}})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidSpec, types.GetErrorCode(err))
	assert.False(t, types.IsRetryable(err))
}

func TestCompiler_Violations(t *testing.T) {
	t.Parallel()

	re := mustCompile(t, constraint.Regex(`a+`)).(Explainer)
	assert.Empty(t, re.Violations("aa"))
	v := re.Violations("ab")
	require.Len(t, v, 1)
	assert.Contains(t, v[0].Message, "a+")

	g := mustCompile(t, constraint.Grammar(`root ::= "x"`)).(Explainer)
	assert.Empty(t, g.Violations("x"))
	assert.Len(t, g.Violations("y"), 1)
}

func TestCompiler_Kind(t *testing.T) {
	t.Parallel()

	acc := mustCompile(t, constraint.Regex(`a`))
	k, ok := acc.(interface{ Kind() constraint.Kind })
	require.True(t, ok)
	assert.Equal(t, constraint.KindRegex, k.Kind())
}

func TestPreview(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "regex /a+/", Preview([]constraint.Spec{constraint.Regex(`a+`)}))
	assert.Equal(t, "grammar(start=root, rules=2)",
		Preview([]constraint.Spec{constraint.Grammar("x ::= \"a\"\nroot ::= x")}))
	assert.Equal(t, "and(regex /a/; regex /b/)",
		Preview([]constraint.Spec{constraint.Regex(`a`), constraint.Regex(`b`)}))
}

func TestCursor_ZeroValue(t *testing.T) {
	t.Parallel()

	var c Cursor
	assert.False(t, c.Valid())
	assert.False(t, c.Accepting())
	assert.False(t, c.Allows("a"))

	acc := mustCompile(t, constraint.Regex(`ab`))
	cur, ok := acc.Begin().Feed("a")
	require.True(t, ok)
	assert.True(t, cur.Valid())
	assert.False(t, cur.Accepting())
	next, ok := cur.Feed("b")
	require.True(t, ok)
	assert.True(t, next.Accepting())
	// 原游标不受影响
	assert.False(t, cur.Accepting())
}
