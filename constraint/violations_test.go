package constraint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/constraintflow/types"
)

func personSchema(t require.TestingT) *SchemaValidator {
	schema := NewObjectSchema().
		AddProperty("name", NewStringSchema()).
		AddProperty("age", NewIntegerSchema()).
		AddRequired("name", "age")
	spec, err := schema.ToSpec()
	require.NoError(t, err)
	v, err := CompileSchemaValidator(spec.Schema())
	require.NoError(t, err)
	return v
}

func TestSchemaValidator_MissingRequired(t *testing.T) {
	t.Parallel()

	v := personSchema(t)
	assert.NoError(t, v.Validate(`{"name": "Ann", "age": 31}`))

	err := v.Validate(`{"name": "Ann"}`)
	require.Error(t, err)
	var ve *ValidationErrors
	require.ErrorAs(t, err, &ve)
	require.NotEmpty(t, ve.Errors)
	assert.Contains(t, ve.Error(), "age")
}

func TestSchemaValidator_RejectsTrailingData(t *testing.T) {
	t.Parallel()

	v := personSchema(t)
	assert.Error(t, v.Validate(`{"name":"a","age":1} {}`))
	assert.Error(t, v.Validate(`{"name":"a","age":1`))
	assert.NoError(t, v.Validate("  {\"name\":\"a\",\"age\":1}\n"))
}

func TestSchemaValidator_FormatAsserted(t *testing.T) {
	t.Parallel()

	spec, err := NewStringSchema().WithFormat(FormatEmail).ToSpec()
	require.NoError(t, err)
	v, err := CompileSchemaValidator(spec.Schema())
	require.NoError(t, err)

	assert.NoError(t, v.Validate(`"ann@example.com"`))
	assert.Error(t, v.Validate(`"not an email"`))
}

func TestCompileSchemaValidator_InvalidSchema(t *testing.T) {
	t.Parallel()

	_, err := CompileSchemaValidator([]byte(`{"type": 12}`))
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidSpec, types.GetErrorCode(err))

	_, err = CompileSchemaValidator([]byte(`{"type":"string","pattern":"("}`))
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidSpec, types.GetErrorCode(err))
}

func TestPointerToPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", pointerToPath(""))
	assert.Equal(t, "name", pointerToPath("/name"))
	assert.Equal(t, "items[0].name", pointerToPath("/items/0/name"))
	assert.Equal(t, "a/b", pointerToPath("/a~1b"))
}

func TestProperty_SchemaValidator_TypeMismatchPath(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		field := rapid.StringMatching(`[a-z]{3,10}`).Draw(rt, "field")
		spec, err := NewObjectSchema().AddProperty(field, NewIntegerSchema()).ToSpec()
		require.NoError(rt, err)
		v, err := CompileSchemaValidator(spec.Schema())
		require.NoError(rt, err)

		violations := v.Violations(`{"` + field + `": "not_an_integer"}`)
		require.NotEmpty(rt, violations)
		assert.Equal(rt, field, violations[0].Path)
		assert.NotEmpty(rt, violations[0].Message)
	})
}

func TestSchema_Preview(t *testing.T) {
	t.Parallel()

	s := NewObjectSchema().
		AddProperty("name", NewStringSchema()).
		AddProperty("age", NewIntegerSchema()).
		AddRequired("name", "age")
	assert.Equal(t, "object{age:integer, name:string} required=[name age]", s.Preview())

	parsed, err := ParseSchema([]byte(`{"type":["string","null"],"maxLength":3}`))
	require.NoError(t, err)
	assert.True(t, parsed.Type.Has(TypeNull))
	assert.False(t, parsed.Type.Has(TypeObject))
	assert.Equal(t, 3, *parsed.MaxLength)

	never, err := ParseSchema([]byte(`false`))
	require.NoError(t, err)
	assert.True(t, never.Reject)
}

func TestSchema_ToSpecRoundTrip(t *testing.T) {
	t.Parallel()

	typed := NewObjectSchema().
		AddProperty("id", NewIntegerSchema().WithMinimum(1)).
		AddRequired("id")
	spec, err := typed.ToSpec()
	require.NoError(t, err)
	assert.Equal(t, KindJSONSchema, spec.Kind())
	require.NoError(t, spec.Validate())

	var back *Schema
	back, err = ParseSchema(spec.Schema())
	require.NoError(t, err)
	assert.True(t, back.IsRequired("id"))
	assert.Equal(t, 1.0, *back.Properties["id"].Minimum)
	assert.False(t, back.Closed())
}
