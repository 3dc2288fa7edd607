package constraint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// SchemaType represents JSON Schema types.
type SchemaType string

const (
	TypeString  SchemaType = "string"
	TypeNumber  SchemaType = "number"
	TypeInteger SchemaType = "integer"
	TypeBoolean SchemaType = "boolean"
	TypeNull    SchemaType = "null"
	TypeObject  SchemaType = "object"
	TypeArray   SchemaType = "array"
)

// TypeSet is the "type" keyword, which may be a single name or a list.
type TypeSet []SchemaType

// Has reports whether t is allowed. An empty set allows everything.
func (ts TypeSet) Has(t SchemaType) bool {
	if len(ts) == 0 {
		return true
	}
	for _, x := range ts {
		if x == t || (t == TypeInteger && x == TypeNumber) {
			return true
		}
	}
	return false
}

// MarshalJSON implements json.Marshaler.
func (ts TypeSet) MarshalJSON() ([]byte, error) {
	if len(ts) == 1 {
		return json.Marshal(string(ts[0]))
	}
	return json.Marshal([]SchemaType(ts))
}

// UnmarshalJSON implements json.Unmarshaler.
func (ts *TypeSet) UnmarshalJSON(data []byte) error {
	var one SchemaType
	if err := json.Unmarshal(data, &one); err == nil {
		*ts = TypeSet{one}
		return nil
	}
	var many []SchemaType
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("type must be a string or an array of strings")
	}
	*ts = many
	return nil
}

// StringFormat represents common string format constraints.
type StringFormat string

const (
	FormatDateTime StringFormat = "date-time"
	FormatDate     StringFormat = "date"
	FormatTime     StringFormat = "time"
	FormatEmail    StringFormat = "email"
	FormatURI      StringFormat = "uri"
	FormatUUID     StringFormat = "uuid"
	FormatHostname StringFormat = "hostname"
	FormatIPv4     StringFormat = "ipv4"
	FormatIPv6     StringFormat = "ipv6"
)

// formatPatterns 是各 format 的完整匹配正则（不含锚点），
// 用于逐 token 掩码；最终校验仍以 jsonschema 的 format 断言为准。
var formatPatterns = map[StringFormat]string{
	FormatEmail:    `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`,
	FormatURI:      `[a-zA-Z][a-zA-Z0-9+.-]*:[^\s]*`,
	FormatUUID:     `[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`,
	FormatDateTime: `\d{4}-\d{2}-\d{2}[Tt]\d{2}:\d{2}:\d{2}(\.\d+)?([Zz]|[+-]\d{2}:\d{2})`,
	FormatDate:     `\d{4}-\d{2}-\d{2}`,
	FormatTime:     `\d{2}:\d{2}:\d{2}(\.\d+)?([Zz]|[+-]\d{2}:\d{2})`,
	FormatIPv4:     `((25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)`,
	FormatIPv6:     `[0-9a-fA-F:.]{2,45}`,
	FormatHostname: `[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*`,
}

// FormatPattern returns the unanchored full-match pattern for a format.
func FormatPattern(f StringFormat) (string, bool) {
	p, ok := formatPatterns[f]
	return p, ok
}

// Schema is the typed view of the schema subset that drives token masking.
// Keywords outside the subset are preserved only by the raw schema and enforced
// by full-document validation.
type Schema struct {
	Schema      string `json:"$schema,omitempty"`
	Ref         string `json:"$ref,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	Type TypeSet `json:"type,omitempty"`

	// Object properties
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Required             []string               `json:"required,omitempty"`
	AdditionalProperties *AdditionalProperties  `json:"additionalProperties,omitempty"`
	PatternProperties    map[string]*Schema `json:"patternProperties,omitempty"`

	// Array items
	Items       *Schema   `json:"items,omitempty"`
	PrefixItems []*Schema `json:"prefixItems,omitempty"`
	MinItems    *int          `json:"minItems,omitempty"`
	MaxItems    *int          `json:"maxItems,omitempty"`

	// Enum and const; Const keeps its raw form so that "const": null is distinguishable.
	Enum  []any           `json:"enum,omitempty"`
	Const json.RawMessage `json:"const,omitempty"`

	// String constraints
	MinLength *int         `json:"minLength,omitempty"`
	MaxLength *int         `json:"maxLength,omitempty"`
	Pattern   string       `json:"pattern,omitempty"`
	Format    StringFormat `json:"format,omitempty"`

	// Numeric constraints
	Minimum          *float64 `json:"minimum,omitempty"`
	Maximum          *float64 `json:"maximum,omitempty"`
	ExclusiveMinimum *float64 `json:"exclusiveMinimum,omitempty"`
	ExclusiveMaximum *float64 `json:"exclusiveMaximum,omitempty"`
	MultipleOf       *float64 `json:"multipleOf,omitempty"`

	// Composition keywords
	AllOf []*Schema `json:"allOf,omitempty"`
	AnyOf []*Schema `json:"anyOf,omitempty"`
	OneOf []*Schema `json:"oneOf,omitempty"`
	Not   *Schema   `json:"not,omitempty"`
	If    *Schema   `json:"if,omitempty"`

	Defs map[string]*Schema `json:"$defs,omitempty"`

	// Reject is set for the boolean schema false.
	Reject bool `json:"-"`
}

// UnmarshalJSON implements json.Unmarshaler; boolean schemas are accepted.
func (s *Schema) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true":
		*s = Schema{}
		return nil
	case "false":
		*s = Schema{Reject: true}
		return nil
	}
	type alias Schema
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = Schema(a)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s Schema) MarshalJSON() ([]byte, error) {
	if s.Reject {
		return []byte("false"), nil
	}
	type alias Schema
	return json.Marshal(alias(s))
}

// AdditionalProperties represents the additionalProperties field which can be
// either a boolean or a schema.
type AdditionalProperties struct {
	Allowed bool
	Schema  *Schema
}

// MarshalJSON implements json.Marshaler for AdditionalProperties.
func (ap *AdditionalProperties) MarshalJSON() ([]byte, error) {
	if ap == nil {
		return json.Marshal(nil)
	}
	if ap.Schema != nil {
		return json.Marshal(ap.Schema)
	}
	return json.Marshal(ap.Allowed)
}

// UnmarshalJSON implements json.Unmarshaler for AdditionalProperties.
func (ap *AdditionalProperties) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		ap.Allowed = b
		ap.Schema = nil
		return nil
	}

	var schema Schema
	if err := json.Unmarshal(data, &schema); err == nil {
		ap.Allowed = true
		ap.Schema = &schema
		return nil
	}

	return fmt.Errorf("additionalProperties must be boolean or schema")
}

// ParseSchema decodes a raw schema document.
func ParseSchema(raw []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	return &s, nil
}

// ===== 🏗️ 构建器 =====

// NewSchema creates a new Schema with the specified type.
func NewSchema(t SchemaType) *Schema {
	return &Schema{Type: TypeSet{t}}
}

// NewObjectSchema creates an object schema with an empty property map.
func NewObjectSchema() *Schema {
	return &Schema{
		Type:       TypeSet{TypeObject},
		Properties: make(map[string]*Schema),
	}
}

// NewArraySchema creates an array schema with the given item schema.
func NewArraySchema(items *Schema) *Schema {
	return &Schema{Type: TypeSet{TypeArray}, Items: items}
}

func NewStringSchema() *Schema  { return NewSchema(TypeString) }
func NewNumberSchema() *Schema  { return NewSchema(TypeNumber) }
func NewIntegerSchema() *Schema { return NewSchema(TypeInteger) }
func NewBooleanSchema() *Schema { return NewSchema(TypeBoolean) }

// NewEnumSchema creates a schema restricted to the given values.
func NewEnumSchema(values ...any) *Schema {
	return &Schema{Enum: values}
}

// AddProperty adds a property to an object schema.
func (s *Schema) AddProperty(name string, prop *Schema) *Schema {
	if s.Properties == nil {
		s.Properties = make(map[string]*Schema)
	}
	s.Properties[name] = prop
	return s
}

// AddRequired marks properties as required.
func (s *Schema) AddRequired(names ...string) *Schema {
	s.Required = append(s.Required, names...)
	return s
}

func (s *Schema) WithMinLength(n int) *Schema { s.MinLength = &n; return s }
func (s *Schema) WithMaxLength(n int) *Schema { s.MaxLength = &n; return s }
func (s *Schema) WithMinItems(n int) *Schema  { s.MinItems = &n; return s }
func (s *Schema) WithMaxItems(n int) *Schema  { s.MaxItems = &n; return s }

func (s *Schema) WithPattern(p string) *Schema {
	s.Pattern = p
	return s
}

func (s *Schema) WithFormat(f StringFormat) *Schema {
	s.Format = f
	return s
}

func (s *Schema) WithMinimum(v float64) *Schema { s.Minimum = &v; return s }
func (s *Schema) WithMaximum(v float64) *Schema { s.Maximum = &v; return s }

func (s *Schema) WithEnum(values ...any) *Schema {
	s.Enum = values
	return s
}

// WithAdditionalProperties sets whether undeclared properties are allowed.
func (s *Schema) WithAdditionalProperties(allowed bool) *Schema {
	s.AdditionalProperties = &AdditionalProperties{Allowed: allowed}
	return s
}

// IsRequired checks if a property is required.
func (s *Schema) IsRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// Closed reports whether undeclared properties are forbidden.
func (s *Schema) Closed() bool {
	if s.AdditionalProperties == nil {
		return false
	}
	return !s.AdditionalProperties.Allowed && s.AdditionalProperties.Schema == nil
}

// ToSpec wraps the schema into a json_schema Spec.
func (s *Schema) ToSpec() (Spec, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return Spec{}, fmt.Errorf("marshal schema: %w", err)
	}
	return JSONSchema(raw), nil
}

// Preview renders a compact one-line outline, e.g.
// object{age:integer, name:string} required=[name age].
func (s *Schema) Preview() string {
	var b strings.Builder
	s.preview(&b, 0)
	return b.String()
}

func (s *Schema) preview(b *strings.Builder, depth int) {
	if s == nil {
		b.WriteString("any")
		return
	}
	if s.Reject {
		b.WriteString("never")
		return
	}
	if depth > 3 {
		b.WriteString("...")
		return
	}
	if len(s.Enum) > 0 {
		fmt.Fprintf(b, "enum%v", s.Enum)
		return
	}
	name := "any"
	if len(s.Type) > 0 {
		parts := make([]string, len(s.Type))
		for i, t := range s.Type {
			parts[i] = string(t)
		}
		name = strings.Join(parts, "|")
	}
	b.WriteString(name)

	switch {
	case len(s.Properties) > 0:
		keys := make([]string, 0, len(s.Properties))
		for k := range s.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("{")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k)
			b.WriteString(":")
			s.Properties[k].preview(b, depth+1)
		}
		b.WriteString("}")
		if len(s.Required) > 0 {
			fmt.Fprintf(b, " required=%v", s.Required)
		}
	case s.Items != nil:
		b.WriteString("[")
		s.Items.preview(b, depth+1)
		b.WriteString("]")
	case s.Pattern != "":
		fmt.Fprintf(b, "(/%s/)", s.Pattern)
	case s.Format != "":
		fmt.Fprintf(b, "(%s)", s.Format)
	}
}
