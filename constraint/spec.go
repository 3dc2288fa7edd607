package constraint

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/constraintflow/types"
)

// Kind identifies the variant of a Spec.
type Kind string

const (
	KindJSONSchema Kind = "json_schema"
	KindRegex      Kind = "regex"
	KindGrammar    Kind = "grammar"
	KindComposite  Kind = "composite"
)

// Combinator joins the parts of a composite spec. Only AND exists.
type Combinator string

const CombinatorAnd Combinator = "and"

// Spec is an immutable generation constraint.
// Construct it with JSONSchema, Regex, Grammar or Composite, or decode it from JSON.
type Spec struct {
	kind    Kind
	schema  json.RawMessage
	pattern string
	rules   string
	parts   []Spec
}

// JSONSchema returns a json_schema spec. The raw schema is copied.
func JSONSchema(schema json.RawMessage) Spec {
	return Spec{kind: KindJSONSchema, schema: bytes.Clone(schema)}
}

// Regex returns a regex spec; the full output must match pattern.
func Regex(pattern string) Spec {
	return Spec{kind: KindRegex, pattern: pattern}
}

// Grammar returns a grammar spec over the given rule set.
func Grammar(rules string) Spec {
	return Spec{kind: KindGrammar, rules: rules}
}

// Composite returns the conjunction of parts.
func Composite(parts ...Spec) Spec {
	return Spec{kind: KindComposite, parts: append([]Spec(nil), parts...)}
}

func (s Spec) Kind() Kind { return s.kind }

// Schema returns a copy of the raw JSON schema.
func (s Spec) Schema() json.RawMessage { return bytes.Clone(s.schema) }

func (s Spec) Pattern() string { return s.pattern }

func (s Spec) Rules() string { return s.rules }

// Parts returns a copy of the composite parts.
func (s Spec) Parts() []Spec { return append([]Spec(nil), s.parts...) }

func (s Spec) Combinator() Combinator {
	if s.kind == KindComposite {
		return CombinatorAnd
	}
	return ""
}

// Validate checks the structural shape of the spec. It does not compile anything.
func (s Spec) Validate() error {
	switch s.kind {
	case KindJSONSchema:
		if len(bytes.TrimSpace(s.schema)) == 0 {
			return invalid("json_schema spec requires a schema")
		}
		if !json.Valid(s.schema) {
			return invalid("json_schema spec carries malformed JSON")
		}
		switch bytes.TrimSpace(s.schema)[0] {
		case '{', 't', 'f':
		default:
			return invalid("schema must be an object or a boolean")
		}
	case KindRegex, KindGrammar:
	case KindComposite:
		if len(s.parts) == 0 {
			return invalid("composite spec requires at least one part")
		}
		for i, p := range s.parts {
			if err := p.Validate(); err != nil {
				return invalid(fmt.Sprintf("composite part %d: %s", i, messageOf(err)))
			}
		}
	case "":
		return invalid("spec type is required")
	default:
		return invalid(fmt.Sprintf("unknown spec type %q", s.kind))
	}
	return nil
}

// String renders a short human-readable description.
func (s Spec) String() string {
	switch s.kind {
	case KindJSONSchema:
		return "json_schema(" + truncate(string(s.schema), 48) + ")"
	case KindRegex:
		return fmt.Sprintf("regex(%q)", s.pattern)
	case KindGrammar:
		return fmt.Sprintf("grammar(%d bytes)", len(s.rules))
	case KindComposite:
		return fmt.Sprintf("composite(and, %d parts)", len(s.parts))
	default:
		return "invalid"
	}
}

// ===== 🔌 JSON 线格式 =====

type wireSpec struct {
	Type       Kind            `json:"type"`
	Schema     json.RawMessage `json:"schema,omitempty"`
	Pattern    *string         `json:"pattern,omitempty"`
	Rules      *string         `json:"rules,omitempty"`
	Parts      []Spec          `json:"parts,omitempty"`
	Combinator Combinator      `json:"combinator,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (s Spec) MarshalJSON() ([]byte, error) {
	w := wireSpec{Type: s.kind}
	switch s.kind {
	case KindJSONSchema:
		w.Schema = s.schema
	case KindRegex:
		w.Pattern = &s.pattern
	case KindGrammar:
		w.Rules = &s.rules
	case KindComposite:
		w.Parts = s.parts
		w.Combinator = CombinatorAnd
	default:
		return nil, invalid(fmt.Sprintf("cannot marshal spec of type %q", s.kind))
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
// Unknown types, missing payloads and unknown combinators are rejected here.
func (s *Spec) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w wireSpec
	if err := dec.Decode(&w); err != nil {
		if _, ok := types.AsError(err); ok {
			return err
		}
		return invalid("malformed constraint: " + err.Error()).WithCause(err)
	}

	var out Spec
	switch w.Type {
	case KindJSONSchema:
		if w.Schema == nil {
			return invalid("json_schema spec requires \"schema\"")
		}
		out = JSONSchema(w.Schema)
	case KindRegex:
		if w.Pattern == nil {
			return invalid("regex spec requires \"pattern\"")
		}
		out = Regex(*w.Pattern)
	case KindGrammar:
		if w.Rules == nil {
			return invalid("grammar spec requires \"rules\"")
		}
		out = Grammar(*w.Rules)
	case KindComposite:
		if w.Combinator != "" && w.Combinator != CombinatorAnd {
			return invalid(fmt.Sprintf("unsupported combinator %q", w.Combinator))
		}
		out = Composite(w.Parts...)
	case "":
		return invalid("constraint \"type\" is required")
	default:
		return invalid(fmt.Sprintf("unknown constraint type %q", w.Type))
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*s = out
	return nil
}

func invalid(msg string) *types.Error {
	return types.NewError(types.ErrInvalidSpec, msg)
}

func messageOf(err error) string {
	if e, ok := types.AsError(err); ok {
		return e.Message
	}
	return err.Error()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
