package compiler

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/BaSui01/constraintflow/constraint"
)

// Type bits of a schema node.
const (
	tObject uint8 = 1 << iota
	tArray
	tString
	tNumber
	tInteger
	tBoolean
	tNull

	tAll = tObject | tArray | tString | tNumber | tInteger | tBoolean | tNull
)

// jnode is a schema compiled for masking.
type jnode struct {
	never bool
	types uint8

	// literals restricts the value to one of these JSON texts (scalar enum/const).
	literals []string

	// object
	props      map[string]*jnode
	propNames  []string
	required   []string
	closed     bool
	additional *jnode

	// array
	prefixItems []*jnode
	items       *jnode
	minItems    int
	maxItems    int // -1 unbounded

	// string
	minLen  int
	maxLen  int // -1 unbounded
	strEnum []string
	pattern *regexMachine
	format  *regexMachine

	// number
	min, max         *float64
	exclMin, exclMax *float64
}

var anyNode = &jnode{types: tAll, maxItems: -1, maxLen: -1}

// jsonMachine masks with the node tree and validates with the full schema.
type jsonMachine struct {
	root      *jnode
	validator *constraint.SchemaValidator
}

func compileJSONSchema(raw []byte, maxStates int) (*jsonMachine, error) {
	v, err := constraint.CompileSchemaValidator(raw)
	if err != nil {
		return nil, err
	}
	root := anyNode
	// 类型化视图解析失败时退化为无约束掩码，校验仍由 validator 负责
	if schema, perr := constraint.ParseSchema(raw); perr == nil {
		b := &nodeBuilder{maxStates: maxStates}
		root = b.build(schema, 0)
	}
	return &jsonMachine{root: root, validator: v}, nil
}

func (m *jsonMachine) validate(text string) bool {
	return m.validator.Validate(text) == nil
}

func (m *jsonMachine) deadAtStart() bool {
	return m.root.never
}

type nodeBuilder struct {
	maxStates int
}

const maxSchemaDepth = 32

func (b *nodeBuilder) build(s *constraint.Schema, depth int) *jnode {
	if s == nil || depth > maxSchemaDepth {
		return anyNode
	}
	if s.Reject {
		return &jnode{never: true}
	}
	// 组合与引用关键字不参与掩码
	if s.Ref != "" || len(s.AllOf) > 0 || len(s.AnyOf) > 0 || len(s.OneOf) > 0 || s.Not != nil || s.If != nil {
		return anyNode
	}

	n := &jnode{types: typeBits(s.Type), minItems: 0, maxItems: -1, maxLen: -1}

	if len(s.Const) > 0 {
		if lit, ok := scalarLiteral(s.Const); ok {
			n.literals = []string{lit}
			return n
		}
		return anyNode
	}
	if len(s.Enum) > 0 {
		if b.applyEnum(n, s.Enum) {
			return n
		}
		return anyNode
	}

	// object
	if n.types&tObject != 0 {
		n.props = make(map[string]*jnode, len(s.Properties))
		for name, ps := range s.Properties {
			n.props[name] = b.build(ps, depth+1)
			n.propNames = append(n.propNames, name)
		}
		sort.Strings(n.propNames)
		n.required = append([]string(nil), s.Required...)
		if ap := s.AdditionalProperties; ap != nil {
			switch {
			case ap.Schema != nil:
				n.additional = b.build(ap.Schema, depth+1)
			case !ap.Allowed:
				n.closed = true
			}
		}
		if len(s.PatternProperties) > 0 {
			// patternProperties 使键集合无法静态枚举
			n.closed = false
			n.additional = anyNode
		}
	}

	// array
	if n.types&tArray != 0 {
		for _, ps := range s.PrefixItems {
			n.prefixItems = append(n.prefixItems, b.build(ps, depth+1))
		}
		if s.Items != nil {
			n.items = b.build(s.Items, depth+1)
		} else {
			n.items = anyNode
		}
		if s.MinItems != nil {
			n.minItems = *s.MinItems
		}
		if s.MaxItems != nil {
			n.maxItems = *s.MaxItems
		}
		if n.items.never && (n.maxItems < 0 || n.maxItems > len(n.prefixItems)) {
			n.maxItems = len(n.prefixItems)
		}
	}

	// string
	if n.types&tString != 0 {
		if s.MinLength != nil {
			n.minLen = *s.MinLength
		}
		if s.MaxLength != nil {
			n.maxLen = *s.MaxLength
		}
		if s.Pattern != "" {
			if m, err := compileRegex(`(?s:.*)(?:`+s.Pattern+`)(?s:.*)`, b.maxStates); err == nil {
				n.pattern = m
			}
		}
		if p, ok := constraint.FormatPattern(s.Format); ok {
			if m, err := compileRegex(`^(?:`+p+`)$`, b.maxStates); err == nil {
				n.format = m
			}
		}
	}

	// number
	if n.types&(tNumber|tInteger) != 0 {
		n.min, n.max = s.Minimum, s.Maximum
		n.exclMin, n.exclMax = s.ExclusiveMinimum, s.ExclusiveMaximum
	}
	return n
}

// applyEnum restricts n to the enum members. Non-scalar members disable masking.
func (b *nodeBuilder) applyEnum(n *jnode, enum []any) bool {
	allStrings := true
	lits := make([]string, 0, len(enum))
	for _, v := range enum {
		if _, ok := v.(string); !ok {
			allStrings = false
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return false
		}
		lit, ok := scalarLiteral(raw)
		if !ok {
			return false
		}
		lits = append(lits, lit)
	}
	if allStrings {
		n.types = tString
		n.minLen, n.maxLen = 0, -1
		for _, v := range enum {
			n.strEnum = append(n.strEnum, v.(string))
		}
		return true
	}
	n.literals = lits
	return true
}

// scalarLiteral renders a scalar JSON value compactly. Objects and arrays are rejected.
func scalarLiteral(raw json.RawMessage) (string, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", false
	}
	switch v.(type) {
	case map[string]any, []any:
		return "", false
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", false
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), true
}

func typeBits(ts constraint.TypeSet) uint8 {
	if len(ts) == 0 {
		return tAll
	}
	var bits uint8
	for _, t := range ts {
		switch t {
		case constraint.TypeObject:
			bits |= tObject
		case constraint.TypeArray:
			bits |= tArray
		case constraint.TypeString:
			bits |= tString
		case constraint.TypeNumber:
			bits |= tNumber | tInteger
		case constraint.TypeInteger:
			bits |= tInteger
		case constraint.TypeBoolean:
			bits |= tBoolean
		case constraint.TypeNull:
			bits |= tNull
		}
	}
	return bits
}

// integerOnly reports whether only integral numbers are accepted.
func (n *jnode) integerOnly() bool {
	return n.types&tInteger != 0 && n.types&tNumber == 0
}

func (n *jnode) bounded() bool {
	return n.min != nil || n.max != nil || n.exclMin != nil || n.exclMax != nil
}

// valueSchema returns the node governing property key.
func (n *jnode) valueSchema(key string) *jnode {
	if p, ok := n.props[key]; ok {
		return p
	}
	if n.additional != nil {
		return n.additional
	}
	return anyNode
}

// itemSchema returns the node governing array index i.
func (n *jnode) itemSchema(i int) *jnode {
	if i < len(n.prefixItems) {
		return n.prefixItems[i]
	}
	if n.items != nil {
		return n.items
	}
	return anyNode
}

// keyCandidates lists keys a closed object may still accept.
func (n *jnode) keyCandidates(seen []string) []string {
	var out []string
	for _, k := range n.propNames {
		if n.props[k].never || contains(seen, k) {
			continue
		}
		out = append(out, k)
	}
	return out
}

func (n *jnode) moreKeysPossible(seen []string) bool {
	if !n.closed {
		return true
	}
	return len(n.keyCandidates(seen)) > 0
}

func (n *jnode) requiredSatisfied(seen []string) bool {
	for _, r := range n.required {
		if !contains(seen, r) {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
