package constraint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CanonicalBytes returns the deterministic serialization of s.
// JSON schema object keys are sorted recursively and numbers are normalized,
// so schemas differing only in key order or number spelling ("1.0" vs "1")
// produce identical bytes. Composite parts keep their order.
func (s Spec) CanonicalBytes() ([]byte, error) {
	v, err := canonicalValue(s)
	if err != nil {
		return nil, err
	}
	return encodeCanonical(v)
}

// CanonicalSet serializes an ordered list of specs.
func CanonicalSet(specs []Spec) ([]byte, error) {
	vals := make([]any, 0, len(specs))
	for i, s := range specs {
		v, err := canonicalValue(s)
		if err != nil {
			return nil, fmt.Errorf("constraint %d: %w", i, err)
		}
		vals = append(vals, v)
	}
	return encodeCanonical(vals)
}

// Hash returns the lowercase hex SHA-256 of CanonicalSet(specs).
func Hash(specs []Spec) (string, error) {
	b, err := CanonicalSet(specs)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalValue(s Spec) (any, error) {
	switch s.kind {
	case KindJSONSchema:
		dec := json.NewDecoder(bytes.NewReader(s.schema))
		dec.UseNumber()
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return nil, invalid("malformed schema JSON").WithCause(err)
		}
		return map[string]any{"type": string(s.kind), "schema": normalize(raw)}, nil
	case KindRegex:
		return map[string]any{"type": string(s.kind), "pattern": s.pattern}, nil
	case KindGrammar:
		return map[string]any{"type": string(s.kind), "rules": s.rules}, nil
	case KindComposite:
		parts := make([]any, 0, len(s.parts))
		for _, p := range s.parts {
			v, err := canonicalValue(p)
			if err != nil {
				return nil, err
			}
			parts = append(parts, v)
		}
		return map[string]any{
			"type":       string(s.kind),
			"combinator": string(CombinatorAnd),
			"parts":      parts,
		}, nil
	default:
		return nil, invalid(fmt.Sprintf("cannot canonicalize spec of type %q", s.kind))
	}
}

// normalize rewrites numbers into one spelling per value. Maps are left to
// encoding/json, which already emits keys in sorted order.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case json.Number:
		return json.Number(canonicalNumber(string(x)))
	default:
		return v
	}
}

func canonicalNumber(s string) string {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) {
		return s
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	if strings.IndexAny(s, ".eE") < 0 {
		// 超出 float64 精度的大整数保留原文
		return strings.TrimPrefix(s, "+")
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func encodeCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
