package constraint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaResource = "constraint://schema.json"

// ParseError represents a validation error with field path.
type ParseError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors represents multiple validation errors.
type ValidationErrors struct {
	Errors []ParseError `json:"errors"`
}

// Error implements the error interface.
func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var msgs []string
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed with %d errors: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// SchemaValidator validates documents against one compiled JSON schema.
// Draft 2020-12 semantics with format assertions enabled.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// CompileSchemaValidator compiles raw into a validator. Schema errors are INVALID_SPEC.
func CompileSchemaValidator(raw []byte) (*SchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	if err := c.AddResource(schemaResource, bytes.NewReader(raw)); err != nil {
		return nil, invalid("add schema resource: " + err.Error()).WithCause(err)
	}
	sch, err := c.Compile(schemaResource)
	if err != nil {
		return nil, invalid("compile schema: " + err.Error()).WithCause(err)
	}
	return &SchemaValidator{schema: sch}, nil
}

// Validate checks that text holds exactly one JSON document conforming to the schema.
// The returned error is a *ValidationErrors listing every failing location.
func (v *SchemaValidator) Validate(text string) error {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return &ValidationErrors{
			Errors: []ParseError{{Path: "", Message: fmt.Sprintf("invalid JSON: %v", err)}},
		}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return &ValidationErrors{
			Errors: []ParseError{{Path: "", Message: "unexpected trailing data after JSON document"}},
		}
	}

	err := v.schema.Validate(value)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ValidationErrors{Errors: []ParseError{{Message: err.Error()}}}
	}
	out := &ValidationErrors{}
	collectLeaves(ve, &out.Errors)
	return out
}

// Violations is Validate flattened into a list; nil when text conforms.
func (v *SchemaValidator) Violations(text string) []ParseError {
	err := v.Validate(text)
	if err == nil {
		return nil
	}
	var ve *ValidationErrors
	if errors.As(err, &ve) {
		return ve.Errors
	}
	return []ParseError{{Message: err.Error()}}
}

func collectLeaves(e *jsonschema.ValidationError, out *[]ParseError) {
	if len(e.Causes) == 0 {
		*out = append(*out, ParseError{Path: pointerToPath(e.InstanceLocation), Message: e.Message})
		return
	}
	for _, c := range e.Causes {
		collectLeaves(c, out)
	}
}

// pointerToPath converts a JSON pointer ("/items/0/name") into a dotted path ("items[0].name").
func pointerToPath(ptr string) string {
	if ptr == "" || ptr == "/" {
		return ""
	}
	var b strings.Builder
	for _, seg := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		seg = strings.ReplaceAll(strings.ReplaceAll(seg, "~1", "/"), "~0", "~")
		if isIndex(seg) {
			b.WriteString("[" + seg + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteString(".")
		}
		b.WriteString(seg)
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
