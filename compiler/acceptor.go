package compiler

import (
	"github.com/BaSui01/constraintflow/constraint"
)

// TokenFilter reports whether a candidate token's text may be appended next.
type TokenFilter func(piece string) bool

// Acceptor is a compiled constraint.
//
// Acceptors hold no per-generation state: position is threaded through the
// partial output (or through an immutable Cursor), so one Acceptor may serve
// any number of concurrent generations.
//
// Masking is a conservative over-approximation for JSON schemas: AllowedNext may
// admit sequences that Validate later rejects (cross-field keywords such as
// allOf/oneOf are not masked). Validate is the ground truth.
//
// Number spellings are the one place the mask is narrower than Validate.
// Bounded numbers are masked without exponents, and integers without nonzero
// fraction digits or negative exponents, so "1.0", "1e2" and "-1e10" pass as
// integers while "2.50e1" and "100e-2" are only reachable through Validate.
type Acceptor interface {
	// Begin returns the cursor positioned at the empty output.
	Begin() Cursor
	// AllowedNext returns the predicate over token text given the output so far.
	AllowedNext(partial string) TokenFilter
	// CanStop reports whether partial is a complete acceptable output.
	CanStop(partial string) bool
	// Validate performs the full-output check.
	Validate(text string) bool
}

// Explainer is implemented by acceptors that can describe why text failed.
type Explainer interface {
	Violations(text string) []constraint.ParseError
}

// cursor is the internal immutable position of a machine.
type cursor interface {
	step(r rune) (cursor, bool)
	accepting() bool
}

// machine is the internal recognizer behind an acceptor.
type machine interface {
	start() cursor
	validate(text string) bool
}

// prefixForcer is implemented by machines that can compute the prefix every
// accepted string must begin with.
type prefixForcer interface {
	forcedPrefix() string
}

// Cursor is an immutable position inside an acceptor's language.
type Cursor struct {
	c cursor
}

// Feed advances the cursor over s. ok is false when s leaves the language.
func (c Cursor) Feed(s string) (Cursor, bool) {
	if c.c == nil {
		return c, false
	}
	cur := c.c
	for _, r := range s {
		next, ok := cur.step(r)
		if !ok {
			return Cursor{}, false
		}
		cur = next
	}
	return Cursor{c: cur}, true
}

// Allows reports whether piece is a viable continuation. Empty pieces are rejected.
func (c Cursor) Allows(piece string) bool {
	if piece == "" {
		return false
	}
	_, ok := c.Feed(piece)
	return ok
}

// Accepting reports whether the output so far is complete.
func (c Cursor) Accepting() bool {
	return c.c != nil && c.c.accepting()
}

// Valid reports whether the cursor is positioned inside the language.
func (c Cursor) Valid() bool {
	return c.c != nil
}

// acceptor adapts a machine to Acceptor.
type acceptor struct {
	m    machine
	kind constraint.Kind
}

func newAcceptor(m machine, kind constraint.Kind) *acceptor {
	return &acceptor{m: m, kind: kind}
}

func (a *acceptor) Begin() Cursor {
	return Cursor{c: a.m.start()}
}

func (a *acceptor) AllowedNext(partial string) TokenFilter {
	cur, ok := a.Begin().Feed(partial)
	if !ok {
		return func(string) bool { return false }
	}
	return cur.Allows
}

func (a *acceptor) CanStop(partial string) bool {
	cur, ok := a.Begin().Feed(partial)
	return ok && cur.Accepting()
}

func (a *acceptor) Validate(text string) bool {
	return a.m.validate(text)
}

// Kind returns the variant the acceptor was compiled from.
func (a *acceptor) Kind() constraint.Kind {
	return a.kind
}

// Violations explains a failed validation. JSON schemas report field paths.
func (a *acceptor) Violations(text string) []constraint.ParseError {
	return violationsOf(a.m, text)
}

func violationsOf(m machine, text string) []constraint.ParseError {
	switch x := m.(type) {
	case *jsonMachine:
		return x.validator.Violations(text)
	case *compositeMachine:
		var out []constraint.ParseError
		for _, p := range x.parts {
			out = append(out, violationsOf(p, text)...)
		}
		return out
	case *regexMachine:
		if !x.validate(text) {
			return []constraint.ParseError{{Message: "output does not fully match pattern " + x.source}}
		}
	case *grammarMachine:
		if !x.validate(text) {
			return []constraint.ParseError{{Message: "output is not a complete parse of the grammar"}}
		}
	}
	return nil
}

// ===== 🔓 无约束 =====

type anyMachine struct{}

type anyCursor struct{}

func (anyMachine) start() cursor           { return anyCursor{} }
func (anyMachine) validate(string) bool    { return true }
func (anyCursor) step(rune) (cursor, bool) { return anyCursor{}, true }
func (anyCursor) accepting() bool          { return true }

// Unconstrained returns an acceptor admitting every string.
func Unconstrained() Acceptor {
	return newAcceptor(anyMachine{}, "")
}
