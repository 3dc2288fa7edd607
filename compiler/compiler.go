package compiler

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/constraintflow/constraint"
	"github.com/BaSui01/constraintflow/types"
)

// Compiler turns constraint specs into acceptors. It is stateless apart from
// its options and safe for concurrent use.
type Compiler struct {
	maxDFAStates int
	logger       *zap.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithMaxDFAStates bounds the memoized states of each regex acceptor.
func WithMaxDFAStates(n int) Option {
	return func(c *Compiler) { c.maxDFAStates = n }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Compiler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{
		maxDFAStates: DefaultMaxDFAStates,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "compiler"))
	return c
}

var defaultCompiler = New()

// Compile compiles specs with the default Compiler.
func Compile(specs []constraint.Spec) (Acceptor, error) {
	return defaultCompiler.Compile(specs)
}

// Compile compiles an ordered list of specs. Several specs are an implicit AND.
// No specs yields the unconstrained acceptor.
// Errors are *types.Error with code INVALID_SPEC or UNSATISFIABLE.
func (c *Compiler) Compile(specs []constraint.Spec) (Acceptor, error) {
	switch len(specs) {
	case 0:
		return Unconstrained(), nil
	case 1:
		return c.compileTop(specs[0])
	default:
		return c.compileTop(constraint.Composite(specs...))
	}
}

func (c *Compiler) compileTop(spec constraint.Spec) (Acceptor, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	m, err := c.compileMachine(spec)
	if err != nil {
		c.logger.Debug("编译约束失败",
			zap.String("spec", spec.String()),
			zap.Error(err))
		return nil, err
	}
	if err := checkSatisfiable(m); err != nil {
		c.logger.Debug("约束不可满足",
			zap.String("spec", spec.String()),
			zap.Error(err))
		return nil, err
	}
	return newAcceptor(m, spec.Kind()), nil
}

// compileMachine dispatches on the closed set of spec kinds.
func (c *Compiler) compileMachine(spec constraint.Spec) (machine, error) {
	switch spec.Kind() {
	case constraint.KindRegex:
		return compileRegex(spec.Pattern(), c.maxDFAStates)
	case constraint.KindJSONSchema:
		return compileJSONSchema(spec.Schema(), c.maxDFAStates)
	case constraint.KindGrammar:
		return compileGrammar(spec.Rules())
	case constraint.KindComposite:
		parts := flatten(spec)
		machines := make([]machine, 0, len(parts))
		for i, p := range parts {
			m, err := c.compileMachine(p)
			if err != nil {
				return nil, prefixError(err, fmt.Sprintf("part %d", i))
			}
			machines = append(machines, m)
		}
		return &compositeMachine{parts: machines}, nil
	default:
		return nil, invalidSpec("unknown constraint type %q", spec.Kind())
	}
}

// flatten expands nested composites into one ordered list of leaf specs.
func flatten(spec constraint.Spec) []constraint.Spec {
	if spec.Kind() != constraint.KindComposite {
		return []constraint.Spec{spec}
	}
	var out []constraint.Spec
	for _, p := range spec.Parts() {
		out = append(out, flatten(p)...)
	}
	return out
}

// Preview renders a short human-readable outline of specs.
func Preview(specs []constraint.Spec) string {
	parts := make([]string, 0, len(specs))
	for _, s := range specs {
		parts = append(parts, previewOne(s))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "and(" + strings.Join(parts, "; ") + ")"
}

func previewOne(s constraint.Spec) string {
	switch s.Kind() {
	case constraint.KindJSONSchema:
		schema, err := constraint.ParseSchema(s.Schema())
		if err != nil {
			return "json_schema"
		}
		return schema.Preview()
	case constraint.KindRegex:
		return "regex /" + s.Pattern() + "/"
	case constraint.KindGrammar:
		g, err := parseGrammar(s.Rules())
		if err != nil {
			return "grammar"
		}
		return fmt.Sprintf("grammar(start=%s, rules=%d)", g.start, len(g.order))
	case constraint.KindComposite:
		return Preview(s.Parts())
	default:
		return s.String()
	}
}

func invalidSpec(format string, args ...any) *types.Error {
	return types.Errorf(types.ErrInvalidSpec, format, args...)
}

func unsatisfiable(format string, args ...any) *types.Error {
	return types.Errorf(types.ErrUnsatisfiable, format, args...)
}

func prefixError(err error, prefix string) error {
	if e, ok := types.AsError(err); ok {
		return types.NewError(e.Code, prefix+": "+e.Message).WithCause(e.Cause)
	}
	return fmt.Errorf("%s: %w", prefix, err)
}
