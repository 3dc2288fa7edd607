package compiler

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Grammar syntax (one rule per "name ::= expr", rules may span lines):
//
//	root   ::= object
//	object ::= "{" ws ( pair ( "," ws pair )* )? "}"
//	pair   ::= [a-z]+ ":" ws value   # comments run to end of line
//	ws     ::= [ \t\n]*
//
// Expressions support "literals", [classes] with ^ negation and ranges, the
// wildcard ".", groups, alternation "|" and the postfix operators * + ?.
// The start rule is "root" when defined, otherwise the first rule.

type gexpr interface{}

type (
	gAlt   []gexpr
	gSeq   []gexpr
	gLit   string
	gRef   string
	gClass struct {
		ranges []runeRange
		negate bool
	}
	gAny    struct{}
	gRepeat struct {
		e        gexpr
		min, max int // max -1: unbounded
	}
)

type runeRange struct{ lo, hi rune }

type grammarAST struct {
	rules map[string]gexpr
	order []string
	start string
}

type grammarParser struct {
	src  string
	pos  int
	line int
}

func parseGrammar(src string) (*grammarAST, error) {
	p := &grammarParser{src: src, line: 1}
	g := &grammarAST{rules: make(map[string]gexpr)}
	for {
		p.skipSpace()
		if p.eof() {
			break
		}
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if !strings.HasPrefix(p.src[p.pos:], "::=") {
			return nil, p.errorf("expected ::= after rule name %q", name)
		}
		p.pos += 3
		expr, err := p.alternation(0)
		if err != nil {
			return nil, err
		}
		if _, dup := g.rules[name]; dup {
			return nil, p.errorf("rule %q defined twice", name)
		}
		g.rules[name] = expr
		g.order = append(g.order, name)
	}
	if len(g.order) == 0 {
		return nil, invalidSpec("grammar defines no rules")
	}
	g.start = g.order[0]
	if _, ok := g.rules["root"]; ok {
		g.start = "root"
	}
	if err := g.checkRefs(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *grammarAST) checkRefs() error {
	var walk func(e gexpr) error
	walk = func(e gexpr) error {
		switch x := e.(type) {
		case gAlt:
			for _, a := range x {
				if err := walk(a); err != nil {
					return err
				}
			}
		case gSeq:
			for _, a := range x {
				if err := walk(a); err != nil {
					return err
				}
			}
		case gRepeat:
			return walk(x.e)
		case gRef:
			if _, ok := g.rules[string(x)]; !ok {
				return invalidSpec("grammar references undefined rule %q", string(x))
			}
		}
		return nil
	}
	for _, name := range g.order {
		if err := walk(g.rules[name]); err != nil {
			return err
		}
	}
	return nil
}

func (p *grammarParser) eof() bool { return p.pos >= len(p.src) }

func (p *grammarParser) errorf(format string, args ...any) error {
	return invalidSpec("grammar line %d: "+format, append([]any{p.line}, args...)...)
}

// skipSpace skips whitespace, newlines and comments.
func (p *grammarParser) skipSpace() {
	for !p.eof() {
		c := p.src[p.pos]
		switch {
		case c == '\n':
			p.line++
			p.pos++
		case c == ' ' || c == '\t' || c == '\r':
			p.pos++
		case c == '#':
			for !p.eof() && p.src[p.pos] != '\n' {
				p.pos++
			}
		default:
			return
		}
	}
}

func isIdentByte(c byte, first bool) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		return true
	case c >= '0' && c <= '9', c == '-':
		return !first
	}
	return false
}

func (p *grammarParser) ident() (string, error) {
	start := p.pos
	for !p.eof() && isIdentByte(p.src[p.pos], p.pos == start) {
		p.pos++
	}
	if p.pos == start {
		return "", p.errorf("expected rule name at %q", snippet(p.src[p.pos:]))
	}
	return p.src[start:p.pos], nil
}

// atRuleStart reports whether the upcoming tokens are "name ::=".
func (p *grammarParser) atRuleStart() bool {
	i := p.pos
	start := i
	for i < len(p.src) && isIdentByte(p.src[i], i == start) {
		i++
	}
	if i == start {
		return false
	}
	for i < len(p.src) && (p.src[i] == ' ' || p.src[i] == '\t') {
		i++
	}
	return strings.HasPrefix(p.src[i:], "::=")
}

func (p *grammarParser) alternation(depth int) (gexpr, error) {
	var alts gAlt
	for {
		seq, err := p.sequence(depth)
		if err != nil {
			return nil, err
		}
		alts = append(alts, seq)
		p.skipSpace()
		if !p.eof() && p.src[p.pos] == '|' {
			p.pos++
			continue
		}
		break
	}
	if len(alts) == 1 {
		return alts[0], nil
	}
	return alts, nil
}

func (p *grammarParser) sequence(depth int) (gexpr, error) {
	var seq gSeq
	for {
		p.skipSpace()
		if p.eof() {
			break
		}
		c := p.src[p.pos]
		if c == '|' || c == ')' {
			break
		}
		if depth == 0 && p.atRuleStart() {
			break
		}
		item, err := p.primary(depth)
		if err != nil {
			return nil, err
		}
		item = p.postfix(item)
		seq = append(seq, item)
	}
	if len(seq) == 1 {
		return seq[0], nil
	}
	return seq, nil
}

func (p *grammarParser) postfix(e gexpr) gexpr {
	for !p.eof() {
		switch p.src[p.pos] {
		case '*':
			e = gRepeat{e: e, min: 0, max: -1}
		case '+':
			e = gRepeat{e: e, min: 1, max: -1}
		case '?':
			e = gRepeat{e: e, min: 0, max: 1}
		default:
			return e
		}
		p.pos++
	}
	return e
}

func (p *grammarParser) primary(depth int) (gexpr, error) {
	c := p.src[p.pos]
	switch {
	case c == '"':
		p.pos++
		var b strings.Builder
		for {
			if p.eof() || p.src[p.pos] == '\n' {
				return nil, p.errorf("unterminated string literal")
			}
			if p.src[p.pos] == '"' {
				p.pos++
				break
			}
			r, err := p.char()
			if err != nil {
				return nil, err
			}
			b.WriteRune(r)
		}
		return gLit(b.String()), nil
	case c == '[':
		return p.class()
	case c == '.':
		p.pos++
		return gAny{}, nil
	case c == '(':
		p.pos++
		e, err := p.alternation(depth + 1)
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.eof() || p.src[p.pos] != ')' {
			return nil, p.errorf("missing closing parenthesis")
		}
		p.pos++
		return e, nil
	case isIdentByte(c, true):
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		return gRef(name), nil
	}
	return nil, p.errorf("unexpected character %q", snippet(p.src[p.pos:]))
}

func (p *grammarParser) class() (gexpr, error) {
	p.pos++ // [
	cls := gClass{}
	if !p.eof() && p.src[p.pos] == '^' {
		cls.negate = true
		p.pos++
	}
	for {
		if p.eof() || p.src[p.pos] == '\n' {
			return nil, p.errorf("unterminated character class")
		}
		if p.src[p.pos] == ']' {
			p.pos++
			break
		}
		lo, err := p.char()
		if err != nil {
			return nil, err
		}
		hi := lo
		if p.pos+1 < len(p.src) && p.src[p.pos] == '-' && p.src[p.pos+1] != ']' {
			p.pos++
			if hi, err = p.char(); err != nil {
				return nil, err
			}
			if hi < lo {
				return nil, p.errorf("invalid range %q-%q", lo, hi)
			}
		}
		cls.ranges = append(cls.ranges, runeRange{lo, hi})
	}
	return cls, nil
}

// char reads one possibly escaped character.
func (p *grammarParser) char() (rune, error) {
	r, size := utf8.DecodeRuneInString(p.src[p.pos:])
	if r != '\\' {
		p.pos += size
		return r, nil
	}
	p.pos++
	if p.eof() {
		return 0, p.errorf("dangling escape")
	}
	e := p.src[p.pos]
	p.pos++
	switch e {
	case 'n':
		return '\n', nil
	case 't':
		return '\t', nil
	case 'r':
		return '\r', nil
	case '\\', '"', '[', ']', '-', '^', '/', '\'':
		return rune(e), nil
	case 'x':
		return p.hexEscape(2)
	case 'u':
		return p.hexEscape(4)
	case 'U':
		return p.hexEscape(8)
	}
	return 0, p.errorf("unknown escape \\%c", e)
}

func (p *grammarParser) hexEscape(n int) (rune, error) {
	if p.pos+n > len(p.src) {
		return 0, p.errorf("short hex escape")
	}
	v, err := strconv.ParseUint(p.src[p.pos:p.pos+n], 16, 32)
	if err != nil || !utf8.ValidRune(rune(v)) {
		return 0, p.errorf("invalid hex escape %q", p.src[p.pos:p.pos+n])
	}
	p.pos += n
	return rune(v), nil
}

func snippet(s string) string {
	if i := strings.IndexFunc(s, unicode.IsSpace); i >= 0 && i < 16 {
		s = s[:i]
	}
	if len(s) > 16 {
		s = s[:16]
	}
	return s
}
