package compiler

import (
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// The JSON walker is a pushdown recognizer whose stack is a persistent linked
// list of frames. Every step copies at most the top frame, so cursors share
// structure and stay immutable.

type jstack struct {
	fr     any
	parent *jstack
}

func push(st *jstack, fr any) *jstack    { return &jstack{fr: fr, parent: st} }
func replace(st *jstack, fr any) *jstack { return &jstack{fr: fr, parent: st.parent} }

type docFrame struct {
	node *jnode
	done bool
}

type objState uint8

const (
	objOpen       objState = iota // after '{'
	objNeedKey                    // after ','
	objColon                      // after a key
	objNeedValue                  // after ':'
	objAfterValue                 // after a member value
)

type objFrame struct {
	node  *jnode
	state objState
	seen  []string
	key   string
}

type arrState uint8

const (
	arrOpen arrState = iota
	arrNeedValue
	arrAfterValue
)

type arrFrame struct {
	node  *jnode
	state arrState
	count int
}

type strFrame struct {
	node     *jnode
	key      bool
	keyCands []string // nil: any key
	track    bool     // content is needed for keys and enums
	content  string
	runes    int
	esc      int // 0 none, 1 after '\', 2..5 inside \uXXXX
	hex      rune
	pending  rune // unpaired high surrogate
	pat      cursor
	format   cursor
}

type numState uint8

const (
	nsStart numState = iota
	nsMinus
	nsZero
	nsInt
	nsDot
	nsFrac
	nsExp
	nsExpSign
	nsExpDigit
)

type numFrame struct {
	node  *jnode
	text  string
	state numState
}

type litFrame struct {
	cands []string
	pos   int // byte offset shared by every candidate
}

type jsonCursor struct {
	st *jstack
}

func (m *jsonMachine) start() cursor {
	return jsonCursor{st: &jstack{fr: docFrame{node: m.root}}}
}

func (c jsonCursor) step(r rune) (cursor, bool) {
	st, ok := advance(c.st, r)
	if !ok {
		return nil, false
	}
	return jsonCursor{st: st}, true
}

func (c jsonCursor) accepting() bool {
	st := c.st
	switch f := st.fr.(type) {
	case numFrame:
		if !f.complete() {
			return false
		}
		var ok bool
		if st, ok = finishValue(st.parent); !ok {
			return false
		}
	case litFrame:
		if !f.complete() {
			return false
		}
		var ok bool
		if st, ok = finishValue(st.parent); !ok {
			return false
		}
	}
	d, ok := st.fr.(docFrame)
	return ok && d.done
}

func isWS(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func advance(st *jstack, r rune) (*jstack, bool) {
	switch f := st.fr.(type) {
	case docFrame:
		if isWS(r) {
			return st, true
		}
		if f.done {
			return nil, false
		}
		return startValue(f.node, r, st)
	case objFrame:
		return f.step(r, st)
	case arrFrame:
		return f.step(r, st)
	case strFrame:
		return f.step(r, st)
	case numFrame:
		if nf, ok := f.next(r); ok {
			return replace(st, nf), true
		}
		if !f.complete() {
			return nil, false
		}
		parent, ok := finishValue(st.parent)
		if !ok {
			return nil, false
		}
		return advance(parent, r)
	case litFrame:
		if lf, ok := f.next(r); ok {
			return replace(st, lf), true
		}
		if !f.complete() {
			return nil, false
		}
		parent, ok := finishValue(st.parent)
		if !ok {
			return nil, false
		}
		return advance(parent, r)
	}
	return nil, false
}

// startValue pushes the frame for a value beginning with r onto parent.
func startValue(n *jnode, r rune, parent *jstack) (*jstack, bool) {
	if n.never {
		return nil, false
	}
	if n.literals != nil {
		lf, ok := litFrame{cands: n.literals}.next(r)
		if !ok {
			return nil, false
		}
		return push(parent, lf), true
	}
	switch {
	case r == '{' && n.types&tObject != 0:
		return push(parent, objFrame{node: n, state: objOpen}), true
	case r == '[' && n.types&tArray != 0:
		return push(parent, arrFrame{node: n, state: arrOpen}), true
	case r == '"' && n.types&tString != 0:
		sf := strFrame{node: n, track: n.strEnum != nil}
		if n.pattern != nil {
			sf.pat = n.pattern.start()
		}
		if n.format != nil {
			sf.format = n.format.start()
		}
		return push(parent, sf), true
	case (r == '-' || isDigit(r)) && n.types&(tNumber|tInteger) != 0:
		nf, ok := numFrame{node: n}.next(r)
		if !ok {
			return nil, false
		}
		return push(parent, nf), true
	case (r == 't' || r == 'f') && n.types&tBoolean != 0:
		lf, ok := litFrame{cands: []string{"true", "false"}}.next(r)
		if !ok {
			return nil, false
		}
		return push(parent, lf), true
	case r == 'n' && n.types&tNull != 0:
		lf, ok := litFrame{cands: []string{"null"}}.next(r)
		if !ok {
			return nil, false
		}
		return push(parent, lf), true
	}
	return nil, false
}

// finishValue notifies parent that its child value is complete.
func finishValue(parent *jstack) (*jstack, bool) {
	if parent == nil {
		return nil, false
	}
	switch f := parent.fr.(type) {
	case docFrame:
		f.done = true
		return replace(parent, f), true
	case objFrame:
		f.state = objAfterValue
		return replace(parent, f), true
	case arrFrame:
		f.state = arrAfterValue
		return replace(parent, f), true
	}
	return nil, false
}

// ===== 🧱 object =====

func (f objFrame) step(r rune, st *jstack) (*jstack, bool) {
	if isWS(r) && f.state != objNeedValue {
		return st, true
	}
	switch f.state {
	case objOpen, objNeedKey:
		if r == '}' && f.state == objOpen {
			return f.close(st)
		}
		if r != '"' {
			return nil, false
		}
		sf := strFrame{key: true, track: true}
		if f.node.closed {
			sf.keyCands = f.node.keyCandidates(f.seen)
			if len(sf.keyCands) == 0 {
				return nil, false
			}
		}
		return push(st, sf), true
	case objColon:
		if r != ':' {
			return nil, false
		}
		f.state = objNeedValue
		return replace(st, f), true
	case objNeedValue:
		if isWS(r) {
			return st, true
		}
		return startValue(f.node.valueSchema(f.key), r, st)
	case objAfterValue:
		switch r {
		case ',':
			if !f.node.moreKeysPossible(f.seen) {
				return nil, false
			}
			f.state = objNeedKey
			return replace(st, f), true
		case '}':
			return f.close(st)
		}
	}
	return nil, false
}

func (f objFrame) close(st *jstack) (*jstack, bool) {
	if !f.node.requiredSatisfied(f.seen) {
		return nil, false
	}
	return finishValue(st.parent)
}

// finishKey records a completed key on the enclosing object.
func finishKey(parent *jstack, key string) (*jstack, bool) {
	f, ok := parent.fr.(objFrame)
	if !ok || contains(f.seen, key) {
		return nil, false
	}
	if f.node.closed {
		if _, declared := f.node.props[key]; !declared {
			return nil, false
		}
	}
	if f.node.valueSchema(key).never {
		return nil, false
	}
	seen := make([]string, len(f.seen), len(f.seen)+1)
	copy(seen, f.seen)
	f.seen = append(seen, key)
	f.key = key
	f.state = objColon
	return replace(parent, f), true
}

// ===== 📚 array =====

func (f arrFrame) step(r rune, st *jstack) (*jstack, bool) {
	if isWS(r) {
		return st, true
	}
	switch f.state {
	case arrOpen, arrNeedValue:
		if r == ']' && f.state == arrOpen {
			if f.count < f.node.minItems {
				return nil, false
			}
			return finishValue(st.parent)
		}
		if f.node.maxItems >= 0 && f.count >= f.node.maxItems {
			return nil, false
		}
		item := f.node.itemSchema(f.count)
		f.count++
		f.state = arrAfterValue
		return startValue(item, r, replace(st, f))
	case arrAfterValue:
		switch r {
		case ',':
			if f.node.maxItems >= 0 && f.count >= f.node.maxItems {
				return nil, false
			}
			if f.node.itemSchema(f.count).never {
				return nil, false
			}
			f.state = arrNeedValue
			return replace(st, f), true
		case ']':
			if f.count < f.node.minItems {
				return nil, false
			}
			return finishValue(st.parent)
		}
	}
	return nil, false
}

// ===== 🔤 string =====

func (f strFrame) step(r rune, st *jstack) (*jstack, bool) {
	switch {
	case f.esc == 1:
		f.esc = 0
		var d rune
		switch r {
		case '"', '\\', '/':
			d = r
		case 'b':
			d = '\b'
		case 'f':
			d = '\f'
		case 'n':
			d = '\n'
		case 'r':
			d = '\r'
		case 't':
			d = '\t'
		case 'u':
			f.esc = 2
			f.hex = 0
			return replace(st, f), true
		default:
			return nil, false
		}
		if !f.add(d) {
			return nil, false
		}
		return replace(st, f), true
	case f.esc >= 2:
		v, ok := hexValue(r)
		if !ok {
			return nil, false
		}
		f.hex = f.hex<<4 | v
		f.esc++
		if f.esc == 6 {
			f.esc = 0
			if !f.addCodeUnit(f.hex) {
				return nil, false
			}
		}
		return replace(st, f), true
	case r == '\\':
		f.esc = 1
		return replace(st, f), true
	case r == '"':
		return f.close(st)
	case r < 0x20:
		return nil, false
	default:
		if !f.add(r) {
			return nil, false
		}
		return replace(st, f), true
	}
}

func hexValue(r rune) (rune, bool) {
	switch {
	case r >= '0' && r <= '9':
		return r - '0', true
	case r >= 'a' && r <= 'f':
		return r - 'a' + 10, true
	case r >= 'A' && r <= 'F':
		return r - 'A' + 10, true
	}
	return 0, false
}

func (f *strFrame) addCodeUnit(u rune) bool {
	switch {
	case utf16.IsSurrogate(u) && u < 0xDC00:
		if f.pending != 0 && !f.addDecoded(utf8.RuneError) {
			return false
		}
		f.pending = u
		return true
	case utf16.IsSurrogate(u):
		if f.pending != 0 {
			hi := f.pending
			f.pending = 0
			return f.addDecoded(utf16.DecodeRune(hi, u))
		}
		return f.addDecoded(utf8.RuneError)
	default:
		return f.add(u)
	}
}

func (f *strFrame) add(r rune) bool {
	if f.pending != 0 {
		f.pending = 0
		if !f.addDecoded(utf8.RuneError) {
			return false
		}
	}
	return f.addDecoded(r)
}

func (f *strFrame) addDecoded(r rune) bool {
	f.runes++
	if f.node != nil && f.node.maxLen >= 0 && f.runes > f.node.maxLen {
		return false
	}
	if f.track {
		f.content += string(r)
		if f.keyCands != nil && !anyHasPrefix(f.keyCands, f.content) {
			return false
		}
		if f.node != nil && f.node.strEnum != nil && !anyHasPrefix(f.node.strEnum, f.content) {
			return false
		}
	}
	if f.pat != nil {
		next, ok := f.pat.step(r)
		if !ok {
			return false
		}
		f.pat = next
	}
	if f.format != nil {
		next, ok := f.format.step(r)
		if !ok {
			return false
		}
		f.format = next
	}
	return true
}

func (f strFrame) close(st *jstack) (*jstack, bool) {
	if f.esc != 0 {
		return nil, false
	}
	if f.pending != 0 {
		f.pending = 0
		if !f.addDecoded(utf8.RuneError) {
			return nil, false
		}
	}
	if f.key {
		if f.keyCands != nil && !contains(f.keyCands, f.content) {
			return nil, false
		}
		return finishKey(st.parent, f.content)
	}
	n := f.node
	if f.runes < n.minLen {
		return nil, false
	}
	if n.strEnum != nil && !contains(n.strEnum, f.content) {
		return nil, false
	}
	if f.pat != nil && !f.pat.accepting() {
		return nil, false
	}
	if f.format != nil && !f.format.accepting() {
		return nil, false
	}
	return finishValue(st.parent)
}

func anyHasPrefix(list []string, prefix string) bool {
	for _, s := range list {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// ===== 🔢 number =====

// next admits every JSON number spelling except: exponents on bounded numbers,
// and for integers nonzero fraction digits and negative exponents. Those can
// still denote valid values ("2.50e1", "100e-2") but their prefixes cannot be
// checked against bounds or integrality as they grow.
func (f numFrame) next(r rune) (numFrame, bool) {
	n := f.node
	integer := n.integerOnly()
	expOK := !n.bounded()
	digitPart := false

	switch f.state {
	case nsStart:
		switch {
		case r == '-':
			if !f.negativeAllowed() {
				return f, false
			}
			f.state = nsMinus
		case r == '0':
			f.state = nsZero
			digitPart = true
		case isDigit(r):
			f.state = nsInt
			digitPart = true
		default:
			return f, false
		}
	case nsMinus:
		switch {
		case r == '0':
			f.state = nsZero
			digitPart = true
		case isDigit(r):
			f.state = nsInt
			digitPart = true
		default:
			return f, false
		}
	case nsZero, nsInt:
		switch {
		case isDigit(r) && f.state == nsInt:
			digitPart = true
		case r == '.':
			f.state = nsDot
		case (r == 'e' || r == 'E') && expOK:
			f.state = nsExp
		default:
			return f, false
		}
	case nsDot, nsFrac:
		switch {
		case isDigit(r) && (!integer || r == '0'):
			f.state = nsFrac
			digitPart = true
		case (r == 'e' || r == 'E') && expOK && f.state == nsFrac:
			f.state = nsExp
		default:
			return f, false
		}
	case nsExp:
		switch {
		case r == '+' || (r == '-' && !integer):
			f.state = nsExpSign
		case isDigit(r):
			f.state = nsExpDigit
		default:
			return f, false
		}
	case nsExpSign, nsExpDigit:
		if !isDigit(r) {
			return f, false
		}
		f.state = nsExpDigit
	}

	f.text += string(r)
	if digitPart && !f.prefixViable() {
		return f, false
	}
	return f, true
}

func (f numFrame) negativeAllowed() bool {
	n := f.node
	if n.min != nil && *n.min >= 0 {
		return false
	}
	if n.exclMin != nil && *n.exclMin >= 0 {
		return false
	}
	return true
}

// prefixViable checks bounds against the digits read so far. Extra digits only
// move a non-negative number up and a negative number down, so a prefix already
// past the bound in that direction cannot recover.
func (f numFrame) prefixViable() bool {
	n := f.node
	if !n.bounded() {
		return true
	}
	v, err := strconv.ParseFloat(f.text, 64)
	if err != nil {
		return true
	}
	negative := strings.HasPrefix(f.text, "-")
	if !negative {
		if n.max != nil && v > *n.max {
			return false
		}
		if n.exclMax != nil && v >= *n.exclMax {
			return false
		}
		// "0" or "0.xxx" stays below 1
		if f.state == nsZero || (strings.HasPrefix(f.text, "0") && f.state == nsFrac) {
			if (n.min != nil && *n.min >= 1) || (n.exclMin != nil && *n.exclMin >= 1) {
				return false
			}
		}
		return true
	}
	if n.min != nil && v < *n.min {
		return false
	}
	if n.exclMin != nil && v <= *n.exclMin {
		return false
	}
	return true
}

func (f numFrame) complete() bool {
	switch f.state {
	case nsZero, nsInt, nsFrac, nsExpDigit:
	default:
		return false
	}
	n := f.node
	if !n.bounded() {
		return true
	}
	v, err := strconv.ParseFloat(f.text, 64)
	if err != nil {
		return false
	}
	if n.min != nil && v < *n.min {
		return false
	}
	if n.max != nil && v > *n.max {
		return false
	}
	if n.exclMin != nil && v <= *n.exclMin {
		return false
	}
	if n.exclMax != nil && v >= *n.exclMax {
		return false
	}
	return true
}

// ===== 🔠 literal =====

func (f litFrame) next(r rune) (litFrame, bool) {
	var buf [utf8.UTFMax]byte
	enc := string(buf[:utf8.EncodeRune(buf[:], r)])
	var keep []string
	for _, c := range f.cands {
		if strings.HasPrefix(c[f.pos:], enc) {
			keep = append(keep, c)
		}
	}
	if len(keep) == 0 {
		return f, false
	}
	return litFrame{cands: keep, pos: f.pos + len(enc)}, true
}

func (f litFrame) complete() bool {
	for _, c := range f.cands {
		if len(c) == f.pos {
			return true
		}
	}
	return false
}
