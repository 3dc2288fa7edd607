package compiler

import (
	"regexp/syntax"
	"slices"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

// DefaultMaxDFAStates bounds the memoized state table of one regex acceptor.
// Beyond it states are still computed, just not cached.
const DefaultMaxDFAStates = 10000

// Previous-rune classes. Empty-width assertions only distinguish these four.
const (
	prevStart   rune = -1
	prevNewline rune = '\n'
	prevWord    rune = 'a'
	prevOther   rune = '!'
)

func classifyPrev(r rune) rune {
	return classRep[classIndex(r)]
}

// Class indices used by the liveness table. classEdge is start of text on the
// previous side and end of text on the next side.
const (
	classEdge = iota
	classNewline
	classWord
	classOther
	numClasses
)

var classRep = [numClasses]rune{prevStart, prevNewline, prevWord, prevOther}

var wordRunes = []rune("0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz")

func classIndex(r rune) int {
	switch {
	case r < 0:
		return classEdge
	case r == '\n':
		return classNewline
	case syntax.IsWordChar(r):
		return classWord
	default:
		return classOther
	}
}

// regexMachine is a lazily determinized automaton over a compiled syntax.Prog.
// A DFA state is the set of instruction pcs reached after the last consumed rune,
// before epsilon closure, together with the class of that rune.
type regexMachine struct {
	source string
	prog   *syntax.Prog
	// live[pc][c]: some continuation from pc reaches InstMatch when the rune
	// before pc has class c (classEdge at start of text).
	live [][numClasses]bool

	mu        sync.Mutex
	states    map[string]*dfaState
	maxStates int
	initial   *dfaState
}

type dfaState struct {
	pcs    []uint32
	prev   rune
	accept bool
	next   map[rune]*dfaState // guarded by regexMachine.mu
}

// compileRegex parses pattern with Perl syntax and prepares a full-match acceptor.
func compileRegex(pattern string, maxStates int) (*regexMachine, error) {
	re, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return nil, invalidSpec("invalid regex %q: %v", pattern, err)
	}
	prog, err := syntax.Compile(re.Simplify())
	if err != nil {
		return nil, invalidSpec("invalid regex %q: %v", pattern, err)
	}
	if maxStates <= 0 {
		maxStates = DefaultMaxDFAStates
	}
	m := &regexMachine{
		source:    pattern,
		prog:      prog,
		states:    make(map[string]*dfaState),
		maxStates: maxStates,
	}
	m.live = computeLive(prog)
	m.initial = m.intern([]uint32{uint32(prog.Start)}, prevStart)
	return m, nil
}

// computeLive searches (pc, previous class, next class) backwards from
// InstMatch. Empty-width assertions are checked against both neighbours, so
// `a$b`, `a\bb` and empty character classes come out dead.
func computeLive(prog *syntax.Prog) [][numClasses]bool {
	node := func(pc uint32, prev, next int) int {
		return (int(pc)*numClasses+prev)*numClasses + next
	}
	preds := make([][]int32, len(prog.Inst)*numClasses*numClasses)
	reached := make([]bool, len(preds))
	var queue []int
	for pc := range prog.Inst {
		inst := &prog.Inst[pc]
		for prev := 0; prev < numClasses; prev++ {
			for next := 0; next < numClasses; next++ {
				from := int32(node(uint32(pc), prev, next))
				edge := func(to int) { preds[to] = append(preds[to], from) }
				switch inst.Op {
				case syntax.InstMatch:
					if next == classEdge {
						reached[from] = true
						queue = append(queue, int(from))
					}
				case syntax.InstFail:
				case syntax.InstAlt, syntax.InstAltMatch:
					edge(node(inst.Out, prev, next))
					edge(node(inst.Arg, prev, next))
				case syntax.InstCapture, syntax.InstNop:
					edge(node(inst.Out, prev, next))
				case syntax.InstEmptyWidth:
					ctx := syntax.EmptyOpContext(classRep[prev], classRep[next])
					if syntax.EmptyOp(inst.Arg)&^ctx == 0 {
						edge(node(inst.Out, prev, next))
					}
				default:
					if next == classEdge || !consumesClass(inst, next) {
						continue
					}
					for after := 0; after < numClasses; after++ {
						edge(node(inst.Out, next, after))
					}
				}
			}
		}
	}
	for len(queue) > 0 {
		n := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		for _, p := range preds[n] {
			if !reached[p] {
				reached[p] = true
				queue = append(queue, int(p))
			}
		}
	}

	live := make([][numClasses]bool, len(prog.Inst))
	for pc := range prog.Inst {
		for prev := 0; prev < numClasses; prev++ {
			for next := 0; next < numClasses; next++ {
				if reached[node(uint32(pc), prev, next)] {
					live[pc][prev] = true
				}
			}
		}
	}
	return live
}

// consumesClass reports whether inst matches at least one rune of class c.
func consumesClass(inst *syntax.Inst, c int) bool {
	switch inst.Op {
	case syntax.InstRuneAny:
		return true
	case syntax.InstRuneAnyNotNL:
		return c != classNewline
	case syntax.InstRune, syntax.InstRune1:
	default:
		return false
	}
	if len(inst.Rune) == 0 {
		return false
	}
	switch c {
	case classNewline:
		return inst.MatchRune('\n')
	case classWord:
		return slices.ContainsFunc(wordRunes, inst.MatchRune)
	}

	ranges := inst.Rune
	if len(ranges) == 1 {
		ranges = []rune{ranges[0], ranges[0]}
	}
	fold := inst.Op == syntax.InstRune && syntax.Flags(inst.Arg)&syntax.FoldCase != 0
	for i := 0; i+1 < len(ranges); i += 2 {
		lo, hi := ranges[i], ranges[i+1]
		// 只有 64 个换行/单词字符
		if hi-lo > 64 {
			return true
		}
		for r := lo; r <= hi; r++ {
			if classIndex(r) == classOther {
				return true
			}
			if !fold {
				continue
			}
			for f := unicode.SimpleFold(r); f != r; f = unicode.SimpleFold(f) {
				if classIndex(f) == classOther {
					return true
				}
			}
		}
	}
	return false
}

func stateKey(pcs []uint32, prev rune) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(int(prev)))
	for _, pc := range pcs {
		b.WriteByte(',')
		b.WriteString(strconv.FormatUint(uint64(pc), 10))
	}
	return b.String()
}

// intern returns the canonical state for (pcs, prev). pcs must be sorted.
func (m *regexMachine) intern(pcs []uint32, prev rune) *dfaState {
	key := stateKey(pcs, prev)
	m.mu.Lock()
	if s, ok := m.states[key]; ok {
		m.mu.Unlock()
		return s
	}
	m.mu.Unlock()

	s := &dfaState{pcs: pcs, prev: prev, next: make(map[rune]*dfaState)}
	s.accept = m.closureMatches(pcs, prev, -1)

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.states[key]; ok {
		return existing
	}
	if len(m.states) < m.maxStates {
		m.states[key] = s
	}
	return s
}

// closure walks epsilon edges from pcs under the context (prev, next) and
// calls visit on every rune-consuming or match instruction. When lenient is set
// only assertions about the previous rune are checked.
func (m *regexMachine) closure(pcs []uint32, prev, next rune, lenient bool, visit func(pc uint32, inst *syntax.Inst)) {
	seen := make(map[uint32]struct{}, len(pcs)*2)
	stack := append([]uint32(nil), pcs...)
	for len(stack) > 0 {
		pc := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[pc]; ok {
			continue
		}
		seen[pc] = struct{}{}
		inst := &m.prog.Inst[pc]
		switch inst.Op {
		case syntax.InstAlt, syntax.InstAltMatch:
			stack = append(stack, inst.Arg, inst.Out)
		case syntax.InstCapture, syntax.InstNop:
			stack = append(stack, inst.Out)
		case syntax.InstEmptyWidth:
			need := syntax.EmptyOp(inst.Arg)
			if lenient {
				need &= syntax.EmptyBeginLine | syntax.EmptyBeginText
			}
			if need&^syntax.EmptyOpContext(prev, next) == 0 {
				stack = append(stack, inst.Out)
			}
		case syntax.InstFail:
		default:
			visit(pc, inst)
		}
	}
}

func (m *regexMachine) closureMatches(pcs []uint32, prev, next rune) bool {
	matched := false
	m.closure(pcs, prev, next, false, func(_ uint32, inst *syntax.Inst) {
		if inst.Op == syntax.InstMatch {
			matched = true
		}
	})
	return matched
}

func runeMatches(inst *syntax.Inst, r rune) bool {
	switch inst.Op {
	case syntax.InstRune, syntax.InstRune1:
		return inst.MatchRune(r)
	case syntax.InstRuneAny:
		return true
	case syntax.InstRuneAnyNotNL:
		return r != '\n'
	}
	return false
}

// transition computes (without caching) the state reached from s on r.
func (m *regexMachine) transition(s *dfaState, r rune) *dfaState {
	var out []uint32
	m.closure(s.pcs, s.prev, r, false, func(_ uint32, inst *syntax.Inst) {
		if runeMatches(inst, r) && m.live[inst.Out][classIndex(r)] {
			out = append(out, inst.Out)
		}
	})
	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	out = slices.Compact(out)
	return m.intern(out, classifyPrev(r))
}

func (m *regexMachine) step(s *dfaState, r rune) *dfaState {
	m.mu.Lock()
	next, ok := s.next[r]
	m.mu.Unlock()
	if ok {
		return next
	}
	next = m.transition(s, r)
	m.mu.Lock()
	if len(s.next) < 256 {
		s.next[r] = next
	}
	m.mu.Unlock()
	return next
}

func (m *regexMachine) start() cursor {
	return regexCursor{m: m, s: m.initial}
}

func (m *regexMachine) validate(text string) bool {
	c, ok := Cursor{c: m.start()}.Feed(text)
	return ok && c.Accepting()
}

// deadAtStart reports whether no string at all can be accepted.
func (m *regexMachine) deadAtStart() bool {
	for _, pc := range m.initial.pcs {
		if m.live[pc][classEdge] {
			return false
		}
	}
	return true
}

// forcedPrefix follows the chain of states that admit exactly one literal rune.
// Context-dependent assertions are treated as passable, so the result only
// contains runes every accepted string must start with.
func (m *regexMachine) forcedPrefix() string {
	var b strings.Builder
	s := m.initial
	for i := 0; i < 64 && s != nil; i++ {
		var (
			forced   rune = -1
			unique        = true
			mayMatch      = false
		)
		m.closure(s.pcs, s.prev, -1, true, func(_ uint32, inst *syntax.Inst) {
			switch inst.Op {
			case syntax.InstMatch:
				mayMatch = true
			case syntax.InstRune1, syntax.InstRune:
				r, ok := singleRune(inst)
				if !ok {
					if m.liveAfterAny(inst) {
						unique = false
					}
					return
				}
				if !m.live[inst.Out][classIndex(r)] {
					return
				}
				if forced >= 0 && forced != r {
					unique = false
					return
				}
				forced = r
			default:
				unique = false
			}
		})
		if mayMatch || !unique || forced < 0 {
			break
		}
		b.WriteRune(forced)
		s = m.transition(s, forced)
	}
	return b.String()
}

// liveAfterAny reports whether consuming some rune through inst keeps a path alive.
func (m *regexMachine) liveAfterAny(inst *syntax.Inst) bool {
	for c := classNewline; c < numClasses; c++ {
		if m.live[inst.Out][c] && consumesClass(inst, c) {
			return true
		}
	}
	return false
}

func singleRune(inst *syntax.Inst) (rune, bool) {
	if syntax.Flags(inst.Arg)&syntax.FoldCase != 0 {
		return 0, false
	}
	switch len(inst.Rune) {
	case 1:
		return inst.Rune[0], true
	case 2:
		if inst.Rune[0] == inst.Rune[1] {
			return inst.Rune[0], true
		}
	}
	return 0, false
}

type regexCursor struct {
	m *regexMachine
	s *dfaState
}

func (c regexCursor) step(r rune) (cursor, bool) {
	next := c.m.step(c.s, r)
	if next == nil {
		return nil, false
	}
	return regexCursor{m: c.m, s: next}, true
}

func (c regexCursor) accepting() bool {
	return c.s.accept
}
