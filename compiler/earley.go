package compiler

// gterm is a terminal matching a single rune.
type gterm struct {
	ranges []runeRange
	negate bool
	any    bool
}

func (t *gterm) match(r rune) bool {
	if t.any {
		return true
	}
	in := false
	for _, rg := range t.ranges {
		if r >= rg.lo && r <= rg.hi {
			in = true
			break
		}
	}
	return in != t.negate
}

// single returns the only rune t matches, if there is exactly one.
func (t *gterm) single() (rune, bool) {
	if t.any || t.negate || len(t.ranges) != 1 || t.ranges[0].lo != t.ranges[0].hi {
		return 0, false
	}
	return t.ranges[0].lo, true
}

type gsymbol struct {
	nt   int
	term *gterm
}

type production struct {
	lhs int
	rhs []gsymbol
}

// grammarMachine is an Earley recognizer over the BNF lowering of a grammar.
type grammarMachine struct {
	prods    []production
	byLHS    [][]int
	nullable []bool
	names    []string
	accept   int // index of the augmented production S' ::= start
	initial  *earleySet
}

type eitem struct {
	prod   int32
	dot    int32
	origin int32
}

type earleySet struct {
	items []eitem
}

func compileGrammar(rules string) (*grammarMachine, error) {
	ast, err := parseGrammar(rules)
	if err != nil {
		return nil, err
	}
	l := &lowerer{ast: ast, ids: make(map[string]int)}
	for _, name := range ast.order {
		id := l.nt(name)
		if alts, ok := ast.rules[name].(gAlt); ok {
			for _, a := range alts {
				l.add(id, l.symbols(a))
			}
			continue
		}
		l.add(id, l.symbols(ast.rules[name]))
	}
	startNT := l.ids[ast.start]
	aug := l.fresh("<start>")
	l.add(aug, []gsymbol{{nt: startNT}})

	m := &grammarMachine{names: l.names}
	if !m.prune(l.prods, aug) {
		return nil, unsatisfiable("grammar start rule %q derives no finite string", ast.start)
	}
	m.computeNullable()
	m.initial = m.closure(nil, &earleySet{items: []eitem{{prod: int32(m.accept)}}}, 0)
	return m, nil
}

// ===== ⬇️ EBNF 降级为 BNF =====

type lowerer struct {
	ast   *grammarAST
	ids   map[string]int
	names []string
	prods []production
}

func (l *lowerer) nt(name string) int {
	if id, ok := l.ids[name]; ok {
		return id
	}
	id := len(l.names)
	l.ids[name] = id
	l.names = append(l.names, name)
	return id
}

func (l *lowerer) fresh(hint string) int {
	id := len(l.names)
	l.names = append(l.names, hint)
	return id
}

func (l *lowerer) add(lhs int, rhs []gsymbol) {
	l.prods = append(l.prods, production{lhs: lhs, rhs: rhs})
}

// symbols lowers e into a symbol string, introducing helper nonterminals for
// alternation and repetition.
func (l *lowerer) symbols(e gexpr) []gsymbol {
	switch x := e.(type) {
	case gSeq:
		var out []gsymbol
		for _, item := range x {
			out = append(out, l.symbols(item)...)
		}
		return out
	case gLit:
		out := make([]gsymbol, 0, len(x))
		for _, r := range string(x) {
			out = append(out, gsymbol{term: &gterm{ranges: []runeRange{{r, r}}}})
		}
		return out
	case gClass:
		return []gsymbol{{term: &gterm{ranges: x.ranges, negate: x.negate}}}
	case gAny:
		return []gsymbol{{term: &gterm{any: true}}}
	case gRef:
		return []gsymbol{{nt: l.nt(string(x))}}
	case gAlt:
		id := l.fresh("<alt>")
		for _, a := range x {
			l.add(id, l.symbols(a))
		}
		return []gsymbol{{nt: id}}
	case gRepeat:
		body := l.symbols(x.e)
		id := l.fresh("<repeat>")
		self := gsymbol{nt: id}
		switch {
		case x.max == 1:
			l.add(id, nil)
			l.add(id, body)
		case x.min == 0:
			l.add(id, nil)
			l.add(id, append([]gsymbol{self}, body...))
		default:
			l.add(id, body)
			l.add(id, append([]gsymbol{self}, body...))
		}
		return []gsymbol{self}
	}
	return nil
}

// prune drops productions that mention unproductive nonterminals, so that every
// item left in an Earley set can still be completed. It reports whether the
// augmented start survives.
func (m *grammarMachine) prune(prods []production, aug int) bool {
	productive := make([]bool, len(m.names))
	for changed := true; changed; {
		changed = false
		for _, p := range prods {
			if productive[p.lhs] {
				continue
			}
			ok := true
			for _, s := range p.rhs {
				if s.term == nil && !productive[s.nt] {
					ok = false
					break
				}
			}
			if ok {
				productive[p.lhs] = true
				changed = true
			}
		}
	}
	if !productive[aug] {
		return false
	}
	m.byLHS = make([][]int, len(m.names))
	for _, p := range prods {
		if !productive[p.lhs] {
			continue
		}
		keep := true
		for _, s := range p.rhs {
			if s.term == nil && !productive[s.nt] {
				keep = false
				break
			}
		}
		if !keep {
			continue
		}
		idx := len(m.prods)
		m.prods = append(m.prods, p)
		m.byLHS[p.lhs] = append(m.byLHS[p.lhs], idx)
		if p.lhs == aug {
			m.accept = idx
		}
	}
	return true
}

func (m *grammarMachine) computeNullable() {
	m.nullable = make([]bool, len(m.names))
	for changed := true; changed; {
		changed = false
		for _, p := range m.prods {
			if m.nullable[p.lhs] {
				continue
			}
			all := true
			for _, s := range p.rhs {
				if s.term != nil || !m.nullable[s.nt] {
					all = false
					break
				}
			}
			if all {
				m.nullable[p.lhs] = true
				changed = true
			}
		}
	}
}

// ===== 🔁 Earley =====

// closure runs prediction and completion on set, the k-th set of chart.
// Predicting a nullable nonterminal also advances over it (Aycock–Horspool).
func (m *grammarMachine) closure(chart []*earleySet, set *earleySet, k int) *earleySet {
	index := make(map[eitem]struct{}, len(set.items)*2)
	for _, it := range set.items {
		index[it] = struct{}{}
	}
	add := func(it eitem) {
		if _, ok := index[it]; ok {
			return
		}
		index[it] = struct{}{}
		set.items = append(set.items, it)
	}
	for i := 0; i < len(set.items); i++ {
		it := set.items[i]
		p := m.prods[it.prod]
		if int(it.dot) == len(p.rhs) {
			origin := set
			if int(it.origin) != k {
				origin = chart[it.origin]
			}
			for j := 0; j < len(origin.items); j++ {
				o := origin.items[j]
				op := m.prods[o.prod]
				if int(o.dot) < len(op.rhs) {
					if s := op.rhs[o.dot]; s.term == nil && s.nt == p.lhs {
						add(eitem{prod: o.prod, dot: o.dot + 1, origin: o.origin})
					}
				}
			}
			continue
		}
		s := p.rhs[it.dot]
		if s.term != nil {
			continue
		}
		for _, pi := range m.byLHS[s.nt] {
			add(eitem{prod: int32(pi), dot: 0, origin: int32(k)})
		}
		if m.nullable[s.nt] {
			add(eitem{prod: it.prod, dot: it.dot + 1, origin: it.origin})
		}
	}
	return set
}

// scan advances chart over r, returning nil when no item accepts it.
func (m *grammarMachine) scan(chart []*earleySet, r rune) []*earleySet {
	last := chart[len(chart)-1]
	next := &earleySet{}
	for _, it := range last.items {
		p := m.prods[it.prod]
		if int(it.dot) < len(p.rhs) {
			if s := p.rhs[it.dot]; s.term != nil && s.term.match(r) {
				next.items = append(next.items, eitem{prod: it.prod, dot: it.dot + 1, origin: it.origin})
			}
		}
	}
	if len(next.items) == 0 {
		return nil
	}
	out := make([]*earleySet, len(chart)+1)
	copy(out, chart)
	out[len(chart)] = m.closure(out, next, len(chart))
	return out
}

func (m *grammarMachine) accepts(set *earleySet) bool {
	done := eitem{prod: int32(m.accept), dot: 1, origin: 0}
	for _, it := range set.items {
		if it == done {
			return true
		}
	}
	return false
}

type grammarCursor struct {
	m     *grammarMachine
	chart []*earleySet
}

func (m *grammarMachine) start() cursor {
	return grammarCursor{m: m, chart: []*earleySet{m.initial}}
}

func (m *grammarMachine) validate(text string) bool {
	c, ok := Cursor{c: m.start()}.Feed(text)
	return ok && c.Accepting()
}

func (c grammarCursor) step(r rune) (cursor, bool) {
	next := c.m.scan(c.chart, r)
	if next == nil {
		return nil, false
	}
	return grammarCursor{m: c.m, chart: next}, true
}

func (c grammarCursor) accepting() bool {
	return c.m.accepts(c.chart[len(c.chart)-1])
}

// forcedPrefix follows sets whose only expected terminal is one literal rune.
func (m *grammarMachine) forcedPrefix() string {
	var out []rune
	chart := []*earleySet{m.initial}
	for len(out) < 64 {
		last := chart[len(chart)-1]
		if m.accepts(last) {
			break
		}
		forced, ok := rune(-1), true
		for _, it := range last.items {
			p := m.prods[it.prod]
			if int(it.dot) >= len(p.rhs) || p.rhs[it.dot].term == nil {
				continue
			}
			r, single := p.rhs[it.dot].term.single()
			if !single || (forced >= 0 && forced != r) {
				ok = false
				break
			}
			forced = r
		}
		if !ok || forced < 0 {
			break
		}
		out = append(out, forced)
		if chart = m.scan(chart, forced); chart == nil {
			break
		}
	}
	return string(out)
}
