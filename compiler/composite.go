package compiler

import "strconv"

// compositeMachine is the conjunction of its parts.
type compositeMachine struct {
	parts []machine
}

type compositeCursor struct {
	parts []cursor
}

func (m *compositeMachine) start() cursor {
	cs := make([]cursor, len(m.parts))
	for i, p := range m.parts {
		cs[i] = p.start()
	}
	return compositeCursor{parts: cs}
}

func (m *compositeMachine) validate(text string) bool {
	for _, p := range m.parts {
		if !p.validate(text) {
			return false
		}
	}
	return true
}

func (c compositeCursor) step(r rune) (cursor, bool) {
	next := make([]cursor, len(c.parts))
	for i, p := range c.parts {
		n, ok := p.step(r)
		if !ok {
			return nil, false
		}
		next[i] = n
	}
	return compositeCursor{parts: next}, true
}

func (c compositeCursor) accepting() bool {
	for _, p := range c.parts {
		if !p.accepting() {
			return false
		}
	}
	return true
}

// forcedPrefix is the longest forced prefix of any part.
func (m *compositeMachine) forcedPrefix() string {
	best := ""
	for _, p := range m.parts {
		if f, ok := p.(prefixForcer); ok {
			if fp := f.forcedPrefix(); len(fp) > len(best) {
				best = fp
			}
		}
	}
	return best
}

type deadChecker interface {
	deadAtStart() bool
}

// checkSatisfiable is a best-effort emptiness test. It reports machines that
// accept nothing, and conjunctions where one part forces a prefix that another
// part rejects. It never rejects a satisfiable constraint.
func checkSatisfiable(m machine) error {
	if d, ok := m.(deadChecker); ok && d.deadAtStart() {
		return unsatisfiable("constraint accepts no string")
	}
	cm, ok := m.(*compositeMachine)
	if !ok {
		return nil
	}
	for i, p := range cm.parts {
		if err := checkSatisfiable(p); err != nil {
			return prefixError(err, partLabel(i))
		}
	}
	for i, p := range cm.parts {
		f, ok := p.(prefixForcer)
		if !ok {
			continue
		}
		prefix := f.forcedPrefix()
		if prefix == "" {
			continue
		}
		for j, q := range cm.parts {
			if i == j {
				continue
			}
			if _, ok := (Cursor{c: q.start()}).Feed(prefix); !ok {
				return unsatisfiable("%s requires prefix %q which %s rejects", partLabel(i), prefix, partLabel(j))
			}
		}
	}
	return nil
}

func partLabel(i int) string {
	return "part " + strconv.Itoa(i)
}
