package schedule

import "sort"

// Set is an unordered collection of unique expressions.
type Set map[Expression]struct{}

// NewSet builds a set from the given expressions, skipping empty ones.
func NewSet(exprs ...Expression) Set {
	s := make(Set, len(exprs))
	for _, e := range exprs {
		s.Add(e)
	}
	return s
}

// Add inserts e. Empty expressions are ignored.
func (s Set) Add(e Expression) {
	if e.IsZero() {
		return
	}
	s[e] = struct{}{}
}

func (s Set) Has(e Expression) bool {
	_, ok := s[e]
	return ok
}

func (s Set) Len() int { return len(s) }

// Union adds every member of other to s.
func (s Set) Union(other Set) {
	for e := range other {
		s[e] = struct{}{}
	}
}

// Sorted returns the members in lexical order (stable logs and tests).
func (s Set) Sorted() []Expression {
	out := make([]Expression, 0, len(s))
	for e := range s {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings is Sorted as plain strings.
func (s Set) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, e := range sorted {
		out[i] = string(e)
	}
	return out
}
