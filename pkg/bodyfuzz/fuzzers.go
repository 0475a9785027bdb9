package bodyfuzz

import (
	"github.com/vikasavnish/seqfuzz/pkg/schema"
)

// Drop removes one member or array value at a time.
type Drop struct{ Base }

// Select keeps one member or array value at a time.
type Select struct{ Base }

// SelectTwo keeps every pair of members or array values.
type SelectTwo struct{ Base }

// Duplicate repeats one member or array value at a time.
type Duplicate struct{ Base }

// Type swaps leaves and containers for values of other JSON types.
type Type struct{ Base }

func (Drop) Name() string      { return "drop" }
func (Select) Name() string    { return "select" }
func (SelectTwo) Name() string { return "select_two" }
func (Duplicate) Name() string { return "duplicate" }
func (Type) Name() string      { return "type" }

func (Drop) FuzzMembers(p *Propagator, members [][]schema.Member) [][]schema.Member {
	return structural(p, members, dropOne)
}

func (Drop) FuzzValues(p *Propagator, values [][]schema.Node) [][]schema.Node {
	return structural(p, values, dropOne)
}

func (Select) FuzzMembers(p *Propagator, members [][]schema.Member) [][]schema.Member {
	return structural(p, members, selectOne)
}

func (Select) FuzzValues(p *Propagator, values [][]schema.Node) [][]schema.Node {
	return structural(p, values, selectOne)
}

func (SelectTwo) FuzzMembers(p *Propagator, members [][]schema.Member) [][]schema.Member {
	return structural(p, members, selectTwo)
}

func (SelectTwo) FuzzValues(p *Propagator, values [][]schema.Node) [][]schema.Node {
	return structural(p, values, selectTwo)
}

func (Duplicate) FuzzMembers(p *Propagator, members [][]schema.Member) [][]schema.Member {
	return structural(p, members, duplicateOne)
}

func (Duplicate) FuzzValues(p *Propagator, values [][]schema.Node) [][]schema.Node {
	return structural(p, values, duplicateOne)
}

// structural returns the unchanged combinations followed by those of every
// child set produced by mutate. In single mode the mutated sets use only
// the first variant of each child, so a variant carries one mutation.
func structural[T any](p *Propagator, children [][]T, mutate func([][]T) [][][]T) [][]T {
	if len(children) == 0 {
		return [][]T{{}}
	}
	pool := Propagate(p, children)
	for _, set := range mutate(children) {
		if p.Single() {
			set = firsts(set)
		}
		pool = append(pool, Propagate(p, set)...)
	}
	return pool
}

func dropOne[T any](children [][]T) [][][]T {
	out := make([][][]T, 0, len(children))
	for i := range children {
		set := append([][]T(nil), children[:i]...)
		out = append(out, append(set, children[i+1:]...))
	}
	return out
}

func selectOne[T any](children [][]T) [][][]T {
	out := make([][][]T, 0, len(children))
	for i := range children {
		out = append(out, [][]T{children[i]})
	}
	return out
}

func selectTwo[T any](children [][]T) [][][]T {
	var out [][][]T
	for i := range children {
		for j := i + 1; j < len(children); j++ {
			out = append(out, [][]T{children[i], children[j]})
		}
	}
	return out
}

func duplicateOne[T any](children [][]T) [][][]T {
	out := make([][][]T, 0, len(children))
	for i := range children {
		set := append([][]T(nil), children[:i+1]...)
		set = append(set, children[i])
		out = append(out, append(set, children[i+1:]...))
	}
	return out
}

func firsts[T any](children [][]T) [][]T {
	out := make([][]T, len(children))
	for i, c := range children {
		out[i] = c[:1]
	}
	return out
}

func (Type) FuzzLeaf(_ *Propagator, l *schema.Leaf) []schema.Node {
	keep := l.Type
	if keep == schema.Enum || keep == schema.ObjectLeaf {
		keep = ""
	}
	out := []schema.Node{l}
	out = append(out, leafSwaps(keep, l.Content)...)
	out = append(out, &schema.Array{})
	if l.Type != schema.ObjectLeaf {
		out = append(out, &schema.Object{})
	}
	return out
}

func (Type) FuzzObject(_ *Propagator, original *schema.Object, variants []schema.Node) []schema.Node {
	variants = append(variants, leafSwaps("", "")...)
	return append(variants, &schema.Array{Values: []schema.Node{original}})
}

func (Type) FuzzArray(_ *Propagator, _ *schema.Array, variants []schema.Node) []schema.Node {
	variants = append(variants, leafSwaps("", "")...)
	return append(variants, &schema.Object{})
}

// leafSwaps returns scalar leaves of every type but keep.
func leafSwaps(keep schema.LeafType, content string) []schema.Node {
	var out []schema.Node
	for _, t := range []schema.LeafType{schema.String, schema.Number, schema.Boolean} {
		if t == keep {
			continue
		}
		out = append(out, schema.NewLeaf(t, swapContent(t, content)))
	}
	return out
}

func swapContent(t schema.LeafType, content string) string {
	switch t {
	case schema.Number:
		return "0"
	case schema.Boolean:
		return "true"
	}
	if content == "" {
		return "fuzzstring"
	}
	return content
}
