package bodyfuzz

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/vikasavnish/seqfuzz/pkg/schema"
)

// Fuzzer supplies the per-node hooks of a structural fuzzing run. Every
// hook returns the variants of one node, original first. Concrete fuzzers
// embed Base and override the hooks they change.
type Fuzzer interface {
	Name() string
	// FuzzLeaf returns variants of a leaf.
	FuzzLeaf(p *Propagator, l *schema.Leaf) []schema.Node
	// FuzzMembers combines the variants of each member into member lists.
	FuzzMembers(p *Propagator, members [][]schema.Member) [][]schema.Member
	// FuzzValues combines the variants of each array value into value lists.
	FuzzValues(p *Propagator, values [][]schema.Node) [][]schema.Node
	// FuzzObject post-processes the variants built from an object's members.
	FuzzObject(p *Propagator, original *schema.Object, variants []schema.Node) []schema.Node
	// FuzzArray post-processes the variants built from an array's values.
	FuzzArray(p *Propagator, original *schema.Array, variants []schema.Node) []schema.Node
}

// Base leaves every node structurally unchanged.
type Base struct{}

func (Base) FuzzLeaf(_ *Propagator, l *schema.Leaf) []schema.Node { return []schema.Node{l} }

func (Base) FuzzMembers(p *Propagator, members [][]schema.Member) [][]schema.Member {
	return Propagate(p, members)
}

func (Base) FuzzValues(p *Propagator, values [][]schema.Node) [][]schema.Node {
	return Propagate(p, values)
}

func (Base) FuzzObject(_ *Propagator, _ *schema.Object, variants []schema.Node) []schema.Node {
	return variants
}

func (Base) FuzzArray(_ *Propagator, _ *schema.Array, variants []schema.Node) []schema.Node {
	return variants
}

// Visit returns the variants of n at the given depth. Containers at or
// beyond the configured maximum depth are returned unchanged.
func Visit(f Fuzzer, p *Propagator, n schema.Node, depth int) []schema.Node {
	switch v := n.(type) {
	case *schema.Leaf:
		return f.FuzzLeaf(p, v)

	case *schema.Object:
		if depth >= p.cfg.MaxDepth {
			return []schema.Node{v}
		}
		children := make([][]schema.Member, len(v.Members))
		for i, m := range v.Members {
			for _, c := range Visit(f, p, m.Value, depth+1) {
				children[i] = append(children[i], schema.Member{Name: m.Name, Value: c, Required: m.Required})
			}
		}
		var variants []schema.Node
		for _, members := range f.FuzzMembers(p, children) {
			variants = append(variants, &schema.Object{Members: members})
		}
		return f.FuzzObject(p, v, variants)

	case *schema.Array:
		if depth >= p.cfg.MaxDepth {
			return []schema.Node{v}
		}
		children := make([][]schema.Node, len(v.Values))
		for i, c := range v.Values {
			children[i] = Visit(f, p, c, depth+1)
		}
		var variants []schema.Node
		for _, values := range f.FuzzValues(p, children) {
			variants = append(variants, &schema.Array{Values: values})
		}
		return f.FuzzArray(p, v, variants)
	}
	return []schema.Node{n}
}

// Run fuzzes seed with f and returns at most cfg.MaxCombination
// independent trees, shuffled with cfg.Seed when ShuffleCombination is set.
func Run(f Fuzzer, seed schema.Node, cfg Config) []schema.Node {
	limit := cfg.maxCombination()
	if seed == nil || limit == 0 {
		return nil
	}
	pool := Visit(f, NewPropagator(cfg), seed, 0)
	if cfg.ShuffleCombination {
		rng := rand.New(rand.NewSource(cfg.Seed))
		rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	}
	if len(pool) > limit {
		pool = pool[:limit]
	}
	out := make([]schema.Node, len(pool))
	for i, n := range pool {
		out[i] = schema.Clone(n)
	}
	return out
}

var registry = map[string]func() Fuzzer{
	"drop":       func() Fuzzer { return Drop{} },
	"select":     func() Fuzzer { return Select{} },
	"select_two": func() Fuzzer { return SelectTwo{} },
	"duplicate":  func() Fuzzer { return Duplicate{} },
	"type":       func() Fuzzer { return Type{} },
}

// ByName returns the fuzzer registered under name.
func ByName(name string) (Fuzzer, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown body fuzzer %q", name)
	}
	return ctor(), nil
}

// Names lists the registered fuzzers.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
