package bodyfuzz

import (
	"math/rand"
)

// Propagator combines the variants of a node's children into variants of
// the node itself. One Propagator serves a whole run.
type Propagator struct {
	cfg Config
	rng *rand.Rand
}

// NewPropagator returns a propagator seeded with cfg.Seed.
func NewPropagator(cfg Config) *Propagator {
	return &Propagator{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

// Config returns the run configuration.
func (p *Propagator) Config() Config { return p.cfg }

// Single reports whether variants should carry a single mutation.
func (p *Propagator) Single() bool { return p.cfg.single() }

// Propagate returns combinations of children, one element per child, with
// the first variant of every child forming the first combination. EX
// takes the Cartesian product, D1 varies one child at a time away from
// the first variants and linear_bias pairs the k-th variants of all
// children, falling back to the first variant for shorter lists. D1 is
// distance-one from the base combination rather than a positional
// pairing; positional pairing is what linear_bias does. The result never
// exceeds the configured bound. No children yield a single empty
// combination.
func Propagate[T any](p *Propagator, children [][]T) [][]T {
	for _, c := range children {
		if len(c) == 0 {
			return nil
		}
	}
	strategy, shuffle := p.cfg.propagation()
	if shuffle {
		children = shuffleTails(p.rng, children)
	}
	bound := p.cfg.bound()

	switch strategy {
	case PropagationD1:
		return distanceOne(children, bound)
	case PropagationLinearBias:
		return positional(children, bound)
	}
	return exhaustive(children, bound)
}

func exhaustive[T any](children [][]T, bound int) [][]T {
	var out [][]T
	idx := make([]int, len(children))
	for len(out) < bound {
		out = append(out, pick(children, idx))
		i := len(idx) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(children[i]) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			break
		}
	}
	return out
}

func distanceOne[T any](children [][]T, bound int) [][]T {
	first := pick(children, make([]int, len(children)))
	out := [][]T{first}
	for i, c := range children {
		for _, v := range c[1:] {
			if len(out) >= bound {
				return out
			}
			combo := append([]T(nil), first...)
			combo[i] = v
			out = append(out, combo)
		}
	}
	return out
}

func positional[T any](children [][]T, bound int) [][]T {
	width := 1
	for _, c := range children {
		width = max(width, len(c))
	}
	var out [][]T
	for k := 0; k < width && len(out) < bound; k++ {
		combo := make([]T, len(children))
		for i, c := range children {
			if k < len(c) {
				combo[i] = c[k]
			} else {
				combo[i] = c[0]
			}
		}
		out = append(out, combo)
	}
	return out
}

func pick[T any](children [][]T, idx []int) []T {
	combo := make([]T, len(children))
	for i, c := range children {
		combo[i] = c[idx[i]]
	}
	return combo
}

// shuffleTails shuffles copies of each list, leaving the first variant in place.
func shuffleTails[T any](rng *rand.Rand, children [][]T) [][]T {
	out := make([][]T, len(children))
	for i, c := range children {
		cp := append([]T(nil), c...)
		tail := cp[1:]
		rng.Shuffle(len(tail), func(a, b int) { tail[a], tail[b] = tail[b], tail[a] })
		out[i] = cp
	}
	return out
}
