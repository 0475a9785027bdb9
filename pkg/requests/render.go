package requests

import (
	"errors"
	"strings"

	"github.com/vikasavnish/seqfuzz/pkg/primitives"
	"github.com/vikasavnish/seqfuzz/pkg/schema"
)

// ErrCombinationsExhausted is returned when a combination id lies past
// the end of a request's combination space.
var ErrCombinationsExhausted = errors.New("request combinations exhausted")

// Rendering is one concrete payload of a request template.
type Rendering struct {
	Data          string
	CombinationID int
	// Writers holds the values chosen for writer blocks, unquoted.
	Writers map[string]string
}

func (r *Request) candidates(pool *primitives.Pool) ([][]primitives.Candidate, error) {
	lists := make([][]primitives.Candidate, len(r.blocks))
	for i, b := range r.blocks {
		c, err := pool.Candidates(b, r.spec.ID)
		if err != nil {
			return nil, err
		}
		lists[i] = c
	}
	return lists, nil
}

// NumCombinations returns the size of the request's combination space,
// capped at max when max > 0.
func (r *Request) NumCombinations(pool *primitives.Pool, max int) (int, error) {
	lists, err := r.candidates(pool)
	if err != nil {
		return 0, err
	}
	return combinationCount(lists, max), nil
}

func combinationCount(lists [][]primitives.Candidate, max int) int {
	total := 1
	for _, l := range lists {
		total *= len(l)
		if total == 0 {
			return 0
		}
		if max > 0 && total >= max {
			return max
		}
	}
	return total
}

// Render materializes combination combinationID. Combinations enumerate
// the Cartesian product of every block's candidate list with the last
// block varying fastest.
func (r *Request) Render(pool *primitives.Pool, combinationID, maxCombinations int) (*Rendering, error) {
	lists, err := r.candidates(pool)
	if err != nil {
		return nil, err
	}
	if combinationID < 0 || combinationID >= combinationCount(lists, maxCombinations) {
		return nil, ErrCombinationsExhausted
	}

	choices := make([]int, len(lists))
	idx := combinationID
	for i := len(lists) - 1; i >= 0; i-- {
		n := len(lists[i])
		choices[i] = idx % n
		idx /= n
	}

	var sb strings.Builder
	writers := make(map[string]string)
	for i, b := range r.blocks {
		v := lists[i][choices[i]].Value()
		sb.WriteString(v)
		if w := primitives.WriterOf(b); w != "" {
			writers[w] = unquote(v)
		}
	}
	return &Rendering{Data: sb.String(), CombinationID: combinationID, Writers: writers}, nil
}

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}

// SubstituteBody returns a new template with the body replaced.
func (r *Request) SubstituteBody(body []primitives.Block, tree schema.Node) *Request {
	s := r.spec
	s.Body = body
	s.BodySchema = tree
	return r.derive(s)
}

// SubstituteQuery returns a new template with the query replaced.
func (r *Request) SubstituteQuery(query []Param) *Request {
	s := r.spec
	s.Query = query
	return r.derive(s)
}

// SubstituteHeaders returns a new template with the headers replaced.
func (r *Request) SubstituteHeaders(headers []Param) *Request {
	s := r.spec
	s.Headers = headers
	return r.derive(s)
}

// derive keeps the original dependency sets so the substituted template
// occupies the same place in the dependency graph.
func (r *Request) derive(s Spec) *Request {
	n := New(s)
	n.consumes = union(r.consumes, n.consumes)
	n.produces = union(r.produces, n.produces)
	return n
}

// LockVariables replaces readers of the given variables with their
// values, for create-once resources.
func (r *Request) LockVariables(values map[string]string) *Request {
	lock := func(blocks []primitives.Block) []primitives.Block {
		out := make([]primitives.Block, len(blocks))
		for i, b := range blocks {
			if rd, ok := b.(primitives.DynamicObjectReader); ok {
				if v, ok := values[rd.Variable]; ok {
					out[i] = primitives.StaticString{Text: v, Quoted: rd.Quoted}
					continue
				}
			}
			out[i] = b
		}
		return out
	}
	lockParams := func(params []Param) []Param {
		out := make([]Param, len(params))
		for i, p := range params {
			out[i] = Param{Name: p.Name, Value: lock(p.Value)}
		}
		return out
	}

	s := r.spec
	s.Path = lock(s.Path)
	s.Query = lockParams(s.Query)
	s.Headers = lockParams(s.Headers)
	s.Body = lock(s.Body)
	s.DependsOn = nil
	for _, d := range r.spec.DependsOn {
		if _, ok := values[d]; !ok {
			s.DependsOn = append(s.DependsOn, d)
		}
	}
	return New(s)
}

func union(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		set[v] = struct{}{}
	}
	return sortedKeys(set)
}
