// Package requests holds request templates: ordered primitive blocks plus
// the dependency metadata the sequence engine needs.
package requests

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/vikasavnish/seqfuzz/pkg/primitives"
	"github.com/vikasavnish/seqfuzz/pkg/schema"
)

// Param is a named query parameter or header whose value is made of blocks.
type Param struct {
	Name  string
	Value []primitives.Block
}

// Spec describes a request before its derived metadata is computed.
type Spec struct {
	ID         string
	Method     string
	Endpoint   string
	Path       []primitives.Block
	Query      []Param
	Headers    []Param
	Body       []primitives.Block
	BodySchema schema.Node
	DependsOn  []string
	Parser     ResponseParser
	Auth       bool
}

// Request is an immutable request template.
type Request struct {
	spec   Spec
	blocks []primitives.Block

	consumes           []string
	produces           []string
	contentHash        string
	methodEndpointHash string
}

// New builds a request template from s.
func New(s Spec) *Request {
	r := &Request{spec: s}
	r.blocks = assemble(s)
	r.consumes = deriveConsumes(r.blocks, s.DependsOn)
	r.produces = deriveProduces(r.blocks, s.Parser)
	r.contentHash = hashBlocks(r.blocks)
	r.methodEndpointHash = hashString(strings.ToUpper(s.Method) + " " + s.Endpoint)
	return r
}

func (r *Request) ID() string                 { return r.spec.ID }
func (r *Request) Method() string             { return strings.ToUpper(r.spec.Method) }
func (r *Request) Endpoint() string           { return r.spec.Endpoint }
func (r *Request) Parser() ResponseParser     { return r.spec.Parser }
func (r *Request) BodySchema() schema.Node    { return r.spec.BodySchema }
func (r *Request) Blocks() []primitives.Block { return r.blocks }
func (r *Request) Consumes() []string         { return r.consumes }
func (r *Request) Produces() []string         { return r.produces }
func (r *Request) ContentHash() string        { return r.contentHash }
func (r *Request) MethodEndpointHash() string { return r.methodEndpointHash }
func (r *Request) Spec() Spec                 { return r.spec }

// IsResourceGenerator reports whether the request creates a resource
// whose identifier is parsed from its response.
func (r *Request) IsResourceGenerator() bool {
	m := r.Method()
	return (m == "PUT" || m == "POST") && r.spec.Parser != nil
}

// ConsumesVariable reports whether the request reads variable.
func (r *Request) ConsumesVariable(variable string) bool {
	for _, c := range r.consumes {
		if c == variable {
			return true
		}
	}
	return false
}

// ProducesVariable reports whether the request writes variable.
func (r *Request) ProducesVariable(variable string) bool {
	for _, p := range r.produces {
		if p == variable {
			return true
		}
	}
	return false
}

// Writers returns the variables set from fuzzable or custom values.
func (r *Request) Writers() []string {
	var out []string
	for _, b := range r.blocks {
		if w := primitives.WriterOf(b); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// assemble lays out the flat definition:
// METHOD path[?query] HTTP/1.1\r\n, header lines, \r\n, body.
func assemble(s Spec) []primitives.Block {
	var out []primitives.Block
	out = append(out, primitives.Static(strings.ToUpper(s.Method)+" "))
	out = append(out, s.Path...)
	for i, q := range s.Query {
		sep := "&"
		if i == 0 {
			sep = "?"
		}
		out = append(out, primitives.Static(sep+q.Name+"="))
		out = append(out, q.Value...)
	}
	out = append(out, primitives.Static(" HTTP/1.1\r\n"))

	hasContentType := false
	for _, h := range s.Headers {
		if strings.EqualFold(h.Name, "Content-Type") {
			hasContentType = true
		}
		out = append(out, primitives.Static(h.Name+": "))
		out = append(out, h.Value...)
		out = append(out, primitives.Static("\r\n"))
	}
	if len(s.Body) > 0 && !hasContentType {
		out = append(out, primitives.Static("Content-Type: application/json\r\n"))
	}
	if s.Auth {
		out = append(out, primitives.RefreshableAuthToken{})
	}
	out = append(out, primitives.Static("\r\n"))
	out = append(out, s.Body...)
	return out
}

func deriveConsumes(blocks []primitives.Block, dependsOn []string) []string {
	set := make(map[string]struct{})
	for _, b := range blocks {
		if rd, ok := b.(primitives.DynamicObjectReader); ok {
			set[rd.Variable] = struct{}{}
		}
	}
	for _, d := range dependsOn {
		set[d] = struct{}{}
	}
	return sortedKeys(set)
}

func deriveProduces(blocks []primitives.Block, parser ResponseParser) []string {
	set := make(map[string]struct{})
	if parser != nil {
		for _, v := range parser.Variables() {
			set[v] = struct{}{}
		}
	}
	for _, b := range blocks {
		if w := primitives.WriterOf(b); w != "" {
			set[w] = struct{}{}
		}
	}
	return sortedKeys(set)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func hashBlocks(blocks []primitives.Block) string {
	d := xxhash.New()
	for _, b := range blocks {
		switch v := b.(type) {
		case primitives.StaticString:
			d.WriteString("s|" + strconv.FormatBool(v.Quoted) + "|" + v.Text)
		case primitives.FuzzableValue:
			d.WriteString("f|" + string(v.Kind) + "|" + v.Default + "|" + strings.Join(v.Examples, ",") +
				"|" + strings.Join(v.EnumValues, ",") + "|" + v.Writer + "|" + strconv.FormatBool(v.Quoted))
		case primitives.CustomPayload:
			d.WriteString("c|" + string(v.Kind) + "|" + v.Tag + "|" + v.Writer + "|" + strconv.FormatBool(v.Quoted))
		case primitives.DynamicObjectReader:
			d.WriteString("r|" + v.Variable + "|" + strconv.FormatBool(v.Quoted))
		case primitives.RefreshableAuthToken:
			d.WriteString("a|")
		}
		d.WriteString("\x00")
	}
	return strconv.FormatUint(d.Sum64(), 16)
}

func hashString(s string) string {
	return strconv.FormatUint(xxhash.Sum64String(s), 16)
}
