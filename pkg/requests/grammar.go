package requests

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/vikasavnish/seqfuzz/pkg/primitives"
	"github.com/vikasavnish/seqfuzz/pkg/schema"
)

//go:embed grammar.schema.json
var grammarSchema []byte

type grammarFile struct {
	Requests []grammarRequest `json:"requests"`
}

type grammarRequest struct {
	ID         string            `json:"id"`
	Method     string            `json:"method"`
	Endpoint   string            `json:"endpoint"`
	Path       []grammarBlock    `json:"path"`
	Query      []grammarParam    `json:"query"`
	Headers    []grammarParam    `json:"headers"`
	Body       []grammarBlock    `json:"body"`
	BodySchema json.RawMessage   `json:"body_schema"`
	DependsOn  []string          `json:"depends_on"`
	Produces   map[string]string `json:"produces"`
	Auth       bool              `json:"auth"`
}

type grammarParam struct {
	Name  string         `json:"name"`
	Value []grammarBlock `json:"value"`
}

type grammarBlock struct {
	Type     string   `json:"type"`
	Value    string   `json:"value"`
	Kind     string   `json:"kind"`
	Default  string   `json:"default"`
	Tag      string   `json:"tag"`
	Variable string   `json:"variable"`
	Writer   string   `json:"writer"`
	Quoted   bool     `json:"quoted"`
	Examples []string `json:"examples"`
	Enum     []string `json:"enum"`
}

func compileGrammarSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("grammar.json", bytes.NewReader(grammarSchema)); err != nil {
		return nil, fmt.Errorf("add grammar schema resource: %w", err)
	}
	return compiler.Compile("grammar.json")
}

// LoadGrammar reads a JSON grammar, validates it and builds the request
// collection.
func LoadGrammar(r io.Reader) (*Collection, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read grammar: %w", err)
	}

	sch, err := compileGrammarSchema()
	if err != nil {
		return nil, err
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode grammar: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid grammar: %w", err)
	}

	var g grammarFile
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode grammar: %w", err)
	}

	reqs := make([]*Request, 0, len(g.Requests))
	for _, gr := range g.Requests {
		req, err := gr.build()
		if err != nil {
			return nil, fmt.Errorf("request %s: %w", gr.ID, err)
		}
		reqs = append(reqs, req)
	}
	return NewCollection(reqs)
}

func (gr grammarRequest) build() (*Request, error) {
	s := Spec{
		ID:        gr.ID,
		Method:    gr.Method,
		Endpoint:  gr.Endpoint,
		DependsOn: gr.DependsOn,
		Auth:      gr.Auth,
	}

	var err error
	if s.Path, err = buildBlocks(gr.Path); err != nil {
		return nil, fmt.Errorf("path: %w", err)
	}
	if s.Body, err = buildBlocks(gr.Body); err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}
	if s.Query, err = buildParams(gr.Query); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	if s.Headers, err = buildParams(gr.Headers); err != nil {
		return nil, fmt.Errorf("headers: %w", err)
	}
	if len(gr.BodySchema) > 0 {
		if s.BodySchema, err = schema.Parse(gr.BodySchema); err != nil {
			return nil, err
		}
		if len(s.Body) == 0 {
			s.Body = schema.Blocks(s.BodySchema, schema.BlockOptions{FuzzableLeaves: true})
		}
	}
	if len(gr.Produces) > 0 {
		parser, err := NewExtractionParser(gr.Produces)
		if err != nil {
			return nil, err
		}
		s.Parser = parser
	}
	return New(s), nil
}

func buildParams(params []grammarParam) ([]Param, error) {
	out := make([]Param, 0, len(params))
	for _, p := range params {
		blocks, err := buildBlocks(p.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
		out = append(out, Param{Name: p.Name, Value: blocks})
	}
	return out, nil
}

func buildBlocks(gbs []grammarBlock) ([]primitives.Block, error) {
	out := make([]primitives.Block, 0, len(gbs))
	for _, gb := range gbs {
		switch gb.Type {
		case "static":
			out = append(out, primitives.StaticString{Text: gb.Value, Quoted: gb.Quoted})
		case "fuzzable":
			kind := primitives.Kind(gb.Kind)
			if !kind.IsFuzzable() {
				return nil, fmt.Errorf("unknown fuzzable kind %q", gb.Kind)
			}
			out = append(out, primitives.FuzzableValue{
				Kind:       kind,
				Default:    gb.Default,
				Quoted:     gb.Quoted,
				Examples:   gb.Examples,
				EnumValues: gb.Enum,
				Writer:     gb.Writer,
			})
		case "custom_payload":
			kind := primitives.Kind(gb.Kind)
			if gb.Kind == "" {
				kind = primitives.KindCustomPayload
			}
			if !kind.IsCustom() {
				return nil, fmt.Errorf("unknown custom payload kind %q", gb.Kind)
			}
			out = append(out, primitives.CustomPayload{Kind: kind, Tag: gb.Tag, Quoted: gb.Quoted, Writer: gb.Writer})
		case "reader":
			out = append(out, primitives.DynamicObjectReader{Variable: gb.Variable, Quoted: gb.Quoted})
		case "auth_token":
			out = append(out, primitives.RefreshableAuthToken{})
		default:
			return nil, fmt.Errorf("unknown block type %q", gb.Type)
		}
	}
	return out, nil
}
