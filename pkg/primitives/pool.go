package primitives

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// CandidateValueError reports a primitive with no candidate values.
type CandidateValueError struct {
	Kind      Kind
	Tag       string
	RequestID string
}

func (e *CandidateValueError) Error() string {
	if e.Tag != "" {
		return fmt.Sprintf("no candidate values for %s tag %q in request %s", e.Kind, e.Tag, e.RequestID)
	}
	return fmt.Sprintf("no candidate values for %s in request %s", e.Kind, e.RequestID)
}

// Candidate is one value a block can take. Generated candidates produce a
// fresh value every time they are materialized.
type Candidate struct {
	literal  string
	generate func() string
}

// Literal returns a fixed candidate.
func Literal(v string) Candidate {
	return Candidate{literal: v}
}

// Generated returns a candidate backed by a generator.
func Generated(fn func() string) Candidate {
	return Candidate{generate: fn}
}

// Value materializes the candidate.
func (c Candidate) Value() string {
	if c.generate != nil {
		return c.generate()
	}
	return c.literal
}

// IsGenerated reports whether the candidate is generator-backed.
func (c Candidate) IsGenerated() bool {
	return c.generate != nil
}

// Pool answers candidate-value queries for request rendering.
type Pool struct {
	dict *Dictionary

	mu        sync.RWMutex
	authToken string
}

// NewPool creates a pool over dict. A nil dict uses DefaultDictionary.
func NewPool(dict *Dictionary) *Pool {
	if dict == nil {
		dict = DefaultDictionary()
	}
	return &Pool{dict: dict}
}

// SetAuthToken sets the value rendered for RefreshableAuthToken blocks.
// The token is a complete header line without the trailing CRLF, e.g.
// "Authorization: Bearer abc".
func (p *Pool) SetAuthToken(token string) {
	p.mu.Lock()
	p.authToken = token
	p.mu.Unlock()
}

// Candidates returns the ordered candidate list for b. Examples come
// first, then dictionary values, and the block default is used only when
// neither exists.
func (p *Pool) Candidates(b Block, requestID string) ([]Candidate, error) {
	switch v := b.(type) {
	case StaticString:
		return []Candidate{Literal(quote(v.Text, v.Quoted))}, nil

	case DynamicObjectReader:
		return []Candidate{Literal(quote(Placeholder(v.Variable), v.Quoted))}, nil

	case RefreshableAuthToken:
		p.mu.RLock()
		token := p.authToken
		p.mu.RUnlock()
		if token == "" {
			return []Candidate{Literal("")}, nil
		}
		return []Candidate{Literal(token + "\r\n")}, nil

	case FuzzableValue:
		return p.fuzzableCandidates(v, requestID)

	case CustomPayload:
		return p.customCandidates(v, requestID)
	}
	return nil, fmt.Errorf("unsupported block %T", b)
}

func (p *Pool) fuzzableCandidates(v FuzzableValue, requestID string) ([]Candidate, error) {
	if v.Kind == KindUUID4 {
		return []Candidate{Generated(func() string {
			return quote(uuid.NewString(), v.Quoted)
		})}, nil
	}

	var values []string
	if v.Kind == KindGroup {
		values = append(values, v.EnumValues...)
	} else {
		values = append(values, v.Examples...)
		values = append(values, p.dict.fuzzable(v.Kind, requestID)...)
	}
	if len(values) == 0 && v.Default != "" {
		values = []string{v.Default}
	}
	if len(values) == 0 {
		return nil, &CandidateValueError{Kind: v.Kind, RequestID: requestID}
	}
	return literals(values, v.Quoted), nil
}

func (p *Pool) customCandidates(v CustomPayload, requestID string) ([]Candidate, error) {
	if v.Kind == KindCustomUUID4Suffix {
		prefix, ok := p.dict.uuidSuffix(v.Tag, requestID)
		if !ok {
			return nil, &CandidateValueError{Kind: v.Kind, Tag: v.Tag, RequestID: requestID}
		}
		return []Candidate{Generated(func() string {
			suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
			return quote(prefix+suffix, v.Quoted)
		})}, nil
	}

	values, ok := p.dict.custom(v.Kind, v.Tag, requestID)
	if !ok || len(values) == 0 {
		return nil, &CandidateValueError{Kind: v.Kind, Tag: v.Tag, RequestID: requestID}
	}
	return literals(values, v.Quoted), nil
}

func literals(values []string, quoted bool) []Candidate {
	out := make([]Candidate, len(values))
	for i, val := range values {
		out[i] = Literal(quote(val, quoted))
	}
	return out
}

func quote(s string, quoted bool) string {
	if quoted {
		return `"` + s + `"`
	}
	return s
}
