// Package sequences models ordered request sequences and renders them
// against the target.
package sequences

import (
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/vikasavnish/seqfuzz/pkg/requests"
	"github.com/vikasavnish/seqfuzz/pkg/transport"
)

// PrefixStatus is the render state of all requests but the last.
type PrefixStatus int

const (
	PrefixNotRendered PrefixStatus = iota
	PrefixValid
	PrefixInvalid
)

func (p PrefixStatus) String() string {
	switch p {
	case PrefixValid:
		return "valid"
	case PrefixInvalid:
		return "invalid"
	}
	return "not_rendered"
}

// Failure classifies why a rendering did not succeed.
type Failure int

const (
	FailureNone Failure = iota
	FailureSequence
	FailureResourceCreation
	FailureParser
	FailureBug
	FailureMissingStatusCode
)

func (f Failure) String() string {
	switch f {
	case FailureSequence:
		return "sequence_failure"
	case FailureResourceCreation:
		return "resource_creation_failure"
	case FailureParser:
		return "parser_failure"
	case FailureBug:
		return "bug"
	case FailureMissingStatusCode:
		return "missing_status_code"
	}
	return "none"
}

// SentRequestData records one request as sent, for replay and bug logs.
type SentRequestData struct {
	RequestID           string
	RenderedData        string
	Parser              requests.ResponseParser
	Response            *transport.Response
	ProducerTimingDelay time.Duration
	MaxAsyncWaitTime    time.Duration
	// Variables is the worker's variable table after the request.
	Variables map[string]string
}

// Sequence is an ordered list of request templates forming one test case.
type Sequence struct {
	Requests []*requests.Request
	// CombinationIDs holds the last combination rendered for each request;
	// for prefix requests this is the last known-good one.
	CombinationIDs  []int
	SentRequestData []SentRequestData
	PrefixStatus    PrefixStatus

	renderedPrefix  int
	prefixVars      map[string]string
	nextCombination int
}

// New creates a sequence of reqs with every combination id at zero.
func New(reqs ...*requests.Request) *Sequence {
	return &Sequence{
		Requests:       append([]*requests.Request(nil), reqs...),
		CombinationIDs: make([]int, len(reqs)),
	}
}

func (s *Sequence) Len() int {
	return len(s.Requests)
}

// Last returns the terminal request.
func (s *Sequence) Last() *requests.Request {
	if len(s.Requests) == 0 {
		return nil
	}
	return s.Requests[len(s.Requests)-1]
}

// Append returns a new sequence extending s with r. The new sequence's
// prefix keeps s's combination ids and sent data.
func (s *Sequence) Append(r *requests.Request) *Sequence {
	return s.Concat(New(r))
}

// Concat returns a new sequence made of s followed by other.
func (s *Sequence) Concat(other *Sequence) *Sequence {
	out := &Sequence{
		Requests:        make([]*requests.Request, 0, len(s.Requests)+len(other.Requests)),
		CombinationIDs:  make([]int, 0, len(s.Requests)+len(other.Requests)),
		SentRequestData: make([]SentRequestData, 0, len(s.SentRequestData)+len(other.SentRequestData)),
	}
	out.Requests = append(append(out.Requests, s.Requests...), other.Requests...)
	out.CombinationIDs = append(append(out.CombinationIDs, s.CombinationIDs...), other.CombinationIDs...)
	out.SentRequestData = append(append(out.SentRequestData, s.SentRequestData...), other.SentRequestData...)
	return out
}

// Clone returns a deep copy of s, render cursor included.
func (s *Sequence) Clone() *Sequence {
	out := &Sequence{
		Requests:        append([]*requests.Request(nil), s.Requests...),
		CombinationIDs:  append([]int(nil), s.CombinationIDs...),
		SentRequestData: make([]SentRequestData, len(s.SentRequestData)),
		PrefixStatus:    s.PrefixStatus,
		renderedPrefix:  s.renderedPrefix,
		prefixVars:      copyVars(s.prefixVars),
		nextCombination: s.nextCombination,
	}
	for i, d := range s.SentRequestData {
		d.Variables = copyVars(d.Variables)
		out.SentRequestData[i] = d
	}
	return out
}

// ReplaceLast returns a fresh, unrendered copy of s whose terminal
// request is r. Prefix combination ids are kept.
func (s *Sequence) ReplaceLast(r *requests.Request) *Sequence {
	out := New(append(append([]*requests.Request(nil), s.Requests[:len(s.Requests)-1]...), r)...)
	copy(out.CombinationIDs, s.CombinationIDs[:len(s.CombinationIDs)-1])
	return out
}

// Hash identifies the sequence by the content of its requests.
func (s *Sequence) Hash() string {
	hashes := make([]string, len(s.Requests))
	for i, r := range s.Requests {
		hashes[i] = r.ContentHash()
	}
	return strconv.FormatUint(xxhash.Sum64String(strings.Join(hashes, ",")), 16)
}

// MethodEndpointHashes returns the method/endpoint hash of each request.
func (s *Sequence) MethodEndpointHashes() []string {
	out := make([]string, len(s.Requests))
	for i, r := range s.Requests {
		out[i] = r.MethodEndpointHash()
	}
	return out
}

// RequestIDs returns the ids of the sequence's requests.
func (s *Sequence) RequestIDs() []string {
	out := make([]string, len(s.Requests))
	for i, r := range s.Requests {
		out[i] = r.ID()
	}
	return out
}

// NextCombination returns the next terminal combination to render.
func (s *Sequence) NextCombination() int {
	return s.nextCombination
}

// SetNextCombination moves the terminal render cursor.
func (s *Sequence) SetNextCombination(id int) {
	s.nextCombination = id
}

// UsePrefix marks the first n requests as already rendered with the given
// combination ids and sent data; rendering resumes from the recorded
// variable state of request n-1.
func (s *Sequence) UsePrefix(n int, combinationIDs []int, sent []SentRequestData) {
	if n <= 0 || n >= len(s.Requests) || len(sent) < n || len(combinationIDs) < n {
		return
	}
	copy(s.CombinationIDs, combinationIDs[:n])
	s.SentRequestData = make([]SentRequestData, n)
	for i := 0; i < n; i++ {
		d := sent[i]
		d.Variables = copyVars(d.Variables)
		s.SentRequestData[i] = d
	}
	s.renderedPrefix = n
	s.PrefixStatus = PrefixNotRendered
	s.prefixVars = nil
}

// RenderedPrefix returns how many leading requests were taken from a
// previous rendering.
func (s *Sequence) RenderedPrefix() int {
	return s.renderedPrefix
}

func copyVars(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// RenderedSequence is the outcome of one render attempt.
type RenderedSequence struct {
	Sequence      *Sequence
	Valid         bool
	Failure       Failure
	FinalResponse *transport.Response
	Timestamp     time.Time
}
