package primitives

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Values holds candidate values for one scope of a dictionary.
type Values struct {
	Fuzzable   map[Kind][]string
	Custom     map[Kind]map[string][]string
	UUIDSuffix map[string]string
}

func newValues() *Values {
	return &Values{
		Fuzzable:   make(map[Kind][]string),
		Custom:     make(map[Kind]map[string][]string),
		UUIDSuffix: make(map[string]string),
	}
}

// Dictionary is the fuzzing dictionary: global values plus optional
// per-request overrides keyed by request id.
type Dictionary struct {
	Values
	PerRequest map[string]*Values
}

// DefaultDictionary returns the built-in dictionary used when none is
// configured.
func DefaultDictionary() *Dictionary {
	d := &Dictionary{Values: *newValues(), PerRequest: make(map[string]*Values)}
	d.Fuzzable[KindString] = []string{"fuzzstring"}
	d.Fuzzable[KindInt] = []string{"0", "1"}
	d.Fuzzable[KindNumber] = []string{"0.1", "1.2"}
	d.Fuzzable[KindBool] = []string{"true"}
	d.Fuzzable[KindDateTime] = []string{"2019-06-26T20:20:39+00:00"}
	d.Fuzzable[KindDate] = []string{"2019-06-26"}
	d.Fuzzable[KindObject] = []string{"{}"}
	return d
}

// LoadDictionary parses a dictionary JSON document. Keys are the
// restler_-prefixed kind names; fuzzable kinds map to value lists,
// custom kinds map tags to value lists, and
// restler_custom_payload_uuid4_suffix maps tags to prefixes. An optional
// "per_request" object holds the same shape keyed by request id.
func LoadDictionary(r io.Reader) (*Dictionary, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode dictionary: %w", err)
	}

	d := &Dictionary{PerRequest: make(map[string]*Values)}
	global, err := parseValues(raw)
	if err != nil {
		return nil, err
	}
	d.Values = *global

	if pr, ok := raw["per_request"]; ok {
		var perRequest map[string]map[string]json.RawMessage
		if err := json.Unmarshal(pr, &perRequest); err != nil {
			return nil, fmt.Errorf("decode per_request: %w", err)
		}
		for id, entries := range perRequest {
			v, err := parseValues(entries)
			if err != nil {
				return nil, fmt.Errorf("per_request %s: %w", id, err)
			}
			d.PerRequest[id] = v
		}
	}
	return d, nil
}

func parseValues(raw map[string]json.RawMessage) (*Values, error) {
	v := newValues()
	for key, msg := range raw {
		if key == "per_request" {
			continue
		}
		if !strings.HasPrefix(key, dictionaryPrefix) {
			return nil, fmt.Errorf("unknown dictionary key %q", key)
		}
		kind := Kind(strings.TrimPrefix(key, dictionaryPrefix))
		switch {
		case kind == KindCustomUUID4Suffix:
			if err := json.Unmarshal(msg, &v.UUIDSuffix); err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
		case kind.IsCustom():
			tags := make(map[string][]string)
			if err := json.Unmarshal(msg, &tags); err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
			v.Custom[kind] = tags
		case kind.IsFuzzable():
			var list []string
			if err := json.Unmarshal(msg, &list); err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
			v.Fuzzable[kind] = list
		default:
			return nil, fmt.Errorf("unknown dictionary key %q", key)
		}
	}
	return v, nil
}

func (d *Dictionary) fuzzable(kind Kind, requestID string) []string {
	if pr, ok := d.PerRequest[requestID]; ok {
		if vals, ok := pr.Fuzzable[kind]; ok {
			return vals
		}
	}
	return d.Fuzzable[kind]
}

func (d *Dictionary) custom(kind Kind, tag, requestID string) ([]string, bool) {
	if pr, ok := d.PerRequest[requestID]; ok {
		if vals, ok := pr.Custom[kind][tag]; ok {
			return vals, true
		}
	}
	vals, ok := d.Custom[kind][tag]
	return vals, ok
}

func (d *Dictionary) uuidSuffix(tag, requestID string) (string, bool) {
	if pr, ok := d.PerRequest[requestID]; ok {
		if prefix, ok := pr.UUIDSuffix[tag]; ok {
			return prefix, true
		}
	}
	prefix, ok := d.UUIDSuffix[tag]
	return prefix, ok
}
