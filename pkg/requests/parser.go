package requests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ResponseParser extracts dynamic variables from a response.
type ResponseParser interface {
	// Variables lists every variable the parser may set.
	Variables() []string
	Parse(body string, headers map[string]string) (map[string]string, error)
}

// ParserError reports a response the parser could not handle.
type ParserError struct {
	Variable string
	Err      error
}

func (e *ParserError) Error() string {
	if e.Variable != "" {
		return fmt.Sprintf("parse %s: %v", e.Variable, e.Err)
	}
	return fmt.Sprintf("parse response: %v", e.Err)
}

func (e *ParserError) Unwrap() error { return e.Err }

// ExtractionParser extracts variables with rules of the form "$.a.b"
// (JSON path), "header:Name" or "regex:pattern" (first capture group, or
// the whole match).
type ExtractionParser struct {
	Rules map[string]string

	compiled map[string]*regexp.Regexp
}

// NewExtractionParser validates rules and returns a parser.
func NewExtractionParser(rules map[string]string) (*ExtractionParser, error) {
	p := &ExtractionParser{Rules: rules, compiled: make(map[string]*regexp.Regexp)}
	for name, rule := range rules {
		switch {
		case strings.HasPrefix(rule, "$."), strings.HasPrefix(rule, "header:"):
		case strings.HasPrefix(rule, "regex:"):
			re, err := regexp.Compile(strings.TrimPrefix(rule, "regex:"))
			if err != nil {
				return nil, fmt.Errorf("variable %s: %w", name, err)
			}
			p.compiled[name] = re
		default:
			return nil, fmt.Errorf("variable %s: unsupported rule %q", name, rule)
		}
	}
	return p, nil
}

func (p *ExtractionParser) Variables() []string {
	out := make([]string, 0, len(p.Rules))
	for name := range p.Rules {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Parse applies every rule. Variables whose rule finds nothing are left
// out of the result; a JSON rule over a non-JSON body is an error.
func (p *ExtractionParser) Parse(body string, headers map[string]string) (map[string]string, error) {
	extracted := make(map[string]string)

	var doc any
	decoded := false
	for _, name := range p.Variables() {
		rule := p.Rules[name]
		switch {
		case strings.HasPrefix(rule, "$."):
			if !decoded {
				dec := json.NewDecoder(strings.NewReader(body))
				dec.UseNumber()
				if err := dec.Decode(&doc); err != nil {
					return nil, &ParserError{Variable: name, Err: err}
				}
				decoded = true
			}
			if v, ok := extractJSONPath(doc, rule); ok {
				extracted[name] = v
			}

		case strings.HasPrefix(rule, "header:"):
			want := strings.TrimPrefix(rule, "header:")
			for k, v := range headers {
				if strings.EqualFold(k, want) {
					extracted[name] = v
					break
				}
			}

		case strings.HasPrefix(rule, "regex:"):
			re := p.compiled[name]
			if re == nil {
				var err error
				if re, err = regexp.Compile(strings.TrimPrefix(rule, "regex:")); err != nil {
					return nil, &ParserError{Variable: name, Err: err}
				}
			}
			if m := re.FindStringSubmatch(body); m != nil {
				if len(m) > 1 {
					extracted[name] = m[1]
				} else {
					extracted[name] = m[0]
				}
			}
		}
	}
	return extracted, nil
}

// extractJSONPath follows simple paths like $.field.subfield; numeric
// segments index arrays.
func extractJSONPath(doc any, path string) (string, bool) {
	current := doc
	for _, part := range strings.Split(strings.TrimPrefix(path, "$."), ".") {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[part]
			if !ok {
				return "", false
			}
			current = next
		case []any:
			var i int
			if _, err := fmt.Sscanf(part, "%d", &i); err != nil || i < 0 || i >= len(v) {
				return "", false
			}
			current = v[i]
		default:
			return "", false
		}
	}

	switch v := current.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			return "", false
		}
		return strings.TrimSpace(buf.String()), true
	}
}
