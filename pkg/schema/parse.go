package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

type rawNode struct {
	Type          string          `json:"type"`
	Members       []rawMember     `json:"members,omitempty"`
	Items         []rawNode       `json:"items,omitempty"`
	Content       json.RawMessage `json:"content,omitempty"`
	Required      *bool           `json:"required,omitempty"`
	ReadOnly      bool            `json:"readonly,omitempty"`
	Quoted        *bool           `json:"quoted,omitempty"`
	DynamicObject string          `json:"dynamic_object,omitempty"`
	CustomPayload string          `json:"custom_payload,omitempty"`
	Enum          []string        `json:"enum,omitempty"`
}

type rawMember struct {
	Name     string  `json:"name"`
	Required *bool   `json:"required,omitempty"`
	Value    rawNode `json:"value"`
}

// Parse decodes a body schema in the grammar's tree format:
//
//	{"type": "object", "members": [{"name": "n", "value": {"type": "string", "content": "x"}}]}
//
// Arrays use "items"; leaves carry "content" and optional "required",
// "readonly", "quoted", "dynamic_object", "custom_payload" and "enum".
func Parse(data []byte) (Node, error) {
	var raw rawNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode body schema: %w", err)
	}
	return fromRaw(raw)
}

func fromRaw(raw rawNode) (Node, error) {
	switch raw.Type {
	case "object":
		obj := &Object{Members: make([]Member, 0, len(raw.Members))}
		for _, m := range raw.Members {
			if m.Name == "" {
				return nil, errors.New("object member without name")
			}
			child, err := fromRaw(m.Value)
			if err != nil {
				return nil, fmt.Errorf("member %s: %w", m.Name, err)
			}
			obj.Members = append(obj.Members, Member{Name: m.Name, Value: child, Required: boolOr(m.Required, true)})
		}
		return obj, nil

	case "array":
		arr := &Array{Values: make([]Node, 0, len(raw.Items))}
		for i, item := range raw.Items {
			child, err := fromRaw(item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			arr.Values = append(arr.Values, child)
		}
		return arr, nil

	case string(String), string(Number), string(Boolean), string(Enum), string(ObjectLeaf):
		t := LeafType(raw.Type)
		leaf := NewLeaf(t, contentString(raw.Content))
		leaf.Required = boolOr(raw.Required, true)
		leaf.ReadOnly = raw.ReadOnly
		leaf.Quoted = boolOr(raw.Quoted, leaf.Quoted)
		leaf.DynamicObject = raw.DynamicObject
		leaf.CustomPayload = raw.CustomPayload
		leaf.EnumValues = raw.Enum
		return leaf, nil
	}
	return nil, fmt.Errorf("unknown node type %q", raw.Type)
}

func contentString(msg json.RawMessage) string {
	if len(msg) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		return s
	}
	return string(msg)
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// FromExample builds a tree from an example JSON document, keeping the
// document's member order.
func FromExample(data []byte) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	n, err := decodeExample(dec)
	if err != nil {
		return nil, fmt.Errorf("decode example: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("decode example: trailing data")
	}
	return n, nil
}

func decodeExample(dec *json.Decoder) (Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			obj := &Object{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, _ := keyTok.(string)
				child, err := decodeExample(dec)
				if err != nil {
					return nil, err
				}
				obj.Members = append(obj.Members, Member{Name: key, Value: child, Required: true})
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		case '[':
			arr := &Array{}
			for dec.More() {
				child, err := decodeExample(dec)
				if err != nil {
					return nil, err
				}
				arr.Values = append(arr.Values, child)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", v)
	case string:
		return NewLeaf(String, v), nil
	case json.Number:
		return NewLeaf(Number, v.String()), nil
	case bool:
		if v {
			return NewLeaf(Boolean, "true"), nil
		}
		return NewLeaf(Boolean, "false"), nil
	case nil:
		return NewLeaf(ObjectLeaf, "null"), nil
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}
