// Package schema holds the typed tree representation of a JSON request
// body used for structural fuzzing.
package schema

import (
	"fmt"
	"strings"
)

// LeafType is the JSON type carried by a Leaf.
type LeafType string

const (
	String     LeafType = "string"
	Number     LeafType = "number"
	Boolean    LeafType = "boolean"
	Enum       LeafType = "enum"
	ObjectLeaf LeafType = "object_leaf"
)

// Node is an element of a body schema tree: *Object, *Array or *Leaf.
type Node interface {
	node()
}

// Object is a JSON object with ordered members.
type Object struct {
	Members []Member
}

// Member is one named child of an Object.
type Member struct {
	Name     string
	Value    Node
	Required bool
}

// Array is a JSON array.
type Array struct {
	Values []Node
}

// Leaf is a scalar value, or an opaque object for ObjectLeaf.
type Leaf struct {
	Type          LeafType
	Content       string
	Required      bool
	ReadOnly      bool
	Quoted        bool
	DynamicObject string
	CustomPayload string
	EnumValues    []string
}

func (*Object) node() {}
func (*Array) node()  {}
func (*Leaf) node()   {}

// NewLeaf returns a leaf of type t with its usual quoting.
func NewLeaf(t LeafType, content string) *Leaf {
	return &Leaf{Type: t, Content: content, Required: true, Quoted: t == String || t == Enum}
}

// Clone returns a deep copy of n.
func Clone(n Node) Node {
	switch v := n.(type) {
	case *Object:
		out := &Object{Members: make([]Member, len(v.Members))}
		for i, m := range v.Members {
			out.Members[i] = Member{Name: m.Name, Value: Clone(m.Value), Required: m.Required}
		}
		return out
	case *Array:
		out := &Array{Values: make([]Node, len(v.Values))}
		for i, c := range v.Values {
			out.Values[i] = Clone(c)
		}
		return out
	case *Leaf:
		cp := *v
		cp.EnumValues = append([]string(nil), v.EnumValues...)
		return &cp
	}
	return nil
}

// CountNodes returns the number of nodes in the tree, members excluded.
func CountNodes(n Node) int {
	switch v := n.(type) {
	case *Object:
		count := 1
		for _, m := range v.Members {
			count += CountNodes(m.Value)
		}
		return count
	case *Array:
		count := 1
		for _, c := range v.Values {
			count += CountNodes(c)
		}
		return count
	case *Leaf:
		return 1
	}
	return 0
}

// Signature returns a canonical string identifying the tree's shape and
// contents. Equal trees have equal signatures.
func Signature(n Node) string {
	var sb strings.Builder
	writeSignature(&sb, n)
	return sb.String()
}

func writeSignature(sb *strings.Builder, n Node) {
	switch v := n.(type) {
	case *Object:
		sb.WriteString("{")
		for i, m := range v.Members {
			if i > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(sb, "%q:", m.Name)
			writeSignature(sb, m.Value)
		}
		sb.WriteString("}")
	case *Array:
		sb.WriteString("[")
		for i, c := range v.Values {
			if i > 0 {
				sb.WriteString(",")
			}
			writeSignature(sb, c)
		}
		sb.WriteString("]")
	case *Leaf:
		fmt.Fprintf(sb, "<%s:%q", v.Type, v.Content)
		if v.DynamicObject != "" {
			fmt.Fprintf(sb, "@%s", v.DynamicObject)
		}
		if v.CustomPayload != "" {
			fmt.Fprintf(sb, "#%s", v.CustomPayload)
		}
		sb.WriteString(">")
	case nil:
		sb.WriteString("null")
	}
}
