package schema

import (
	"encoding/json"
	"strings"

	"github.com/vikasavnish/seqfuzz/pkg/primitives"
)

// BlockOptions controls how a tree is rendered into request blocks.
type BlockOptions struct {
	// FuzzableLeaves renders plain leaves as fuzzable values seeded with
	// their content instead of static text.
	FuzzableLeaves bool
}

// Blocks renders n as a JSON payload made of request blocks. Adjacent
// static text is merged.
func Blocks(n Node, opts BlockOptions) []primitives.Block {
	b := &blockWriter{opts: opts}
	b.write(n)
	b.flush()
	return b.out
}

// JSON renders n with every leaf as static text.
func JSON(n Node) string {
	var sb strings.Builder
	for _, blk := range Blocks(n, BlockOptions{}) {
		switch v := blk.(type) {
		case primitives.StaticString:
			sb.WriteString(v.Text)
		case primitives.DynamicObjectReader:
			if v.Quoted {
				sb.WriteString(`"` + primitives.Placeholder(v.Variable) + `"`)
			} else {
				sb.WriteString(primitives.Placeholder(v.Variable))
			}
		case primitives.CustomPayload:
			sb.WriteString(v.Tag)
		}
	}
	return sb.String()
}

type blockWriter struct {
	opts    BlockOptions
	out     []primitives.Block
	pending string
}

func (b *blockWriter) text(s string) {
	b.pending += s
}

func (b *blockWriter) flush() {
	if b.pending != "" {
		b.out = append(b.out, primitives.Static(b.pending))
		b.pending = ""
	}
}

func (b *blockWriter) emit(blk primitives.Block) {
	b.flush()
	b.out = append(b.out, blk)
}

func (b *blockWriter) write(n Node) {
	switch v := n.(type) {
	case *Object:
		b.text("{")
		for i, m := range v.Members {
			if i > 0 {
				b.text(",")
			}
			b.text(jsonQuote(m.Name) + ":")
			b.write(m.Value)
		}
		b.text("}")
	case *Array:
		b.text("[")
		for i, c := range v.Values {
			if i > 0 {
				b.text(",")
			}
			b.write(c)
		}
		b.text("]")
	case *Leaf:
		b.writeLeaf(v)
	case nil:
		b.text("null")
	}
}

func (b *blockWriter) writeLeaf(l *Leaf) {
	switch {
	case l.DynamicObject != "":
		b.emit(primitives.DynamicObjectReader{Variable: l.DynamicObject, Quoted: l.Quoted})
	case l.CustomPayload != "":
		b.emit(primitives.CustomPayload{Kind: primitives.KindCustomPayload, Tag: l.CustomPayload, Quoted: l.Quoted})
	case b.opts.FuzzableLeaves && !l.ReadOnly:
		b.emit(primitives.FuzzableValue{
			Kind:       leafKind(l.Type),
			Default:    l.Content,
			Quoted:     l.Quoted,
			EnumValues: l.EnumValues,
		})
	case l.Quoted:
		b.text(jsonQuote(l.Content))
	default:
		b.text(l.Content)
	}
}

func leafKind(t LeafType) primitives.Kind {
	switch t {
	case Number:
		return primitives.KindNumber
	case Boolean:
		return primitives.KindBool
	case Enum:
		return primitives.KindGroup
	case ObjectLeaf:
		return primitives.KindObject
	}
	return primitives.KindString
}

func jsonQuote(s string) string {
	out, _ := json.Marshal(s)
	return string(out)
}
