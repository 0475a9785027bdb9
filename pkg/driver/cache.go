package driver

import (
	"strconv"
	"strings"

	"github.com/vikasavnish/seqfuzz/pkg/sequences"
)

// RenderingCache remembers renderings of sequences by their method and
// endpoint shape so that longer sequences can resume from a rendered
// prefix instead of resending it. It is only used by the sequential
// render path and is not safe for concurrent use.
type RenderingCache struct {
	valid   map[string][]*sequences.Sequence
	seen    map[string]bool
	invalid map[string]bool
}

// NewRenderingCache returns an empty cache.
func NewRenderingCache() *RenderingCache {
	return &RenderingCache{
		valid:   make(map[string][]*sequences.Sequence),
		seen:    make(map[string]bool),
		invalid: make(map[string]bool),
	}
}

// cacheKey identifies the first n requests of seq.
func cacheKey(seq *sequences.Sequence, n int) string {
	hashes := seq.MethodEndpointHashes()[:n]
	return strconv.Itoa(n) + "|" + hashes[n-1] + "|" + strings.Join(hashes, ",")
}

func combinationKey(key string, ids []int) string {
	var sb strings.Builder
	sb.WriteString(key)
	for _, id := range ids {
		sb.WriteByte('/')
		sb.WriteString(strconv.Itoa(id))
	}
	return sb.String()
}

// Add records a valid rendering. Every distinct combination id list is
// kept, in the order first seen.
func (c *RenderingCache) Add(rs *sequences.RenderedSequence) {
	if !rs.Valid || rs.Sequence.Len() == 0 {
		return
	}
	key := cacheKey(rs.Sequence, rs.Sequence.Len())
	delete(c.invalid, key)
	ck := combinationKey(key, rs.Sequence.CombinationIDs)
	if c.seen[ck] {
		return
	}
	c.seen[ck] = true
	c.valid[key] = append(c.valid[key], rs.Sequence.Clone())
}

// MarkInvalid records that seq produced no valid rendering.
func (c *RenderingCache) MarkInvalid(seq *sequences.Sequence) {
	if seq.Len() == 0 {
		return
	}
	key := cacheKey(seq, seq.Len())
	if len(c.valid[key]) == 0 {
		c.invalid[key] = true
	}
}

// Expand returns the sequences to render for seq. When its direct prefix
// is known to never render valid, Expand returns skip. A seq that carries
// its parent's valid rendering resumes from it. Otherwise seq is
// expanded into one copy per cached rendering of its longest cached
// prefix, or returned unchanged when nothing is cached.
func (c *RenderingCache) Expand(seq *sequences.Sequence) (out []*sequences.Sequence, skip bool) {
	if seq.Len() < 2 {
		return []*sequences.Sequence{seq}, false
	}
	prefix := seq.Len() - 1
	if c.invalid[cacheKey(seq, prefix)] {
		return nil, true
	}
	if len(seq.SentRequestData) == prefix {
		seq.UsePrefix(prefix, seq.CombinationIDs, seq.SentRequestData)
		return []*sequences.Sequence{seq}, false
	}
	for n := prefix; n > 0; n-- {
		hits := c.valid[cacheKey(seq, n)]
		if len(hits) == 0 {
			continue
		}
		out = make([]*sequences.Sequence, 0, len(hits))
		for _, hit := range hits {
			cp := seq.Clone()
			cp.UsePrefix(n, hit.CombinationIDs, hit.SentRequestData)
			out = append(out, cp)
		}
		return out, false
	}
	return []*sequences.Sequence{seq}, false
}

// Len returns the number of cached valid renderings.
func (c *RenderingCache) Len() int {
	n := 0
	for _, hits := range c.valid {
		n += len(hits)
	}
	return n
}
