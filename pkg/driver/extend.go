package driver

import (
	"github.com/vikasavnish/seqfuzz/pkg/requests"
	"github.com/vikasavnish/seqfuzz/pkg/sequences"
)

// ValidateDependencies reports whether every variable r consumes is
// produced by some request of seq.
func ValidateDependencies(seq *sequences.Sequence, r *requests.Request) bool {
	produced := make(map[string]bool)
	for _, req := range seq.Requests {
		for _, v := range req.Produces() {
			produced[v] = true
		}
	}
	for _, v := range r.Consumes() {
		if !produced[v] {
			return false
		}
	}
	return true
}

// Extend appends every request of c to every sequence whose producers
// satisfy it. Quick modes extend at most one sequence per request and
// random-walk keeps a single, randomly chosen extension.
func (d *Driver) Extend(seqs []*sequences.Sequence, c *requests.Collection) []*sequences.Sequence {
	settings := d.fc.Settings
	var out []*sequences.Sequence
	for _, r := range c.Requests() {
		if !settings.AllowAmbiguousProducers && c.HasAmbiguousProducer(r) {
			d.logger.Debug("skipping request with ambiguous producer", "request", r.ID())
			continue
		}
		for _, seq := range seqs {
			if !settings.IgnoreDependencies && !ValidateDependencies(seq, r) {
				continue
			}
			out = append(out, seq.Append(r))
			if settings.IsQuickMode() {
				break
			}
		}
	}
	if d.isRandomWalk() && len(out) > 1 {
		out = []*sequences.Sequence{out[d.rng.Intn(len(out))]}
	}
	return out
}
