package driver

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/vikasavnish/seqfuzz/pkg/dependencies"
	"github.com/vikasavnish/seqfuzz/pkg/fuzzing"
	"github.com/vikasavnish/seqfuzz/pkg/logger"
	"github.com/vikasavnish/seqfuzz/pkg/primitives"
	"github.com/vikasavnish/seqfuzz/pkg/requests"
	"github.com/vikasavnish/seqfuzz/pkg/sequences"
)

const mainDriverOrigin = "main_driver"

// renderGeneration renders seqs, in parallel when more than one job is
// configured, and returns their renderings in input order. On error the
// renderings finished so far are still returned.
func (d *Driver) renderGeneration(ctx context.Context, fc *fuzzing.Context, seqs []*sequences.Sequence) ([]*sequences.RenderedSequence, error) {
	results := make([][]*sequences.RenderedSequence, len(seqs))

	var err error
	if d.jobs() <= 1 {
		vars := fc.NewVariableTable()
		for i, seq := range seqs {
			results[i], err = d.renderOne(ctx, fc, seq, vars, d.cache)
			if err != nil {
				break
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.jobs())
		for i, seq := range seqs {
			i, seq := i, seq
			g.Go(func() error {
				out, err := d.renderOne(gctx, fc, seq, fc.NewVariableTable(), nil)
				results[i] = out
				return err
			})
		}
		err = g.Wait()
	}

	var flat []*sequences.RenderedSequence
	for _, rs := range results {
		flat = append(flat, rs...)
	}
	return flat, err
}

// maxPrefixRetries bounds how often in a row a sequence's prefix is
// rendered from scratch after failing.
const maxPrefixRetries = 3

// renderOne renders seq, or the sequences the rendering cache expands it
// into, and returns every rendering produced.
func (d *Driver) renderOne(ctx context.Context, fc *fuzzing.Context, seq *sequences.Sequence,
	vars *dependencies.VariableTable, cache *RenderingCache) ([]*sequences.RenderedSequence, error) {
	if cache == nil {
		return d.renderCombinations(ctx, fc, seq, vars, nil)
	}

	expanded, skip := cache.Expand(seq)
	if skip {
		d.logger.Debug("skipping sequence with invalid prefix", logger.Sequence(seq.RequestIDs()))
		return nil, nil
	}
	var out []*sequences.RenderedSequence
	for _, s := range expanded {
		if s.RenderedPrefix() > 0 {
			d.logger.Debug("reusing cached prefix", logger.Sequence(s.RequestIDs()), "prefix", s.RenderedPrefix())
		}
		rendered, err := d.renderCombinations(ctx, fc, s, vars, cache)
		out = append(out, rendered...)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// renderCombinations renders the combinations of seq's terminal request
// until they run out, or until the first valid one in terminal modes,
// running the checkers on each rendering. A failed prefix is rendered
// again from scratch up to maxPrefixRetries times in a row.
func (d *Driver) renderCombinations(ctx context.Context, fc *fuzzing.Context, seq *sequences.Sequence,
	vars *dependencies.VariableTable, cache *RenderingCache) ([]*sequences.RenderedSequence, error) {
	settings := fc.Settings

	var (
		out            []*sequences.RenderedSequence
		anyValid       bool
		checkedFirst   bool
		prefixFailures int
	)
	for {
		rs, err := seq.Render(ctx, fc, vars)
		if err != nil {
			var cve *primitives.CandidateValueError
			switch {
			case errors.Is(err, requests.ErrCombinationsExhausted):
				err = nil
			case errors.As(err, &cve):
				d.logger.Warn("skipping sequence without candidate values", logger.Sequence(seq.RequestIDs()), "error", err)
				err = nil
			}
			if err != nil {
				return out, err
			}
			break
		}
		out = append(out, rs)

		if rs.Failure == sequences.FailureBug {
			if err := d.reporter.ReportBug(mainDriverOrigin, rs); err != nil {
				return out, err
			}
		}

		if !settings.ThrottlesCheckers() || rs.Valid || !checkedFirst {
			if !rs.Valid {
				checkedFirst = true
			}
			if err := d.applyCheckers(ctx, fc, rs); err != nil {
				return out, err
			}
		}

		if rs.Failure == sequences.FailureSequence {
			prefixFailures++
			seq.PrefixStatus = sequences.PrefixNotRendered
			if prefixFailures > maxPrefixRetries {
				d.logger.Debug("giving up on failing prefix", logger.Sequence(seq.RequestIDs()), "attempts", prefixFailures)
				break
			}
			continue
		}
		prefixFailures = 0

		if rs.Valid {
			anyValid = true
			if cache != nil {
				cache.Add(rs)
			}
			if settings.IsTerminalMode() {
				break
			}
		}
	}

	if cache != nil && !anyValid && len(out) > 0 && out[len(out)-1].Failure != sequences.FailureSequence {
		cache.MarkInvalid(seq)
	}
	return out, nil
}

func (d *Driver) applyCheckers(ctx context.Context, fc *fuzzing.Context, rs *sequences.RenderedSequence) error {
	for _, c := range d.checkers {
		if err := c.Apply(ctx, rs, fc); err != nil {
			return err
		}
	}
	return nil
}
