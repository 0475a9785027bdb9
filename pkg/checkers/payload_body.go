package checkers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/vikasavnish/seqfuzz/pkg/bodyfuzz"
	"github.com/vikasavnish/seqfuzz/pkg/fuzzing"
	"github.com/vikasavnish/seqfuzz/pkg/logger"
	"github.com/vikasavnish/seqfuzz/pkg/primitives"
	"github.com/vikasavnish/seqfuzz/pkg/requests"
	"github.com/vikasavnish/seqfuzz/pkg/schema"
	"github.com/vikasavnish/seqfuzz/pkg/sequences"
	"github.com/vikasavnish/seqfuzz/pkg/tracer"
)

// PayloadBodyName is the registry name of the payload body checker.
const PayloadBodyName = "payload_body"

// PayloadBodyChecker resends the terminal request of a valid sequence with
// structurally mutated bodies and reports the variants that trigger bugs.
type PayloadBodyChecker struct {
	fuzzers  []bodyfuzz.Fuzzer
	cfg      bodyfuzz.Config
	reporter Reporter
	logger   *slog.Logger
}

// NewPayloadBodyChecker builds the checker from deps.PayloadBody.
func NewPayloadBodyChecker(deps Deps) (*PayloadBodyChecker, error) {
	c := &PayloadBodyChecker{
		cfg:      bodyfuzz.FromSettings(deps.PayloadBody),
		reporter: deps.Reporter,
		logger:   logger.For(deps.Logger, logger.ComponentChecker),
	}
	for _, name := range deps.PayloadBody.Fuzzers {
		f, err := bodyfuzz.ByName(name)
		if err != nil {
			return nil, err
		}
		c.fuzzers = append(c.fuzzers, f)
	}
	return c, nil
}

func (c *PayloadBodyChecker) Name() string { return PayloadBodyName }

func (c *PayloadBodyChecker) Apply(ctx context.Context, rs *sequences.RenderedSequence, fc *fuzzing.Context) error {
	if !rs.Valid || rs.Sequence.Len() == 0 {
		return nil
	}
	last := rs.Sequence.Last()
	seed := last.BodySchema()
	if seed == nil {
		return nil
	}

	ctx, span := tracer.StartChecker(ctx, PayloadBodyName, rs.Sequence.RequestIDs())
	defer span.End()

	seen := map[string]bool{schema.Signature(seed): true}
	sent, bugs := 0, 0
	for _, f := range c.fuzzers {
		for _, tree := range bodyfuzz.Run(f, seed, c.cfg) {
			sig := schema.Signature(tree)
			if seen[sig] {
				continue
			}
			seen[sig] = true

			out, err := c.send(ctx, rs.Sequence, last, tree, fc)
			if err != nil {
				tracer.RecordError(span, err)
				return err
			}
			if out == nil {
				continue
			}
			sent++
			if out.Failure == sequences.FailureBug {
				bugs++
				if err := c.reporter.ReportBug(PayloadBodyName, out); err != nil {
					return err
				}
			}
		}
	}
	tracer.EndChecker(span, sent, bugs)
	c.logger.Debug("payload body checker done",
		"request", last.ID(),
		"variants", sent,
		"bugs", bugs)
	return nil
}

// send renders the sequence with its terminal body replaced by tree,
// reusing the already rendered prefix. A nil result means the variant
// could not be rendered and was skipped.
func (c *PayloadBodyChecker) send(ctx context.Context, seq *sequences.Sequence, last *requests.Request,
	tree schema.Node, fc *fuzzing.Context) (*sequences.RenderedSequence, error) {
	req := last.SubstituteBody(schema.Blocks(tree, schema.BlockOptions{}), tree)
	variant := seq.ReplaceLast(req)
	n := seq.Len() - 1
	variant.UsePrefix(n, seq.CombinationIDs, seq.SentRequestData)

	out, err := variant.Render(ctx, fc, fc.NewVariableTable())
	if err == nil {
		return out, nil
	}
	var cve *primitives.CandidateValueError
	switch {
	case errors.Is(err, requests.ErrCombinationsExhausted):
		return nil, nil
	case errors.As(err, &cve):
		c.logger.Warn("skipping body variant", "request", last.ID(), "error", err)
		return nil, nil
	}
	return nil, err
}
