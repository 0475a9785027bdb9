package sequences

import (
	"context"
	"errors"
	"time"

	"github.com/vikasavnish/seqfuzz/pkg/config"
	"github.com/vikasavnish/seqfuzz/pkg/dependencies"
	"github.com/vikasavnish/seqfuzz/pkg/fuzzing"
	"github.com/vikasavnish/seqfuzz/pkg/logger"
	"github.com/vikasavnish/seqfuzz/pkg/requests"
	"github.com/vikasavnish/seqfuzz/pkg/tracer"
	"github.com/vikasavnish/seqfuzz/pkg/transport"
)

// IsBugStatus reports whether code is a bug under the settings' custom
// bug and non-bug code lists. By default every 5xx is a bug.
func IsBugStatus(s *config.Settings, code int) bool {
	for _, p := range s.CustomBugCodes {
		if config.MatchStatusPattern(p, code) {
			return true
		}
	}
	if code < 500 || code > 599 {
		return false
	}
	for _, p := range s.CustomNonBugCodes {
		if config.MatchStatusPattern(p, code) {
			return false
		}
	}
	return true
}

// IsValidStatus reports whether code is in the valid (2xx) range.
func IsValidStatus(code int) bool {
	return code >= 200 && code < 300
}

// Render renders the next terminal combination of s not known to be
// invalid, after re-establishing the prefix. When the prefix fails the
// terminal combination is left unconsumed. It returns
// requests.ErrCombinationsExhausted once the terminal request has no
// combinations left and monitor.ErrTimeBudgetExceeded once the budget is
// spent; every other outcome is classified in the RenderedSequence.
func (s *Sequence) Render(ctx context.Context, fc *fuzzing.Context, vars *dependencies.VariableTable) (*RenderedSequence, error) {
	ctx, span := tracer.StartRender(ctx, s.RequestIDs())
	defer span.End()

	last := len(s.Requests) - 1
	terminal := s.Requests[last]

	var rendering *requests.Rendering
	for {
		r, err := terminal.Render(fc.Pool, s.nextCombination, fc.Settings.MaxCombinations)
		if err != nil {
			return nil, err
		}
		s.nextCombination++
		if fc.Monitor.IsInvalidRendering(terminal.ContentHash(), r.CombinationID) {
			continue
		}
		rendering = r
		break
	}

	if err := s.renderPrefix(ctx, fc, vars); err != nil {
		var pf *prefixFailure
		if errors.As(err, &pf) {
			// the terminal combination was not sent; the next call retries it
			// after re-rendering the whole prefix
			s.nextCombination = rendering.CombinationID
			s.renderedPrefix = 0
			s.prefixVars = nil
			tracer.EndRender(span, rendering.CombinationID, false, FailureSequence.String())
			fc.Logger.Debug("sequence prefix failed",
				logger.Sequence(s.RequestIDs()),
				"request", pf.requestID,
				"reason", pf.failure.String())
			return s.result(fc, false, FailureSequence, pf.response), nil
		}
		tracer.RecordError(span, err)
		return nil, err
	}

	resp, failure, err := s.send(ctx, fc, vars, last, rendering)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	s.CombinationIDs[last] = rendering.CombinationID

	valid := failure == FailureNone && resp != nil && IsValidStatus(resp.StatusCode)
	fc.Monitor.RecordRendering(terminal.ContentHash(), rendering.CombinationID, valid)
	fc.Monitor.RecordCoverage(terminal.ID(), valid)
	tracer.EndRender(span, rendering.CombinationID, valid, failure.String())
	return s.result(fc, valid, failure, resp), nil
}

type prefixFailure struct {
	requestID string
	failure   Failure
	response  *transport.Response
}

func (p *prefixFailure) Error() string {
	return "prefix request " + p.requestID + " failed: " + p.failure.String()
}

// renderPrefix re-establishes every request but the last, starting from
// the cached prefix when one is set.
func (s *Sequence) renderPrefix(ctx context.Context, fc *fuzzing.Context, vars *dependencies.VariableTable) error {
	last := len(s.Requests) - 1

	if s.PrefixStatus == PrefixValid && fc.Settings.RenderPrefixOnce && s.prefixVars != nil {
		vars.Restore(s.prefixVars)
		if len(s.SentRequestData) > last {
			s.SentRequestData = s.SentRequestData[:last]
		}
		return nil
	}

	start := s.renderedPrefix
	if start > 0 {
		vars.Restore(s.SentRequestData[start-1].Variables)
	} else {
		vars.Reset()
	}
	if len(s.SentRequestData) > start {
		s.SentRequestData = s.SentRequestData[:start]
	}

	for i := start; i < last; i++ {
		req := s.Requests[i]
		rendering, err := req.Render(fc.Pool, s.CombinationIDs[i], fc.Settings.MaxCombinations)
		if err != nil {
			return err
		}
		resp, failure, err := s.send(ctx, fc, vars, i, rendering)
		if err != nil {
			return err
		}
		if failure == FailureNone && !IsValidStatus(resp.StatusCode) {
			failure = FailureSequence
		}
		if failure != FailureNone {
			s.PrefixStatus = PrefixInvalid
			return &prefixFailure{requestID: req.ID(), failure: failure, response: resp}
		}
	}

	s.PrefixStatus = PrefixValid
	s.prefixVars = vars.Snapshot()
	return nil
}

// send resolves, sends and classifies request idx, recording the outcome
// in the sent data and the monitor. Only budget and context errors are
// returned.
func (s *Sequence) send(ctx context.Context, fc *fuzzing.Context, vars *dependencies.VariableTable,
	idx int, rendering *requests.Rendering) (*transport.Response, Failure, error) {
	req := s.Requests[idx]
	settings := fc.Settings

	if err := fc.Monitor.CheckBudget(); err != nil {
		return nil, FailureNone, err
	}
	if err := ctx.Err(); err != nil {
		return nil, FailureNone, err
	}

	data := vars.Resolve(rendering.Data)
	sent := SentRequestData{RequestID: req.ID(), RenderedData: data, Parser: req.Parser()}
	defer func() {
		sent.Variables = vars.Snapshot()
		s.SentRequestData = append(s.SentRequestData, sent)
	}()

	resp, err := fc.Transport.Send(ctx, data)
	if err != nil {
		if ctx.Err() != nil {
			return nil, FailureNone, ctx.Err()
		}
		fc.Monitor.RecordResponse(req.ID(), 0)
		fc.Logger.Warn("request failed without status code", "request", req.ID(), "error", err)
		return nil, FailureMissingStatusCode, nil
	}
	sent.Response = resp
	fc.Monitor.RecordResponse(req.ID(), resp.StatusCode)

	if IsBugStatus(settings, resp.StatusCode) {
		return resp, FailureBug, nil
	}
	if !IsValidStatus(resp.StatusCode) {
		return resp, FailureNone, nil
	}

	for name, value := range rendering.Writers {
		vars.Set(name, value)
	}
	if parser := req.Parser(); parser != nil {
		values, err := parser.Parse(resp.Body, resp.Headers)
		if err != nil {
			fc.Logger.Warn("response parser failed", "request", req.ID(), "variables", parser.Variables(), "error", err)
			return resp, FailureParser, nil
		}
		var missing []string
		for _, name := range parser.Variables() {
			v, ok := values[name]
			if !ok {
				missing = append(missing, name)
				continue
			}
			vars.Set(name, v)
		}
		if len(missing) > 0 {
			fc.Logger.Warn("dynamic objects not set by response", "request", req.ID(), "variables", missing)
			return resp, FailureParser, nil
		}
	}

	if req.IsResourceGenerator() {
		if settings.Async.WaitForResourceCreation && PollingURL(resp) != "" {
			sent.MaxAsyncWaitTime = settings.Async.MaxResourceCreationTime
			ok, err := WaitForResource(ctx, fc.Transport, resp, settings.Async.MaxResourceCreationTime, settings.Async.PollInterval)
			if err != nil {
				return resp, FailureNone, err
			}
			if !ok {
				return resp, FailureResourceCreation, nil
			}
		} else if delay := settings.ProducerDelay(req.ID()); delay > 0 {
			sent.ProducerTimingDelay = delay
			select {
			case <-ctx.Done():
				return resp, FailureNone, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return resp, FailureNone, nil
}

// result copies s under the shared lock.
func (s *Sequence) result(fc *fuzzing.Context, valid bool, failure Failure, resp *transport.Response) *RenderedSequence {
	fc.Lock.Lock()
	clone := s.Clone()
	fc.Lock.Unlock()
	return &RenderedSequence{
		Sequence:      clone,
		Valid:         valid,
		Failure:       failure,
		FinalResponse: resp,
		Timestamp:     time.Now(),
	}
}
