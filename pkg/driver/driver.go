// Package driver explores request sequences generation by generation:
// it extends the valid sequences of the previous generation with every
// request whose dependencies they satisfy, renders the results and hands
// each rendering to the checkers.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/vikasavnish/seqfuzz/pkg/checkers"
	"github.com/vikasavnish/seqfuzz/pkg/config"
	"github.com/vikasavnish/seqfuzz/pkg/dependencies"
	"github.com/vikasavnish/seqfuzz/pkg/fuzzing"
	"github.com/vikasavnish/seqfuzz/pkg/logger"
	"github.com/vikasavnish/seqfuzz/pkg/monitor"
	"github.com/vikasavnish/seqfuzz/pkg/sequences"
	"github.com/vikasavnish/seqfuzz/pkg/tracer"
)

// Termination says why a run stopped.
type Termination string

const (
	TerminationExhausted  Termination = "exhausted"
	TerminationMaxLength  Termination = "max_sequence_length"
	TerminationTimeBudget Termination = "time_budget"
	TerminationCancelled  Termination = "cancelled"
	TerminationError      Termination = "error"
)

// GenerationStats summarizes one generation.
type GenerationStats struct {
	Generation int
	Sequences  int
	Renderings int
	Valid      int
	Elapsed    time.Duration
}

// Stats summarizes a run.
type Stats struct {
	Generations     []GenerationStats
	Renderings      int
	ValidRenderings int
	Termination     Termination
}

// Driver runs sequence generation over a fuzzing context.
type Driver struct {
	fc       *fuzzing.Context
	checkers []checkers.Checker
	reporter checkers.Reporter
	gc       *dependencies.GarbageCollector
	cache    *RenderingCache
	rng      *rand.Rand
	logger   *slog.Logger
	stats    Stats
}

// New creates a driver. The rendering cache is enabled only for a single
// job with use_rendering_cache set.
func New(fc *fuzzing.Context, cs []checkers.Checker, reporter checkers.Reporter) *Driver {
	d := &Driver{
		fc:       fc,
		checkers: cs,
		reporter: reporter,
		rng:      rand.New(rand.NewSource(fc.Settings.RandomSeed)),
		logger:   logger.For(fc.Logger, logger.ComponentDriver),
	}
	if d.reporter == nil {
		d.reporter = nopReporter{}
	}
	if fc.Settings.UseRenderingCache && d.jobs() <= 1 {
		d.cache = NewRenderingCache()
	}
	return d
}

type nopReporter struct{}

func (nopReporter) ReportBug(string, *sequences.RenderedSequence) error { return nil }

// SetGarbageCollector makes the driver stop when gc hits a fatal error.
func (d *Driver) SetGarbageCollector(gc *dependencies.GarbageCollector) {
	d.gc = gc
}

// Stats returns the summary of the last run.
func (d *Driver) Stats() Stats {
	return d.stats
}

func (d *Driver) jobs() int {
	return max(d.fc.Settings.FuzzingJobs, 1)
}

func (d *Driver) isRandomWalk() bool {
	return d.fc.Settings.FuzzingMode == config.ModeRandomWalk
}

// GenerateSequences runs the configured fuzzing mode and returns the
// number of renderings produced. Running out of time budget ends the run
// without an error and keeps what was rendered.
func (d *Driver) GenerateSequences(ctx context.Context) (int, error) {
	d.stats = Stats{}
	fc := d.fc

	if len(fc.Settings.CreateOnce) > 0 {
		locked, err := d.createOnce(ctx, fc)
		if err != nil {
			return d.finish(fc, err)
		}
		fc = locked
	}

	var err error
	if fc.Settings.FuzzingMode == config.ModeDirectedSmokeTest {
		err = d.smokeTest(ctx, fc)
	} else {
		err = d.explore(ctx, fc)
	}
	return d.finish(fc, err)
}

func (d *Driver) finish(fc *fuzzing.Context, err error) (int, error) {
	switch {
	case err == nil:
	case errors.Is(err, monitor.ErrTimeBudgetExceeded):
		d.stats.Termination = TerminationTimeBudget
		err = nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		d.stats.Termination = TerminationCancelled
	default:
		d.stats.Termination = TerminationError
	}

	ms := fc.Monitor.Stats()
	d.logger.Info("sequence generation finished",
		"termination", d.stats.Termination,
		"generations", len(d.stats.Generations),
		"renderings", d.stats.Renderings,
		"valid", d.stats.ValidRenderings,
		"requests_sent", ms.RequestsSent,
		"valid_requests", len(ms.ValidRequests),
		"elapsed", ms.Elapsed)
	return d.stats.Renderings, err
}

// checkRun returns the error that should stop the run before more
// requests are sent, if any.
func (d *Driver) checkRun(ctx context.Context, fc *fuzzing.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fc.Monitor.CheckBudget(); err != nil {
		return err
	}
	if d.gc != nil {
		if err := d.gc.Err(); err != nil {
			return fmt.Errorf("garbage collector: %w", err)
		}
	}
	return nil
}

// explore runs the breadth-first modes and random-walk. A random walk
// starts over from an empty sequence whenever it cannot grow further.
func (d *Driver) explore(ctx context.Context, fc *fuzzing.Context) error {
	settings := fc.Settings
	parents := []*sequences.Sequence{sequences.New()}
	walkRenderings := 0

	for gen := 1; ; gen++ {
		if gen > settings.MaxSequenceLength || len(parents) == 0 {
			if !d.isRandomWalk() {
				d.stats.Termination = TerminationMaxLength
				if len(parents) == 0 {
					d.stats.Termination = TerminationExhausted
				}
				return nil
			}
			if walkRenderings == 0 {
				d.stats.Termination = TerminationExhausted
				return nil
			}
			gen, parents, walkRenderings = 1, []*sequences.Sequence{sequences.New()}, 0
		}
		if err := d.checkRun(ctx, fc); err != nil {
			return err
		}
		fc.Monitor.SetGeneration(gen)

		start := time.Now()
		seqs := d.Extend(parents, fc.Collection)
		if len(seqs) == 0 {
			parents = nil
			continue
		}
		genCtx, span := tracer.StartGeneration(ctx, gen, len(seqs))
		rendered, err := d.renderGeneration(genCtx, fc, seqs)
		if err != nil {
			tracer.RecordError(span, err)
		}
		span.End()
		d.record(gen, len(seqs), rendered, start)
		walkRenderings += len(rendered)
		if err != nil {
			return err
		}
		parents = d.nextParents(rendered)
	}
}

// nextParents picks the valid renderings the next generation extends:
// every one in test-all-combinations, otherwise the first per sequence.
func (d *Driver) nextParents(rendered []*sequences.RenderedSequence) []*sequences.Sequence {
	all := d.fc.Settings.FuzzingMode == config.ModeTestAllCombinations
	seen := make(map[string]bool)
	var out []*sequences.Sequence
	for _, rs := range rendered {
		if !rs.Valid {
			continue
		}
		if !all {
			hash := rs.Sequence.Hash()
			if seen[hash] {
				continue
			}
			seen[hash] = true
		}
		out = append(out, rs.Sequence)
	}
	return out
}

func (d *Driver) record(gen, seqs int, rendered []*sequences.RenderedSequence, start time.Time) {
	gs := GenerationStats{
		Generation: gen,
		Sequences:  seqs,
		Renderings: len(rendered),
		Elapsed:    time.Since(start),
	}
	for _, rs := range rendered {
		if rs.Valid {
			gs.Valid++
		}
	}
	d.stats.Generations = append(d.stats.Generations, gs)
	d.stats.Renderings += gs.Renderings
	d.stats.ValidRenderings += gs.Valid
	d.logger.Info("generation rendered",
		"generation", gen,
		"sequences", seqs,
		"renderings", gs.Renderings,
		"valid", gs.Valid,
		"elapsed", gs.Elapsed)
}

// smokeTest renders the goal sequence of every request once, shortest
// first, so that longer goals can resume from cached shorter ones.
// Requests without a goal sequence are logged and left out.
func (d *Driver) smokeTest(ctx context.Context, fc *fuzzing.Context) error {
	var goals []*sequences.Sequence
	for _, r := range fc.Collection.Requests() {
		goal, err := ComputeGoalSequence(r, fc.Collection)
		if err != nil {
			var dge *DependencyGraphError
			if !errors.As(err, &dge) {
				return err
			}
			d.logger.Warn("request excluded from smoke test", "request", r.ID(), "error", err)
			continue
		}
		goals = append(goals, sequences.New(goal...))
	}
	sort.SliceStable(goals, func(i, j int) bool { return goals[i].Len() < goals[j].Len() })

	for i := 0; i < len(goals); {
		length := goals[i].Len()
		j := i
		for j < len(goals) && goals[j].Len() == length {
			j++
		}
		if err := d.checkRun(ctx, fc); err != nil {
			return err
		}
		fc.Monitor.SetGeneration(length)

		start := time.Now()
		rendered, err := d.renderGeneration(ctx, fc, goals[i:j])
		d.record(length, j-i, rendered, start)
		if err != nil {
			return err
		}
		i = j
	}
	d.stats.Termination = TerminationExhausted
	return nil
}

// createOnce renders the goal sequence of every create_once request until
// it is valid, saves the variables it produced so they outlive the run's
// garbage collection, and returns a context whose collection reads those
// variables as constants and no longer contains their producers.
func (d *Driver) createOnce(ctx context.Context, fc *fuzzing.Context) (*fuzzing.Context, error) {
	c := fc.Collection
	locked := make(map[string]string)
	var producers []string

	for _, id := range fc.Settings.CreateOnce {
		r, ok := c.Get(id)
		if !ok {
			return nil, fmt.Errorf("create_once request %q not found", id)
		}
		goal, err := ComputeGoalSequence(r, c)
		if err != nil {
			return nil, fmt.Errorf("create_once %s: %w", id, err)
		}

		seq := sequences.New(goal...)
		vars := fc.NewVariableTable()
		for {
			rs, err := seq.Render(ctx, fc, vars)
			if err != nil {
				return nil, fmt.Errorf("create_once %s: %w", id, err)
			}
			if rs.Valid {
				break
			}
		}

		for _, req := range goal {
			produces := req.Produces()
			for _, v := range produces {
				value := vars.Get(v)
				if value == dependencies.Unset {
					return nil, fmt.Errorf("create_once %s: variable %s was not set", id, v)
				}
				fc.Registry.Save(v, value)
				locked[v] = value
			}
			if len(produces) > 0 {
				producers = append(producers, req.ID())
			}
		}
		d.logger.Info("create_once resources created", "request", id, logger.Sequence(seq.RequestIDs()))
	}

	out := c.Without(producers...)
	for _, r := range out.Requests() {
		for _, v := range r.Consumes() {
			if _, ok := locked[v]; ok {
				out = out.Replace(r.LockVariables(locked))
				break
			}
		}
	}
	return fc.WithCollection(out), nil
}
