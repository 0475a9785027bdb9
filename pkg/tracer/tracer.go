// Package tracer installs the OpenTelemetry provider for a fuzzing run and
// starts the spans seqfuzz emits: one per generation, one per sequence
// rendering, one per checker pass and one per garbage collection cycle.
package tracer

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vikasavnish/seqfuzz/pkg/config"
)

const tracerName = "github.com/vikasavnish/seqfuzz"

// Span names.
const (
	SpanGeneration = "seqfuzz.generation"
	SpanRender     = "seqfuzz.sequence.render"
	SpanChecker    = "seqfuzz.checker"
	SpanGCCycle    = "seqfuzz.gc.cycle"
)

// Attribute keys.
const (
	KeyGeneration  = attribute.Key("seqfuzz.generation")
	KeySequences   = attribute.Key("seqfuzz.generation.sequences")
	KeySequence    = attribute.Key("seqfuzz.sequence")
	KeyLength      = attribute.Key("seqfuzz.sequence.length")
	KeyTerminal    = attribute.Key("seqfuzz.sequence.terminal")
	KeyCombination = attribute.Key("seqfuzz.combination")
	KeyValid       = attribute.Key("seqfuzz.valid")
	KeyFailure     = attribute.Key("seqfuzz.failure")
	KeyChecker     = attribute.Key("seqfuzz.checker")
	KeyVariants    = attribute.Key("seqfuzz.checker.variants")
	KeyBugs        = attribute.Key("seqfuzz.bugs")
	KeyObjectTypes = attribute.Key("seqfuzz.gc.object_types")
	KeyDeleted     = attribute.Key("seqfuzz.gc.deleted")
)

// Setup installs the provider selected by cfg and returns its shutdown
// function. Disabled tracing and the noop exporter install a noop provider.
func Setup(ctx context.Context, cfg config.TracerConfig) (func(context.Context) error, error) {
	noopShutdown := func(context.Context) error { return nil }

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, nil
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "stdout":
		var err error
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
	case "noop", "":
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, nil
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// SequenceAttrs describes a request sequence by its request ids.
func SequenceAttrs(ids []string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		KeySequence.String(strings.Join(ids, ">")),
		KeyLength.Int(len(ids)),
	}
	if len(ids) > 0 {
		attrs = append(attrs, KeyTerminal.String(ids[len(ids)-1]))
	}
	return attrs
}

// StartGeneration starts the span covering one generation of sequences.
func StartGeneration(ctx context.Context, gen, sequences int) (context.Context, trace.Span) {
	return start(ctx, SpanGeneration, KeyGeneration.Int(gen), KeySequences.Int(sequences))
}

// StartRender starts the span covering one rendering of the sequence ids.
func StartRender(ctx context.Context, ids []string) (context.Context, trace.Span) {
	return start(ctx, SpanRender, SequenceAttrs(ids)...)
}

// EndRender records the outcome of a rendering on span. It does not end it.
func EndRender(span trace.Span, combination int, valid bool, failure string) {
	span.SetAttributes(KeyCombination.Int(combination), KeyValid.Bool(valid), KeyFailure.String(failure))
}

// StartChecker starts the span covering one checker pass over the
// rendering of the sequence ids.
func StartChecker(ctx context.Context, checker string, ids []string) (context.Context, trace.Span) {
	return start(ctx, SpanChecker, append(SequenceAttrs(ids), KeyChecker.String(checker))...)
}

// EndChecker records how many variants a checker sent and how many bugs
// it reported.
func EndChecker(span trace.Span, variants, bugs int) {
	span.SetAttributes(KeyVariants.Int(variants), KeyBugs.Int(bugs))
}

// StartGCCycle starts the span covering one garbage collection cycle.
func StartGCCycle(ctx context.Context) (context.Context, trace.Span) {
	return start(ctx, SpanGCCycle)
}

// EndGCCycle records the object types worked on and the objects deleted.
func EndGCCycle(span trace.Span, types, deleted int) {
	span.SetAttributes(KeyObjectTypes.Int(types), KeyDeleted.Int(deleted))
}

// RecordError records err on span and marks it failed.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
