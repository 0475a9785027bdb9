package tracer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vikasavnish/seqfuzz/pkg/config"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: false})
	require.NoError(t, err)
	defer shutdown(context.Background())

	_, ok := otel.GetTracerProvider().(noop.TracerProvider)
	assert.True(t, ok)
}

func TestSetupStdout(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "stdout"})
	require.NoError(t, err)
	defer shutdown(context.Background())

	_, span := StartRender(context.Background(), []string{"put_city"})
	EndRender(span, 0, true, "none")
	span.End()
}

func TestSetupUnsupportedExporter(t *testing.T) {
	_, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "jaeger"})
	assert.Error(t, err)
}

func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return exp
}

func attrs(s tracetest.SpanStub) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range s.Attributes {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestSequenceAttrs(t *testing.T) {
	got := SequenceAttrs([]string{"put_city", "get_city"})
	assert.Contains(t, got, KeySequence.String("put_city>get_city"))
	assert.Contains(t, got, KeyLength.Int(2))
	assert.Contains(t, got, KeyTerminal.String("get_city"))

	assert.Len(t, SequenceAttrs(nil), 2)
}

func TestRenderSpanIsNestedInGeneration(t *testing.T) {
	exp := recordSpans(t)

	ctx, gen := StartGeneration(context.Background(), 2, 5)
	_, render := StartRender(ctx, []string{"put_city", "get_city"})
	EndRender(render, 3, false, "bug")
	RecordError(render, errors.New("status 500"))
	render.End()
	gen.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 2)
	r, g := spans[0], spans[1]

	assert.Equal(t, SpanRender, r.Name)
	assert.Equal(t, SpanGeneration, g.Name)
	assert.Equal(t, g.SpanContext.SpanID(), r.Parent.SpanID())
	assert.Equal(t, codes.Error, r.Status.Code)

	ra := attrs(r)
	assert.Equal(t, "put_city>get_city", ra[KeySequence].AsString())
	assert.Equal(t, int64(3), ra[KeyCombination].AsInt64())
	assert.False(t, ra[KeyValid].AsBool())
	assert.Equal(t, "bug", ra[KeyFailure].AsString())

	ga := attrs(g)
	assert.Equal(t, int64(2), ga[KeyGeneration].AsInt64())
	assert.Equal(t, int64(5), ga[KeySequences].AsInt64())
}

func TestCheckerAndGCSpans(t *testing.T) {
	exp := recordSpans(t)

	_, span := StartChecker(context.Background(), "payload_body", []string{"put_city"})
	EndChecker(span, 7, 1)
	span.End()

	_, span = StartGCCycle(context.Background())
	EndGCCycle(span, 2, 4)
	span.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 2)

	ca := attrs(spans[0])
	assert.Equal(t, SpanChecker, spans[0].Name)
	assert.Equal(t, "payload_body", ca[KeyChecker].AsString())
	assert.Equal(t, "put_city", ca[KeyTerminal].AsString())
	assert.Equal(t, int64(7), ca[KeyVariants].AsInt64())
	assert.Equal(t, int64(1), ca[KeyBugs].AsInt64())

	ga := attrs(spans[1])
	assert.Equal(t, SpanGCCycle, spans[1].Name)
	assert.Equal(t, int64(2), ga[KeyObjectTypes].AsInt64())
	assert.Equal(t, int64(4), ga[KeyDeleted].AsInt64())
}
