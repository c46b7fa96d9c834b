package agenttrace

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSuccess(t *testing.T) {
	tracer, exp, _ := newTestTracer(t)

	var inner *Span
	err := tracer.Do(context.Background(), "step", func(ctx context.Context, span *Span) error {
		inner = span
		assert.Same(t, span, CurrentSpan(ctx))
		span.SetAttribute("k", "v")
		return nil
	}, WithType(TypeAgentStep))
	require.NoError(t, err)

	tracer.Flush(context.Background())
	spans := exp.spans()
	require.Len(t, spans, 1)
	assert.Same(t, inner, spans[0])
	assert.Equal(t, StatusOK, inner.Status())
	assert.Equal(t, TypeAgentStep, inner.Type())
}

func TestDoRecordsReturnedError(t *testing.T) {
	tracer, _, _ := newTestTracer(t)
	boom := errors.New("tool failed")

	var inner *Span
	err := tracer.Do(context.Background(), "step", func(_ context.Context, span *Span) error {
		inner = span
		return boom
	})

	assert.Same(t, boom, err, "errors are returned unchanged")
	assert.Equal(t, StatusError, inner.Status())
	assert.Equal(t, "tool failed", inner.StatusMessage())
	v, _ := inner.Attribute(AttrErrorType)
	assert.Equal(t, "*errors.errorString", v)
}

func TestDoRepanics(t *testing.T) {
	tracer, _, _ := newTestTracer(t)

	var inner *Span
	assert.Panics(t, func() {
		_ = tracer.Do(context.Background(), "step", func(_ context.Context, span *Span) error {
			inner = span
			panic(errors.New("nil map"))
		})
	})
	require.NotNil(t, inner)
	assert.True(t, inner.IsEnded())
	assert.Equal(t, StatusError, inner.Status())
	assert.Equal(t, 1, tracer.Buffered())
}

func TestTraceReturnsValue(t *testing.T) {
	tracer, _, _ := newTestTracer(t)

	n, err := Trace(context.Background(), tracer, "parse", func(_ context.Context, span *Span) (int, error) {
		span.SetAttribute("input", "42")
		return strconv.Atoi("42")
	})
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = Trace(context.Background(), tracer, "parse", func(context.Context, *Span) (int, error) {
		return strconv.Atoi("x")
	})
	assert.ErrorIs(t, err, strconv.ErrSyntax)
	assert.Equal(t, 2, tracer.Buffered())
}

func TestWrapNestsUnderCaller(t *testing.T) {
	tracer, exp, _ := newTestTracer(t)
	double := Wrap(tracer, "double", func(_ context.Context, n int) (int, error) {
		return n * 2, nil
	}, WithType(TypeToolCall))

	ctx, parent := tracer.Span(context.Background(), "agent")
	got, err := double(ctx, 21)
	parent.End(nil)

	require.NoError(t, err)
	assert.Equal(t, 42, got)

	tracer.Flush(context.Background())
	spans := exp.spans()
	require.Len(t, spans, 2)
	assert.Equal(t, "double", spans[0].Name())
	assert.Equal(t, parent.Span().SpanID(), spans[0].ParentSpanID())
	assert.Equal(t, TypeToolCall, spans[0].Type())
}
