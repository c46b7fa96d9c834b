package agenttrace

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentSpanEmptyContext(t *testing.T) {
	assert.Nil(t, CurrentSpan(context.Background()))
	assert.Empty(t, CurrentTraceID(context.Background()))
	//nolint:staticcheck // nil context is tolerated on purpose
	assert.Nil(t, CurrentSpan(nil))
}

func TestNestedSpansInheritTraceAndParent(t *testing.T) {
	tracer, exp, _ := newTestTracer(t)

	ctx, a := tracer.Span(context.Background(), "A")
	require.Len(t, a.Span().TraceID(), 32)
	assert.Empty(t, a.Span().ParentSpanID())

	_, b := tracer.Span(ctx, "B")
	assert.Equal(t, a.Span().TraceID(), b.Span().TraceID())
	assert.Equal(t, a.Span().SpanID(), b.Span().ParentSpanID())

	b.End(nil)
	a.End(nil)

	assert.Equal(t, StatusOK, a.Span().Status())
	assert.Equal(t, StatusOK, b.Span().Status())

	require.Equal(t, 2, tracer.Flush(context.Background()))
	spans := exp.spans()
	require.Len(t, spans, 2)
	for _, s := range spans {
		assert.Equal(t, a.Span().TraceID(), s.TraceID())
	}
}

func TestExplicitIDsWin(t *testing.T) {
	tracer, _, _ := newTestTracer(t)
	ctx, parent := tracer.Span(context.Background(), "parent")
	defer parent.End(nil)

	span := tracer.StartSpan(ctx, "child",
		WithTraceID("0123456789abcdef0123456789abcdef"),
		WithParentSpanID("fedcba9876543210"),
	)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", span.TraceID())
	assert.Equal(t, "fedcba9876543210", span.ParentSpanID())
}

func TestContextWithTraceIDContinuesTrace(t *testing.T) {
	tracer, _, _ := newTestTracer(t)
	ctx := ContextWithTraceID(context.Background(), "aaaabbbbccccddddaaaabbbbccccdddd")

	assert.Nil(t, CurrentSpan(ctx))
	span := tracer.StartSpan(ctx, "inbound")
	assert.Equal(t, "aaaabbbbccccddddaaaabbbbccccdddd", span.TraceID())
	assert.Empty(t, span.ParentSpanID())

	assert.Equal(t, ctx, ContextWithTraceID(ctx, ""))
}

func TestActivateRelease(t *testing.T) {
	tracer, _, _ := newTestTracer(t)
	root := context.Background()

	span := tracer.StartSpan(root, "work")
	ctx, activation := Activate(root, span)
	assert.Same(t, span, CurrentSpan(ctx))
	assert.Equal(t, span.TraceID(), CurrentTraceID(ctx))
	assert.Same(t, span, activation.Span())

	restored := activation.Release(errors.New("escaped"))
	assert.Nil(t, CurrentSpan(restored))
	assert.Equal(t, StatusError, span.Status())
	assert.Equal(t, "escaped", span.StatusMessage())
	assert.False(t, span.IsEnded(), "release must not end the span")
}

func TestReleaseKeepsRecordedError(t *testing.T) {
	tracer, _, _ := newTestTracer(t)
	span := tracer.StartSpan(context.Background(), "work")
	_, activation := Activate(context.Background(), span)

	span.SetError(errors.New("first"))
	activation.Release(errors.New("second"))

	assert.Equal(t, "first", span.StatusMessage())
}

func TestConcurrentContextsAreIndependent(t *testing.T) {
	tracer, _, _ := newTestTracer(t)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, outer := tracer.Span(context.Background(), "outer")
			_, inner := tracer.Span(ctx, "inner")

			assert.Equal(t, outer.Span().TraceID(), inner.Span().TraceID())
			assert.Equal(t, outer.Span().SpanID(), inner.Span().ParentSpanID())

			inner.End(nil)
			outer.End(nil)
		}()
	}
	wg.Wait()
}
