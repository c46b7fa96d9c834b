package agenttrace

import (
	"context"
)

// bundleKeyType is a private type for context keys to avoid collisions.
type bundleKeyType struct{}

var bundleKey bundleKeyType

// contextBundle holds the current span and trace id in a single context value.
type contextBundle struct {
	span    *Span
	traceID string
}

// ContextWithSpan returns a copy of parent in which span is the current span and
// its trace id is the current trace id.
func ContextWithSpan(parent context.Context, span *Span) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	if span == nil {
		return parent
	}
	return context.WithValue(parent, bundleKey, &contextBundle{span: span, traceID: span.traceID})
}

// ContextWithTraceID returns a copy of parent that carries traceID without a
// current span. Spans started from it join the trace as roots, which is how an
// inbound trace id is continued.
func ContextWithTraceID(parent context.Context, traceID string) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	if traceID == "" {
		return parent
	}
	return context.WithValue(parent, bundleKey, &contextBundle{traceID: traceID})
}

// CurrentSpan extracts the current span from a context.
// Returns nil if no span is present.
func CurrentSpan(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}
	if bundle, ok := ctx.Value(bundleKey).(*contextBundle); ok {
		return bundle.span
	}
	return nil
}

// CurrentTraceID returns the trace id active in ctx, or "".
func CurrentTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if bundle, ok := ctx.Value(bundleKey).(*contextBundle); ok {
		return bundle.traceID
	}
	return ""
}

// Activation is the handle returned by Activate. Releasing it hands back the
// context that was active before the span.
type Activation struct {
	parent context.Context
	span   *Span
}

// Activate makes span the current span of the returned context. The caller
// must Release the activation on every exit path, typically with defer.
func Activate(ctx context.Context, span *Span) (context.Context, *Activation) {
	if ctx == nil {
		ctx = context.Background()
	}
	return ContextWithSpan(ctx, span), &Activation{parent: ctx, span: span}
}

// Release records err on the span when the scope is left with an error that
// the span does not already carry, and returns the previous context.
func (a *Activation) Release(err error) context.Context {
	if err != nil && a.span != nil && a.span.Status() != StatusError {
		a.span.SetError(err)
	}
	return a.parent
}

// Span returns the activated span.
func (a *Activation) Span() *Span {
	return a.span
}
