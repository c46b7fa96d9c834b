package agenttrace

import "context"

// Do runs fn inside a span named name. The span is active in the context
// passed to fn, finalized from fn's result and exported. Errors are returned
// unchanged and panics are re-raised after being recorded.
func (t *Tracer) Do(ctx context.Context, name string, fn func(context.Context, *Span) error, opts ...SpanOption) (err error) {
	ctx, scope := t.Span(ctx, name, opts...)
	defer scope.End(&err)
	return fn(ctx, scope.Span())
}

// Trace is Do for functions that return a value.
func Trace[T any](ctx context.Context, t *Tracer, name string, fn func(context.Context, *Span) (T, error), opts ...SpanOption) (result T, err error) {
	ctx, scope := t.Span(ctx, name, opts...)
	defer scope.End(&err)
	return fn(ctx, scope.Span())
}

// Wrap returns fn decorated so that every call runs in its own span.
func Wrap[In, Out any](t *Tracer, name string, fn func(context.Context, In) (Out, error), opts ...SpanOption) func(context.Context, In) (Out, error) {
	return func(ctx context.Context, in In) (Out, error) {
		return Trace(ctx, t, name, func(ctx context.Context, _ *Span) (Out, error) {
			return fn(ctx, in)
		}, opts...)
	}
}
