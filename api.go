// Package agenttrace provides client-side tracing for agent workloads: calls to
// language-model APIs, tool executions and the sub-tasks that tie them together.
//
// agenttrace records spans, links them into traces through context.Context and
// ships them to a collector in batches from a background goroutine. Instrumented
// code never blocks on export and never sees an export failure.
//
// Core Components:
//   - Tracer: Starts spans, buffers finished ones and flushes them.
//   - Span: A single unit of work with timing, status and domain fields.
//   - Exporter: Delivers batches of spans (HTTP, console, OTLP bridge).
//   - Capture: Folds a streamed response into one span, exactly once.
//
// Basic Usage:
//
//	tracer := agenttrace.New(agenttrace.WithServiceName("my-agent"))
//	defer tracer.Shutdown(context.Background())
//
//	ctx, scope := tracer.Span(ctx, "plan")
//	defer scope.End(&err)
//
//	// Child spans pick up the trace and parent from ctx.
//	span := tracer.StartSpan(ctx, "llm.call", agenttrace.WithType(agenttrace.TypeLLMCall))
//	span.SetModel("gpt-4o", "openai")
//	tracer.Export(span)
//
// Thread Safety:
//
// Tracer is safe for concurrent use by multiple goroutines. Span mutators are
// guarded by a mutex, but a span still has a single logical owner until it is
// handed to Export; after that it is read only by the export path.
//
// Context Propagation:
//
// The current span and trace id live in context.Context, so concurrent call
// stacks never observe each other's spans.
//
// Backpressure:
//
// Finished spans wait in a fixed-size ring. When it overflows the oldest span
// is dropped - use Tracer.Dropped() to monitor.
package agenttrace

// Attr represents a span attribute key.
type Attr = string
