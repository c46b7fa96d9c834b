package benchmarks

import (
	"context"
	"io"
	"testing"

	"github.com/agenttrace/agenttrace-go"
	"github.com/agenttrace/agenttrace-go/internal/collectortest"
)

// BenchmarkExportEnqueue measures the hot-path cost of handing a finished
// span to the tracer. The buffer is flushed to a no-op exporter when full.
func BenchmarkExportEnqueue(b *testing.B) {
	tracer := newBenchTracer(b, agenttrace.WithBufferSize(4096), agenttrace.WithBatchSize(4096))
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for range b.N {
		tracer.Export(tracer.StartSpan(ctx, "enqueue"))
	}
}

// BenchmarkExportEnqueueParallel measures enqueue contention.
func BenchmarkExportEnqueueParallel(b *testing.B) {
	tracer := newBenchTracer(b, agenttrace.WithBufferSize(4096), agenttrace.WithBatchSize(4096))
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			tracer.Export(tracer.StartSpan(ctx, "enqueue"))
		}
	})
}

// BenchmarkHTTPBatch measures one batch of 100 spans posted to a local collector.
func BenchmarkHTTPBatch(b *testing.B) {
	srv := collectortest.New()
	defer srv.Close()

	tracer := newBenchTracer(b)
	exp := agenttrace.NewHTTPExporter(srv.URL)
	spans := make([]*agenttrace.Span, 100)
	for i := range spans {
		spans[i] = tracer.StartSpan(context.Background(), "batched")
		spans[i].SetTokens(10, 20)
		spans[i].End()
	}

	b.ResetTimer()
	for range b.N {
		if n := exp.ExportBatch(context.Background(), spans); n != len(spans) {
			b.Fatalf("Expected %d accepted, got %d", len(spans), n)
		}
	}
}

// BenchmarkConsoleJSON measures JSON rendering through the console exporter.
func BenchmarkConsoleJSON(b *testing.B) {
	tracer := newBenchTracer(b)
	exp := agenttrace.NewConsoleExporter(agenttrace.WithConsoleOutput(io.Discard), agenttrace.WithPretty(false))
	span := tracer.StartSpan(context.Background(), "console")
	span.SetModel("claude-3-haiku", "anthropic")
	span.End()

	b.ReportAllocs()
	b.ResetTimer()
	for range b.N {
		exp.Export(context.Background(), span)
	}
}
