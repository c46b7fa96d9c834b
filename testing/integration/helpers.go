package integration

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/agenttrace/agenttrace-go"
	"github.com/agenttrace/agenttrace-go/internal/collectortest"
)

// Harness wires a tracer to an in-process collector over real HTTP.
//
//nolint:govet // Field alignment optimized for test helper readability
type Harness struct {
	Collector *collectortest.Server
	Tracer    *agenttrace.Tracer
	t         *testing.T
}

// NewHarness starts a collector and a tracer exporting to it. The periodic
// flush is effectively disabled so tests control delivery with Flush.
func NewHarness(t *testing.T, opts ...agenttrace.Option) *Harness {
	t.Helper()
	collector := collectortest.New()

	base := []agenttrace.Option{
		agenttrace.WithServiceName("integration"),
		agenttrace.WithEndpoint(collector.URL),
		agenttrace.WithLogger(zap.NewNop()),
		agenttrace.WithFlushInterval(time.Hour),
		agenttrace.WithExportTimeout(2 * time.Second),
	}
	tracer := agenttrace.New(append(base, opts...)...)

	h := &Harness{Collector: collector, Tracer: tracer, t: t}
	t.Cleanup(func() {
		_ = tracer.Shutdown(context.Background())
		collector.Close()
	})
	return h
}

// FlushAll flushes until the buffer is empty or a flush makes no progress.
func (h *Harness) FlushAll() int {
	total := 0
	for h.Tracer.Buffered() > 0 {
		n := h.Tracer.Flush(context.Background())
		if n == 0 {
			break
		}
		total += n
	}
	return total
}

// WaitForSpans waits until the collector holds at least expected spans.
func (h *Harness) WaitForSpans(expected int, timeout time.Duration) []collectortest.Span {
	h.t.Helper()
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if spans := h.Collector.Spans(); len(spans) >= expected {
			return spans
		}
		<-ticker.C
	}

	spans := h.Collector.Spans()
	h.t.Errorf("Timeout waiting for spans: expected %d, got %d", expected, len(spans))
	return spans
}

// AssertSpanNamed returns the first collected span called name.
func (h *Harness) AssertSpanNamed(name string) *collectortest.Span {
	h.t.Helper()
	spans := h.Collector.Spans()
	for i := range spans {
		if spans[i].OperationName == name {
			return &spans[i]
		}
	}
	h.t.Errorf("Span named '%s' not found", name)
	return nil
}

// AssertParentChild verifies that childName is a direct child of parentName.
func (h *Harness) AssertParentChild(parentName, childName string) {
	h.t.Helper()
	parent := h.AssertSpanNamed(parentName)
	child := h.AssertSpanNamed(childName)
	if parent == nil || child == nil {
		return
	}

	if child.ParentSpanID != parent.SpanID {
		h.t.Errorf("Parent-child relationship broken: %s is not parent of %s. Child parent=%s, Parent span=%s",
			parentName, childName, child.ParentSpanID, parent.SpanID)
	}
	if child.TraceID != parent.TraceID {
		h.t.Errorf("Trace ID mismatch: parent=%s, child=%s", parent.TraceID, child.TraceID)
	}
}
