package agenttrace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// recordingExporter keeps every span it receives.
type recordingExporter struct {
	accept    func(batch []*Span) int
	batches   [][]*Span
	singles   []*Span
	mu        sync.Mutex
	shutdowns int
}

func (e *recordingExporter) Export(_ context.Context, span *Span) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.singles = append(e.singles, span)
	return true
}

func (e *recordingExporter) ExportBatch(_ context.Context, spans []*Span) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	batch := make([]*Span, len(spans))
	copy(batch, spans)
	e.batches = append(e.batches, batch)
	if e.accept != nil {
		return e.accept(batch)
	}
	return len(batch)
}

func (e *recordingExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdowns++
	return nil
}

func (e *recordingExporter) batchCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.batches)
}

func (e *recordingExporter) spans() []*Span {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Span
	for _, b := range e.batches {
		out = append(out, b...)
	}
	return out
}

// newTestTracer builds a tracer on a fake clock whose periodic flush never
// fires unless the test advances the clock.
func newTestTracer(t *testing.T, opts ...Option) (*Tracer, *recordingExporter, *clockz.FakeClock) {
	t.Helper()
	exp := &recordingExporter{}
	clock := clockz.NewFakeClock()
	base := []Option{
		WithServiceName("test-service"),
		WithExporter(exp),
		WithClock(clock),
		WithLogger(zap.NewNop()),
		WithFlushInterval(time.Hour),
	}
	tracer := New(append(base, opts...)...)
	t.Cleanup(func() { _ = tracer.Shutdown(context.Background()) })
	return tracer, exp, clock
}
