package agenttrace

import (
	"context"

	"github.com/hashicorp/go-multierror"
)

// Exporter delivers finished spans to a sink.
//
// ExportBatch reports how many spans were accepted and never fails loudly:
// whatever was not accepted is considered lost. Implementations must be safe
// for concurrent use.
type Exporter interface {
	// Export delivers a single span.
	Export(ctx context.Context, span *Span) bool
	// ExportBatch delivers spans and returns the number accepted.
	ExportBatch(ctx context.Context, spans []*Span) int
	// Shutdown releases resources held by the exporter.
	Shutdown(ctx context.Context) error
}

// NopExporter accepts and discards every span.
type NopExporter struct{}

// Export implements Exporter.
func (NopExporter) Export(context.Context, *Span) bool { return true }

// ExportBatch implements Exporter.
func (NopExporter) ExportBatch(_ context.Context, spans []*Span) int { return len(spans) }

// Shutdown implements Exporter.
func (NopExporter) Shutdown(context.Context) error { return nil }

// MultiExporter fans every span out to several exporters.
type MultiExporter struct {
	exporters []Exporter
}

// NewMultiExporter returns an exporter that forwards to each of exporters.
// Nil entries are skipped.
func NewMultiExporter(exporters ...Exporter) *MultiExporter {
	m := &MultiExporter{exporters: make([]Exporter, 0, len(exporters))}
	for _, e := range exporters {
		if e != nil {
			m.exporters = append(m.exporters, e)
		}
	}
	return m
}

// Export succeeds only when every exporter succeeds.
func (m *MultiExporter) Export(ctx context.Context, span *Span) bool {
	ok := true
	for _, e := range m.exporters {
		if !e.Export(ctx, span) {
			ok = false
		}
	}
	return ok
}

// ExportBatch returns the smallest accepted count among the exporters.
func (m *MultiExporter) ExportBatch(ctx context.Context, spans []*Span) int {
	if len(m.exporters) == 0 {
		return 0
	}
	accepted := len(spans)
	for _, e := range m.exporters {
		accepted = min(accepted, e.ExportBatch(ctx, spans))
	}
	return accepted
}

// Shutdown shuts every exporter down and combines their errors.
func (m *MultiExporter) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	for _, e := range m.exporters {
		if err := e.Shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
