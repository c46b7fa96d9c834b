package agenttrace

import (
	"maps"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// settings collects everything an Option can change.
type settings struct {
	cfg        Config
	exporter   Exporter
	clock      clockz.Clock
	logger     *zap.Logger
	registerer prometheus.Registerer
}

// Option configures a Tracer.
type Option func(*settings)

// WithServiceName sets the service name stamped on every span.
func WithServiceName(name string) Option {
	return func(s *settings) { s.cfg.ServiceName = name }
}

// WithExporter replaces the default HTTP exporter.
func WithExporter(exporter Exporter) Option {
	return func(s *settings) { s.exporter = exporter }
}

// WithEndpoint sets the collector base URL used by the default exporter.
func WithEndpoint(endpoint string) Option {
	return func(s *settings) { s.cfg.Endpoint = endpoint }
}

// WithBatchSize sets the maximum number of spans sent per flush.
func WithBatchSize(n int) Option {
	return func(s *settings) { s.cfg.BatchSize = n }
}

// WithBufferSize sets the ring buffer capacity.
func WithBufferSize(n int) Option {
	return func(s *settings) { s.cfg.BufferSize = n }
}

// WithFlushInterval sets the period of the background flush loop.
func WithFlushInterval(d time.Duration) Option {
	return func(s *settings) { s.cfg.FlushInterval = d }
}

// WithExportTimeout sets the per-attempt timeout of the default exporter.
func WithExportTimeout(d time.Duration) Option {
	return func(s *settings) { s.cfg.ExportTimeout = d }
}

// WithMaxAttempts sets how many times the default exporter tries a request.
func WithMaxAttempts(n int) Option {
	return func(s *settings) { s.cfg.MaxAttempts = n }
}

// WithClock injects the clock used for timestamps and the flush timer.
func WithClock(clock clockz.Clock) Option {
	return func(s *settings) { s.clock = clock }
}

// WithLogger sets the logger used for pipeline diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithRegisterer registers the pipeline metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *settings) { s.registerer = reg }
}

// WithDebug enables debug logging on the default logger.
func WithDebug(debug bool) Option {
	return func(s *settings) { s.cfg.Debug = debug }
}

// spanSettings holds per-span start options.
type spanSettings struct {
	kind         Kind
	spanType     Type
	traceID      string
	parentSpanID string
	attributes   map[string]any
}

// SpanOption configures a span at start.
type SpanOption func(*spanSettings)

// WithKind sets the span kind. The default is KindInternal.
func WithKind(kind Kind) SpanOption {
	return func(s *spanSettings) { s.kind = kind }
}

// WithType sets the span type. The default is TypeCustom.
func WithType(t Type) SpanOption {
	return func(s *spanSettings) { s.spanType = t }
}

// WithTraceID forces the trace id instead of inheriting one.
func WithTraceID(traceID string) SpanOption {
	return func(s *spanSettings) { s.traceID = traceID }
}

// WithParentSpanID forces the parent span id instead of using the current span.
func WithParentSpanID(spanID string) SpanOption {
	return func(s *spanSettings) { s.parentSpanID = spanID }
}

// WithAttributes sets initial attributes.
func WithAttributes(attrs map[string]any) SpanOption {
	return func(s *spanSettings) {
		if s.attributes == nil {
			s.attributes = make(map[string]any, len(attrs))
		}
		maps.Copy(s.attributes, attrs)
	}
}

func newSpanSettings(opts []SpanOption) spanSettings {
	s := spanSettings{kind: KindInternal, spanType: TypeCustom}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}
