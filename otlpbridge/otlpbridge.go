// Package otlpbridge exports agenttrace spans through OpenTelemetry span
// exporters, so the same instrumentation can feed any OTLP backend.
package otlpbridge

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/instrumentation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	agenttrace "github.com/agenttrace/agenttrace-go"
)

// ScopeName identifies spans produced by this bridge.
const ScopeName = "github.com/agenttrace/agenttrace-go"

// Attribute keys for agenttrace fields that have no span-level OTel home.
const (
	AttrSpanType          = "agenttrace.span_type"
	AttrModel             = "gen_ai.request.model"
	AttrProvider          = "gen_ai.system"
	AttrTokensIn          = "gen_ai.usage.input_tokens"
	AttrTokensOut         = "gen_ai.usage.output_tokens"
	AttrTokensReasoning   = "gen_ai.usage.reasoning_tokens"
	AttrToolName          = "gen_ai.tool.name"
	AttrToolInput         = "agenttrace.tool.input"
	AttrToolOutput        = "agenttrace.tool.output"
	AttrPromptPreview     = "agenttrace.prompt_preview"
	AttrCompletionPreview = "agenttrace.completion_preview"
)

// Exporter adapts an sdktrace.SpanExporter to agenttrace.Exporter.
type Exporter struct {
	exporter sdktrace.SpanExporter
	logger   *zap.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithLogger sets the logger used for export failures.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New wraps exporter.
func New(exporter sdktrace.SpanExporter, opts ...Option) *Exporter {
	e := &Exporter{exporter: exporter, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// NewHTTP builds an exporter that sends OTLP over HTTP to endpoint
// (host:port, no scheme).
func NewHTTP(ctx context.Context, endpoint string, insecure bool, opts ...Option) (*Exporter, error) {
	httpOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if insecure {
		httpOpts = append(httpOpts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, httpOpts...)
	if err != nil {
		return nil, fmt.Errorf("otlpbridge: create trace exporter: %w", err)
	}
	return New(exp, opts...), nil
}

// Export implements agenttrace.Exporter.
func (e *Exporter) Export(ctx context.Context, span *agenttrace.Span) bool {
	return e.ExportBatch(ctx, []*agenttrace.Span{span}) == 1
}

// ExportBatch converts spans and exports them in one call. Spans whose ids
// are not valid hex are skipped and not counted.
func (e *Exporter) ExportBatch(ctx context.Context, spans []*agenttrace.Span) int {
	stubs := make(tracetest.SpanStubs, 0, len(spans))
	for _, span := range spans {
		if span == nil {
			continue
		}
		stub, err := ToStub(span.ToRecord())
		if err != nil {
			e.logger.Warn("otlp_convert_failed", zap.String("span_id", span.SpanID()), zap.Error(err))
			continue
		}
		stubs = append(stubs, stub)
	}
	if len(stubs) == 0 {
		return 0
	}

	if err := e.exporter.ExportSpans(ctx, stubs.Snapshots()); err != nil {
		e.logger.Warn("otlp_export_failed", zap.Int("total", len(stubs)), zap.Error(err))
		return 0
	}
	return len(stubs)
}

// Shutdown shuts the wrapped exporter down.
func (e *Exporter) Shutdown(ctx context.Context) error {
	return e.exporter.Shutdown(ctx)
}

// ToStub converts a span record into an OpenTelemetry span stub.
func ToStub(r agenttrace.Record) (tracetest.SpanStub, error) {
	traceID, err := trace.TraceIDFromHex(r.TraceID)
	if err != nil {
		return tracetest.SpanStub{}, fmt.Errorf("trace id %q: %w", r.TraceID, err)
	}
	spanID, err := trace.SpanIDFromHex(r.SpanID)
	if err != nil {
		return tracetest.SpanStub{}, fmt.Errorf("span id %q: %w", r.SpanID, err)
	}

	stub := tracetest.SpanStub{
		Name: r.OperationName,
		SpanContext: trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     spanID,
			TraceFlags: trace.FlagsSampled,
		}),
		SpanKind:             spanKind(r.SpanKind),
		StartTime:            r.StartedAt,
		Attributes:           attributes(r),
		Status:               status(r),
		Resource:             resource.NewSchemaless(semconv.ServiceName(r.ServiceName)),
		InstrumentationScope: instrumentation.Scope{Name: ScopeName},
	}
	if r.EndedAt != nil {
		stub.EndTime = *r.EndedAt
	}
	if r.ParentSpanID != "" {
		if parentID, err := trace.SpanIDFromHex(r.ParentSpanID); err == nil {
			stub.Parent = trace.NewSpanContext(trace.SpanContextConfig{
				TraceID:    traceID,
				SpanID:     parentID,
				TraceFlags: trace.FlagsSampled,
			})
		}
	}
	for _, ev := range r.Events {
		stub.Events = append(stub.Events, sdktrace.Event{
			Name:       ev.Name,
			Time:       ev.Timestamp,
			Attributes: convertMap(ev.Attributes),
		})
	}
	return stub, nil
}

func spanKind(k agenttrace.Kind) trace.SpanKind {
	switch k {
	case agenttrace.KindClient:
		return trace.SpanKindClient
	case agenttrace.KindServer:
		return trace.SpanKindServer
	case agenttrace.KindProducer:
		return trace.SpanKindProducer
	case agenttrace.KindConsumer:
		return trace.SpanKindConsumer
	default:
		return trace.SpanKindInternal
	}
}

func status(r agenttrace.Record) sdktrace.Status {
	switch r.Status {
	case agenttrace.StatusOK:
		return sdktrace.Status{Code: codes.Ok}
	case agenttrace.StatusError:
		return sdktrace.Status{Code: codes.Error, Description: r.StatusMessage}
	default:
		return sdktrace.Status{Code: codes.Unset}
	}
}

func attributes(r agenttrace.Record) []attribute.KeyValue {
	attrs := convertMap(r.Attributes)
	addString := func(key, value string) {
		if value != "" {
			attrs = append(attrs, attribute.String(key, value))
		}
	}
	addInt := func(key string, value *int) {
		if value != nil {
			attrs = append(attrs, attribute.Int(key, *value))
		}
	}

	addString(AttrSpanType, string(r.SpanType))
	addString(AttrModel, r.ModelName)
	addString(AttrProvider, r.ModelProvider)
	addInt(AttrTokensIn, r.TokensIn)
	addInt(AttrTokensOut, r.TokensOut)
	addInt(AttrTokensReasoning, r.TokensReasoning)
	addString(AttrToolName, r.ToolName)
	if r.ToolInput != nil {
		attrs = append(attrs, convert(AttrToolInput, r.ToolInput))
	}
	if r.ToolOutput != nil {
		attrs = append(attrs, convert(AttrToolOutput, r.ToolOutput))
	}
	addString(AttrPromptPreview, r.PromptPreview)
	addString(AttrCompletionPreview, r.CompletionPreview)
	return attrs
}

func convertMap(m map[string]any) []attribute.KeyValue {
	if len(m) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(m))
	for k, v := range m {
		out = append(out, convert(k, v))
	}
	return out
}

// convert maps a Go value onto the closest attribute type. Anything without a
// native attribute type is stored as its JSON text.
func convert(key string, v any) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(key, val)
	case bool:
		return attribute.Bool(key, val)
	case int:
		return attribute.Int(key, val)
	case int64:
		return attribute.Int64(key, val)
	case float64:
		return attribute.Float64(key, val)
	case []string:
		return attribute.StringSlice(key, val)
	case fmt.Stringer:
		return attribute.String(key, val.String())
	default:
		b, err := sonic.Marshal(val)
		if err != nil {
			return attribute.String(key, fmt.Sprint(val))
		}
		return attribute.String(key, string(b))
	}
}
