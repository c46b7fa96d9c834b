package agenttrace

import (
	"maps"
	"time"
)

// Record is the wire projection of a span. Fields without a value are omitted
// when encoded; attributes are always present.
//
//nolint:govet // Field order mirrors the collector's ingest model
type Record struct {
	SpanID            string         `json:"span_id"`
	TraceID           string         `json:"trace_id"`
	ParentSpanID      string         `json:"parent_span_id,omitempty"`
	OperationName     string         `json:"operation_name"`
	ServiceName       string         `json:"service_name"`
	SpanKind          Kind           `json:"span_kind,omitempty"`
	SpanType          Type           `json:"span_type,omitempty"`
	StartedAt         time.Time      `json:"started_at"`
	EndedAt           *time.Time     `json:"ended_at,omitempty"`
	DurationMS        *float64       `json:"duration_ms,omitempty"`
	Status            Status         `json:"status"`
	StatusMessage     string         `json:"status_message,omitempty"`
	ModelName         string         `json:"model_name,omitempty"`
	ModelProvider     string         `json:"model_provider,omitempty"`
	TokensIn          *int           `json:"tokens_in,omitempty"`
	TokensOut         *int           `json:"tokens_out,omitempty"`
	TokensReasoning   *int           `json:"tokens_reasoning,omitempty"`
	ToolName          string         `json:"tool_name,omitempty"`
	ToolInput         any            `json:"tool_input,omitempty"`
	ToolOutput        any            `json:"tool_output,omitempty"`
	PromptPreview     string         `json:"prompt_preview,omitempty"`
	CompletionPreview string         `json:"completion_preview,omitempty"`
	Attributes        map[string]any `json:"attributes"`
	Events            []Event        `json:"events,omitempty"`
}

// ToRecord returns a read-only snapshot of the span suitable for encoding.
// The snapshot shares no mutable state with the span.
func (s *Span) ToRecord() Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{
		SpanID:            s.spanID,
		TraceID:           s.traceID,
		ParentSpanID:      s.parentSpanID,
		OperationName:     s.operationName,
		ServiceName:       s.serviceName,
		SpanKind:          s.kind,
		SpanType:          s.spanType,
		StartedAt:         s.startedAt,
		Status:            s.status,
		StatusMessage:     s.statusMessage,
		ModelName:         s.modelName,
		ModelProvider:     s.modelProvider,
		TokensIn:          copyInt(s.tokensIn),
		TokensOut:         copyInt(s.tokensOut),
		TokensReasoning:   copyInt(s.tokensReasoning),
		ToolName:          s.toolName,
		ToolInput:         s.toolInput,
		ToolOutput:        s.toolOutput,
		PromptPreview:     s.promptPreview,
		CompletionPreview: s.completionPreview,
		Attributes:        make(map[string]any, len(s.attributes)),
	}
	maps.Copy(rec.Attributes, s.attributes)

	if s.ended {
		ended := s.endedAt
		rec.EndedAt = &ended
		ms := float64(s.endedAt.Sub(s.startedAt)) / float64(time.Millisecond)
		rec.DurationMS = &ms
	}

	if len(s.events) > 0 {
		rec.Events = make([]Event, len(s.events))
		for i, ev := range s.events {
			rec.Events[i] = Event{Name: ev.Name, Timestamp: ev.Timestamp, Attributes: maps.Clone(ev.Attributes)}
		}
	}

	return rec
}

// Duration returns the recorded duration. ok is false for an unfinished span.
func (r Record) Duration() (time.Duration, bool) {
	if r.EndedAt == nil {
		return 0, false
	}
	return r.EndedAt.Sub(r.StartedAt), true
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
