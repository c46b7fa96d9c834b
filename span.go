package agenttrace

import (
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// Kind describes the relationship between a span and its caller.
type Kind string

// Span kinds.
const (
	KindInternal Kind = "internal"
	KindClient   Kind = "client"
	KindServer   Kind = "server"
	KindProducer Kind = "producer"
	KindConsumer Kind = "consumer"
)

// Type is an open, high-level category for a span.
type Type string

// Well-known span types. Any other value is allowed.
const (
	TypeLLMCall   Type = "llm_call"
	TypeToolCall  Type = "tool_call"
	TypeAgentStep Type = "agent_step"
	TypeRetrieval Type = "retrieval"
	TypeEmbedding Type = "embedding"
	TypeChain     Type = "chain"
	TypeCustom    Type = "custom"
)

// Status is the outcome of a span.
type Status string

// Span statuses.
const (
	StatusUnset Status = "unset"
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// PreviewLimit is the maximum number of runes kept in prompt and completion previews.
const PreviewLimit = 500

// Well-known attribute keys.
const (
	AttrErrorType    Attr = "error.type"
	AttrErrorMessage Attr = "error.message"
	AttrStacktrace   Attr = "exception.stacktrace"
)

// EventPanic is the event a Scope adds when its code panics.
const EventPanic = "panic"

// Event is a timestamped occurrence inside a span.
type Event struct {
	Timestamp  time.Time      `json:"timestamp"`
	Attributes map[string]any `json:"attributes"`
	Name       string         `json:"name"`
}

// Span represents a single unit of work in a trace.
// Spans are created by Tracer.StartSpan and are safe to mutate from the
// goroutine that owns them; mutators are no-ops once the span has ended.
//
//nolint:govet // Field order follows the wire record for readability
type Span struct {
	clock clockz.Clock
	mu    sync.Mutex

	spanID        string
	traceID       string
	parentSpanID  string
	operationName string
	serviceName   string
	kind          Kind
	spanType      Type

	startedAt     time.Time
	endedAt       time.Time
	ended         bool
	status        Status
	statusMessage string

	attributes map[string]any
	events     []Event

	modelName       string
	modelProvider   string
	tokensIn        *int
	tokensOut       *int
	tokensReasoning *int

	toolName   string
	toolInput  any
	toolOutput any

	promptPreview     string
	completionPreview string
}

// SpanID returns the span id.
func (s *Span) SpanID() string { return s.spanID }

// TraceID returns the trace id shared by all spans of the trace.
func (s *Span) TraceID() string { return s.traceID }

// ParentSpanID returns the parent span id, or "" for a root span.
func (s *Span) ParentSpanID() string { return s.parentSpanID }

// Name returns the operation name.
func (s *Span) Name() string { return s.operationName }

// ServiceName returns the service that produced the span.
func (s *Span) ServiceName() string { return s.serviceName }

// Kind returns the span kind.
func (s *Span) Kind() Kind { return s.kind }

// Type returns the span type.
func (s *Span) Type() Type { return s.spanType }

// StartedAt returns the start time.
func (s *Span) StartedAt() time.Time { return s.startedAt }

// EndedAt returns the end time and whether the span has ended.
func (s *Span) EndedAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt, s.ended
}

// IsEnded reports whether the span has been finalized.
func (s *Span) IsEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Duration returns the span duration. ok is false until the span has ended.
func (s *Span) Duration() (d time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		return 0, false
	}
	return s.endedAt.Sub(s.startedAt), true
}

// Status returns the current status.
func (s *Span) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// StatusMessage returns the status message, usually an error text.
func (s *Span) StatusMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusMessage
}

// Attribute returns the value stored under key.
func (s *Span) Attribute(key Attr) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attributes[key]
	return v, ok
}

// Events returns a copy of the span events in the order they were added.
func (s *Span) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// mutate runs fn under the span lock unless the span has ended.
func (s *Span) mutate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Don't modify finished spans.
	if s.ended {
		return
	}
	fn()
}

// SetAttribute stores a custom attribute.
func (s *Span) SetAttribute(key Attr, value any) {
	s.mutate(func() {
		if s.attributes == nil {
			s.attributes = make(map[string]any)
		}
		s.attributes[key] = value
	})
}

// SetAttributes stores every entry of attrs.
func (s *Span) SetAttributes(attrs map[string]any) {
	if len(attrs) == 0 {
		return
	}
	s.mutate(func() {
		if s.attributes == nil {
			s.attributes = make(map[string]any, len(attrs))
		}
		maps.Copy(s.attributes, attrs)
	})
}

// AddEvent appends a timestamped event.
func (s *Span) AddEvent(name string, attrs map[string]any) {
	s.mutate(func() {
		ev := Event{Name: name, Timestamp: s.clock.Now().UTC(), Attributes: map[string]any{}}
		maps.Copy(ev.Attributes, attrs)
		s.events = append(s.events, ev)
	})
}

// SetModel records the model name and provider of an LLM call.
func (s *Span) SetModel(name, provider string) {
	s.mutate(func() {
		s.modelName = name
		s.modelProvider = provider
	})
}

// SetTokens records input and output token counts.
func (s *Span) SetTokens(in, out int) {
	s.mutate(func() {
		s.tokensIn = &in
		s.tokensOut = &out
	})
}

// SetReasoningTokens records reasoning token usage for models that report it.
func (s *Span) SetReasoningTokens(n int) {
	s.mutate(func() { s.tokensReasoning = &n })
}

// SetTool records the tool name and its input.
func (s *Span) SetTool(name string, input any) {
	s.mutate(func() {
		s.toolName = name
		s.toolInput = input
	})
}

// SetToolOutput records the tool result.
func (s *Span) SetToolOutput(output any) {
	s.mutate(func() { s.toolOutput = output })
}

// SetPromptPreview stores the prompt preview, truncated to PreviewLimit runes.
func (s *Span) SetPromptPreview(text string) {
	s.mutate(func() { s.promptPreview = Truncate(text, PreviewLimit) })
}

// SetCompletionPreview stores the completion preview, truncated to PreviewLimit runes.
func (s *Span) SetCompletionPreview(text string) {
	s.mutate(func() { s.completionPreview = Truncate(text, PreviewLimit) })
}

// SetError marks the span as failed without ending it.
func (s *Span) SetError(err error) {
	if err == nil {
		return
	}
	s.mutate(func() {
		s.status = StatusError
		s.statusMessage = err.Error()
		if s.attributes == nil {
			s.attributes = make(map[string]any)
		}
		s.attributes[AttrErrorType] = fmt.Sprintf("%T", err)
		s.attributes[AttrErrorMessage] = err.Error()
	})
}

// End finalizes the span with StatusOK, or keeps StatusError if SetError was
// called. Safe to call multiple times - subsequent calls are no-ops.
func (s *Span) End() {
	s.finish(StatusOK, "")
}

// EndWithStatus finalizes the span with the given status and optional message.
// A recorded error is never downgraded to ok. No-op if the span already ended.
func (s *Span) EndWithStatus(status Status, message string) {
	s.finish(status, message)
}

// finish sets the end time and final status. It reports whether this call
// finalized the span.
func (s *Span) finish(status Status, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Prevent double-finishing.
	if s.ended {
		return false
	}

	s.ended = true
	s.endedAt = s.clock.Now().UTC()
	if s.endedAt.Before(s.startedAt) {
		s.endedAt = s.startedAt
	}

	switch {
	case s.status == StatusError:
		// Keep the recorded error.
	case status == StatusUnset:
		s.status = StatusOK
	default:
		s.status = status
	}
	if message != "" {
		s.statusMessage = message
	}
	return true
}

// Truncate shortens text to at most limit runes.
func Truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	n := 0
	for i := range text {
		if n == limit {
			return text[:i]
		}
		n++
	}
	return text
}
