package instrument

import (
	"context"
	"iter"

	agenttrace "github.com/agenttrace/agenttrace-go"
)

// Request attribute keys.
const (
	AttrVendor      = "llm.vendor"
	AttrRequestType = "llm.request.type"
	AttrMaxTokens   = "llm.request.max_tokens"
	AttrTemperature = "llm.request.temperature"
	AttrTopP        = "llm.request.top_p"
)

// Message is one chat message.
type Message struct {
	Role    string
	Content string
}

// ChatRequest is a vendor-neutral chat completion request.
type ChatRequest struct {
	MaxTokens   *int
	Temperature *float64
	TopP        *float64
	Model       string
	Messages    []Message
}

// ChatResponse is a vendor-neutral chat completion result.
type ChatResponse struct {
	Usage     *agenttrace.Usage
	Text      string
	ToolCalls []agenttrace.ToolCall
}

// ChatModel is what a vendor shim implements for its client.
// Stream yields one Delta per received chunk.
type ChatModel interface {
	Complete(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Stream(ctx context.Context, req ChatRequest) iter.Seq2[agenttrace.Delta, error]
}

// WrapChatModel returns model traced through integration. Calls are passed
// through untouched while the integration is not instrumented. An empty
// provider is inferred from each request's model.
func WrapChatModel(integration *Integration, provider string, model ChatModel) ChatModel {
	return &tracedChatModel{integration: integration, provider: provider, next: model}
}

type tracedChatModel struct {
	integration *Integration
	next        ChatModel
	provider    string
}

// Complete records the call on a client span. Errors and panics from the
// wrapped model are recorded and passed back unchanged.
func (m *tracedChatModel) Complete(ctx context.Context, req ChatRequest) (resp ChatResponse, err error) {
	t := m.integration.Tracer()
	if t == nil {
		return m.next.Complete(ctx, req)
	}

	provider := m.providerFor(req)
	ctx, scope := t.Span(ctx, provider+".chat", spanOptions(provider, req)...)
	defer scope.End(&err)
	describe(scope.Span(), provider, req)

	resp, err = m.next.Complete(ctx, req)
	if err == nil {
		recordResponse(scope.Span(), resp)
	}
	return resp, err
}

// Stream starts the span when iteration begins, so a stream that is never
// read leaves nothing open.
func (m *tracedChatModel) Stream(ctx context.Context, req ChatRequest) iter.Seq2[agenttrace.Delta, error] {
	return func(yield func(agenttrace.Delta, error) bool) {
		t := m.integration.Tracer()
		if t == nil {
			for d, err := range m.next.Stream(ctx, req) {
				if !yield(d, err) {
					return
				}
			}
			return
		}

		span := m.startSpan(ctx, t, req)
		inner := agenttrace.ContextWithSpan(ctx, span)
		seq := agenttrace.CaptureSeq(t, span, m.next.Stream(inner, req), identity)
		for d, err := range seq {
			if !yield(d, err) {
				return
			}
		}
	}
}

func (m *tracedChatModel) startSpan(ctx context.Context, t *agenttrace.Tracer, req ChatRequest) *agenttrace.Span {
	provider := m.providerFor(req)
	span := t.StartSpan(ctx, provider+".chat", spanOptions(provider, req)...)
	describe(span, provider, req)
	return span
}

func (m *tracedChatModel) providerFor(req ChatRequest) string {
	if m.provider != "" {
		return m.provider
	}
	return ProviderFromModel(req.Model)
}

func spanOptions(provider string, req ChatRequest) []agenttrace.SpanOption {
	attrs := map[string]any{
		AttrVendor:      provider,
		AttrRequestType: "chat",
	}
	if req.MaxTokens != nil {
		attrs[AttrMaxTokens] = *req.MaxTokens
	}
	if req.Temperature != nil {
		attrs[AttrTemperature] = *req.Temperature
	}
	if req.TopP != nil {
		attrs[AttrTopP] = *req.TopP
	}
	return []agenttrace.SpanOption{
		agenttrace.WithKind(agenttrace.KindClient),
		agenttrace.WithType(agenttrace.TypeLLMCall),
		agenttrace.WithAttributes(attrs),
	}
}

func describe(span *agenttrace.Span, provider string, req ChatRequest) {
	span.SetModel(req.Model, provider)
	span.SetPromptPreview(PromptPreview(req.Messages))
}

func recordResponse(span *agenttrace.Span, resp ChatResponse) {
	if resp.Usage != nil {
		span.SetTokens(resp.Usage.InputTokens, resp.Usage.OutputTokens)
		if resp.Usage.ReasoningTokens > 0 {
			span.SetReasoningTokens(resp.Usage.ReasoningTokens)
		}
	}
	if resp.Text != "" {
		span.SetCompletionPreview(resp.Text)
	}
	if len(resp.ToolCalls) > 0 {
		span.SetTool(resp.ToolCalls[0].Name, resp.ToolCalls[0].Arguments)
		span.SetAttribute(agenttrace.AttrToolCalls, resp.ToolCalls)
	}
}

func identity(d agenttrace.Delta) agenttrace.Delta { return d }
