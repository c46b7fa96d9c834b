package instrument

import (
	"context"

	agenttrace "github.com/agenttrace/agenttrace-go"
)

// Embedding attribute keys.
const (
	AttrEmbeddingInputPreview = "embedding.input_preview"
	AttrEmbeddingDimensions   = "embedding.dimensions"
)

// WrapTool returns fn traced as a tool call named "{integration}.tool.{name}".
// The input and, on success, the output are recorded on the span.
func WrapTool[In, Out any](integration *Integration, name string, fn func(context.Context, In) (Out, error)) func(context.Context, In) (Out, error) {
	return func(ctx context.Context, in In) (Out, error) {
		t := integration.Tracer()
		if t == nil {
			return fn(ctx, in)
		}
		return agenttrace.Trace(ctx, t, integration.Name()+".tool."+name,
			func(ctx context.Context, span *agenttrace.Span) (Out, error) {
				span.SetTool(name, in)
				out, err := fn(ctx, in)
				if err == nil {
					span.SetToolOutput(out)
				}
				return out, err
			},
			agenttrace.WithKind(agenttrace.KindInternal),
			agenttrace.WithType(agenttrace.TypeToolCall),
		)
	}
}

// EmbeddingRequest is a vendor-neutral embedding request.
type EmbeddingRequest struct {
	Model string
	Input []string
}

// EmbeddingResponse is a vendor-neutral embedding result.
type EmbeddingResponse struct {
	Usage      *agenttrace.Usage
	Embeddings [][]float32
}

// Embedder is what a vendor shim implements for embedding calls.
type Embedder interface {
	Embed(ctx context.Context, req EmbeddingRequest) (EmbeddingResponse, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, req EmbeddingRequest) (EmbeddingResponse, error)

// Embed implements Embedder.
func (f EmbedderFunc) Embed(ctx context.Context, req EmbeddingRequest) (EmbeddingResponse, error) {
	return f(ctx, req)
}

// WrapEmbedder returns e traced through integration as embedding spans.
func WrapEmbedder(integration *Integration, provider string, e Embedder) Embedder {
	return EmbedderFunc(func(ctx context.Context, req EmbeddingRequest) (EmbeddingResponse, error) {
		t := integration.Tracer()
		if t == nil {
			return e.Embed(ctx, req)
		}

		p := provider
		if p == "" {
			p = ProviderFromModel(req.Model)
		}
		preview := ""
		if len(req.Input) > 0 {
			preview = agenttrace.Truncate(req.Input[0], agenttrace.PreviewLimit)
		}

		return agenttrace.Trace(ctx, t, p+".embedding",
			func(ctx context.Context, span *agenttrace.Span) (EmbeddingResponse, error) {
				span.SetModel(req.Model, p)
				resp, err := e.Embed(ctx, req)
				if err != nil {
					return resp, err
				}
				if resp.Usage != nil {
					span.SetTokens(resp.Usage.InputTokens, resp.Usage.OutputTokens)
				}
				if len(resp.Embeddings) > 0 {
					span.SetAttribute(AttrEmbeddingDimensions, len(resp.Embeddings[0]))
				}
				return resp, nil
			},
			agenttrace.WithKind(agenttrace.KindClient),
			agenttrace.WithType(agenttrace.TypeEmbedding),
			agenttrace.WithAttributes(map[string]any{
				AttrVendor:                p,
				AttrRequestType:           "embedding",
				AttrEmbeddingInputPreview: preview,
			}),
		)
	})
}
