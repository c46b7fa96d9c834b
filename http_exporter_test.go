package agenttrace_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/agenttrace/agenttrace-go"
	"github.com/agenttrace/agenttrace-go/internal/collectortest"
)

func spanSource(t *testing.T) *agenttrace.Tracer {
	t.Helper()
	tracer := agenttrace.New(
		agenttrace.WithServiceName("exporter-test"),
		agenttrace.WithExporter(agenttrace.NopExporter{}),
		agenttrace.WithLogger(zap.NewNop()),
		agenttrace.WithFlushInterval(time.Hour),
	)
	t.Cleanup(func() { _ = tracer.Shutdown(context.Background()) })
	return tracer
}

func endedSpans(tracer *agenttrace.Tracer, n int) []*agenttrace.Span {
	spans := make([]*agenttrace.Span, n)
	for i := range spans {
		spans[i] = tracer.StartSpan(context.Background(), "op")
		spans[i].End()
	}
	return spans
}

func TestHTTPExporterBatch(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()

	exp := agenttrace.NewHTTPExporter(srv.URL)
	tracer := spanSource(t)

	span := tracer.StartSpan(context.Background(), "openai.chat", agenttrace.WithType(agenttrace.TypeLLMCall))
	span.SetModel("gpt-4o", "openai")
	span.SetTokens(10, 20)
	span.End()

	accepted := exp.ExportBatch(context.Background(), append(endedSpans(tracer, 2), span))
	assert.Equal(t, 3, accepted)
	assert.Equal(t, 1, srv.Batches())

	got := srv.Spans()
	require.Len(t, got, 3)
	assert.Equal(t, "openai.chat", got[2].OperationName)
	assert.Equal(t, "exporter-test", got[2].ServiceName)
	assert.Equal(t, "ok", got[2].Status)
	require.NotNil(t, got[2].TokensOut)
	assert.Equal(t, 20, *got[2].TokensOut)
}

func TestHTTPExporterEmptyBatch(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()

	exp := agenttrace.NewHTTPExporter(srv.URL)
	assert.Equal(t, 0, exp.ExportBatch(context.Background(), nil))
	assert.Equal(t, 0, srv.Requests())
}

func TestHTTPExporterRetriesThenSucceeds(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()
	srv.FailNext(2, http.StatusServiceUnavailable)

	exp := agenttrace.NewHTTPExporter(srv.URL, agenttrace.WithHTTPMaxAttempts(3))
	accepted := exp.ExportBatch(context.Background(), endedSpans(spanSource(t), 4))

	assert.Equal(t, 4, accepted)
	assert.Equal(t, 3, srv.Requests())
}

func TestHTTPExporterGivesUpAfterMaxAttempts(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()
	srv.FailNext(10, http.StatusInternalServerError)

	exp := agenttrace.NewHTTPExporter(srv.URL, agenttrace.WithHTTPMaxAttempts(3))
	accepted := exp.ExportBatch(context.Background(), endedSpans(spanSource(t), 2))

	assert.Equal(t, 0, accepted)
	assert.Equal(t, 3, srv.Requests())
	assert.Empty(t, srv.Spans())
}

func TestHTTPExporterLogsEveryAttempt(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()
	srv.FailNext(2, http.StatusServiceUnavailable)

	core, logs := observer.New(zapcore.DebugLevel)
	exp := agenttrace.NewHTTPExporter(srv.URL,
		agenttrace.WithHTTPMaxAttempts(3),
		agenttrace.WithHTTPLogger(zap.New(core)),
	)
	require.Equal(t, 1, exp.ExportBatch(context.Background(), endedSpans(spanSource(t), 1)))

	attempts := logs.FilterMessage("export_attempt").All()
	require.Len(t, attempts, 3)
	assert.Equal(t, int64(3), attempts[2].ContextMap()["attempt"])
	assert.Equal(t, agenttrace.BatchPath, attempts[0].ContextMap()["path"])

	failed := logs.FilterMessage("export_attempt_failed").All()
	require.Len(t, failed, 2)
	assert.Equal(t, int64(http.StatusServiceUnavailable), failed[0].ContextMap()["status_code"])
}

func TestHTTPExporterAttemptTimeoutIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted":2,"rejected":0}`))
	}))
	defer srv.Close()

	exp := agenttrace.NewHTTPExporter(srv.URL,
		agenttrace.WithHTTPMaxAttempts(2),
		agenttrace.WithHTTPTimeout(100*time.Millisecond),
	)
	assert.Equal(t, 2, exp.ExportBatch(context.Background(), endedSpans(spanSource(t), 2)))
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPExporterUnreachable(t *testing.T) {
	srv := collectortest.New()
	url := srv.URL
	srv.Close()

	exp := agenttrace.NewHTTPExporter(url, agenttrace.WithHTTPMaxAttempts(2), agenttrace.WithHTTPTimeout(time.Second))
	spans := endedSpans(spanSource(t), 1)

	assert.Equal(t, 0, exp.ExportBatch(context.Background(), spans))
	assert.False(t, exp.Export(context.Background(), spans[0]))
}

func TestHTTPExporterPartialAcceptance(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()
	srv.AcceptAtMost(2)

	exp := agenttrace.NewHTTPExporter(srv.URL)
	assert.Equal(t, 2, exp.ExportBatch(context.Background(), endedSpans(spanSource(t), 5)))
	assert.Len(t, srv.Spans(), 2)
}

func TestHTTPExporterMissingAcceptedMeansAll(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()
	srv.OmitAccepted(true)

	exp := agenttrace.NewHTTPExporter(srv.URL)
	assert.Equal(t, 3, exp.ExportBatch(context.Background(), endedSpans(spanSource(t), 3)))
}

func TestHTTPExporterSingleSpan(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()
	srv.FailNext(1, http.StatusBadGateway)

	exp := agenttrace.NewHTTPExporter(srv.URL + "/")
	assert.Equal(t, srv.URL, exp.Endpoint())

	tracer := spanSource(t)
	span := tracer.StartSpan(context.Background(), "search")
	span.SetTool("web_search", map[string]any{"q": "go"})
	span.SetError(errors.New("timeout"))
	span.End()

	require.True(t, exp.Export(context.Background(), span))
	assert.Equal(t, 2, srv.Requests())

	got := srv.Spans()
	require.Len(t, got, 1)
	assert.Equal(t, span.SpanID(), got[0].SpanID)
	assert.Equal(t, "error", got[0].Status)
	assert.Equal(t, "timeout", got[0].StatusMessage)
	assert.Equal(t, "web_search", got[0].ToolName)
}

func TestHTTPExporterCancelledContext(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exp := agenttrace.NewHTTPExporter(srv.URL)
	spans := endedSpans(spanSource(t), 2)
	assert.Equal(t, 0, exp.ExportBatch(ctx, spans))
	assert.False(t, exp.Export(ctx, spans[0]))
	assert.Equal(t, 0, srv.Requests())
}

func TestHTTPExporterOmitsNulls(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()

	exp := agenttrace.NewHTTPExporter(srv.URL)
	require.Equal(t, 1, exp.ExportBatch(context.Background(), endedSpans(spanSource(t), 1)))

	raw := srv.Raw()
	require.Len(t, raw, 1)
	for key, value := range raw[0] {
		assert.NotNil(t, value, "field %s sent as null", key)
	}
	assert.NotContains(t, raw[0], "parent_span_id")
	assert.NotContains(t, raw[0], "tokens_in")
}

func TestHTTPExporterCustomHeader(t *testing.T) {
	var got string
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		got = r.Header.Get("Authorization")
		return http.DefaultTransport.RoundTrip(r)
	})

	srv := collectortest.New()
	defer srv.Close()

	exp := agenttrace.NewHTTPExporter(srv.URL,
		agenttrace.WithHTTPTransport(rt),
		agenttrace.WithHTTPHeader("Authorization", "Bearer token"),
	)
	require.Equal(t, 1, exp.ExportBatch(context.Background(), endedSpans(spanSource(t), 1)))
	assert.Equal(t, "Bearer token", got)
	assert.NoError(t, exp.Shutdown(context.Background()))
}

func TestTracerDeliversToCollector(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()

	tracer := agenttrace.New(
		agenttrace.WithServiceName("pipeline"),
		agenttrace.WithEndpoint(srv.URL),
		agenttrace.WithBatchSize(2),
		agenttrace.WithLogger(zap.NewNop()),
		agenttrace.WithFlushInterval(time.Hour),
	)

	ctx, root := tracer.Span(context.Background(), "agent.run")
	for range 4 {
		_, child := tracer.Span(ctx, "agent.step")
		child.End(nil)
	}
	root.End(nil)

	require.NoError(t, tracer.Shutdown(context.Background()))

	got := srv.Spans()
	require.Len(t, got, 5)
	assert.Equal(t, 3, srv.Batches())
	for _, s := range got {
		assert.Equal(t, root.Span().TraceID(), s.TraceID)
		assert.Equal(t, "pipeline", s.ServiceName)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
