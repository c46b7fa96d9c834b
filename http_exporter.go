package agenttrace

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Collector endpoints, relative to the exporter's base URL.
const (
	SpanPath  = "/api/v1/spans"
	BatchPath = "/api/v1/spans/batch"
)

// BatchRequest is the body of a batch POST.
type BatchRequest struct {
	Spans []Record `json:"spans"`
}

// BatchResponse is the collector's reply to a batch POST.
type BatchResponse struct {
	Accepted *int `json:"accepted,omitempty"`
	Rejected *int `json:"rejected,omitempty"`
}

// HTTPExporter posts span records to a collector.
//
// Every request is tried up to MaxAttempts times with no delay between
// attempts. Any transport error or non-200 response counts as a failed
// attempt. Safe for concurrent use.
type HTTPExporter struct {
	client      *resty.Client
	retry       *retryablehttp.Client
	logger      *zap.Logger
	endpoint    string
	maxAttempts int
}

// HTTPOption configures an HTTPExporter.
type HTTPOption func(*HTTPExporter)

// WithHTTPTimeout bounds each attempt.
func WithHTTPTimeout(d time.Duration) HTTPOption {
	return func(e *HTTPExporter) {
		if d > 0 {
			e.retry.HTTPClient.Timeout = d
		}
	}
}

// WithHTTPMaxAttempts sets the attempt ceiling per request.
func WithHTTPMaxAttempts(n int) HTTPOption {
	return func(e *HTTPExporter) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithHTTPLogger sets the logger for export diagnostics.
func WithHTTPLogger(logger *zap.Logger) HTTPOption {
	return func(e *HTTPExporter) {
		if logger != nil {
			e.logger = logger
			e.client.SetLogger(logger.Sugar())
		}
	}
}

// WithHTTPTransport replaces the pooled transport, mostly for tests.
func WithHTTPTransport(rt http.RoundTripper) HTTPOption {
	return func(e *HTTPExporter) {
		if rt != nil {
			e.retry.HTTPClient.Transport = rt
		}
	}
}

// WithHTTPHeader adds a header to every request.
func WithHTTPHeader(key, value string) HTTPOption {
	return func(e *HTTPExporter) { e.client.SetHeader(key, value) }
}

// NewHTTPExporter creates an exporter for the collector at endpoint.
func NewHTTPExporter(endpoint string, opts ...HTTPOption) *HTTPExporter {
	endpoint = strings.TrimRight(endpoint, "/")

	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil
	retryClient.HTTPClient.Timeout = 10 * time.Second
	retryClient.Backoff = noBackoff

	// resty builds and decodes requests; retryablehttp runs the attempts.
	client := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(endpoint).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "agenttrace-go").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)
	client.SetLogger(zap.NewNop().Sugar())

	e := &HTTPExporter{
		client:      client,
		retry:       retryClient,
		logger:      zap.NewNop(),
		endpoint:    endpoint,
		maxAttempts: 3,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	retryClient.RetryMax = e.maxAttempts - 1
	retryClient.CheckRetry = e.checkRetry
	retryClient.RequestLogHook = e.logAttempt
	return e
}

func noBackoff(_, _ time.Duration, _ int, _ *http.Response) time.Duration {
	return 0
}

// checkRetry retries on any transport error or non-200 status until ctx ends.
func (e *HTTPExporter) checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		e.logger.Warn("export_attempt_error", zap.Error(err))
		return true, nil
	}
	if resp.StatusCode != http.StatusOK {
		e.logger.Warn("export_attempt_failed",
			zap.String("path", resp.Request.URL.Path),
			zap.Int("status_code", resp.StatusCode),
		)
		return true, nil
	}
	return false, nil
}

func (e *HTTPExporter) logAttempt(_ retryablehttp.Logger, req *http.Request, retry int) {
	e.logger.Debug("export_attempt",
		zap.String("path", req.URL.Path),
		zap.Int("attempt", retry+1),
	)
}

// Endpoint returns the collector base URL.
func (e *HTTPExporter) Endpoint() string {
	return e.endpoint
}

// Export posts one span to the single-span endpoint.
func (e *HTTPExporter) Export(ctx context.Context, span *Span) bool {
	if span == nil || ctx.Err() != nil {
		return false
	}
	record := span.ToRecord()

	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(record).
		Post(SpanPath)
	if err != nil || resp.StatusCode() != http.StatusOK {
		e.logger.Warn("span_export_failed",
			zap.String("span_id", record.SpanID),
			zap.Int("attempts", e.maxAttempts),
			zap.Error(err),
		)
		return false
	}
	e.logger.Debug("span_exported",
		zap.String("span_id", record.SpanID),
		zap.String("trace_id", record.TraceID),
	)
	return true
}

// ExportBatch posts spans to the batch endpoint and returns how many the
// collector accepted. It returns 0 once every attempt has failed.
func (e *HTTPExporter) ExportBatch(ctx context.Context, spans []*Span) int {
	if len(spans) == 0 || ctx.Err() != nil {
		return 0
	}
	body := BatchRequest{Spans: make([]Record, 0, len(spans))}
	for _, span := range spans {
		if span != nil {
			body.Spans = append(body.Spans, span.ToRecord())
		}
	}
	total := len(body.Spans)

	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(BatchPath)
	if err != nil || resp.StatusCode() != http.StatusOK {
		e.logger.Warn("batch_dropped",
			zap.Int("total", total),
			zap.Int("attempts", e.maxAttempts),
			zap.Error(err),
		)
		return 0
	}

	accepted, rejected := total, 0
	var result BatchResponse
	if err := sonic.Unmarshal(resp.Body(), &result); err == nil {
		if result.Accepted != nil {
			accepted = min(max(*result.Accepted, 0), total)
		}
		if result.Rejected != nil {
			rejected = *result.Rejected
		}
	}
	e.logger.Debug("batch_exported",
		zap.Int("total", total),
		zap.Int("accepted", accepted),
		zap.Int("rejected", rejected),
	)
	return accepted
}

// Shutdown closes idle connections.
func (e *HTTPExporter) Shutdown(context.Context) error {
	e.retry.HTTPClient.CloseIdleConnections()
	return nil
}
