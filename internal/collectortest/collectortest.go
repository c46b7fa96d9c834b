// Package collectortest runs an in-process span collector for tests.
//
// It speaks the ingest endpoints of the AgentTrace collector:
//
//	POST /api/v1/spans        one span record
//	POST /api/v1/spans/batch  {"spans": [...]} -> {"accepted": n, "rejected": m}
//
// Failures can be injected to exercise exporter retry paths.
package collectortest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Span is the subset of a span record the collector inspects.
type Span struct {
	Attributes        map[string]any `json:"attributes"`
	TokensIn          *int           `json:"tokens_in"`
	TokensOut         *int           `json:"tokens_out"`
	SpanID            string         `json:"span_id"`
	TraceID           string         `json:"trace_id"`
	ParentSpanID      string         `json:"parent_span_id"`
	OperationName     string         `json:"operation_name"`
	ServiceName       string         `json:"service_name"`
	Status            string         `json:"status"`
	StatusMessage     string         `json:"status_message"`
	ToolName          string         `json:"tool_name"`
	CompletionPreview string         `json:"completion_preview"`
}

// Server is a fake collector. Safe for concurrent use.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	spans        []Span
	raw          []map[string]any
	requests     int
	batches      int
	failNext     int
	failStatus   int
	acceptLimit  int
	omitAccepted bool
}

// New starts a collector. Close it when done.
func New() *Server {
	s := &Server{failStatus: http.StatusInternalServerError, acceptLimit: -1}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/api/v1/spans", s.ingestSpan)
	r.Post("/api/v1/spans/batch", s.ingestBatch)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.Server = httptest.NewServer(r)
	return s
}

// FailNext makes the next n requests fail with status.
func (s *Server) FailNext(n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
	s.failStatus = status
}

// AcceptAtMost caps the accepted count reported for each batch. Negative
// removes the cap.
func (s *Server) AcceptAtMost(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acceptLimit = n
}

// OmitAccepted makes batch responses leave out the accepted field.
func (s *Server) OmitAccepted(omit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitAccepted = omit
}

// Spans returns every accepted span in arrival order.
func (s *Server) Spans() []Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Span, len(s.spans))
	copy(out, s.spans)
	return out
}

// Raw returns every accepted span as decoded JSON objects.
func (s *Server) Raw() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.raw))
	copy(out, s.raw)
	return out
}

// Requests returns the number of ingest requests received, failed ones included.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Batches returns the number of successful batch requests.
func (s *Server) Batches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

func (s *Server) ingestSpan(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	if s.shouldFail() {
		http.Error(w, "injected failure", s.failStatus)
		return
	}

	span, raw, ok := decodeSpan(body)
	if !ok {
		http.Error(w, "invalid span", http.StatusUnprocessableEntity)
		return
	}
	s.spans = append(s.spans, span)
	s.raw = append(s.raw, raw)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "span_id": span.SpanID})
}

func (s *Server) ingestBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Spans []json.RawMessage `json:"spans"`
	}
	body, err := io.ReadAll(r.Body)
	if err == nil {
		err = sonic.Unmarshal(body, &req)
	}
	if err != nil {
		http.Error(w, "invalid batch", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	if s.shouldFail() {
		http.Error(w, "injected failure", s.failStatus)
		return
	}
	s.batches++

	accepted := 0
	for _, item := range req.Spans {
		if s.acceptLimit >= 0 && accepted >= s.acceptLimit {
			break
		}
		span, raw, ok := decodeSpan(item)
		if !ok {
			continue
		}
		s.spans = append(s.spans, span)
		s.raw = append(s.raw, raw)
		accepted++
	}

	resp := map[string]any{"rejected": len(req.Spans) - accepted}
	if !s.omitAccepted {
		resp["accepted"] = accepted
	}
	writeJSON(w, http.StatusOK, resp)
}

// shouldFail consumes one injected failure. Callers hold mu.
func (s *Server) shouldFail() bool {
	if s.failNext <= 0 {
		return false
	}
	s.failNext--
	return true
}

func decodeSpan(b []byte) (Span, map[string]any, bool) {
	var span Span
	var raw map[string]any
	if sonic.Unmarshal(b, &span) != nil || sonic.Unmarshal(b, &raw) != nil {
		return Span{}, nil, false
	}
	if span.SpanID == "" || span.TraceID == "" || span.OperationName == "" {
		return Span{}, nil, false
	}
	return span, raw, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}
