package agenttrace

import (
	"errors"
	"io"
	"iter"
	"strings"
	"sync"
)

// Stream attribute keys.
const (
	AttrToolCalls       Attr = "llm.tool_calls"
	AttrStreamChunks    Attr = "llm.stream.chunks"
	AttrStreamAbandoned Attr = "llm.stream.abandoned"
)

// ErrStreamPanic is recorded on a stream span when iteration panics.
var ErrStreamPanic = errors.New("agenttrace: panic during stream iteration")

// Usage is a token usage report, usually carried by the last chunk.
type Usage struct {
	InputTokens     int
	OutputTokens    int
	ReasoningTokens int
}

// ToolCallDelta is a fragment of one tool call. Fragments of the same call
// share Index and may interleave with fragments of other calls.
type ToolCallDelta struct {
	ID        string
	Name      string
	Arguments string
	Index     int
}

// Delta is what one chunk contributes to the final response.
type Delta struct {
	Usage     *Usage
	Text      string
	ToolCalls []ToolCallDelta
}

// ToolCall is a tool call assembled from its fragments.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChunkInspector extracts the Delta carried by a vendor chunk.
type ChunkInspector[T any] func(chunk T) Delta

// Capture accumulates streamed deltas and folds them into a span exactly once.
//
//nolint:govet // Field order optimized for functionality over memory
type Capture struct {
	tracer    *Tracer
	span      *Span
	mu        sync.Mutex
	text      strings.Builder
	toolCalls []*ToolCall
	byIndex   map[int]*ToolCall
	usage     *Usage
	chunks    int
	finished  bool
}

// NewCapture creates a capture for span. When t is non-nil the span is
// exported through it on Finish.
func NewCapture(t *Tracer, span *Span) *Capture {
	return &Capture{
		tracer:  t,
		span:    span,
		byIndex: make(map[int]*ToolCall),
	}
}

// Observe folds one chunk's delta into the capture. Ignored after Finish.
func (c *Capture) Observe(d Delta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return
	}

	c.chunks++
	c.text.WriteString(d.Text)
	for _, tc := range d.ToolCalls {
		call, ok := c.byIndex[tc.Index]
		if !ok {
			call = &ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
			c.byIndex[tc.Index] = call
			c.toolCalls = append(c.toolCalls, call)
			continue
		}
		if call.ID == "" {
			call.ID = tc.ID
		}
		if call.Name == "" {
			call.Name = tc.Name
		}
		call.Arguments += tc.Arguments
	}
	if d.Usage != nil {
		u := *d.Usage
		c.usage = &u
	}
}

// Text returns the text collected so far.
func (c *Capture) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text.String()
}

// ToolCalls returns the tool calls collected so far in first-seen order.
func (c *Capture) ToolCalls() []ToolCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotToolCalls()
}

func (c *Capture) snapshotToolCalls() []ToolCall {
	if len(c.toolCalls) == 0 {
		return nil
	}
	out := make([]ToolCall, len(c.toolCalls))
	for i, call := range c.toolCalls {
		out[i] = *call
	}
	return out
}

// Finish writes the collected output onto the span, ends it and exports it.
// A non-nil err ends the span with an error. abandoned marks a stream the
// consumer stopped reading early. Only the first call has any effect; it
// reports whether this call finalized the span.
func (c *Capture) Finish(err error, abandoned bool) bool {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return false
	}
	c.finished = true
	text := c.text.String()
	calls := c.snapshotToolCalls()
	usage := c.usage
	chunks := c.chunks
	c.mu.Unlock()

	span := c.span
	if text != "" {
		span.SetCompletionPreview(text)
	}
	if len(calls) > 0 {
		span.SetTool(calls[0].Name, calls[0].Arguments)
		span.SetAttribute(AttrToolCalls, calls)
	}
	if usage != nil {
		span.SetTokens(usage.InputTokens, usage.OutputTokens)
		if usage.ReasoningTokens > 0 {
			span.SetReasoningTokens(usage.ReasoningTokens)
		}
	}
	span.SetAttribute(AttrStreamChunks, chunks)
	if abandoned {
		span.SetAttribute(AttrStreamAbandoned, true)
	}

	if err != nil {
		span.SetError(err)
		span.EndWithStatus(StatusError, "")
	} else {
		span.End()
	}
	if c.tracer != nil {
		c.tracer.Export(span)
	}
	return true
}

// CaptureSeq passes seq through unchanged while recording it on span.
// The span is finalized when seq is exhausted, when it yields an error, when
// the consumer stops early, or when iteration panics. A sequence that is
// never ranged over leaves the span open; use NewStream when that matters.
func CaptureSeq[T any](t *Tracer, span *Span, seq iter.Seq2[T, error], inspect ChunkInspector[T]) iter.Seq2[T, error] {
	return captureSeq(NewCapture(t, span), seq, inspect)
}

func captureSeq[T any](c *Capture, seq iter.Seq2[T, error], inspect ChunkInspector[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		completed := false
		defer func() {
			// Only a panic in seq or in the consumer gets here unfinished.
			if !completed {
				c.Finish(ErrStreamPanic, false)
			}
		}()

		for chunk, err := range seq {
			if err != nil {
				c.Finish(err, false)
				completed = true
				yield(chunk, err)
				return
			}
			if inspect != nil {
				c.Observe(inspect(chunk))
			} else {
				c.Observe(Delta{})
			}
			if !yield(chunk, nil) {
				c.Finish(nil, true)
				completed = true
				return
			}
		}
		c.Finish(nil, false)
		completed = true
	}
}

// Stream is a pull-style cursor over a captured sequence.
//
//	s := agenttrace.NewStream(tracer, span, seq, inspect)
//	defer s.Close()
//	for s.Next() {
//		use(s.Current())
//	}
//	if err := s.Err(); err != nil { ... }
type Stream[T any] struct {
	capture *Capture
	next    func() (T, error, bool)
	stop    func()
	current T
	err     error
	done    bool
}

// NewStream wraps seq in a cursor that records it on span.
func NewStream[T any](t *Tracer, span *Span, seq iter.Seq2[T, error], inspect ChunkInspector[T]) *Stream[T] {
	c := NewCapture(t, span)
	next, stop := iter.Pull2(captureSeq(c, seq, inspect))
	return &Stream[T]{capture: c, next: next, stop: stop}
}

// Next advances to the next chunk. It returns false at the end of the stream
// or on error.
func (s *Stream[T]) Next() bool {
	if s.done {
		return false
	}
	v, err, ok := s.next()
	if !ok {
		s.done = true
		return false
	}
	if err != nil {
		s.err = err
		s.done = true
		s.stop()
		return false
	}
	s.current = v
	return true
}

// Current returns the chunk read by the last successful Next.
func (s *Stream[T]) Current() T {
	return s.current
}

// Err returns the error that ended the stream, if any.
func (s *Stream[T]) Err() error {
	return s.err
}

// Close releases the stream. Closing before the end records the stream as
// abandoned; closing after the end does nothing.
func (s *Stream[T]) Close() error {
	s.done = true
	s.stop()
	s.capture.Finish(nil, true)
	return nil
}

// Capture returns the underlying capture.
func (s *Stream[T]) Capture() *Capture {
	return s.capture
}

// SeqFromRecv adapts a Recv-style stream. io.EOF ends the sequence; any other
// error is yielded once and ends it.
func SeqFromRecv[T any](recv func() (T, error)) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			v, err := recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(v, err)
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// SeqFromSlice yields each element of chunks, mostly for tests and replays.
func SeqFromSlice[T any](chunks []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}
