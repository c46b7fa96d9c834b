package agenttrace

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Tracer creates spans and delivers finished ones to an Exporter in batches.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type Tracer struct {
	cfg         Config
	exporter    Exporter
	buffer      *spanBuffer
	metrics     *pipelineMetrics
	logger      *zap.Logger
	clock       clockz.Clock
	traceIDPool *IDPool
	spanIDPool  *IDPool

	flushGroup   singleflight.Group
	flushPending atomic.Bool
	dropWarn     rate.Sometimes

	stopCh       chan struct{}
	doneCh       chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error

	mu       sync.Mutex // guards closed and inflight.Add
	closed   bool
	inflight sync.WaitGroup

	droppedClosed atomic.Uint64
}

// New creates a tracer and starts its background flush loop.
// Invalid numeric settings fall back to their defaults.
func New(opts ...Option) *Tracer {
	s := settings{cfg: DefaultConfig()}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	s.cfg = s.cfg.withDefaults()

	t, err := newTracer(s)
	if err != nil {
		// Only metric registration can fail here; keep tracing without it.
		t.logger.Warn("metrics_registration_failed", zap.Error(err))
	}
	return t
}

// NewFromConfig creates a tracer from cfg. Options are applied on top of cfg
// and the result is validated before anything starts.
func NewFromConfig(cfg Config, opts ...Option) (*Tracer, error) {
	s := settings{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}

	t, err := newTracer(s)
	if err != nil {
		_ = t.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return t, nil
}

func newTracer(s settings) (*Tracer, error) {
	if s.clock == nil {
		s.clock = clockz.RealClock
	}
	if s.logger == nil {
		s.logger = defaultLogger(s.cfg)
	}
	if s.exporter == nil {
		s.exporter = NewHTTPExporter(s.cfg.Endpoint,
			WithHTTPTimeout(s.cfg.ExportTimeout),
			WithHTTPMaxAttempts(s.cfg.MaxAttempts),
			WithHTTPLogger(s.logger),
		)
	}

	// Pool size based on number of CPUs for optimal contention balance.
	poolSize := runtime.NumCPU() * 100

	t := &Tracer{
		cfg:         s.cfg,
		exporter:    s.exporter,
		buffer:      newSpanBuffer(s.cfg.BufferSize),
		metrics:     newPipelineMetrics(s.cfg.ServiceName),
		logger:      s.logger,
		clock:       s.clock,
		traceIDPool: NewIDPool(poolSize, NewTraceID),
		spanIDPool:  NewIDPool(poolSize, NewSpanID),
		dropWarn:    rate.Sometimes{First: 1, Interval: 10 * time.Second},
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}

	var err error
	if s.registerer != nil {
		err = t.metrics.register(s.registerer)
	}

	go t.run()

	t.logger.Info("agenttrace_initialized",
		zap.String("service_name", t.cfg.ServiceName),
		zap.String("endpoint", t.cfg.Endpoint),
		zap.Int("batch_size", t.cfg.BatchSize),
		zap.Duration("flush_interval", t.cfg.FlushInterval),
	)
	return t, err
}

// ServiceName returns the service name stamped on spans.
func (t *Tracer) ServiceName() string {
	return t.cfg.ServiceName
}

// Logger returns the tracer's logger.
func (t *Tracer) Logger() *zap.Logger {
	return t.logger
}

// StartSpan creates a span without activating it.
// Trace id: explicit option, else the one active in ctx, else a new one.
// Parent: explicit option, else the current span in ctx.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) *Span {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := newSpanSettings(opts)

	traceID := cfg.traceID
	if traceID == "" {
		traceID = CurrentTraceID(ctx)
	}
	if traceID == "" {
		traceID = t.traceIDPool.Get()
	}

	parentID := cfg.parentSpanID
	if parentID == "" {
		if parent := CurrentSpan(ctx); parent != nil {
			parentID = parent.SpanID()
		}
	}

	attrs := cfg.attributes
	if attrs == nil {
		attrs = make(map[string]any)
	}

	span := &Span{
		clock:         t.clock,
		spanID:        t.spanIDPool.Get(),
		traceID:       traceID,
		parentSpanID:  parentID,
		operationName: name,
		serviceName:   t.cfg.ServiceName,
		kind:          cfg.kind,
		spanType:      cfg.spanType,
		startedAt:     t.clock.Now().UTC(),
		status:        StatusUnset,
		attributes:    attrs,
	}

	t.logger.Debug("span_started",
		zap.String("span_id", span.spanID),
		zap.String("trace_id", span.traceID),
		zap.String("operation_name", name),
	)
	return span
}

// Span starts a span, activates it in the returned context and returns a
// Scope that must be ended exactly once, usually with defer:
//
//	ctx, scope := tracer.Span(ctx, "step")
//	defer scope.End(&err)
func (t *Tracer) Span(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Scope) {
	span := t.StartSpan(ctx, name, opts...)
	ctx, activation := Activate(ctx, span)
	return ctx, &Scope{tracer: t, span: span, activation: activation}
}

// Export ends span if needed and queues it for delivery. It never blocks on
// I/O. When the buffer reaches capacity a flush is started in the background.
func (t *Tracer) Export(span *Span) {
	if span == nil {
		return
	}
	span.End()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.droppedClosed.Add(1)
		t.metrics.dropped.Inc()
		t.warnDropped("tracer_shut_down", span)
		return
	}
	size, evicted := t.buffer.push(span)
	// At most one background flush is queued at a time.
	full := size >= t.buffer.capacity() && t.flushPending.CompareAndSwap(false, true)
	if full {
		t.inflight.Add(1)
	}
	t.mu.Unlock()

	t.metrics.buffered.Set(float64(size))
	if evicted != nil {
		t.metrics.dropped.Inc()
		t.warnDropped("buffer_full", evicted)
	}
	if full {
		go func() {
			defer t.inflight.Done()
			defer t.flushPending.Store(false)
			t.triggerFlush()
		}()
	}
}

// triggerFlush shares one flush between the periodic loop and a buffer-full
// trigger that fire together.
func (t *Tracer) triggerFlush() {
	_, _, _ = t.flushGroup.Do("flush", func() (any, error) {
		return t.Flush(context.Background()), nil
	})
}

// Flush drains up to the batch size of the oldest spans and hands them to the
// exporter. It returns how many were accepted; the rest are lost.
func (t *Tracer) Flush(ctx context.Context) int {
	if ctx == nil {
		ctx = context.Background()
	}
	batch := t.buffer.drain(t.cfg.BatchSize)
	t.metrics.buffered.Set(float64(t.buffer.len()))
	if len(batch) == 0 {
		return 0
	}

	start := t.clock.Now()
	accepted := t.exportBatch(ctx, batch)
	t.metrics.flushDuration.Observe(t.clock.Since(start).Seconds())
	t.metrics.exported.Add(float64(accepted))

	if accepted < len(batch) {
		t.metrics.rejected.Add(float64(len(batch) - accepted))
		t.logger.Warn("partial_export",
			zap.Int("exported", accepted),
			zap.Int("total", len(batch)),
		)
	}
	return accepted
}

// exportBatch calls the exporter and contains any panic it raises.
func (t *Tracer) exportBatch(ctx context.Context, batch []*Span) (accepted int) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("batch_export_failed",
				zap.Any("panic", r),
				zap.Int("batch_size", len(batch)),
			)
			accepted = 0
		}
	}()
	accepted = t.exporter.ExportBatch(ctx, batch)
	return min(max(accepted, 0), len(batch))
}

// run is the periodic flush loop. Stop interrupts the wait immediately.
func (t *Tracer) run() {
	defer close(t.doneCh)
	for {
		select {
		case <-t.stopCh:
			return
		case <-t.clock.After(t.cfg.FlushInterval):
			t.triggerFlush()
		}
	}
}

// Shutdown stops the flush loop, drains the buffer through the exporter and
// shuts the exporter down. Calls after the first return the first result.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t.shutdownOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()

		close(t.stopCh)
		<-t.doneCh
		t.inflight.Wait()

		total := 0
		for t.buffer.len() > 0 {
			n := t.Flush(ctx)
			if n == 0 {
				break
			}
			total += n
		}
		if total > 0 {
			t.logger.Info("final_flush", zap.Int("spans_exported", total))
		}
		if remaining := t.buffer.len(); remaining > 0 {
			t.logger.Warn("final_flush_incomplete", zap.Int("spans_remaining", remaining))
		}

		if err := t.exporter.Shutdown(ctx); err != nil {
			t.logger.Error("exporter_shutdown_error", zap.Error(err))
			t.shutdownErr = err
		}

		t.traceIDPool.Close()
		t.spanIDPool.Close()
		t.logger.Info("agenttrace_shutdown")
		_ = t.logger.Sync()
	})
	return t.shutdownErr
}

// Buffered returns the number of spans waiting to be flushed.
func (t *Tracer) Buffered() int {
	return t.buffer.len()
}

// Dropped returns the number of spans lost to buffer overflow or to export
// after shutdown.
func (t *Tracer) Dropped() uint64 {
	return t.buffer.droppedCount() + t.droppedClosed.Load()
}

func (t *Tracer) warnDropped(reason string, span *Span) {
	t.dropWarn.Do(func() {
		t.logger.Warn("span_dropped",
			zap.String("reason", reason),
			zap.String("span_id", span.SpanID()),
			zap.Uint64("dropped_total", t.Dropped()),
		)
	})
}

// Scope is an activated span bound to its tracer.
type Scope struct {
	tracer     *Tracer
	span       *Span
	activation *Activation
	once       sync.Once
}

// Span returns the scoped span.
func (s *Scope) Span() *Span {
	return s.span
}

// End finalizes and exports the span exactly once. A non-nil *errp marks it
// failed. When deferred directly, a panic in the scope is recorded on the
// span and then re-raised from End. The re-raised panic's trace starts at
// End, so the stack at the original panic site is kept on the span as an
// EventPanic event.
func (s *Scope) End(errp *error) {
	r := recover()

	s.once.Do(func() {
		var err error
		switch {
		case r != nil:
			err = newPanicError(r)
			s.span.AddEvent(EventPanic, map[string]any{
				AttrStacktrace: string(debug.Stack()),
			})
		case errp != nil:
			err = *errp
		}
		s.activation.Release(err)
		if err != nil {
			s.span.EndWithStatus(StatusError, "")
		} else {
			s.span.End()
		}
		s.tracer.Export(s.span)
	})

	if r != nil {
		panic(r)
	}
}

// PanicError is recorded on a span when the traced code panics.
type PanicError struct {
	Value any
}

func newPanicError(v any) *PanicError {
	return &PanicError{Value: v}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
