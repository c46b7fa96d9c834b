package agenttrace

import "sync"

var (
	defaultMu     sync.Mutex
	defaultTracer *Tracer
)

// Configure creates the process-wide tracer on first call and returns it.
// Later calls ignore opts and return the existing tracer.
func Configure(opts ...Option) *Tracer {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultTracer == nil {
		defaultTracer = New(opts...)
	}
	return defaultTracer
}

// Default returns the process-wide tracer, or nil if none is configured.
func Default() *Tracer {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultTracer
}

// SetDefault replaces the process-wide tracer and returns the previous one.
// The previous tracer is not shut down.
func SetDefault(t *Tracer) *Tracer {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	prev := defaultTracer
	defaultTracer = t
	return prev
}
