// Package instrument connects vendor clients to an agenttrace.Tracer.
//
// Vendor shims describe their client through the ChatModel interface (and
// wrap tools with WrapTool). Each shim owns a named Integration; tracing is
// switched on and off process-wide by instrumenting that integration, so
// wrapped clients created earlier start or stop tracing immediately.
package instrument

import (
	"errors"
	"maps"
	"slices"
	"sync"

	"go.uber.org/zap"

	agenttrace "github.com/agenttrace/agenttrace-go"
)

// Well-known integration names.
const (
	OpenAI    = "openai"
	Anthropic = "anthropic"
	LangChain = "langchain"
	LiteLLM   = "litellm"
)

var (
	// ErrAlreadyInstrumented is returned when an integration is instrumented twice.
	ErrAlreadyInstrumented = errors.New("instrument: already instrumented")
	// ErrNoTracer is returned when no tracer is passed and none is configured.
	ErrNoTracer = errors.New("instrument: no tracer available, call agenttrace.Configure first or pass a tracer")
)

// Integration is the process-wide switch for one vendor's tracing.
type Integration struct {
	name   string
	mu     sync.RWMutex
	tracer *agenttrace.Tracer
}

var registry = struct {
	mu           sync.Mutex
	integrations map[string]*Integration
}{integrations: make(map[string]*Integration)}

// Lookup returns the integration registered under name, creating it on first use.
func Lookup(name string) *Integration {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if i, ok := registry.integrations[name]; ok {
		return i
	}
	i := &Integration{name: name}
	registry.integrations[name] = i
	return i
}

// Names returns the registered integration names in sorted order.
func Names() []string {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return slices.Sorted(maps.Keys(registry.integrations))
}

// Name returns the integration name.
func (i *Integration) Name() string {
	return i.name
}

// Instrument turns tracing on with t, or with agenttrace.Default when t is nil.
func (i *Integration) Instrument(t *agenttrace.Tracer) error {
	if t == nil {
		t = agenttrace.Default()
	}
	if t == nil {
		return ErrNoTracer
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.tracer != nil {
		i.tracer.Logger().Warn(i.name + "_already_instrumented")
		return ErrAlreadyInstrumented
	}
	i.tracer = t
	t.Logger().Info(i.name+"_instrumented", zap.String("integration", i.name))
	return nil
}

// Uninstrument turns tracing off. It is a no-op when not instrumented.
func (i *Integration) Uninstrument() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.tracer == nil {
		return
	}
	i.tracer.Logger().Info(i.name+"_uninstrumented", zap.String("integration", i.name))
	i.tracer = nil
}

// Tracer returns the active tracer, or nil when not instrumented.
func (i *Integration) Tracer() *agenttrace.Tracer {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.tracer
}

// Instrumented reports whether tracing is on.
func (i *Integration) Instrumented() bool {
	return i.Tracer() != nil
}

// AutoInstrument instruments the named integrations, or every registered one
// when names is empty, and reports which succeeded. An integration that was
// already instrumented counts as a failure.
func AutoInstrument(t *agenttrace.Tracer, names ...string) map[string]bool {
	if len(names) == 0 {
		names = Names()
	}
	if t == nil {
		t = agenttrace.Default()
	}

	results := make(map[string]bool, len(names))
	var done []string
	for _, name := range names {
		err := Lookup(name).Instrument(t)
		results[name] = err == nil
		if err == nil {
			done = append(done, name)
		}
	}

	if t != nil {
		if len(done) > 0 {
			t.Logger().Info("auto_instrument_complete", zap.Strings("libraries", done))
		} else {
			t.Logger().Warn("auto_instrument_none")
		}
	}
	return results
}

// UninstrumentAll turns tracing off for every registered integration.
func UninstrumentAll() {
	registry.mu.Lock()
	integrations := slices.Collect(maps.Values(registry.integrations))
	registry.mu.Unlock()

	for _, i := range integrations {
		i.Uninstrument()
	}
}
