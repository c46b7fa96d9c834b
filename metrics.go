package agenttrace

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "agenttrace"

// pipelineMetrics tracks what happens to spans after Export.
type pipelineMetrics struct {
	exported      prometheus.Counter
	rejected      prometheus.Counter
	dropped       prometheus.Counter
	buffered      prometheus.Gauge
	flushDuration prometheus.Histogram
}

func newPipelineMetrics(service string) *pipelineMetrics {
	labels := prometheus.Labels{"service": service}
	return &pipelineMetrics{
		exported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "spans_exported_total",
			Help:        "Spans accepted by the exporter.",
			ConstLabels: labels,
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "spans_rejected_total",
			Help:        "Spans handed to the exporter but not accepted.",
			ConstLabels: labels,
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "spans_dropped_total",
			Help:        "Spans dropped before export by buffer overflow or shutdown.",
			ConstLabels: labels,
		}),
		buffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "buffer_spans",
			Help:        "Spans waiting in the buffer.",
			ConstLabels: labels,
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   metricsNamespace,
			Name:        "flush_duration_seconds",
			Help:        "Time spent exporting one batch.",
			ConstLabels: labels,
			Buckets:     []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
	}
}

// register adds every collector to reg. Already registered collectors are
// tolerated so two tracers with the same service can share a registry.
func (m *pipelineMetrics) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.exported, m.rejected, m.dropped, m.buffered, m.flushDuration} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}
