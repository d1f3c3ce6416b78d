// Package observability exposes Prometheus metrics for the broadcast engine
// and the debug HTTP server that serves them.
//
// Label sets stay bounded: outcome and state labels come from closed sets,
// never from tenant or destination ids.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the engine collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sends       *prometheus.CounterVec
	attempts    prometheus.Counter
	dispatches  *prometheus.CounterVec
	ticks       *prometheus.CounterVec
	tickLatency prometheus.Histogram
	retractions *prometheus.CounterVec
}

// NewMetrics registers collectors on a private registry, plus the Go and
// process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tgcast_destination_sends_total",
			Help: "Per-destination send outcomes.",
		}, []string{"kind", "outcome"}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tgcast_send_attempts_total",
			Help: "Provider send attempts, including retries.",
		}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tgcast_dispatches_total",
			Help: "Completed dispatches by terminal state.",
		}, []string{"state"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tgcast_scheduler_ticks_total",
			Help: "Scheduler ticks by result (ok, error, skipped).",
		}, []string{"result"}),
		tickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tgcast_scheduler_tick_duration_seconds",
			Help:    "Duration of scheduler ticks.",
			Buckets: []float64{.05, .25, 1, 5, 15, 30, 60, 120, 300},
		}),
		retractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tgcast_retraction_deletes_total",
			Help: "Message deletions issued by retraction, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.sends, m.attempts, m.dispatches, m.ticks, m.tickLatency, m.retractions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Gatherer returns the registry for /metrics.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) Send(kind string, ok bool) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(kind, outcome(ok)).Inc()
}

func (m *Metrics) Attempt() {
	if m == nil {
		return
	}
	m.attempts.Inc()
}

func (m *Metrics) Dispatch(state string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(state).Inc()
}

func (m *Metrics) Tick(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(result).Inc()
	if result != "skipped" {
		m.tickLatency.Observe(took.Seconds())
	}
}

func (m *Metrics) Retraction(ok bool) {
	if m == nil {
		return
	}
	m.retractions.WithLabelValues(outcome(ok)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
