// Package metrics implements engine.Recorder against prometheus collectors
// (SPEC_FULL.md EXPANSION 3) and exposes pool.Metrics adapters so the
// SizedPool/ScratchPool hit/miss counters feeding pool.NewSizedPoolWithMetrics
// land on the same registry.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/badu/h1engine/pool"
)

// Recorder implements engine.Recorder.
type Recorder struct {
	connectionsOpened prometheus.Counter
	connectionsActive prometheus.Gauge
	exchangeDuration  *prometheus.HistogramVec
}

// NewRecorder registers its collectors on reg (pass prometheus.DefaultRegisterer
// for the global registry) and returns a Recorder ready to hand to
// engine.Options.Recorder.
func NewRecorder(reg prometheus.Registerer, namespace string) *Recorder {
	r := &Recorder{
		connectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_opened_total",
			Help:      "Total connections accepted by the engine.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Connections currently open.",
		}),
		exchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_duration_seconds",
			Help:      "Time from request-line parse to Succeeded/Failed.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
	reg.MustRegister(r.connectionsOpened, r.connectionsActive, r.exchangeDuration)
	return r
}

func (r *Recorder) ConnectionOpened() {
	r.connectionsOpened.Inc()
	r.connectionsActive.Inc()
}

func (r *Recorder) ConnectionClosed() {
	r.connectionsActive.Dec()
}

func (r *Recorder) ExchangeCompleted(durationSeconds float64, failed bool) {
	outcome := "success"
	if failed {
		outcome = "failure"
	}
	r.exchangeDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// poolMetrics adapts a prometheus CounterVec pair to pool.Metrics, so
// SizedPool/ScratchPool report get/put hit-miss counts per size class.
type poolMetrics struct {
	gets *prometheus.CounterVec
	puts *prometheus.CounterVec
}

// NewPoolMetrics registers the buffer-pool instrumentation pool.SizedPool
// and pool.ScratchPool accept via their Metrics interface.
func NewPoolMetrics(reg prometheus.Registerer, namespace, subsystem string) pool.Metrics {
	m := &poolMetrics{
		gets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pool_gets_total",
			Help:      "Buffer pool acquisitions by size class and hit/miss.",
		}, []string{"class", "hit"}),
		puts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pool_puts_total",
			Help:      "Buffer pool releases by size class.",
		}, []string{"class"}),
	}
	reg.MustRegister(m.gets, m.puts)
	return m
}

func (m *poolMetrics) ObserveGet(class int, hit bool) {
	m.gets.WithLabelValues(classLabel(class), hitLabel(hit)).Inc()
}

func (m *poolMetrics) ObservePut(class int) {
	m.puts.WithLabelValues(classLabel(class)).Inc()
}

func classLabel(class int) string {
	if class < 0 {
		return "scratch"
	}
	return strconv.Itoa(class)
}

func hitLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
