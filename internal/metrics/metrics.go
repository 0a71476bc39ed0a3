// Package metrics exposes the scheduler health signal as Prometheus
// collectors and serves them over HTTP together with a liveness probe.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics holds the engine collectors.
type PrometheusMetrics struct {
	registry      prometheus.Registerer
	ticksTotal    prometheus.Counter
	tickOverruns  prometheus.Counter
	tickDuration  prometheus.Histogram
	tenantsActive prometheus.Gauge
	dispatchTotal *prometheus.CounterVec
	expiryBacklog *prometheus.GaugeVec
	poolInFlight  prometheus.Gauge
	observedTotal prometheus.Counter
}

// InitPrometheusMetrics creates and registers the collectors. A nil
// registerer means the default one.
func InitPrometheusMetrics(namespace string, reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &PrometheusMetrics{
		registry: reg,
		ticksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_ticks_total",
				Help:      "Total number of scheduler ticks",
			},
		),
		tickOverruns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_tick_overruns_total",
				Help:      "Ticks that took longer than the tick interval",
			},
		),
		tickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scheduler_tick_duration_seconds",
				Help:      "Duration of scheduler ticks",
				Buckets:   []float64{.05, .1, .5, 1, 5, 10, 30, 60, 120},
			},
		),
		tenantsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scheduler_tenants_active",
				Help:      "Tenants with at least one enabled broadcast in the last tick",
			},
		),
		dispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_total",
				Help:      "Dispatched work units by kind (broadcast, expiry) and outcome",
			},
			[]string{"kind", "outcome"},
		),
		expiryBacklog: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "expiry_entries",
				Help:      "Expiry queue entries by status",
			},
			[]string{"status"},
		),
		poolInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_pool_in_flight",
				Help:      "Work units still running after the tick that started them",
			},
		),
		observedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_messages_total",
				Help:      "Chat messages observed by the ingestion hook",
			},
		),
	}

	reg.MustRegister(
		m.ticksTotal,
		m.tickOverruns,
		m.tickDuration,
		m.tenantsActive,
		m.dispatchTotal,
		m.expiryBacklog,
		m.poolInFlight,
		m.observedTotal,
	)

	return m
}

// ObserveTick records one finished tick.
func (m *PrometheusMetrics) ObserveTick(duration time.Duration, tenants int, overrun bool) {
	m.ticksTotal.Inc()
	m.tickDuration.Observe(duration.Seconds())
	m.tenantsActive.Set(float64(tenants))
	if overrun {
		m.tickOverruns.Inc()
	}
}

// ObserveDispatch counts one work unit outcome.
func (m *PrometheusMetrics) ObserveDispatch(kind, outcome string) {
	m.dispatchTotal.WithLabelValues(kind, outcome).Inc()
}

// SetExpiryBacklog sets the number of entries in one status.
func (m *PrometheusMetrics) SetExpiryBacklog(status string, count int64) {
	m.expiryBacklog.WithLabelValues(status).Set(float64(count))
}

// SetPoolInFlight sets the number of keys still running.
func (m *PrometheusMetrics) SetPoolInFlight(n int) {
	m.poolInFlight.Set(float64(n))
}

// ObserveMessage counts one observed chat message.
func (m *PrometheusMetrics) ObserveMessage() {
	m.observedTotal.Inc()
}
