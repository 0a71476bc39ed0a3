package builders

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/aatumaykin/chronobot/internal/config"
	"github.com/aatumaykin/chronobot/internal/logger"
	"github.com/aatumaykin/chronobot/internal/metrics"
)

// Telemetry is the metrics registry with its collectors and optional server.
type Telemetry struct {
	Registry *prometheus.Registry
	Metrics  *metrics.PrometheusMetrics
	Server   *metrics.Server // nil when metrics.enabled is false
}

type MetricsBuilder struct {
	config *config.Config
	logger *logger.Logger
}

func NewMetricsBuilder(cfg *config.Config, log *logger.Logger) *MetricsBuilder {
	return &MetricsBuilder{
		config: cfg,
		logger: log,
	}
}

// Build always registers the collectors, so the tick report is recorded
// even without an HTTP listener.
func (b *MetricsBuilder) Build(health metrics.HealthFunc) *Telemetry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	t := &Telemetry{
		Registry: reg,
		Metrics:  metrics.InitPrometheusMetrics(b.config.Metrics.Namespace, reg),
	}
	if b.config.Metrics.Enabled {
		t.Server = metrics.NewServer(b.config.Metrics.Listen, reg, health, b.logger)
	}
	return t
}
