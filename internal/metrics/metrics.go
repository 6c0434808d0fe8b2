// Package metrics exposes prometheus counters for builds, deployments and
// health probes, fed from the event bus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/events"
)

// Metrics holds the controller's prometheus registry and collectors.
type Metrics struct {
	registry *prometheus.Registry

	buildsTotal      *prometheus.CounterVec
	deploymentsTotal *prometheus.CounterVec
	healthProbes     *prometheus.CounterVec
	logLines         prometheus.Counter
}

// New creates a metrics registry. pendingBuilds, when non-nil, is sampled
// as a gauge on scrape.
func New(pendingBuilds func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		buildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "easycicd_builds_total",
			Help: "Terminal build statuses.",
		}, []string{"status"}),
		deploymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "easycicd_deployments_total",
			Help: "Deployment outcomes.",
		}, []string{"status"}),
		healthProbes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "easycicd_health_probes_total",
			Help: "Health probe attempts by result.",
		}, []string{"result"}),
		logLines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "easycicd_build_log_lines_total",
			Help: "Build log lines observed on the event bus.",
		}),
	}

	m.registry.MustRegister(m.buildsTotal, m.deploymentsTotal, m.healthProbes, m.logLines)

	if pendingBuilds != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "easycicd_pending_builds",
			Help: "Builds waiting in the queue.",
		}, func() float64 { return float64(pendingBuilds()) }))
	}
	return m
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observe consumes bus events until the subscription closes.
func (m *Metrics) Observe(sub *events.Subscription) {
	for e := range sub.C {
		switch ev := e.(type) {
		case events.BuildStatus:
			if ev.Status.Terminal() {
				m.buildsTotal.WithLabelValues(string(ev.Status)).Inc()
			}
		case events.Deployment:
			if ev.Status != events.DeployingStatus {
				m.deploymentsTotal.WithLabelValues(ev.Status).Inc()
			}
		case events.HealthCheck:
			result := "fail"
			if ev.OK {
				result = "ok"
			}
			m.healthProbes.WithLabelValues(result).Inc()
		case events.Log:
			m.logLines.Inc()
		}
	}
}
