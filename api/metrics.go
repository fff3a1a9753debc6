package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the Prometheus collectors for the security layer. Each API
// owns its own registry so that several instances (tests) do not collide.
type metrics struct {
	registry *prometheus.Registry

	decisions    *prometheus.CounterVec
	logins       *prometheus.CounterVec
	tokensIssued prometheus.Counter
	sweeps       *prometheus.CounterVec
	alerts       *prometheus.CounterVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &metrics{
		registry: reg,
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "terminguard",
			Name:      "gate_decisions_total",
			Help:      "Route security decisions by route class and reason.",
		}, []string{"class", "reason"}),
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "terminguard",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		tokensIssued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "terminguard",
			Name:      "csrf_tokens_issued_total",
			Help:      "CSRF tokens generated for sessions.",
		}),
		sweeps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "terminguard",
			Name:      "sweep_removed_total",
			Help:      "Records removed by background sweeps.",
		}, []string{"kind"}),
		alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "terminguard",
			Name:      "security_alerts_total",
			Help:      "Security monitor alerts by type.",
		}, []string{"type"}),
	}
}

func (m *metrics) decision(class, reason string) {
	if reason == "" {
		reason = "allowed"
	}
	m.decisions.WithLabelValues(class, reason).Inc()
}

func (m *metrics) login(outcome string) {
	m.logins.WithLabelValues(outcome).Inc()
}

func (m *metrics) swept(kind string, n int) {
	if n > 0 {
		m.sweeps.WithLabelValues(kind).Add(float64(n))
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
