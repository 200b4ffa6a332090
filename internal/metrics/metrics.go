// Package metrics exposes Prometheus collectors for flow loads, dismissals
// and config syncs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eugenenazirov/launchkitd/internal/remoteflow"
)

const namespace = "launchkit"

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry      *prometheus.Registry
	flowLoads     *prometheus.CounterVec
	flowDismisses *prometheus.CounterVec
	configSyncs   *prometheus.CounterVec
	configVersion prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		flowLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_loads_total",
			Help:      "Remote flow loads by outcome.",
		}, []string{"outcome"}),
		flowDismisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_dismissals_total",
			Help:      "Remote flow dismissals by result.",
		}, []string{"result"}),
		configSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_syncs_total",
			Help:      "Config sync attempts by status.",
		}, []string{"status"}),
		configVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "config_version",
			Help:      "Version of the active config snapshot.",
		}),
	}

	m.registry.MustRegister(
		m.flowLoads,
		m.flowDismisses,
		m.configSyncs,
		m.configVersion,
		collectors.NewGoCollector(),
	)
	return m
}

// FlowLoaded implements remoteflow.Observer.
func (m *Metrics) FlowLoaded(_ string, err *remoteflow.LoadError) {
	outcome := "loaded"
	if err != nil {
		outcome = err.Kind.String()
	}
	m.flowLoads.WithLabelValues(outcome).Inc()
}

// FlowDismissed implements remoteflow.Observer.
func (m *Metrics) FlowDismissed(_ string, result remoteflow.FlowResult) {
	m.flowDismisses.WithLabelValues(result.String()).Inc()
}

// ConfigSynced implements configsync.Observer.
func (m *Metrics) ConfigSynced(version uint64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.configSyncs.WithLabelValues(status).Inc()
	m.configVersion.Set(float64(version))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
