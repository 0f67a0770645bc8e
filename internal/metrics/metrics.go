// Package metrics exposes Prometheus instrumentation for the control plane.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the control plane
type Metrics struct {
	registry *prometheus.Registry

	RegistrationsTotal   *prometheus.CounterVec
	DeregistrationsTotal *prometheus.CounterVec
	HeartbeatsTotal      *prometheus.CounterVec
	HealthChecksTotal    *prometheus.CounterVec
	ServiceInstances     *prometheus.GaugeVec
	WatcherCount         prometheus.Gauge
	ScaleOperationsTotal *prometheus.CounterVec
	BalancerPicksTotal   *prometheus.CounterVec
}

// New creates the control-plane metric collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RegistrationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "controlplane_registrations_total",
			Help: "Total number of instance registrations per service.",
		}, []string{"service"}),
		DeregistrationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "controlplane_deregistrations_total",
			Help: "Total number of instance deregistrations per service.",
		}, []string{"service", "reason"}),
		HeartbeatsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "controlplane_heartbeats_total",
			Help: "Total number of heartbeats received per service.",
		}, []string{"service"}),
		HealthChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "controlplane_health_checks_total",
			Help: "Total number of health check probes by result.",
		}, []string{"service", "result"}),
		ServiceInstances: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "controlplane_service_instances",
			Help: "Current number of registered instances per service.",
		}, []string{"service"}),
		WatcherCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "controlplane_watchers",
			Help: "Current number of active watch subscriptions.",
		}),
		ScaleOperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "controlplane_scale_operations_total",
			Help: "Total number of scale operations by direction and result.",
		}, []string{"service", "direction", "result"}),
		BalancerPicksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "controlplane_balancer_picks_total",
			Help: "Total number of balancer selections by outcome.",
		}, []string{"service", "outcome"}),
	}
}

// Handler returns an HTTP handler serving the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
