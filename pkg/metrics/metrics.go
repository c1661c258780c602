// Package metrics defines the Prometheus collectors the exporter
// serves for this node.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set holds all ober collectors on a private registry, so the exporter
// does not inherit unrelated default-registry metrics.
type Set struct {
	registry *prometheus.Registry

	ServiceUp      *prometheus.GaugeVec
	ServiceEnabled *prometheus.GaugeVec
	VRRPMaster     *prometheus.GaugeVec
	ScrapeErrors   prometheus.Counter
}

// NewSet creates and registers the collectors.
func NewSet() *Set {
	s := &Set{
		registry: prometheus.NewRegistry(),
		ServiceUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ober_service_up",
			Help: "Whether the managed service is active (1) or not (0).",
		}, []string{"service"}),
		ServiceEnabled: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ober_service_enabled",
			Help: "Whether the managed service is enabled at boot.",
		}, []string{"service"}),
		VRRPMaster: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ober_vrrp_master",
			Help: "Whether this node is VRRP MASTER for the instance.",
		}, []string{"instance"}),
		ScrapeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ober_scrape_errors_total",
			Help: "Status collection failures in the exporter refresh loop.",
		}),
	}

	s.registry.MustRegister(s.ServiceUp, s.ServiceEnabled, s.VRRPMaster, s.ScrapeErrors)
	return s
}

// Handler exposes the registry over HTTP.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// SetService records one service's active/enabled state.
func (s *Set) SetService(name string, active, enabled bool) {
	s.ServiceUp.WithLabelValues(name).Set(boolToFloat(active))
	s.ServiceEnabled.WithLabelValues(name).Set(boolToFloat(enabled))
}

// SetVRRP records the role of one VRRP instance.
func (s *Set) SetVRRP(instance string, master bool) {
	s.VRRPMaster.WithLabelValues(instance).Set(boolToFloat(master))
}
