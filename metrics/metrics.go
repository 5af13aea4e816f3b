// Package metrics exposes a small Prometheus registry for the
// measurement engine: active connection counts, bytes transferred per
// phase, and phase durations. Purely observational — the engine never
// reads these back, so they cannot affect protocol behavior.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the engine's Prometheus collectors behind its own
// registry so a process can run more than one instance (e.g. in tests)
// without colliding on the global default registerer.
type Registry struct {
	reg *prometheus.Registry

	ActiveConnections *prometheus.GaugeVec
	BytesTotal        *prometheus.CounterVec
	PhaseDuration     *prometheus.HistogramVec
}

// New builds and registers the engine's collectors.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nettest",
			Name:      "active_connections",
			Help:      "Number of connections currently held by a worker reactor.",
		}, []string{"role"}),
		BytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nettest",
			Name:      "bytes_total",
			Help:      "Bytes transferred, labeled by phase and direction.",
		}, []string{"phase", "direction"}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nettest",
			Name:      "phase_duration_seconds",
			Help:      "Wall-clock duration of a completed connection phase.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
	}

	reg.MustRegister(r.ActiveConnections, r.BytesTotal, r.PhaseDuration)
	return r
}

// Handler returns the HTTP handler to serve at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// View is a role-scoped accessor over a Registry's collectors
// (role is "server" or "client"), handed to rmbtserver/rmbtclient so
// neither package needs to import prometheus directly.
type View struct {
	role string
	reg  *Registry
}

// ForRole binds role ("server" or "client") to r's ActiveConnections
// label, for rmbtserver.Config.Metrics / rmbtclient.Config.Metrics.
func (r *Registry) ForRole(role string) *View {
	return &View{role: role, reg: r}
}

// ConnectionOpened increments the active-connections gauge for this role.
func (v *View) ConnectionOpened() {
	v.reg.ActiveConnections.WithLabelValues(v.role).Inc()
}

// ConnectionClosed decrements the active-connections gauge for this role.
func (v *View) ConnectionClosed() {
	v.reg.ActiveConnections.WithLabelValues(v.role).Dec()
}

// BytesObserved adds n to the bytes-transferred counter for phase/direction.
func (v *View) BytesObserved(phase, direction string, n int) {
	if n <= 0 {
		return
	}
	v.reg.BytesTotal.WithLabelValues(phase, direction).Add(float64(n))
}

// PhaseObserved records one completed phase's wall-clock duration.
func (v *View) PhaseObserved(phase string, seconds float64) {
	v.reg.PhaseDuration.WithLabelValues(phase).Observe(seconds)
}
