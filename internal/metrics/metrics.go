// Package metrics provides Prometheus metrics collection for the module controller.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mattjoyce/saya/internal/behaviour"
	"github.com/mattjoyce/saya/internal/cube"
	"github.com/mattjoyce/saya/internal/saya"
)

// Collector holds all Prometheus metrics for saya.
type Collector struct {
	// Dispatch metrics
	CubesAllocated   *prometheus.CounterVec
	CubesUninstalled *prometheus.CounterVec
	DispatchCrashes  *prometheus.CounterVec

	// Module metrics
	ModulesLoaded  prometheus.Gauge
	ModuleEvents   *prometheus.CounterVec
	ModuleReloads  *prometheus.CounterVec
	ReloadFailures *prometheus.CounterVec

	// Admin API metrics
	APIRequests *prometheus.CounterVec
}

// New creates a collector registered on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		CubesAllocated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "saya",
				Name:      "cubes_allocated_total",
				Help:      "Total number of cubes claimed by a behaviour",
			},
			[]string{"module", "behaviour", "kind"},
		),
		CubesUninstalled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "saya",
				Name:      "cubes_uninstalled_total",
				Help:      "Total number of cubes released by their behaviour",
			},
			[]string{"module", "behaviour", "kind"},
		),
		DispatchCrashes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "saya",
				Name:      "dispatch_crashes_total",
				Help:      "Total number of cubes no behaviour claimed",
			},
			[]string{"module", "kind"},
		),
		ModulesLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "saya",
				Name:      "modules_loaded",
				Help:      "Number of modules currently loaded, including the main channel",
			},
		),
		ModuleEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "saya",
				Name:      "module_events_total",
				Help:      "Total number of module lifecycle events",
			},
			[]string{"event"},
		),
		ModuleReloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "saya",
				Name:      "module_reloads_total",
				Help:      "Total number of successful module reloads",
			},
			[]string{"trigger"},
		),
		ReloadFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "saya",
				Name:      "module_reload_failures_total",
				Help:      "Total number of failed module reloads",
			},
			[]string{"trigger"},
		),
		APIRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "saya",
				Name:      "api_requests_total",
				Help:      "Total number of admin API requests",
			},
			[]string{"method", "route", "status"},
		),
	}
}

// CubeAllocated implements dispatch.Observer.
func (c *Collector) CubeAllocated(module string, b behaviour.Behaviour, cb *cube.Cube) {
	c.CubesAllocated.WithLabelValues(module, behaviour.Name(b), string(cb.Kind())).Inc()
}

// CubeUninstalled implements dispatch.Observer.
func (c *Collector) CubeUninstalled(module string, b behaviour.Behaviour, cb *cube.Cube) {
	c.CubesUninstalled.WithLabelValues(module, behaviour.Name(b), string(cb.Kind())).Inc()
}

// DispatchCrashed implements dispatch.Observer.
func (c *Collector) DispatchCrashed(module string, cb *cube.Cube) {
	c.DispatchCrashes.WithLabelValues(module, string(cb.Kind())).Inc()
}

// ObserveEvent counts a lifecycle event and tracks the loaded module count.
func (c *Collector) ObserveEvent(ev saya.Event, loaded int) {
	c.ModuleEvents.WithLabelValues(ev.Kind()).Inc()
	c.ModulesLoaded.Set(float64(loaded))
}

// ObserveReload records the outcome of a reload started by trigger ("api", "watch").
func (c *Collector) ObserveReload(trigger string, err error) {
	if err != nil {
		c.ReloadFailures.WithLabelValues(trigger).Inc()
		return
	}
	c.ModuleReloads.WithLabelValues(trigger).Inc()
}
