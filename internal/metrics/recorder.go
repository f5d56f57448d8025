// Package metrics exports archive activity to Prometheus and serves a small
// HTTP status API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bamsammich/plotfarm/internal/event"
)

const namespace = "plotfarm"

// Recorder turns manager events into Prometheus metrics. Each recorder owns
// its registry.
type Recorder struct {
	Registry *prometheus.Registry

	activeTransfers prometheus.Gauge
	buses           prometheus.Gauge
	busyBuses       prometheus.Gauge
	transfers       *prometheus.CounterVec
	archivedBytes   prometheus.Counter
	refreshes       *prometheus.CounterVec
	noDestination   prometheus.Counter
}

// NewRecorder registers the plotfarm collectors on a fresh registry, along
// with the Go runtime and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		Registry: reg,
		activeTransfers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_transfers",
			Help:      "Transfers currently running.",
		}),
		buses: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buses",
			Help:      "High-speed USB buses in the current inventory.",
		}),
		busyBuses: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "busy_buses",
			Help:      "Buses carrying a transfer.",
		}),
		transfers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Transfers by outcome.",
		}, []string{"outcome"}),
		archivedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archived_bytes_total",
			Help:      "Bytes of plots archived successfully.",
		}),
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_refreshes_total",
			Help:      "Inventory refreshes by result.",
		}, []string{"result"}),
		noDestination: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "no_destination_total",
			Help:      "Start attempts that found no free bus or partition.",
		}),
	}
}

// Observe applies one event.
func (r *Recorder) Observe(ev event.Event) {
	switch ev.Type {
	case event.TransferStarted:
		r.transfers.WithLabelValues("started").Inc()
		r.setLoad(ev)
	case event.TransferSucceeded:
		r.transfers.WithLabelValues("succeeded").Inc()
		if ev.Size > 0 {
			r.archivedBytes.Add(float64(ev.Size))
		}
		r.setLoad(ev)
	case event.TransferFailed:
		r.transfers.WithLabelValues("failed").Inc()
		r.setLoad(ev)
	case event.InventoryRefreshed:
		r.refreshes.WithLabelValues("ok").Inc()
		r.buses.Set(float64(ev.Buses))
		r.setLoad(ev)
	case event.RefreshFailed:
		r.refreshes.WithLabelValues("error").Inc()
	case event.NoDestination:
		r.noDestination.Inc()
	}
}

func (r *Recorder) setLoad(ev event.Event) {
	r.activeTransfers.Set(float64(ev.Active))
	r.busyBuses.Set(float64(ev.Busy))
}
