// Package metrics exposes the data plane's counters to the external
// observability collaborator via a prometheus Registry. The core never
// starts an HTTP server itself; callers wire Gatherer() into their own
// exporter.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Registry holds the data plane counters plus the prometheus registry
// they are registered against.
type Registry struct {
	registry *prometheus.Registry

	malformedArtNet prometheus.Counter
	malformedSACN   prometheus.Counter
	socketErrors    prometheus.Counter
	igmpFailures    prometheus.Counter
}

// New builds a Registry with all counters registered and zeroed.
func New() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}

	r.malformedArtNet = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dmxnode",
		Name:      "malformed_artnet_total",
		Help:      "Art-Net packets rejected by the frame parser.",
	})
	r.malformedSACN = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dmxnode",
		Name:      "malformed_sacn_total",
		Help:      "sACN packets rejected by the frame parser.",
	})
	r.socketErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dmxnode",
		Name:      "socket_errors_total",
		Help:      "UDP socket read/bind errors encountered by the ingestion loop.",
	})
	r.igmpFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dmxnode",
		Name:      "igmp_failures_total",
		Help:      "IGMP join/leave failures from the multicast manager.",
	})

	r.registry.MustRegister(r.malformedArtNet, r.malformedSACN, r.socketErrors, r.igmpFailures)
	return r
}

// Registerer exposes the underlying prometheus registry so callers can
// add their own collectors (e.g. process/runtime metrics) alongside it.
func (r *Registry) Registerer() prometheus.Registerer { return r.registry }

// Gatherer exposes the registry for scraping.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.registry }

func (r *Registry) IncMalformedArtNet() { r.malformedArtNet.Inc() }
func (r *Registry) IncMalformedSACN()   { r.malformedSACN.Inc() }
func (r *Registry) IncSocketErrors()    { r.socketErrors.Inc() }
func (r *Registry) IncIGMPFailures()    { r.igmpFailures.Inc() }

// Snapshot is a point-in-time counter readout.
type Snapshot struct {
	MalformedArtNet uint64
	MalformedSACN   uint64
	SocketErrors    uint64
	IGMPFailures    uint64
}

// Snapshot reads all four counters. Prometheus counters don't expose a
// cheap direct read, so this goes through the metric's own Write.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		MalformedArtNet: counterValue(r.malformedArtNet),
		MalformedSACN:   counterValue(r.malformedSACN),
		SocketErrors:    counterValue(r.socketErrors),
		IGMPFailures:    counterValue(r.igmpFailures),
	}
}

func counterValue(c prometheus.Counter) uint64 {
	var m dto.Metric
	_ = c.Write(&m)
	return uint64(m.GetCounter().GetValue())
}
