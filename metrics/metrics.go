package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "lamport"
)

var (
	// EventsTotal counts clock events per node
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of clock events",
		},
		[]string{"node", "kind"}, // kind: local/send/receive
	)

	// Clock tracks the current logical clock
	Clock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clock",
			Help:      "Current Lamport clock value",
		},
		[]string{"node"},
	)

	// State tracks the protocol state as its ordinal
	State = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Coordination state (0=init 1=barrier 2=running 3=draining 4=terminated)",
		},
		[]string{"node"},
	)

	// PeersReady tracks how many peers completed the start handshake
	PeersReady = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers_ready",
			Help:      "Number of peers marked received",
		},
		[]string{"node"},
	)

	// FramesDropped counts inbound frames that were not processed
	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped by the protocol",
		},
		[]string{"node", "reason"}, // reason: duplicate_start/unknown_sender/bad_clock/self
	)

	// SendErrors counts failed datagram sends
	SendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Datagram sends that returned an error",
		},
		[]string{"node"},
	)

	// FaultsInjected counts faults injected on the send path
	FaultsInjected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_injected_total",
			Help:      "Faults injected by the fault messenger",
		},
		[]string{"node", "fault"}, // fault: drop/dupe/reorder
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
