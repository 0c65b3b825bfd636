package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var once sync.Once

var (
	// OperationsTotal counts operations entering the router by
	// coordination class.
	OperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ucl",
		Name:      "operations_total",
		Help:      "Operations handled by the router, by coordination class",
	}, []string{"class"})

	// RoundsTotal counts consensus rounds by terminal outcome.
	RoundsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ucl",
		Subsystem: "consensus",
		Name:      "rounds_total",
		Help:      "Consensus rounds reaching a terminal state, by outcome",
	}, []string{"outcome"})

	// GossipBroadcastsTotal counts envelopes handed to the fan-out path.
	GossipBroadcastsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ucl",
		Subsystem: "gossip",
		Name:      "broadcasts_total",
		Help:      "Gossip envelopes broadcast to peers",
	})

	// GossipDuplicatesTotal counts envelopes dropped by deduplication.
	GossipDuplicatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ucl",
		Subsystem: "gossip",
		Name:      "duplicates_total",
		Help:      "Gossip envelopes dropped as already seen",
	})

	// GossipRetriesDroppedTotal counts broadcasts abandoned after the
	// retry budget ran out.
	GossipRetriesDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ucl",
		Subsystem: "gossip",
		Name:      "retries_dropped_total",
		Help:      "Gossip sends dropped after exhausting retries",
	})

	// TransportDialsTotal counts outbound connection attempts by result.
	TransportDialsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ucl",
		Subsystem: "transport",
		Name:      "dials_total",
		Help:      "Outbound dials, by result",
	}, []string{"result"})

	// TransportSendFailuresTotal counts sends that surfaced
	// PeerUnreachable to a protocol.
	TransportSendFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ucl",
		Subsystem: "transport",
		Name:      "send_failures_total",
		Help:      "Sends failed with peer unreachable",
	})

	// ConnectedPeers tracks live outbound connections.
	ConnectedPeers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ucl",
		Subsystem: "membership",
		Name:      "connected_peers",
		Help:      "Peers currently in the connected state",
	})

	// ProvisionalLocksHeld tracks keys locked by in-flight rounds.
	ProvisionalLocksHeld = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ucl",
		Subsystem: "consensus",
		Name:      "provisional_locks_held",
		Help:      "Keys currently under a provisional lock",
	})
)

// Register installs all collectors on the given registerer, defaulting
// to the global prometheus registry. Safe to call more than once.
func Register(reg prometheus.Registerer) {
	once.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(
			OperationsTotal,
			RoundsTotal,
			GossipBroadcastsTotal,
			GossipDuplicatesTotal,
			GossipRetriesDroppedTotal,
			TransportDialsTotal,
			TransportSendFailuresTotal,
			ConnectedPeers,
			ProvisionalLocksHeld,
		)
	})
}
