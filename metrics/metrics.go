// Package metrics holds the prometheus collectors of the overlay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HelloReceivedTotal counts received hello packets by status
var HelloReceivedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "p2ptp_hello_received_total",
		Help: "Total number of received hello packets",
	},
	[]string{"status"},
)

// HelloSentTotal counts sent hello packets by status
var HelloSentTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "p2ptp_hello_sent_total",
		Help: "Total number of sent hello packets",
	},
	[]string{"status"},
)

// UnauthenticatedPacketsTotal counts packets flagged as protocol violations
var UnauthenticatedPacketsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "p2ptp_unauthenticated_packets_total",
		Help: "Total number of packets that failed authentication",
	},
)

// FirewallBlocksTotal counts sources blocked by the firewall
var FirewallBlocksTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "p2ptp_firewall_blocks_total",
		Help: "Total number of sources blocked by the firewall",
	},
)

// DroppedPacketsTotal counts inbound packets dropped before processing
var DroppedPacketsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "p2ptp_dropped_packets_total",
		Help: "Total number of inbound packets dropped before processing",
	},
	[]string{"reason"},
)

// ConnectedPeers is the number of connected peers
var ConnectedPeers = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "p2ptp_connected_peers",
		Help: "Number of connected peers",
	},
)

// PendingPeers is the number of peers awaiting a handshake response
var PendingPeers = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "p2ptp_pending_peers",
		Help: "Number of pending peers",
	},
)

// Streams is the number of streams of connected and pending peers
var Streams = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "p2ptp_streams",
		Help: "Number of streams",
	},
)

// StreamsRemovedTotal counts removed streams by reason
var StreamsRemovedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "p2ptp_streams_removed_total",
		Help: "Total number of removed streams",
	},
	[]string{"reason"},
)

// PeerHintsSentTotal counts peer hints sent in gossip rounds
var PeerHintsSentTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "p2ptp_peer_hints_sent_total",
		Help: "Total number of peer hints sent",
	},
)

// PeerHintsReceivedTotal counts peer hints received from other peers
var PeerHintsReceivedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "p2ptp_peer_hints_received_total",
		Help: "Total number of peer hints received",
	},
)

// ReinitializationsTotal counts watchdog reinitializations
var ReinitializationsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "p2ptp_reinitializations_total",
		Help: "Total number of local peer reinitializations",
	},
)

// ControlStepFailuresTotal counts failed control worker steps
var ControlStepFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "p2ptp_control_step_failures_total",
		Help: "Total number of failed control worker steps",
	},
	[]string{"step"},
)

// PayloadPacketsSentTotal counts payload packets sent
var PayloadPacketsSentTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "p2ptp_payload_packets_sent_total",
		Help: "Total number of payload packets sent",
	},
)

// PayloadBytesSentTotal counts payload bytes sent, excluding IP and UDP headers
var PayloadBytesSentTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "p2ptp_payload_bytes_sent_total",
		Help: "Total number of payload bytes sent",
	},
)

// PayloadPacketsReceivedTotal counts payload packets received
var PayloadPacketsReceivedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "p2ptp_payload_packets_received_total",
		Help: "Total number of payload packets received",
	},
)

// StatusReportsTotal counts status reports by direction
var StatusReportsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "p2ptp_status_reports_total",
		Help: "Total number of status reports",
	},
	[]string{"direction"},
)
