package node

import (
	"net/netip"

	"github.com/aethiopicuschan/p2ptp/metrics"
	"github.com/aethiopicuschan/p2ptp/timestamp"
	"github.com/aethiopicuschan/p2ptp/wire"
	"go.uber.org/zap"
)

// processHello runs on the control worker with m.mu held.
func (m *Manager) processHello(sock *Socket, pkt []byte, from netip.AddrPort) {
	h, err := wire.ParseHello(pkt)
	if err != nil {
		m.flag(from, "malformed hello", zap.Error(err))
		return
	}
	metrics.HelloReceivedTotal.WithLabelValues(h.Status.String()).Inc()

	switch {
	case h.ToPeerID.IsZero():
		if !h.Status.IsSetupOrPing() {
			m.flag(from, "response without target")
			return
		}
		if !m.cfg.RoleAsCoordinator {
			m.flag(from, "anonymous setup at non-coordinator")
			m.respond(sock, h, wire.StatusRejectedDontTryLater, wire.PeerID{}, from)
			return
		}
		if peer, ok := m.connected[h.FromPeerID]; ok {
			m.processFromConnectedPeer(sock, peer, h, from, m.localID)
			return
		}
		m.acceptSetupFromNewPeer(sock, h, from, m.localID)

	case h.ToPeerID != m.localID:
		m.flag(from, "wrong target peer id", zap.Stringer("to", h.ToPeerID))
		if h.Status.IsSetupOrPing() {
			m.respond(sock, h, wire.StatusRejectedTryCleanSetup, wire.PeerID{}, from)
		}

	default:
		if pending, ok := m.pending[from]; ok {
			m.processPendingResponse(pending, h, from)
			return
		}
		if peer, ok := m.connected[h.FromPeerID]; ok {
			m.processFromConnectedPeer(sock, peer, h, from, wire.PeerID{})
			return
		}
		if h.Status.IsSetupOrPing() {
			m.acceptSetupFromNewPeer(sock, h, from, wire.PeerID{})
			return
		}
		m.flag(from, "response from unknown peer", zap.Stringer("status", h.Status))
	}
}

// acceptSetupFromNewPeer handles a request from a peer id that is not in
// the registry. Nothing is mutated unless the request is accepted.
func (m *Manager) acceptSetupFromNewPeer(sock *Socket, h *wire.Hello, from netip.AddrPort, responderID wire.PeerID) {
	if h.FromPeerID.IsZero() || h.FromPeerID == m.localID {
		m.flag(from, "invalid requester id")
		return
	}
	limit, outcome := m.cfg.maxAcceptedPeers()
	if len(m.connected) >= limit {
		m.log.Info("rejecting setup: peer limit reached",
			zap.Stringer("from", from),
			zap.Int("peers", len(m.connected)),
			zap.Stringer("outcome", outcome),
		)
		m.respond(sock, h, outcome, responderID, from)
		return
	}
	m.acceptNewStream(sock, newPeer(PeerAcceptedInbound, h.FromPeerID), true, h, from, responderID)
}

// acceptNewStream creates the stream a request asked for and accepts it.
func (m *Manager) acceptNewStream(sock *Socket, peer *Peer, isNewPeer bool, h *wire.Hello, from netip.AddrPort, responderID wire.PeerID) {
	if len(peer.streams) >= m.cfg.MaxStreamsPerPeer {
		m.log.Info("rejecting setup: stream limit reached",
			zap.Stringer("from", from),
			zap.Stringer("peer", peer.remoteID),
		)
		m.respond(sock, h, wire.StatusRejectedDontTryLater, responderID, from)
		return
	}
	if h.StreamID == 0 || !m.isStreamIDUnique(h.StreamID) {
		m.log.Debug("rejecting setup: stream id not unique",
			zap.Stringer("from", from),
			zap.Uint32("stream", uint32(h.StreamID)),
		)
		m.respond(sock, h, wire.StatusRejectedTryCleanSetup, responderID, from)
		return
	}

	s, err := m.addStream(peer, sock, from, h.StreamID, nil)
	if err != nil {
		m.log.Error("failed to add accepted stream", zap.Stringer("from", from), zap.Error(err))
		return
	}
	if isNewPeer {
		m.connected[peer.remoteID] = peer
		m.log.Info("accepted new peer",
			zap.Stringer("peer", peer.remoteID),
			zap.Stringer("from", from),
		)
	}
	m.onRequestAccepted(peer, s, h)
	m.respond(sock, h, wire.StatusAccepted, responderID, from)
}

// processFromConnectedPeer handles traffic on an existing relationship.
func (m *Manager) processFromConnectedPeer(sock *Socket, peer *Peer, h *wire.Hello, from netip.AddrPort, responderID wire.PeerID) {
	s, ok := peer.streams[h.StreamID]
	if !ok {
		if !h.Status.IsSetupOrPing() {
			m.flag(from, "response for unknown stream", zap.Uint32("stream", uint32(h.StreamID)))
			return
		}
		m.acceptNewStream(sock, peer, false, h, from, responderID)
		return
	}
	if s.remote != from {
		m.flag(from, "endpoint mismatch", zap.Stringer("bound", s.remote))
		if h.Status.IsSetupOrPing() {
			m.respond(sock, h, wire.StatusRejectedTryCleanSetup, responderID, from)
		}
		return
	}

	switch h.Status {
	case wire.StatusSetup, wire.StatusPing:
		m.onRequestAccepted(peer, s, h)
		m.respond(sock, h, wire.StatusAccepted, responderID, from)
	case wire.StatusAccepted:
		m.updateHelloLevelFields(peer, s, h)
	case wire.StatusRejectedTryCleanSetup:
		m.removeStream(peer, s, "try_clean_setup")
		if _, err := m.addToPending(peer.typ, from, s.socket, nil); err != nil {
			m.log.Error("failed to restart handshake", zap.Stringer("remote", from), zap.Error(err))
		}
	case wire.StatusRejectedDontTryLater:
		m.removeStream(peer, s, "rejected")
	case wire.StatusRejectedTryLater:
		m.log.Debug("remote is overloaded", zap.Stringer("from", from))
	default:
		m.flag(from, "unknown hello status", zap.Uint8("status", uint8(h.Status)))
	}
}

// processPendingResponse handles a response to a handshake whose remote
// peer id was unknown.
func (m *Manager) processPendingResponse(pending *Peer, h *wire.Hello, from netip.AddrPort) {
	s := pending.anyStream()
	if s == nil || s.ID() != h.StreamID {
		m.flag(from, "hello for unknown pending stream", zap.Uint32("stream", uint32(h.StreamID)))
		return
	}
	if h.Status.IsSetupOrPing() {
		m.log.Debug("ignoring request from pending endpoint", zap.Stringer("from", from))
		return
	}

	switch h.Status {
	case wire.StatusAccepted:
		if h.FromPeerID.IsZero() || h.FromPeerID == m.localID {
			m.flag(from, "accepted without responder id")
			return
		}
		peer, err := m.promotePending(pending, s, h.FromPeerID)
		if err != nil {
			m.log.Error("failed to promote pending peer",
				zap.Stringer("peer", h.FromPeerID),
				zap.Stringer("remote", from),
				zap.Error(err),
			)
			return
		}
		m.updateHelloLevelFields(peer, s, h)
		m.log.Info("connected to peer",
			zap.Stringer("peer", peer.remoteID),
			zap.Stringer("remote", from),
			zap.Stringer("type", peer.typ),
		)
	case wire.StatusRejectedDontTryLater:
		delete(m.pending, from)
		m.removeStream(pending, s, "rejected")
	case wire.StatusRejectedTryCleanSetup:
		if err := m.regenerateStreamID(pending, s); err != nil {
			m.log.Error("failed to regenerate stream id", zap.Stringer("remote", from), zap.Error(err))
		}
	case wire.StatusRejectedTryLater:
		m.log.Debug("remote is overloaded", zap.Stringer("from", from))
	default:
		m.flag(from, "unknown hello status", zap.Uint8("status", uint8(h.Status)))
	}
}

// onRequestAccepted records a setup or ping the local peer accepted.
func (m *Manager) onRequestAccepted(peer *Peer, s *Stream, h *wire.Hello) {
	peer.protocolVersion = h.ProtocolVersion
	peer.libraryVersion = h.LibraryVersion
	peer.setCapabilities(h.ExtensionIDs)
	s.remoteRoleIsUser.Store(h.RoleIsUser)
	s.established.Store(true)
	s.MarkActive()
}

// updateHelloLevelFields records an accepted response. Replayed responses
// are counted again.
func (m *Manager) updateHelloLevelFields(peer *Peer, s *Stream, h *wire.Hello) {
	s.rtt = timestamp.Now(m.clock).Sub(timestamp.Time32(h.RequestTime32))
	s.lastAccepted = m.clock.Now()
	s.acceptedCount++
	peer.acceptedCount++
	peer.protocolVersion = h.ProtocolVersion
	peer.libraryVersion = h.LibraryVersion
	peer.setCapabilities(h.ExtensionIDs)
	s.remoteRoleIsUser.Store(h.RoleIsUser)
	s.established.Store(true)
	s.MarkActive()
}

func (m *Manager) respond(sock *Socket, req *wire.Hello, status wire.HelloStatus, responderID wire.PeerID, to netip.AddrPort) {
	resp := req.Response(status, responderID, m.cfg.RoleAsUser, m.cfg.LibraryVersion, ProtocolVersion)
	if status == wire.StatusAccepted {
		resp.ExtensionIDs = m.extIDs
	}
	pkt, err := resp.Marshal()
	if err != nil {
		m.log.Error("failed to encode hello response", zap.Error(err))
		return
	}
	if err := sock.Send(to, pkt); err != nil {
		m.log.Debug("failed to send hello response", zap.Stringer("to", to), zap.Error(err))
		return
	}
	metrics.HelloSentTotal.WithLabelValues(status.String()).Inc()
}

// sendHelloRequests refreshes every stream of every pending and connected
// peer.
func (m *Manager) sendHelloRequests() {
	now := m.clock.Now()
	t32 := uint32(timestamp.FromAbs(now))
	send := func(peer *Peer) {
		for _, s := range peer.streams {
			status := wire.StatusSetup
			if s.acceptedCount > 0 {
				status = wire.StatusPing
			}
			h := &wire.Hello{
				FromPeerID:      m.localID,
				StreamID:        s.ID(),
				ToPeerID:        peer.remoteID,
				LibraryVersion:  m.cfg.LibraryVersion,
				ProtocolVersion: ProtocolVersion,
				Status:          status,
				RequestTime32:   t32,
				RoleIsUser:      m.cfg.RoleAsUser,
				ExtensionIDs:    m.extIDs,
			}
			pkt, err := h.Marshal()
			if err != nil {
				m.log.Error("failed to encode hello request", zap.Error(err))
				return
			}
			if err := s.Send(pkt); err != nil {
				m.log.Debug("failed to send hello request", zap.Stringer("stream", s), zap.Error(err))
				continue
			}
			s.lastSentRequest = now
			metrics.HelloSentTotal.WithLabelValues(status.String()).Inc()
		}
	}
	for _, peer := range m.pending {
		send(peer)
	}
	for _, peer := range m.connected {
		send(peer)
	}
}

// flag reports a protocol violation by from to the firewall.
func (m *Manager) flag(from netip.AddrPort, reason string, fields ...zap.Field) {
	m.fw.OnUnauthenticatedPacket(from)
	m.log.Debug("unauthenticated packet", append([]zap.Field{zap.Stringer("from", from), zap.String("reason", reason)}, fields...)...)
}
