package node

import (
	"fmt"
	"net/netip"

	"github.com/aethiopicuschan/p2ptp/metrics"
	"github.com/aethiopicuschan/p2ptp/wire"
	"go.uber.org/zap"
)

// maxStreamIDAttempts bounds the draws of createUniqueStreamID.
const maxStreamIDAttempts = 64

// The functions below run on the control worker with m.mu held.

// isStreamIDUnique reports whether no connected or pending stream uses id.
func (m *Manager) isStreamIDUnique(id wire.StreamID) bool {
	m.indexMu.RLock()
	defer m.indexMu.RUnlock()
	_, taken := m.index[id]
	return !taken
}

// createUniqueStreamID draws random non-zero ids until one is unique and
// not in avoid.
func (m *Manager) createUniqueStreamID(avoid map[wire.StreamID]struct{}) (wire.StreamID, error) {
	for i := 0; i < maxStreamIDAttempts; i++ {
		id := wire.StreamID(m.rnd.Uint32())
		if id == 0 {
			continue
		}
		if _, skip := avoid[id]; skip {
			continue
		}
		if m.isStreamIDUnique(id) {
			return id, nil
		}
	}
	return 0, ErrStreamIDExhausted
}

// addStream attaches a new stream to peer. A zero requested id mints a
// fresh one.
func (m *Manager) addStream(peer *Peer, sock *Socket, remote netip.AddrPort, requested wire.StreamID, avoid map[wire.StreamID]struct{}) (*Stream, error) {
	if len(peer.streams) >= m.cfg.MaxStreamsPerPeer {
		return nil, ErrTooManyStreams
	}
	id := requested
	if id == 0 {
		var err error
		if id, err = m.createUniqueStreamID(avoid); err != nil {
			return nil, err
		}
	} else if !m.isStreamIDUnique(id) {
		return nil, fmt.Errorf("%w: %d", ErrStreamIDConflict, id)
	}

	now := m.clock.Now()
	s := &Stream{
		m:         m,
		peer:      peer,
		remote:    remote,
		socket:    sock,
		createdAt: now,
		exts:      make(map[string]StreamExtension, len(m.exts)),
		byTag:     make(map[uint8]StreamExtension, len(m.exts)),
	}
	s.id.Store(uint32(id))
	s.lastActive.Store(int64(now))
	if !peer.remoteID.IsZero() {
		s.setRemoteID(peer.remoteID)
	}
	for _, ext := range m.exts {
		sx := ext.OnStreamCreated(s)
		if sx == nil {
			continue
		}
		s.exts[ext.ID()] = sx
		s.byTag[ext.PayloadTag()] = sx
	}

	peer.streams[id] = s
	m.indexMu.Lock()
	m.index[id] = s
	m.indexMu.Unlock()

	m.log.Debug("added stream",
		zap.Uint32("stream", uint32(id)),
		zap.Stringer("remote", remote),
		zap.Stringer("peer", peer.remoteID),
		zap.Stringer("type", peer.typ),
	)
	return s, nil
}

// removeStream detaches s from peer and releases its extension state.
func (m *Manager) removeStream(peer *Peer, s *Stream, reason string) {
	id := s.ID()
	if peer.streams[id] != s {
		return
	}
	delete(peer.streams, id)
	m.indexMu.Lock()
	if m.index[id] == s {
		delete(m.index, id)
	}
	m.indexMu.Unlock()

	for _, sx := range s.exts {
		sx.OnDestroyed()
	}
	metrics.StreamsRemovedTotal.WithLabelValues(reason).Inc()
	m.log.Debug("removed stream",
		zap.Uint32("stream", uint32(id)),
		zap.Stringer("remote", s.remote),
		zap.String("reason", reason),
	)
}

// regenerateStreamID gives s a fresh id.
func (m *Manager) regenerateStreamID(peer *Peer, s *Stream) error {
	old := s.ID()
	id, err := m.createUniqueStreamID(nil)
	if err != nil {
		return err
	}
	delete(peer.streams, old)
	peer.streams[id] = s
	m.indexMu.Lock()
	delete(m.index, old)
	m.index[id] = s
	m.indexMu.Unlock()
	s.id.Store(uint32(id))
	return nil
}

// addToPending starts a handshake with an endpoint whose peer id is unknown.
// It is a no-op returning nil when the endpoint is already pending.
func (m *Manager) addToPending(typ PeerType, remote netip.AddrPort, sock *Socket, avoid map[wire.StreamID]struct{}) (*Stream, error) {
	if _, ok := m.pending[remote]; ok {
		return nil, nil
	}
	peer := newPeer(typ, wire.PeerID{})
	s, err := m.addStream(peer, sock, remote, 0, avoid)
	if err != nil {
		return nil, err
	}
	m.pending[remote] = peer
	return s, nil
}

// promotePending moves the stream of a pending peer into the connected
// registry once the remote id is known.
func (m *Manager) promotePending(pending *Peer, s *Stream, remoteID wire.PeerID) (*Peer, error) {
	delete(m.pending, s.remote)

	existing, ok := m.connected[remoteID]
	if !ok {
		pending.remoteID = remoteID
		m.connected[remoteID] = pending
		s.setRemoteID(remoteID)
		return pending, nil
	}
	if _, dup := existing.streams[s.ID()]; dup {
		m.removeStream(pending, s, "duplicate")
		return nil, ErrDuplicateStream
	}
	delete(pending.streams, s.ID())
	existing.streams[s.ID()] = s
	s.peer = existing
	s.setRemoteID(remoteID)
	return existing, nil
}

// nextSocket picks sockets round robin for outbound streams.
func (m *Manager) nextSocket() *Socket {
	if len(m.sockets) == 0 {
		return nil
	}
	s := m.sockets[m.socketCursor%len(m.sockets)]
	m.socketCursor++
	return s
}
