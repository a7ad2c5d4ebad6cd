package node

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/aethiopicuschan/p2ptp/wire"
)

// Snapshot is a point-in-time copy of the registry.
type Snapshot struct {
	LocalPeerID string         `json:"local_peer_id"`
	Peers       []PeerSnapshot `json:"peers"`
	Pending     []PeerSnapshot `json:"pending"`
}

// PeerSnapshot describes one peer.
type PeerSnapshot struct {
	PeerID          string           `json:"peer_id,omitempty"`
	Type            string           `json:"type"`
	ProtocolVersion uint16           `json:"protocol_version"`
	LibraryVersion  uint32           `json:"library_version"`
	AcceptedCount   uint64           `json:"accepted_count"`
	Capabilities    []string         `json:"capabilities,omitempty"`
	Streams         []StreamSnapshot `json:"streams"`
}

// StreamSnapshot describes one stream.
type StreamSnapshot struct {
	StreamID         wire.StreamID  `json:"stream_id"`
	RemoteEndpoint   string         `json:"remote_endpoint"`
	LocalEndpoint    string         `json:"local_endpoint"`
	Established      bool           `json:"established"`
	Idle             bool           `json:"idle"`
	RemoteRoleIsUser bool           `json:"remote_role_is_user"`
	AcceptedCount    uint64         `json:"accepted_count"`
	HandshakeRTT     time.Duration  `json:"handshake_rtt"`
	SinceActive      time.Duration  `json:"since_active"`
	Extensions       map[string]any `json:"extensions,omitempty"`
}

// Snapshot copies the registry under the read lock.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{LocalPeerID: m.localID.String()}
	for _, p := range m.connected {
		snap.Peers = append(snap.Peers, m.peerSnapshot(p))
	}
	for _, p := range m.pending {
		snap.Pending = append(snap.Pending, m.peerSnapshot(p))
	}
	slices.SortFunc(snap.Peers, func(a, b PeerSnapshot) int {
		return strings.Compare(a.PeerID, b.PeerID)
	})
	return snap
}

func (m *Manager) peerSnapshot(p *Peer) PeerSnapshot {
	ps := PeerSnapshot{
		Type:            p.typ.String(),
		ProtocolVersion: p.protocolVersion,
		LibraryVersion:  p.libraryVersion,
		AcceptedCount:   p.acceptedCount,
		Capabilities:    p.capabilities.ToSlice(),
	}
	if !p.remoteID.IsZero() {
		ps.PeerID = p.remoteID.String()
	}
	slices.Sort(ps.Capabilities)

	now := m.clock.Now()
	for _, s := range p.streams {
		ss := StreamSnapshot{
			StreamID:         s.ID(),
			RemoteEndpoint:   s.remote.String(),
			LocalEndpoint:    s.LocalEndpoint().String(),
			Established:      s.Established(),
			Idle:             s.IsIdle(m.cfg.MaxIdleToShare),
			RemoteRoleIsUser: s.RemotePeerRoleIsUser(),
			AcceptedCount:    s.acceptedCount,
			HandshakeRTT:     s.rtt,
			SinceActive:      now.Sub(s.LastActive()),
		}
		for id, sx := range s.exts {
			if r, ok := sx.(StatusReporter); ok {
				if ss.Extensions == nil {
					ss.Extensions = make(map[string]any)
				}
				ss.Extensions[id] = r.Status()
			}
		}
		ps.Streams = append(ps.Streams, ss)
	}
	slices.SortFunc(ps.Streams, func(a, b StreamSnapshot) int {
		return cmp.Compare(a.StreamID, b.StreamID)
	})
	return ps
}
