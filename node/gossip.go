package node

import (
	"bytes"
	"cmp"
	"net/netip"
	"slices"

	"github.com/aethiopicuschan/p2ptp/metrics"
	"github.com/aethiopicuschan/p2ptp/wire"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/p2p/netutil"
	"go.uber.org/zap"
)

// maxPairAttempts bounds the draws for the second peer of a gossip pair.
const maxPairAttempts = 16

// sharePeers introduces connected peers to each other. Peers are grouped by
// announced capability; configured coordinators belong to every group.
func (m *Manager) sharePeers() {
	if len(m.connected) < 2 {
		return
	}
	peers := m.sortedConnected()

	tags := mapset.NewThreadUnsafeSet[string]()
	for _, p := range peers {
		tags = tags.Union(p.capabilities)
	}

	m.sharePeersWithin(filterPeers(peers, func(p *Peer) bool {
		return p.capabilities.Cardinality() == 0 || p.typ == PeerConfiguredCoordinator
	}))
	sortedTags := tags.ToSlice()
	slices.Sort(sortedTags)
	for _, tag := range sortedTags {
		m.sharePeersWithin(filterPeers(peers, func(p *Peer) bool {
			return p.capabilities.Contains(tag) || p.typ == PeerConfiguredCoordinator
		}))
	}
}

func (m *Manager) sharePeersWithin(peers []*Peer) {
	n := len(peers)
	if n < 2 {
		return
	}
	for i := 0; i < n/2; i++ {
		i1 := m.rnd.IntN(n)
		i2 := -1
		for attempt := 0; attempt < maxPairAttempts; attempt++ {
			if c := m.rnd.IntN(n); c != i1 {
				i2 = c
				break
			}
		}
		if i2 < 0 {
			continue
		}
		m.sharePeerPair(peers[i1], peers[i2])
	}
}

// sharePeerPair tells p1 how to reach p2 and vice versa.
func (m *Manager) sharePeerPair(p1, p2 *Peer) {
	streams1 := m.shareableStreams(p1)
	streams2 := m.shareableStreams(p2)
	n := min(len(streams1), len(streams2))
	if n == 0 {
		return
	}
	if streams1[0].remote.Addr() == streams2[0].remote.Addr() {
		m.log.Debug("not sharing peers behind the same address",
			zap.Stringer("peer1", p1.remoteID),
			zap.Stringer("peer2", p2.remoteID),
		)
		return
	}

	hints1 := make([]wire.PeerHint, 0, n)
	hints2 := make([]wire.PeerHint, 0, n)
	for i := 0; i < n; i++ {
		s1, s2 := streams1[i], streams2[i]
		if s1.remote.Addr() == s2.remote.Addr() {
			continue
		}
		hints1 = append(hints1, wire.PeerHint{SenderStreamID: s1.ID(), PeerID: p2.remoteID, Endpoint: s2.remote})
		hints2 = append(hints2, wire.PeerHint{SenderStreamID: s2.ID(), PeerID: p1.remoteID, Endpoint: s1.remote})
	}
	m.sendPeersList(streams1[0], hints1)
	m.sendPeersList(streams2[0], hints2)
}

// shareableStreams returns the non-idle streams of p with distinct remote
// endpoints, ordered by stream id.
func (m *Manager) shareableStreams(p *Peer) []*Stream {
	out := make([]*Stream, 0, len(p.streams))
	for _, s := range p.streams {
		if s.Established() && !s.IsIdle(m.cfg.MaxIdleToShare) {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b *Stream) int {
		return cmp.Compare(a.ID(), b.ID())
	})
	seen := make(map[netip.AddrPort]struct{}, len(out))
	return slices.DeleteFunc(out, func(s *Stream) bool {
		if _, dup := seen[s.remote]; dup {
			return true
		}
		seen[s.remote] = struct{}{}
		return false
	})
}

func (m *Manager) sendPeersList(s *Stream, hints []wire.PeerHint) {
	if len(hints) == 0 {
		return
	}
	pkt, err := (&wire.PeersList{FromPeerID: m.localID, StreamID: s.ID(), Hints: hints}).Marshal()
	if err != nil {
		m.log.Error("failed to encode peers list", zap.Error(err))
		return
	}
	if err := s.Send(pkt); err != nil {
		m.log.Debug("failed to send peers list", zap.Stringer("stream", s), zap.Error(err))
		return
	}
	metrics.PeerHintsSentTotal.Add(float64(len(hints)))
}

// processPeersList runs on the control worker with m.mu held.
func (m *Manager) processPeersList(pkt []byte, from netip.AddrPort) {
	pl, err := wire.ParsePeersList(pkt)
	if err != nil {
		m.flag(from, "malformed peers list", zap.Error(err))
		return
	}
	sender, ok := m.connected[pl.FromPeerID]
	if !ok {
		m.flag(from, "peers list from unknown peer")
		return
	}
	via, ok := sender.streams[pl.StreamID]
	if !ok || via.remote != from {
		m.flag(from, "peers list on unknown stream", zap.Uint32("stream", uint32(pl.StreamID)))
		return
	}
	metrics.PeerHintsReceivedTotal.Add(float64(len(pl.Hints)))

	for _, hint := range pl.Hints {
		if hint.PeerID.IsZero() || hint.PeerID == m.localID {
			continue
		}
		if err := netutil.CheckRelayIP(from.Addr().AsSlice(), hint.Endpoint.Addr().AsSlice()); err != nil {
			m.log.Debug("ignoring peer hint",
				zap.Stringer("peer", hint.PeerID),
				zap.Stringer("endpoint", hint.Endpoint),
				zap.Error(err),
			)
			continue
		}

		target, known := m.connected[hint.PeerID]
		if known && target.streamTo(hint.Endpoint) != nil {
			continue
		}
		local, ok := sender.streams[hint.SenderStreamID]
		if !ok {
			m.log.Debug("peer hint on unknown sender stream",
				zap.Stringer("peer", hint.PeerID),
				zap.Uint32("stream", uint32(hint.SenderStreamID)),
			)
			continue
		}
		if !known {
			target = newPeer(PeerGossipDiscovered, hint.PeerID)
		}
		if _, err := m.addStream(target, local.socket, hint.Endpoint, 0, nil); err != nil {
			m.log.Debug("failed to open stream to discovered peer",
				zap.Stringer("peer", hint.PeerID),
				zap.Stringer("endpoint", hint.Endpoint),
				zap.Error(err),
			)
			continue
		}
		if !known {
			m.connected[hint.PeerID] = target
			m.log.Info("discovered peer",
				zap.Stringer("peer", hint.PeerID),
				zap.Stringer("endpoint", hint.Endpoint),
				zap.Stringer("via", pl.FromPeerID),
			)
			m.remember(hint.PeerID, hint.Endpoint)
		}
	}
}

func (m *Manager) sortedConnected() []*Peer {
	peers := make([]*Peer, 0, len(m.connected))
	for _, p := range m.connected {
		peers = append(peers, p)
	}
	slices.SortFunc(peers, func(a, b *Peer) int {
		return bytes.Compare(a.remoteID[:], b.remoteID[:])
	})
	return peers
}

func filterPeers(peers []*Peer, keep func(*Peer) bool) []*Peer {
	out := make([]*Peer, 0, len(peers))
	for _, p := range peers {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func (m *Manager) remember(id wire.PeerID, ep netip.AddrPort) {
	if m.cfg.PeerCache == nil {
		return
	}
	if err := m.cfg.PeerCache.Remember(CachedPeer{PeerID: id, Endpoint: ep}); err != nil {
		m.log.Warn("failed to remember peer", zap.Stringer("peer", id), zap.Error(err))
	}
}
