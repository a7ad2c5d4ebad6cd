package node

import (
	"github.com/aethiopicuschan/p2ptp/metrics"
	"github.com/ethereum/go-ethereum/common/mclock"
	"go.uber.org/zap"
)

// sweep removes idle streams and empty peers, refreshes cached peers and
// runs the liveness watchdog. It runs on the control worker with m.mu held.
func (m *Manager) sweep() {
	var latest mclock.AbsTime
	haveStreams := false
	track := func(p *Peer) {
		for _, s := range p.streams {
			haveStreams = true
			if t := s.LastActive(); t > latest {
				latest = t
			}
		}
	}

	for id, peer := range m.connected {
		track(peer)
		if peer.typ != PeerConfiguredCoordinator {
			for _, s := range peer.streams {
				if s.IsIdle(m.cfg.MaxIdleToRemove) {
					m.removeStream(peer, s, "idle")
				}
			}
		}
		if len(peer.streams) == 0 {
			delete(m.connected, id)
			m.log.Info("removed peer", zap.Stringer("peer", id), zap.Stringer("type", peer.typ))
			continue
		}
		if peer.typ == PeerGossipDiscovered {
			if s := peer.anyStream(); s != nil && s.Established() {
				m.remember(id, s.remote)
			}
		}
	}
	for ep, peer := range m.pending {
		track(peer)
		if len(peer.streams) == 0 {
			delete(m.pending, ep)
		}
	}

	if m.cfg.RoleAsCoordinator {
		return
	}
	if !haveStreams {
		if len(m.cfg.Coordinators) > 0 {
			m.log.Warn("no streams left, reinitializing", zap.Int("coordinators", len(m.cfg.Coordinators)))
			metrics.ReinitializationsTotal.Inc()
			m.requestReinit()
		}
		return
	}
	if silence := m.clock.Now().Sub(latest); silence > m.cfg.ReinitializationTimeout {
		m.log.Warn("no activity from any peer, reinitializing", zap.Duration("silence", silence))
		metrics.ReinitializationsTotal.Inc()
		m.requestReinit()
	}
}
