package node

import (
	"context"
	"math/rand/v2"
	"net/netip"
	"sync"
	"time"

	"github.com/aethiopicuschan/p2ptp/metrics"
	"github.com/aethiopicuschan/p2ptp/wire"
	"github.com/ethereum/go-ethereum/common/mclock"
	"go.uber.org/zap"
)

// maxQueuedActions bounds the inbound control packets awaiting the worker.
const maxQueuedActions = 4096

// Manager owns the peer registry of one incarnation of a LocalPeer and runs
// its control worker.
type Manager struct {
	cfg     Config
	localID wire.PeerID
	log     *zap.Logger
	clock   mclock.Clock
	rnd     *rand.Rand
	fw      Firewall
	exts    []Extension
	extIDs  []string

	sockets      []*Socket
	socketCursor int

	queue    actionQueue
	onReinit func()
	reinit   bool

	// mu is held by the control worker while it mutates the registry.
	mu        sync.RWMutex
	connected map[wire.PeerID]*Peer
	pending   map[netip.AddrPort]*Peer

	// index routes payload packets by stream id.
	indexMu sync.RWMutex
	index   map[wire.StreamID]*Stream

	nextHello mclock.AbsTime
	nextShare mclock.AbsTime
	nextSweep mclock.AbsTime

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// newManager wraps conns in sockets and starts handshakes with the
// configured coordinators and cached peers. cfg must have defaults applied.
func newManager(cfg Config, conns []PacketConn, onReinit func()) *Manager {
	m := &Manager{
		cfg:       cfg,
		localID:   cfg.PeerID,
		log:       cfg.Logger.Named("node").With(zap.Stringer("local", cfg.PeerID)),
		clock:     cfg.Clock,
		rnd:       cfg.Random,
		fw:        cfg.Firewall,
		exts:      cfg.Extensions,
		onReinit:  onReinit,
		connected: make(map[wire.PeerID]*Peer),
		pending:   make(map[netip.AddrPort]*Peer),
		index:     make(map[wire.StreamID]*Stream),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	for _, ext := range m.exts {
		m.extIDs = append(m.extIDs, ext.ID())
	}
	for _, conn := range conns {
		m.sockets = append(m.sockets, newSocket(conn, m, m.fw, m.log))
	}

	now := m.clock.Now()
	m.nextHello = now
	m.nextShare = now
	m.nextSweep = now.Add(cfg.SweepPeriod)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectToCoordinators()
	m.connectToCachedPeers()
	return m
}

// connectToCoordinators opens one pending stream per configured coordinator.
// Ids already handed out in this pass are avoided.
func (m *Manager) connectToCoordinators() {
	avoid := make(map[wire.StreamID]struct{}, len(m.cfg.Coordinators))
	for _, ep := range m.cfg.Coordinators {
		ep = netip.AddrPortFrom(ep.Addr().Unmap(), ep.Port())
		sock := m.nextSocket()
		if sock == nil {
			return
		}
		s, err := m.addToPending(PeerConfiguredCoordinator, ep, sock, avoid)
		if err != nil {
			m.log.Error("failed to add coordinator", zap.Stringer("coordinator", ep), zap.Error(err))
			continue
		}
		if s != nil {
			avoid[s.ID()] = struct{}{}
		}
	}
}

func (m *Manager) connectToCachedPeers() {
	if m.cfg.PeerCache == nil {
		return
	}
	cached, err := m.cfg.PeerCache.Recall()
	if err != nil {
		m.log.Warn("failed to load cached peers", zap.Error(err))
		return
	}
	for _, c := range cached {
		if c.PeerID.IsZero() || c.PeerID == m.localID {
			continue
		}
		peer, ok := m.connected[c.PeerID]
		if !ok {
			peer = newPeer(PeerGossipDiscovered, c.PeerID)
		}
		if peer.streamTo(c.Endpoint) != nil {
			continue
		}
		sock := m.nextSocket()
		if sock == nil {
			return
		}
		if _, err := m.addStream(peer, sock, c.Endpoint, 0, nil); err != nil {
			m.log.Debug("failed to open stream to cached peer", zap.Stringer("peer", c.PeerID), zap.Error(err))
			continue
		}
		m.connected[c.PeerID] = peer
	}
}

// Start launches the socket receivers and the control worker.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		for _, s := range m.sockets {
			s.Start(m.ctx)
		}
		go m.loop()
	})
}

func (m *Manager) loop() {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.TickPeriod)
	defer ticker.Stop()
	for {
		m.tick()
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}
	}
}

// tick runs due periodic work, then drains the action queue.
func (m *Manager) tick() {
	now := m.clock.Now()
	if m.due(now, &m.nextHello, m.cfg.HelloPeriod) {
		m.guard("hello", m.sendHelloRequests)
	}
	if m.due(now, &m.nextShare, m.cfg.SharePeersPeriod) {
		m.guard("gossip", m.sharePeers)
	}
	if m.due(now, &m.nextSweep, m.cfg.SweepPeriod) {
		m.guard("sweep", m.sweep)
	}
	for _, ext := range m.exts {
		m.guardUnlocked("extension:"+ext.ID(), ext.OnTimer)
	}
	m.queue.drain(func(fn func()) {
		m.guard("action", fn)
	})
	m.guard("gauges", m.updateGauges)
}

func (m *Manager) due(now mclock.AbsTime, next *mclock.AbsTime, period time.Duration) bool {
	if now < *next {
		return false
	}
	*next = now.Add(period)
	return true
}

// guard runs fn with the registry locked. A panic in fn is logged and does
// not stop the rest of the tick.
func (m *Manager) guard(step string, fn func()) {
	defer m.recoverStep(step)
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}

func (m *Manager) guardUnlocked(step string, fn func()) {
	defer m.recoverStep(step)
	fn()
}

func (m *Manager) recoverStep(step string) {
	if r := recover(); r != nil {
		metrics.ControlStepFailuresTotal.WithLabelValues(step).Inc()
		m.log.Error("control step failed", zap.String("step", step), zap.Any("panic", r), zap.Stack("stack"))
	}
}

// enqueue schedules fn on the control worker.
func (m *Manager) enqueue(fn func()) {
	if m.queue.len() >= maxQueuedActions {
		metrics.DroppedPacketsTotal.WithLabelValues("queue_full").Inc()
		return
	}
	m.queue.enqueue(fn)
}

// handlePacket runs on a socket's receive goroutine.
func (m *Manager) handlePacket(s *Socket, typ wire.PacketType, pkt []byte, from netip.AddrPort) {
	switch typ {
	case wire.PacketPayload:
		m.routePayload(pkt, from)
	case wire.PacketHello:
		m.enqueue(func() { m.processHello(s, pkt, from) })
	case wire.PacketPeersList:
		m.enqueue(func() { m.processPeersList(pkt, from) })
	case wire.PacketSignaling:
		m.enqueue(func() { m.processSignaling(pkt, from) })
	}
}

// routePayload hands a payload packet to its stream's extension without
// involving the control worker.
func (m *Manager) routePayload(pkt []byte, from netip.AddrPort) {
	h, err := wire.ParsePayloadHeader(pkt)
	if err != nil {
		m.fw.OnUnauthenticatedPacket(from)
		return
	}
	m.indexMu.RLock()
	s := m.index[h.StreamID]
	m.indexMu.RUnlock()
	if s == nil || s.remote != from {
		m.fw.OnUnauthenticatedPacket(from)
		return
	}
	if sx := s.byTag[h.Tag]; sx != nil {
		sx.OnReceivedPayload(pkt)
	}
}

// processSignaling runs on the control worker with m.mu held.
func (m *Manager) processSignaling(pkt []byte, from netip.AddrPort) {
	sig, err := wire.ParseSignaling(pkt)
	if err != nil {
		m.flag(from, "malformed signaling", zap.Error(err))
		return
	}
	if sig.ToPeerID != m.localID {
		m.flag(from, "signaling for another peer")
		return
	}
	peer, ok := m.connected[sig.FromPeerID]
	if !ok {
		m.flag(from, "signaling from unknown peer")
		return
	}
	s, ok := peer.streams[sig.StreamID]
	if !ok || s.remote != from {
		m.flag(from, "signaling on unknown stream", zap.Uint32("stream", uint32(sig.StreamID)))
		return
	}
	sx := s.exts[sig.ExtensionID]
	if sx == nil {
		m.log.Debug("signaling for unknown extension", zap.String("extension", sig.ExtensionID))
		return
	}
	sx.OnReceivedSignaling(sig.Body)
}

// requestReinit stops accepting work and asks the owner to rebuild.
func (m *Manager) requestReinit() {
	if m.reinit {
		return
	}
	m.reinit = true
	m.queue.close()
	if m.onReinit != nil {
		m.onReinit()
	}
}

func (m *Manager) updateGauges() {
	streams := 0
	for _, p := range m.connected {
		streams += len(p.streams)
	}
	for _, p := range m.pending {
		streams += len(p.streams)
	}
	metrics.ConnectedPeers.Set(float64(len(m.connected)))
	metrics.PendingPeers.Set(float64(len(m.pending)))
	metrics.Streams.Set(float64(streams))
}

// Close stops the control worker, destroys every stream and closes the
// sockets. It must not be called from the control worker.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.queue.close()
		m.cancel()
		close(m.stop)

		started := true
		m.startOnce.Do(func() { started = false })
		if started {
			<-m.done
		}

		m.mu.Lock()
		for id, p := range m.connected {
			for _, s := range p.streams {
				m.removeStream(p, s, "closed")
			}
			delete(m.connected, id)
		}
		for ep, p := range m.pending {
			for _, s := range p.streams {
				m.removeStream(p, s, "closed")
			}
			delete(m.pending, ep)
		}
		m.mu.Unlock()

		for _, s := range m.sockets {
			if cerr := s.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}
