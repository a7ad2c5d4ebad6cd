package node

import (
	"math/rand/v2"
	"net"
	"net/netip"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/aethiopicuschan/p2ptp/wire"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/stretchr/testify/require"
)

// datagram is a packet in flight on the in-memory network.
type datagram struct {
	from, to netip.AddrPort
	pkt      []byte
}

// memNet is an in-memory network whose packets are delivered
// synchronously by harness.deliver.
type memNet struct {
	mu    sync.Mutex
	queue []datagram
	// sent records every datagram ever written.
	sent []datagram
	drop func(d datagram) bool
}

func (n *memNet) setDrop(fn func(d datagram) bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drop = fn
}

func (n *memNet) take() []datagram {
	n.mu.Lock()
	defer n.mu.Unlock()
	batch := n.queue
	n.queue = nil
	return batch
}

// sentBy returns the datagrams written by from, in order.
func (n *memNet) sentBy(from netip.AddrPort) []datagram {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []datagram
	for _, d := range n.sent {
		if d.from == from {
			out = append(out, d)
		}
	}
	return out
}

type memConn struct {
	net  *memNet
	addr netip.AddrPort
}

func (c *memConn) ReadFromUDPAddrPort([]byte) (int, netip.AddrPort, error) {
	return 0, netip.AddrPort{}, net.ErrClosed
}

func (c *memConn) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	d := datagram{from: c.addr, to: addr, pkt: slices.Clone(b)}
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	c.net.sent = append(c.net.sent, d)
	if c.net.drop == nil || !c.net.drop(d) {
		c.net.queue = append(c.net.queue, d)
	}
	return len(b), nil
}

func (c *memConn) LocalAddr() net.Addr {
	return net.UDPAddrFromAddrPort(c.addr)
}

func (c *memConn) Close() error { return nil }

// recordingFirewall counts violations per source endpoint.
type recordingFirewall struct {
	mu      sync.Mutex
	flagged map[netip.AddrPort]int
}

func (f *recordingFirewall) OnUnauthenticatedPacket(ep netip.AddrPort) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flagged == nil {
		f.flagged = make(map[netip.AddrPort]int)
	}
	f.flagged[ep]++
}

func (f *recordingFirewall) IsBlocked(netip.AddrPort) bool { return false }

func (f *recordingFirewall) count(ep netip.AddrPort) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flagged[ep]
}

type testNode struct {
	m       *Manager
	addr    netip.AddrPort
	fw      *recordingFirewall
	reinits int
}

// harness drives managers by hand on a simulated clock.
type harness struct {
	t     *testing.T
	clock *mclock.Simulated
	net   *memNet
	nodes map[netip.AddrPort]*testNode
	order []netip.AddrPort
	seed  uint64
}

func newHarness(t *testing.T) *harness {
	return &harness{
		t:     t,
		clock: new(mclock.Simulated),
		net:   &memNet{},
		nodes: make(map[netip.AddrPort]*testNode),
		seed:  1,
	}
}

func (h *harness) addNode(addr string, cfg Config) *testNode {
	ap := netip.MustParseAddrPort(addr)
	fw := &recordingFirewall{}
	h.seed++
	cfg.Clock = h.clock
	cfg.Random = rand.New(rand.NewPCG(h.seed, h.seed*7919))
	cfg.Firewall = fw
	cfg = cfg.withDefaults()
	require.NoError(h.t, cfg.validate())

	n := &testNode{addr: ap, fw: fw}
	n.m = newManager(cfg, []PacketConn{&memConn{net: h.net, addr: ap}}, func() { n.reinits++ })
	h.nodes[ap] = n
	h.order = append(h.order, ap)
	h.t.Cleanup(func() { _ = n.m.Close() })
	return n
}

// inject puts a raw datagram on the network.
func (h *harness) inject(from, to netip.AddrPort, pkt []byte) {
	_, _ = (&memConn{net: h.net, addr: from}).WriteToUDPAddrPort(pkt, to)
}

// deliver hands queued datagrams to their receivers until the network is
// quiet.
func (h *harness) deliver() {
	for i := 0; i < 1000; i++ {
		batch := h.net.take()
		if len(batch) == 0 {
			return
		}
		for _, d := range batch {
			n := h.nodes[d.to]
			if n == nil {
				continue
			}
			typ, err := wire.Classify(d.pkt)
			if err != nil {
				continue
			}
			n.m.handlePacket(n.m.sockets[0], typ, d.pkt, d.from)
			n.m.queue.drain(func(fn func()) { n.m.guard("action", fn) })
		}
	}
	h.t.Fatal("network did not settle")
}

// step advances the clock, ticks every node and delivers the traffic.
func (h *harness) step(d time.Duration) {
	h.clock.Run(d)
	for _, ap := range h.order {
		h.nodes[ap].m.tick()
	}
	h.deliver()
}

// run steps in tick-sized increments for total.
func (h *harness) run(total time.Duration) {
	for elapsed := time.Duration(0); elapsed < total; elapsed += 100 * time.Millisecond {
		h.step(100 * time.Millisecond)
	}
}

// lastHelloTo returns the last hello written by from to to.
func (h *harness) lastHelloTo(from, to netip.AddrPort) *wire.Hello {
	return h.lastHelloMatching(from, to, func(*wire.Hello) bool { return true })
}

// lastRequestTo is lastHelloTo restricted to setup and ping hellos.
func (h *harness) lastRequestTo(from, to netip.AddrPort) *wire.Hello {
	return h.lastHelloMatching(from, to, func(hello *wire.Hello) bool { return hello.Status.IsSetupOrPing() })
}

func (h *harness) lastHelloMatching(from, to netip.AddrPort, match func(*wire.Hello) bool) *wire.Hello {
	var last *wire.Hello
	for _, d := range h.net.sentBy(from) {
		if d.to != to || d.pkt[0] != byte(wire.PacketHello) {
			continue
		}
		hello, err := wire.ParseHello(d.pkt)
		require.NoError(h.t, err)
		if match(hello) {
			last = hello
		}
	}
	return last
}

func (m *Manager) connectedPeer(id wire.PeerID) *Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected[id]
}

func (m *Manager) counts() (connected, pending, streams int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.connected {
		streams += len(p.streams)
	}
	for _, p := range m.pending {
		streams += len(p.streams)
	}
	return len(m.connected), len(m.pending), streams
}

func userConfig(coordinators ...string) Config {
	cfg := Config{RoleAsUser: true}
	for _, c := range coordinators {
		cfg.Coordinators = append(cfg.Coordinators, netip.MustParseAddrPort(c))
	}
	return cfg
}

func coordinatorConfig() Config {
	return Config{RoleAsCoordinator: true}
}

// fakeExtension records hook calls.
type fakeExtension struct {
	id           string
	tag          uint8
	panicOnTimer bool

	mu      sync.Mutex
	timers  int
	streams []*fakeStreamExtension
}

func (e *fakeExtension) ID() string        { return e.id }
func (e *fakeExtension) PayloadTag() uint8 { return e.tag }

func (e *fakeExtension) OnStreamCreated(s *Stream) StreamExtension {
	e.mu.Lock()
	defer e.mu.Unlock()
	sx := &fakeStreamExtension{stream: s}
	e.streams = append(e.streams, sx)
	return sx
}

func (e *fakeExtension) OnTimer() {
	e.mu.Lock()
	e.timers++
	e.mu.Unlock()
	if e.panicOnTimer {
		panic("timer failed")
	}
}

type fakeStreamExtension struct {
	stream *Stream

	mu        sync.Mutex
	payloads  int
	signals   [][]byte
	destroyed int
}

func (s *fakeStreamExtension) OnReceivedPayload([]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads++
}

func (s *fakeStreamExtension) OnReceivedSignaling(body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, slices.Clone(body))
}

func (s *fakeStreamExtension) OnDestroyed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed++
}

func (s *fakeStreamExtension) Status() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]int{"payloads": s.payloads}
}
