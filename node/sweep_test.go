package node

import (
	"net/netip"
	"testing"
	"time"

	"github.com/aethiopicuschan/p2ptp/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweep_KeepsCoordinatorStreamsAndReinitializes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	c, a := connectedPair(t, h)
	coord := a.m.connectedPeer(c.m.localID).anyStream()

	h.net.setDrop(func(datagram) bool { return true })
	h.run(30 * time.Second)

	assert.True(t, coord.IsIdle(a.m.cfg.MaxIdleToRemove))
	assert.Same(t, coord, a.m.connectedPeer(c.m.localID).anyStream())
	assert.Zero(t, a.reinits)
	// The coordinator drops its idle inbound peer.
	assert.Nil(t, c.m.connectedPeer(a.m.localID))

	h.run(10 * time.Second)
	assert.Equal(t, 1, a.reinits)
	assert.Zero(t, c.reinits)

	// The queue is closed after a reinitialization request.
	assert.False(t, a.m.queue.enqueue(func() {}))
}

func TestSweep_RemovesIdleDiscoveredPeers(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	c, a := connectedPair(t, h)
	via := a.m.connectedPeer(c.m.localID).anyStream()

	ghost := wire.NewPeerID()
	pkt, err := (&wire.PeersList{
		FromPeerID: c.m.localID,
		StreamID:   via.ID(),
		Hints: []wire.PeerHint{
			{SenderStreamID: via.ID(), PeerID: ghost, Endpoint: netip.MustParseAddrPort("10.0.0.77:1")},
		},
	}).Marshal()
	require.NoError(t, err)
	h.inject(c.addr, a.addr, pkt)
	h.deliver()
	require.NotNil(t, a.m.connectedPeer(ghost))

	h.run(20 * time.Second)
	assert.NotNil(t, a.m.connectedPeer(ghost))

	h.run(10 * time.Second)
	assert.Nil(t, a.m.connectedPeer(ghost))
	assert.NotNil(t, a.m.connectedPeer(c.m.localID))
	assert.Zero(t, a.reinits)
}

func TestSweep_WatchdogNeedsStreams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"user without peers", userConfig()},
		{"coordinator without peers", coordinatorConfig()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			n := h.addNode(userAAddr, tt.cfg)
			h.run(45 * time.Second)
			assert.Zero(t, n.reinits)
		})
	}
}

func TestSweep_CoordinatorNeverReinitializes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	c := h.addNode(coordAddr, Config{RoleAsCoordinator: true, Coordinators: []netip.AddrPort{netip.MustParseAddrPort("10.0.0.9:4000")}})
	h.run(45 * time.Second)

	_, pending, _ := c.m.counts()
	assert.Equal(t, 1, pending)
	assert.Zero(t, c.reinits)
}

func TestSweep_PendingCoordinatorTriggersWatchdog(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a := h.addNode(userAAddr, userConfig("10.0.0.9:4000"))
	h.run(41 * time.Second)
	assert.Equal(t, 1, a.reinits)
}

func TestSweep_UserWithoutStreamsReinitializes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a := h.addNode(userAAddr, userConfig(coordAddr))
	coord := netip.MustParseAddrPort(coordAddr)
	id := a.m.pending[coord].anyStream().ID()

	pkt, err := (&wire.Hello{FromPeerID: wire.NewPeerID(), ToPeerID: a.m.localID, StreamID: id, Status: wire.StatusRejectedDontTryLater}).Marshal()
	require.NoError(t, err)
	h.inject(coord, a.addr, pkt)
	h.deliver()
	_, pending, streams := a.m.counts()
	require.Zero(t, pending)
	require.Zero(t, streams)

	h.run(9900 * time.Millisecond)
	assert.Zero(t, a.reinits)
	h.run(time.Second)
	assert.Equal(t, 1, a.reinits)
}
