package node

import (
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"time"

	"github.com/aethiopicuschan/p2ptp/wire"
	"github.com/ethereum/go-ethereum/common/mclock"
	"go.uber.org/zap"
)

// ProtocolVersion is announced in every hello packet.
const ProtocolVersion uint16 = 1

// Config configures a LocalPeer.
type Config struct {
	// PeerID is the local identity. A random one is generated when zero.
	PeerID wire.PeerID

	RoleAsCoordinator   bool
	RoleAsSharedPassive bool
	RoleAsUser          bool

	// Coordinators are dialed at startup and after every reinitialization.
	Coordinators []netip.AddrPort

	// ListenAddrs are the local UDP addresses to bind. One socket is opened
	// per address.
	ListenAddrs []string

	LibraryVersion uint32

	TickPeriod       time.Duration
	HelloPeriod      time.Duration
	SharePeersPeriod time.Duration
	SweepPeriod      time.Duration

	// MaxIdleToRemove is how long a stream may stay silent before the
	// sweep removes it.
	MaxIdleToRemove time.Duration
	// MaxIdleToShare is how long a stream may stay silent and still be
	// advertised in gossip.
	MaxIdleToShare time.Duration
	// ReinitializationTimeout is how long the whole peer may stay silent
	// before its sockets are rebuilt.
	ReinitializationTimeout time.Duration

	CoordinatorMaxPeers   int
	SharedPassiveMaxPeers int
	UserMaxPeers          int
	MaxStreamsPerPeer     int

	Extensions []Extension
	Firewall   Firewall
	PeerCache  PeerCache
	Logger     *zap.Logger
	Clock      mclock.Clock
	Random     *rand.Rand

	// Listen opens a socket. Defaults to a UDP listener.
	Listen func(addr string) (PacketConn, error)
}

func (c Config) withDefaults() Config {
	if c.PeerID.IsZero() {
		c.PeerID = wire.NewPeerID()
	}
	if len(c.ListenAddrs) == 0 {
		c.ListenAddrs = []string{"0.0.0.0:0"}
	}
	if c.TickPeriod == 0 {
		c.TickPeriod = 100 * time.Millisecond
	}
	if c.HelloPeriod == 0 {
		c.HelloPeriod = time.Second
	}
	if c.SharePeersPeriod == 0 {
		c.SharePeersPeriod = time.Second
	}
	if c.SweepPeriod == 0 {
		c.SweepPeriod = 10 * time.Second
	}
	if c.MaxIdleToRemove == 0 {
		c.MaxIdleToRemove = 20 * time.Second
	}
	if c.MaxIdleToShare == 0 {
		c.MaxIdleToShare = 5 * time.Second
	}
	if c.ReinitializationTimeout == 0 {
		c.ReinitializationTimeout = 30 * time.Second
	}
	if c.CoordinatorMaxPeers == 0 {
		c.CoordinatorMaxPeers = 1000
	}
	if c.SharedPassiveMaxPeers == 0 {
		c.SharedPassiveMaxPeers = 100
	}
	if c.UserMaxPeers == 0 {
		c.UserMaxPeers = 100
	}
	if c.MaxStreamsPerPeer == 0 {
		c.MaxStreamsPerPeer = 10
	}
	if c.Firewall == nil {
		c.Firewall = nopFirewall{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Clock == nil {
		c.Clock = mclock.System{}
	}
	if c.Random == nil {
		c.Random = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if c.Listen == nil {
		c.Listen = listenUDP
	}
	return c
}

func (c Config) validate() error {
	if c.TickPeriod < 0 || c.HelloPeriod < 0 || c.SharePeersPeriod < 0 || c.SweepPeriod < 0 {
		return fmt.Errorf("%w: negative period", ErrInvalidConfig)
	}
	if c.MaxStreamsPerPeer < 0 || c.CoordinatorMaxPeers < 0 || c.SharedPassiveMaxPeers < 0 || c.UserMaxPeers < 0 {
		return fmt.Errorf("%w: negative ceiling", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(c.Extensions))
	for _, ext := range c.Extensions {
		id := ext.ID()
		if id == "" || len(id) > 0xFF {
			return fmt.Errorf("%w: extension id %q", ErrInvalidConfig, id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate extension %q", ErrInvalidConfig, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// maxAcceptedPeers returns the peer ceiling of the local role and the
// rejection sent when it is reached.
func (c *Config) maxAcceptedPeers() (int, wire.HelloStatus) {
	switch {
	case c.RoleAsCoordinator:
		return c.CoordinatorMaxPeers, wire.StatusRejectedTryLater
	case c.RoleAsSharedPassive:
		return c.SharedPassiveMaxPeers, wire.StatusRejectedDontTryLater
	default:
		return c.UserMaxPeers, wire.StatusRejectedDontTryLater
	}
}

func listenUDP(addr string) (PacketConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Firewall is notified about protocol violations and consulted before
// inbound packets are processed.
type Firewall interface {
	OnUnauthenticatedPacket(ep netip.AddrPort)
	IsBlocked(ep netip.AddrPort) bool
}

type nopFirewall struct{}

func (nopFirewall) OnUnauthenticatedPacket(netip.AddrPort) {}
func (nopFirewall) IsBlocked(netip.AddrPort) bool          { return false }

// CachedPeer is a peer remembered across restarts.
type CachedPeer struct {
	PeerID   wire.PeerID
	Endpoint netip.AddrPort
}

// PeerCache persists peers discovered through gossip.
type PeerCache interface {
	Remember(p CachedPeer) error
	Recall() ([]CachedPeer, error)
}
