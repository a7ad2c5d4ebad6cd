package node

import (
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/aethiopicuschan/p2ptp/wire"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common/mclock"
)

// PeerType records how a peer became known.
type PeerType uint8

const (
	PeerConfiguredCoordinator PeerType = iota + 1
	PeerAcceptedInbound
	PeerGossipDiscovered
)

func (t PeerType) String() string {
	switch t {
	case PeerConfiguredCoordinator:
		return "configured-coordinator"
	case PeerAcceptedInbound:
		return "accepted-inbound"
	case PeerGossipDiscovered:
		return "gossip-discovered"
	default:
		return "unknown"
	}
}

// Peer is a remote peer and its streams. It is owned by the control worker.
type Peer struct {
	// remoteID is zero while the peer is pending.
	remoteID wire.PeerID
	typ      PeerType
	streams  map[wire.StreamID]*Stream

	protocolVersion uint16
	libraryVersion  uint32
	acceptedCount   uint64

	// capabilities holds the extension ids last announced by the peer.
	capabilities mapset.Set[string]
}

func newPeer(typ PeerType, id wire.PeerID) *Peer {
	return &Peer{
		remoteID:     id,
		typ:          typ,
		streams:      make(map[wire.StreamID]*Stream),
		capabilities: mapset.NewThreadUnsafeSet[string](),
	}
}

func (p *Peer) setCapabilities(ids []string) {
	if len(ids) == 0 {
		return
	}
	p.capabilities = mapset.NewThreadUnsafeSet(ids...)
}

// streamTo returns the stream bound to remote, if any.
func (p *Peer) streamTo(remote netip.AddrPort) *Stream {
	for _, s := range p.streams {
		if s.remote == remote {
			return s
		}
	}
	return nil
}

// anyStream returns an arbitrary stream. Pending peers own exactly one.
func (p *Peer) anyStream() *Stream {
	for _, s := range p.streams {
		return s
	}
	return nil
}

// Stream is one path to a remote peer over one local socket.
type Stream struct {
	m      *Manager
	id     atomic.Uint32
	peer   *Peer
	remote netip.AddrPort
	socket *Socket

	remoteID atomic.Pointer[wire.PeerID]

	createdAt       mclock.AbsTime
	lastSentRequest mclock.AbsTime
	lastAccepted    mclock.AbsTime
	acceptedCount   uint64
	rtt             time.Duration

	lastActive       atomic.Int64
	remoteRoleIsUser atomic.Bool
	established      atomic.Bool

	exts  map[string]StreamExtension
	byTag map[uint8]StreamExtension
}

// ID returns the current stream id.
func (s *Stream) ID() wire.StreamID {
	return wire.StreamID(s.id.Load())
}

// RemoteEndpoint returns the endpoint the stream is bound to.
func (s *Stream) RemoteEndpoint() netip.AddrPort {
	return s.remote
}

// LocalEndpoint returns the address of the socket the stream sends from.
func (s *Stream) LocalEndpoint() netip.AddrPort {
	return s.socket.LocalAddr()
}

// RemotePeerID returns the remote identity, or zero while unknown.
func (s *Stream) RemotePeerID() wire.PeerID {
	if id := s.remoteID.Load(); id != nil {
		return *id
	}
	return wire.PeerID{}
}

// LocalPeerID returns the identity of the local peer.
func (s *Stream) LocalPeerID() wire.PeerID {
	return s.m.localID
}

// Established reports whether the handshake on the stream completed.
func (s *Stream) Established() bool {
	return s.established.Load()
}

// RemotePeerRoleIsUser reports whether the remote side declared the user role.
func (s *Stream) RemotePeerRoleIsUser() bool {
	return s.remoteRoleIsUser.Load()
}

// Clock returns the clock of the owning peer.
func (s *Stream) Clock() mclock.Clock {
	return s.m.clock
}

// MarkActive records that an authenticated packet arrived on the stream.
func (s *Stream) MarkActive() {
	s.lastActive.Store(int64(s.m.clock.Now()))
}

// LastActive returns the time the stream last received an authenticated
// packet, or its creation time.
func (s *Stream) LastActive() mclock.AbsTime {
	return mclock.AbsTime(s.lastActive.Load())
}

// IsIdle reports whether nothing arrived on the stream for longer than maxIdle.
func (s *Stream) IsIdle(maxIdle time.Duration) bool {
	return s.m.clock.Now().Sub(s.LastActive()) > maxIdle
}

// Send writes a raw datagram to the remote endpoint.
func (s *Stream) Send(pkt []byte) error {
	return s.socket.Send(s.remote, pkt)
}

// SendSignaling sends an extension message to the remote peer.
func (s *Stream) SendSignaling(extensionID string, body []byte) error {
	remote := s.RemotePeerID()
	if remote.IsZero() {
		return ErrNotEstablished
	}
	pkt, err := (&wire.Signaling{
		FromPeerID:  s.m.localID,
		ToPeerID:    remote,
		StreamID:    s.ID(),
		ExtensionID: extensionID,
		Body:        body,
	}).Marshal()
	if err != nil {
		return err
	}
	return s.Send(pkt)
}

// Extension returns the per-stream state of the extension with the given id.
func (s *Stream) Extension(id string) StreamExtension {
	return s.exts[id]
}

func (s *Stream) setRemoteID(id wire.PeerID) {
	s.remoteID.Store(&id)
}

func (s *Stream) String() string {
	return fmt.Sprintf("stream %d to %s", s.ID(), s.remote)
}
