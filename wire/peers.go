package wire

import "net/netip"

const (
	familyIPv4 = 4
	familyIPv6 = 6

	peersListFixedLen = 1 + PeerIDLen + 4 + 1
)

// PeerHint tells the receiver that PeerID is reachable at Endpoint, and that
// the receiver should reach it over its own stream SenderStreamID.
type PeerHint struct {
	SenderStreamID StreamID
	PeerID         PeerID
	Endpoint       netip.AddrPort
}

// PeersList is a gossip packet carrying peer hints.
type PeersList struct {
	FromPeerID PeerID
	StreamID   StreamID
	Hints      []PeerHint
}

// Marshal serializes the packet.
func (p *PeersList) Marshal() ([]byte, error) {
	if len(p.Hints) > 0xFF {
		return nil, ErrFieldTooLong
	}
	out := make([]byte, peersListFixedLen, peersListFixedLen+len(p.Hints)*(4+PeerIDLen+1+16+2))
	out[0] = byte(PacketPeersList)
	copy(out[1:], p.FromPeerID[:])
	putU32(out[1+PeerIDLen:], uint32(p.StreamID))
	out[1+PeerIDLen+4] = byte(len(p.Hints))

	for _, h := range p.Hints {
		if !h.Endpoint.IsValid() {
			return nil, ErrInvalidEndpoint
		}
		var rec [4 + PeerIDLen]byte
		putU32(rec[:], uint32(h.SenderStreamID))
		copy(rec[4:], h.PeerID[:])
		out = append(out, rec[:]...)
		out = appendEndpoint(out, h.Endpoint)
	}
	return out, nil
}

// ParsePeersList decodes a peers list packet.
func ParsePeersList(b []byte) (*PeersList, error) {
	if len(b) > 0 && PacketType(b[0]) != PacketPeersList {
		return nil, ErrNotOurPacket
	}
	r := &reader{b: b, off: 1}
	p := &PeersList{}
	p.FromPeerID = r.peerID()
	p.StreamID = StreamID(r.u32())
	n := int(r.u8())
	for i := 0; i < n && r.err == nil; i++ {
		var h PeerHint
		h.SenderStreamID = StreamID(r.u32())
		h.PeerID = r.peerID()
		h.Endpoint = r.endpoint()
		p.Hints = append(p.Hints, h)
	}
	if r.err != nil {
		return nil, r.err
	}
	return p, nil
}

func appendEndpoint(out []byte, ep netip.AddrPort) []byte {
	addr := ep.Addr().Unmap()
	if addr.Is4() {
		a := addr.As4()
		out = append(out, familyIPv4)
		out = append(out, a[:]...)
	} else {
		a := addr.As16()
		out = append(out, familyIPv6)
		out = append(out, a[:]...)
	}
	var port [2]byte
	putU16(port[:], ep.Port())
	return append(out, port[:]...)
}

func (r *reader) endpoint() netip.AddrPort {
	var addr netip.Addr
	switch r.u8() {
	case familyIPv4:
		if b := r.take(4); b != nil {
			addr = netip.AddrFrom4([4]byte(b))
		}
	case familyIPv6:
		if b := r.take(16); b != nil {
			addr = netip.AddrFrom16([16]byte(b)).Unmap()
		}
	default:
		if r.err == nil {
			r.err = ErrMalformedPacket
		}
	}
	port := r.u16()
	if r.err != nil {
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(addr, port)
}
