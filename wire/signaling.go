package wire

// Signaling carries an extension message between two authenticated peers
// over one stream.
type Signaling struct {
	FromPeerID  PeerID
	ToPeerID    PeerID
	StreamID    StreamID
	ExtensionID string
	Body        []byte
}

// Marshal serializes the packet.
func (s *Signaling) Marshal() ([]byte, error) {
	out := make([]byte, 1+2*PeerIDLen+4, 1+2*PeerIDLen+4+1+len(s.ExtensionID)+len(s.Body))
	out[0] = byte(PacketSignaling)
	copy(out[1:], s.FromPeerID[:])
	copy(out[1+PeerIDLen:], s.ToPeerID[:])
	putU32(out[1+2*PeerIDLen:], uint32(s.StreamID))
	out, err := appendStr(out, s.ExtensionID)
	if err != nil {
		return nil, err
	}
	return append(out, s.Body...), nil
}

// ParseSignaling decodes a signaling packet. Body aliases b.
func ParseSignaling(b []byte) (*Signaling, error) {
	if len(b) > 0 && PacketType(b[0]) != PacketSignaling {
		return nil, ErrNotOurPacket
	}
	r := &reader{b: b, off: 1}
	s := &Signaling{}
	s.FromPeerID = r.peerID()
	s.ToPeerID = r.peerID()
	s.StreamID = StreamID(r.u32())
	s.ExtensionID = r.str()
	s.Body = r.rest()
	if r.err != nil {
		return nil, r.err
	}
	return s, nil
}
