package wire

// PayloadHeaderLen is the size of the payload header. Payload packets are
// never shorter than this.
const PayloadHeaderLen = 2 + 4 + 4 + 2 + 4

// PayloadHeader precedes the filler bytes of a payload packet.
type PayloadHeader struct {
	// Tag selects the extension that owns the payload.
	Tag      uint8
	StreamID StreamID
	// Time32 is the sender's timestamp.
	Time32 uint32
	Seq    uint16
	// ReflectedTime32 echoes the latest Time32 received from the remote
	// side, or zero when none was received yet.
	ReflectedTime32 uint32
}

// Put writes the header into the first PayloadHeaderLen bytes of b.
// b must be at least PayloadHeaderLen long.
func (h *PayloadHeader) Put(b []byte) {
	b[0] = byte(PacketPayload)
	b[1] = h.Tag
	putU32(b[2:], uint32(h.StreamID))
	putU32(b[6:], h.Time32)
	putU16(b[10:], h.Seq)
	putU32(b[12:], h.ReflectedTime32)
}

// ParsePayloadHeader decodes the header of a payload packet.
func ParsePayloadHeader(b []byte) (PayloadHeader, error) {
	var h PayloadHeader
	if len(b) < PayloadHeaderLen {
		return h, ErrMalformedPacket
	}
	if PacketType(b[0]) != PacketPayload {
		return h, ErrNotOurPacket
	}
	h.Tag = b[1]
	h.StreamID = StreamID(readU32(b[2:]))
	h.Time32 = readU32(b[6:])
	h.Seq = readU16(b[10:])
	h.ReflectedTime32 = readU32(b[12:])
	return h, nil
}
