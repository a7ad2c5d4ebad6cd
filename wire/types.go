package wire

import "encoding/binary"

// PacketType is the first byte of every datagram.
type PacketType uint8

const (
	PacketHello      PacketType = 0x01
	PacketPeersList  PacketType = 0x02
	PacketSignaling  PacketType = 0x03
	PacketPayload    PacketType = 0x04
	minPacketTypeVal            = PacketHello
	maxPacketTypeVal            = PacketPayload
)

func (t PacketType) String() string {
	switch t {
	case PacketHello:
		return "hello"
	case PacketPeersList:
		return "peers"
	case PacketSignaling:
		return "signaling"
	case PacketPayload:
		return "payload"
	default:
		return "unknown"
	}
}

// Classify returns the packet type of a raw datagram.
func Classify(b []byte) (PacketType, error) {
	if len(b) == 0 {
		return 0, ErrMalformedPacket
	}
	t := PacketType(b[0])
	if t < minPacketTypeVal || t > maxPacketTypeVal {
		return 0, ErrNotOurPacket
	}
	return t, nil
}

func putU16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func putU32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func readU16(b []byte) uint16   { return binary.BigEndian.Uint16(b) }
func readU32(b []byte) uint32   { return binary.BigEndian.Uint32(b) }

// reader consumes a packet front to back. The first short read sets err
// and every later read returns zero values.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.b) {
		r.err = ErrMalformedPacket
		return nil
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return readU16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return readU32(b)
	}
	return 0
}

func (r *reader) peerID() (id PeerID) {
	if b := r.take(PeerIDLen); b != nil {
		copy(id[:], b)
	}
	return
}

// str reads a string with a one-byte length prefix.
func (r *reader) str() string {
	n := int(r.u8())
	if b := r.take(n); b != nil {
		return string(b)
	}
	return ""
}

func (r *reader) rest() []byte {
	if r.err != nil {
		return nil
	}
	out := r.b[r.off:]
	r.off = len(r.b)
	return out
}

func appendStr(out []byte, s string) ([]byte, error) {
	if len(s) > 0xFF {
		return nil, ErrFieldTooLong
	}
	out = append(out, byte(len(s)))
	return append(out, s...), nil
}
