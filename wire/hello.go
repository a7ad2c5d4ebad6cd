package wire

// HelloStatus is the handshake status carried by a hello packet.
type HelloStatus uint8

const (
	// StatusSetup is the first request on a stream.
	StatusSetup HelloStatus = 1
	// StatusPing refreshes a stream that has already been accepted.
	StatusPing HelloStatus = 2

	// StatusRejectedTryCleanSetup asks the requester to drop the stream and
	// start over with a fresh stream id.
	StatusRejectedTryCleanSetup HelloStatus = 100
	// StatusRejectedDontTryLater asks the requester to give up on the stream.
	StatusRejectedDontTryLater HelloStatus = 101
	// StatusRejectedTryLater signals temporary overload.
	StatusRejectedTryLater HelloStatus = 102

	// StatusAccepted confirms the stream.
	StatusAccepted HelloStatus = 200
)

// IsSetupOrPing reports whether s is a request status.
func (s HelloStatus) IsSetupOrPing() bool {
	return s == StatusSetup || s == StatusPing
}

func (s HelloStatus) String() string {
	switch s {
	case StatusSetup:
		return "setup"
	case StatusPing:
		return "ping"
	case StatusRejectedTryCleanSetup:
		return "rejected_tryCleanSetup"
	case StatusRejectedDontTryLater:
		return "rejected_dontTryLater"
	case StatusRejectedTryLater:
		return "rejected_tryLater"
	case StatusAccepted:
		return "accepted"
	default:
		return "unknown"
	}
}

const (
	roleFlagUser = 0x01

	// helloFixedLen covers everything before the extension list.
	helloFixedLen = 1 + PeerIDLen + 4 + PeerIDLen + 4 + 2 + 1 + 4 + 1 + 1
)

// Hello is a handshake request or response.
type Hello struct {
	FromPeerID      PeerID
	StreamID        StreamID
	ToPeerID        PeerID
	LibraryVersion  uint32
	ProtocolVersion uint16
	Status          HelloStatus

	// RequestTime32 is the requester's timestamp, echoed in responses.
	RequestTime32 uint32

	// RoleIsUser is set by requesters with the user role and by
	// responders with the user role in accepted responses.
	RoleIsUser bool

	// ExtensionIDs lists the sender's capabilities.
	ExtensionIDs []string
}

// Marshal serializes the packet.
func (h *Hello) Marshal() ([]byte, error) {
	if len(h.ExtensionIDs) > 0xFF {
		return nil, ErrFieldTooLong
	}
	out := make([]byte, helloFixedLen, helloFixedLen+8*len(h.ExtensionIDs))
	out[0] = byte(PacketHello)
	off := 1
	copy(out[off:], h.FromPeerID[:])
	off += PeerIDLen
	putU32(out[off:], uint32(h.StreamID))
	off += 4
	copy(out[off:], h.ToPeerID[:])
	off += PeerIDLen
	putU32(out[off:], h.LibraryVersion)
	off += 4
	putU16(out[off:], h.ProtocolVersion)
	off += 2
	out[off] = byte(h.Status)
	off++
	putU32(out[off:], h.RequestTime32)
	off += 4
	if h.RoleIsUser {
		out[off] = roleFlagUser
	}
	off++
	out[off] = byte(len(h.ExtensionIDs))

	var err error
	for _, ext := range h.ExtensionIDs {
		if out, err = appendStr(out, ext); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ParseHello decodes a hello packet.
func ParseHello(b []byte) (*Hello, error) {
	if len(b) > 0 && PacketType(b[0]) != PacketHello {
		return nil, ErrNotOurPacket
	}
	r := &reader{b: b, off: 1}
	if len(b) < helloFixedLen {
		return nil, ErrMalformedPacket
	}
	h := &Hello{}
	h.FromPeerID = r.peerID()
	h.StreamID = StreamID(r.u32())
	h.ToPeerID = r.peerID()
	h.LibraryVersion = r.u32()
	h.ProtocolVersion = r.u16()
	h.Status = HelloStatus(r.u8())
	h.RequestTime32 = r.u32()
	h.RoleIsUser = r.u8()&roleFlagUser != 0
	n := int(r.u8())
	if n > 0 {
		h.ExtensionIDs = make([]string, 0, n)
	}
	for i := 0; i < n; i++ {
		h.ExtensionIDs = append(h.ExtensionIDs, r.str())
	}
	if r.err != nil {
		return nil, r.err
	}
	return h, nil
}

// Response builds the reply to request h. The stream id and request time are
// copied. fromPeerID is the responder's id; when zero the request's target id
// is used instead.
func (h *Hello) Response(status HelloStatus, fromPeerID PeerID, roleIsUser bool, libraryVersion uint32, protocolVersion uint16) *Hello {
	if fromPeerID.IsZero() {
		fromPeerID = h.ToPeerID
	}
	return &Hello{
		FromPeerID:      fromPeerID,
		StreamID:        h.StreamID,
		ToPeerID:        h.FromPeerID,
		LibraryVersion:  libraryVersion,
		ProtocolVersion: protocolVersion,
		Status:          status,
		RequestTime32:   h.RequestTime32,
		RoleIsUser:      roleIsUser && status == StatusAccepted,
	}
}
