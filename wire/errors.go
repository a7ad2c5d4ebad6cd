package wire

import "errors"

var (
	// ErrNotOurPacket indicates the first byte is not a known packet type.
	ErrNotOurPacket = errors.New("wire: not a p2ptp packet")

	// ErrMalformedPacket indicates the packet is truncated or carries
	// out-of-range fields.
	ErrMalformedPacket = errors.New("wire: malformed packet")

	// ErrFieldTooLong is returned when encoding a string or list that does
	// not fit its one-byte length prefix.
	ErrFieldTooLong = errors.New("wire: field too long")

	// ErrInvalidPeerID is returned when a textual peer id is not 32 hex digits.
	ErrInvalidPeerID = errors.New("wire: invalid peer id")

	// ErrInvalidEndpoint is returned when encoding an endpoint that is not
	// a valid IPv4 or IPv6 address and port.
	ErrInvalidEndpoint = errors.New("wire: invalid endpoint")
)
