package wire

import (
	"crypto/rand"
	"encoding/hex"
)

// PeerIDLen is the encoded size of a PeerID.
const PeerIDLen = 16

// PeerID identifies a peer. The all-zero value means "absent" on the wire
// and is never generated.
type PeerID [PeerIDLen]byte

// NewPeerID returns a random non-zero identifier.
func NewPeerID() PeerID {
	var id PeerID
	for id.IsZero() {
		_, _ = rand.Read(id[:])
	}
	return id
}

// IsZero reports whether id is the absent identifier.
func (id PeerID) IsZero() bool {
	return id == PeerID{}
}

func (id PeerID) String() string {
	if id.IsZero() {
		return "<none>"
	}
	return hex.EncodeToString(id[:])
}

// ParsePeerID decodes a hex string produced by String.
func ParsePeerID(s string) (PeerID, error) {
	var id PeerID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != PeerIDLen {
		return id, ErrInvalidPeerID
	}
	copy(id[:], b)
	return id, nil
}

// StreamID identifies a stream among all streams owned by one local peer.
// Zero is never assigned.
type StreamID uint32
