package node

import "errors"

var (
	// ErrTooManyStreams is returned when a peer already owns the maximum
	// number of streams.
	ErrTooManyStreams = errors.New("node: too many streams for peer")

	// ErrStreamIDConflict is returned when a requested stream id is
	// already owned by another stream.
	ErrStreamIDConflict = errors.New("node: stream id not unique")

	// ErrStreamIDExhausted is returned when no unique stream id could be
	// drawn within the retry budget.
	ErrStreamIDExhausted = errors.New("node: failed to generate unique stream id")

	// ErrDuplicateStream indicates a pending stream could not be moved into
	// an already known peer because that peer owns the same stream id.
	ErrDuplicateStream = errors.New("node: duplicate stream in known peer")

	// ErrNotEstablished is returned when sending signaling over a stream
	// whose remote peer id is unknown.
	ErrNotEstablished = errors.New("node: stream not established")

	// ErrNoSockets is returned when a local peer has no socket to send from.
	ErrNoSockets = errors.New("node: no sockets")

	// ErrClosed is returned by operations on a closed local peer.
	ErrClosed = errors.New("node: closed")

	// ErrInvalidConfig is returned for configurations that cannot work.
	ErrInvalidConfig = errors.New("node: invalid config")
)
