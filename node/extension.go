package node

// Extension adds a protocol on top of established streams. All methods are
// called on the control worker.
type Extension interface {
	// ID is announced to remote peers during the handshake.
	ID() string
	// PayloadTag selects which payload packets belong to the extension.
	PayloadTag() uint8
	// OnStreamCreated returns the per-stream state of the extension.
	OnStreamCreated(s *Stream) StreamExtension
	// OnTimer is called on every control tick.
	OnTimer()
}

// StreamExtension is the per-stream half of an Extension.
type StreamExtension interface {
	// OnReceivedPayload is called on the socket's receive goroutine.
	OnReceivedPayload(pkt []byte)
	// OnReceivedSignaling is called on the control worker.
	OnReceivedSignaling(body []byte)
	// OnDestroyed releases resources. It is called once, on the control
	// worker, when the stream is removed.
	OnDestroyed()
}

// StatusReporter is implemented by stream extensions that expose
// diagnostics in snapshots.
type StatusReporter interface {
	Status() any
}
