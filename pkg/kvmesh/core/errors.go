package core

import "errors"

// Error kinds from spec §7. None of these ever propagate to the application
// goroutine; they only ever cause a session to close or a connector to
// back off, observed by callers solely as a peer's absence from convergence.
var (
	// ErrDisconnected is returned by the codec/session when the peer
	// closes its end (EOF) or resets the connection.
	ErrDisconnected = errors.New("kvmesh: peer disconnected")

	// ErrMalformedFrame is returned when a length prefix or encoded entry
	// cannot be decoded, or exceeds the bounds of its surrounding frame.
	ErrMalformedFrame = errors.New("kvmesh: malformed frame")

	// ErrOversizedFrame is returned when a record would exceed a session's
	// configured buffer cap.
	ErrOversizedFrame = errors.New("kvmesh: oversized frame")

	// ErrConnectFailed is returned by an outbound connector attempt; it is
	// never fatal to the reactor, only to that one dial.
	ErrConnectFailed = errors.New("kvmesh: connect failed")

	// ErrHandshakeRejected is returned when a welcome record names an
	// identifier outside [1,127] or one already bound to an active
	// session (self-collision).
	ErrHandshakeRejected = errors.New("kvmesh: handshake rejected")

	// ErrStorageError wraps a failure from the storage adapter; the
	// caller logs and drops the entry instead of crashing the reactor.
	ErrStorageError = errors.New("kvmesh: storage error")
)
