package negotiation

import "errors"

var (
	// ErrMediaAcquisition means local capture was denied or unavailable.
	// Fatal to starting a session.
	ErrMediaAcquisition = errors.New("local media acquisition failed")

	// ErrPeerConnectionCreation means the media engine could not build a
	// peer connection. Fatal to the session.
	ErrPeerConnectionCreation = errors.New("peer connection creation failed")

	// ErrStaleHandle marks a completion that targets a peer connection
	// which has since been replaced or closed. Such completions are dropped.
	ErrStaleHandle = errors.New("stale peer connection handle")

	// ErrInvalidState is returned for an operation that is not valid in the
	// machine's current state. The operation is dropped; the session goes on.
	ErrInvalidState = errors.New("operation not valid in current state")

	// ErrConnectionFailed means ICE or DTLS failed on the live connection.
	ErrConnectionFailed = errors.New("peer connection failed")

	// ErrClosed is returned by operations submitted after the machine closed.
	ErrClosed = errors.New("negotiation closed")
)
