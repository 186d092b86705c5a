package channel

import "errors"

// Sentinel errors identifying the channel error taxonomy. Callers use
// errors.Is to classify a failure and decide how to react, matching the
// way bamgate's signaling client distinguishes clean shutdown from
// connection loss.
var (
	// ErrClosed is returned by ReadPacket/WritePacket once the channel
	// has been closed, locally or by the peer.
	ErrClosed = errors.New("channel: closed")

	// ErrInvalidData is returned when a read packet fails framing or
	// schema validation. The channel is closed before this is returned.
	ErrInvalidData = errors.New("channel: invalid data")

	// ErrAuthenticationFailed is returned when a peer's certificate does
	// not match what is pinned for its device id.
	ErrAuthenticationFailed = errors.New("channel: authentication failed")

	// ErrTimeout is returned when a payload transfer's bounded wait
	// expires: the payload listener's accept timeout in Serve. Download
	// is bounded only by its context and does not return it.
	ErrTimeout = errors.New("channel: timed out")
)
