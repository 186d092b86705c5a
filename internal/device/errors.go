package device

import "errors"

var (
	// ErrDisconnected is returned by Send when the device has no live
	// channel and the packet is not persistable.
	ErrDisconnected = errors.New("device: disconnected")

	// ErrNotPending is returned by Accept/Reject when the device is not
	// currently waiting on a pairing response.
	ErrNotPending = errors.New("device: no pairing request is pending")

	// ErrAlreadyPending is returned by RequestPair when the device is not
	// Unpaired: a request is already outstanding in either direction, or
	// the device is already paired.
	ErrAlreadyPending = errors.New("device: a pairing request is already pending")

	// ErrCertificateMismatch is returned by Bind when a channel arrives
	// for a paired device whose peer certificate no longer matches the
	// one pinned at pairing time.
	ErrCertificateMismatch = errors.New("device: peer certificate does not match pinned identity")
)
