package device

import "time"

// PairState is one of the four states of the pairing handshake.
type PairState int

const (
	Unpaired PairState = iota
	RequestedByUs
	RequestedByPeer
	Paired
)

func (s PairState) String() string {
	switch s {
	case Unpaired:
		return "unpaired"
	case RequestedByUs:
		return "requested_by_us"
	case RequestedByPeer:
		return "requested_by_peer"
	case Paired:
		return "paired"
	default:
		return "unknown"
	}
}

// pairTimeout bounds how long a pending pair request waits for a
// response before reverting to Unpaired. A var, not a const, so tests
// can shrink it instead of waiting out the real 30s window.
var pairTimeout = 30 * time.Second
