//go:build !linux

package lan

import "net"

// enableBroadcast is a no-op on platforms where the unix SO_BROADCAST
// idiom isn't wired up (most OSes default UDP sockets to broadcast-
// capable already; Linux is the one that requires it explicitly for a
// wildcard-bound socket used with a directed broadcast address).
func enableBroadcast(conn *net.UDPConn) error {
	return nil
}
