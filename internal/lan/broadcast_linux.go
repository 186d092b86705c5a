//go:build linux

package lan

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// enableBroadcast sets SO_BROADCAST on the UDP socket backing conn, the
// same raw-socket-option idiom the teacher's netlink layer uses for
// socket/interface manipulation (golang.org/x/sys/unix), applied here to
// a plain sockopt instead of a netlink request.
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("obtaining raw connection: %w", err)
	}

	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return fmt.Errorf("controlling socket: %w", err)
	}
	if sockErr != nil {
		return fmt.Errorf("setting SO_BROADCAST: %w", sockErr)
	}
	return nil
}
