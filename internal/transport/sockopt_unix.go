//go:build linux || darwin || freebsd || netbsd || openbsd

package transport

import (
	"net"

	"golang.org/x/sys/unix"
)

// socketBuffers reads back the kernel's effective buffer sizes.
func socketBuffers(conn *net.UDPConn) (rcv int, snd int, err error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, 0, err
	}
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		rcv, sockErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF)
		if sockErr != nil {
			return
		}
		snd, sockErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF)
	})
	if ctrlErr != nil {
		return 0, 0, ctrlErr
	}
	return rcv, snd, sockErr
}
