//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package transport

import (
	"errors"
	"net"
)

func socketBuffers(conn *net.UDPConn) (int, int, error) {
	return 0, 0, errors.New("socket buffer query unsupported")
}
