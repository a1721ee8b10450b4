//go:build linux || darwin || freebsd || netbsd || openbsd

package pacing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const readinessSupported = true

// Readiness performs a non-blocking sendto inside RawConn.Write. When the
// socket buffer is full the callback returns false and the runtime poller
// parks the caller until the descriptor is writable again.
type Readiness struct {
	conn *net.UDPConn
	raw  syscall.RawConn
	ipv6 bool

	// afterWrite runs between the syscall and deadline cleanup; tests use it
	// to cancel at that point.
	afterWrite func()
}

func NewReadiness(conn *net.UDPConn) (*Readiness, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	ipv6 := false
	if la, ok := conn.LocalAddr().(*net.UDPAddr); ok && la.IP.To4() == nil {
		ipv6 = true
	}
	return &Readiness{conn: conn, raw: raw, ipv6: ipv6}, nil
}

func (s *Readiness) Send(ctx context.Context, b []byte, to netip.AddrPort) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sa, err := s.sockaddr(to)
	if err != nil {
		return err
	}

	// A parked writer only wakes on writability or a deadline, so
	// cancellation is turned into an immediate deadline. The socket is
	// shared with command sends, so a deadline set by a callback that
	// already started must be cleared before returning.
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		_ = s.conn.SetWriteDeadline(time.Now())
	})
	defer func() {
		if !stop() {
			<-fired
			_ = s.conn.SetWriteDeadline(time.Time{})
		}
	}()

	var sendErr error
	ctrlErr := s.raw.Write(func(fd uintptr) bool {
		sendErr = unix.Sendto(int(fd), b, unix.MSG_DONTWAIT, sa)
		return !errors.Is(sendErr, unix.EAGAIN)
	})
	if s.afterWrite != nil {
		s.afterWrite()
	}
	if ctrlErr != nil {
		if errors.Is(ctrlErr, os.ErrDeadlineExceeded) && ctx.Err() != nil {
			return ctx.Err()
		}
		return ctrlErr
	}
	return sendErr
}

func (s *Readiness) Name() string {
	return ModeReadiness
}

func (s *Readiness) sockaddr(to netip.AddrPort) (unix.Sockaddr, error) {
	addr := to.Addr()
	if !addr.IsValid() {
		return nil, fmt.Errorf("invalid destination %s", to)
	}
	if s.ipv6 {
		return &unix.SockaddrInet6{Port: int(to.Port()), Addr: addr.As16()}, nil
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return nil, fmt.Errorf("ipv6 destination %s on ipv4 socket", to)
	}
	return &unix.SockaddrInet4{Port: int(to.Port()), Addr: addr.As4()}, nil
}
