//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package pacing

import (
	"context"
	"net"
	"net/netip"
)

const readinessSupported = false

type Readiness struct {
	afterWrite func()
}

func NewReadiness(conn *net.UDPConn) (*Readiness, error) {
	return nil, ErrUnsupported
}

func (s *Readiness) Send(ctx context.Context, b []byte, to netip.AddrPort) error {
	return ErrUnsupported
}

func (s *Readiness) Name() string {
	return ModeReadiness
}
