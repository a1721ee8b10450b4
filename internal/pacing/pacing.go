// Package pacing decides when the packet pump may hand the next datagram to
// the transport.
//
// Two strategies satisfy the same Source contract: Readiness parks the pump
// until the socket reports it can accept more data, Interval spaces sends by a
// fixed period on platforms without write-readiness notification.
package pacing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"
)

const (
	ModeAuto      = "auto"
	ModeReadiness = "readiness"
	ModeInterval  = "interval"
)

var ErrUnsupported = errors.New("write-readiness pacing is not supported on this platform")

// Source transmits one datagram per call, blocking until the transport is
// able to take it.
type Source interface {
	Send(ctx context.Context, b []byte, to netip.AddrPort) error
	Name() string
}

// DatagramWriter is the subset of *net.UDPConn used by interval pacing.
type DatagramWriter interface {
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
}

// ReadinessSupported reports whether this build can drive the pump from
// socket write-readiness.
func ReadinessSupported() bool {
	return readinessSupported
}

// New selects a pacing source for conn. ModeAuto prefers readiness and falls
// back to interval pacing with the given period.
func New(mode string, conn *net.UDPConn, interval time.Duration) (Source, error) {
	if conn == nil {
		return nil, errors.New("nil udp connection")
	}
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeAuto:
		if readinessSupported {
			return NewReadiness(conn)
		}
		return NewInterval(conn, interval), nil
	case ModeReadiness:
		return NewReadiness(conn)
	case ModeInterval:
		return NewInterval(conn, interval), nil
	default:
		return nil, fmt.Errorf("unknown pacing mode %q", mode)
	}
}
