// Package transport owns the benchmark UDP socket: binding with an ephemeral
// fallback, buffer sizing, TOS marking and the receive loop.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/simgunz/udp-ip-stack/internal/util"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const maxDatagramSize = 64 * 1024

var (
	ErrBindFailure   = errors.New("bind failure")
	ErrInvalidTarget = errors.New("invalid target address")
)

type Options struct {
	BindAddr    string
	Port        int
	TOS         int
	ReadBuffer  int
	WriteBuffer int
	// Strict disables the ephemeral-port fallback.
	Strict bool
}

// Socket is the single UDP endpoint used for commands, payloads and replies.
type Socket struct {
	conn     *net.UDPConn
	logger   util.Logger
	sendOnly bool
}

// DatagramHandler receives a private copy of every inbound datagram.
type DatagramHandler func(data []byte, from netip.AddrPort)

// Open binds the benchmark socket. When the configured port cannot be bound
// the failure is logged once and an ephemeral port is used instead; replies
// from the remote will not reach it, so the socket is flagged send-only.
func Open(opts Options, logger util.Logger) (*Socket, error) {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	bindIP, err := parseBindAddr(opts.BindAddr)
	if err != nil {
		return nil, err
	}
	network := "udp"
	if bindIP.To4() != nil {
		network = "udp4"
	}

	sendOnly := false
	conn, err := net.ListenUDP(network, &net.UDPAddr{IP: bindIP, Port: opts.Port})
	if err != nil {
		bindErr := fmt.Errorf("%w: %s:%d: %v", ErrBindFailure, opts.BindAddr, opts.Port, err)
		if opts.Strict {
			return nil, bindErr
		}
		logger.Warn("local port unavailable, falling back to ephemeral port", "error", bindErr)
		conn, err = net.ListenUDP(network, &net.UDPAddr{IP: bindIP, Port: 0})
		if err != nil {
			return nil, fmt.Errorf("%w: ephemeral: %v", ErrBindFailure, err)
		}
		sendOnly = opts.Port != 0
	}

	s := &Socket{conn: conn, logger: logger, sendOnly: sendOnly}
	s.applyOptions(opts)
	return s, nil
}

func parseBindAddr(addr string) (net.IP, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return net.IPv4zero, nil
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return nil, fmt.Errorf("invalid bind address %q", addr)
	}
	return ip, nil
}

func (s *Socket) applyOptions(opts Options) {
	if opts.ReadBuffer > 0 {
		if err := s.conn.SetReadBuffer(opts.ReadBuffer); err != nil {
			s.logger.Debug("set read buffer failed", "error", err)
		}
	}
	if opts.WriteBuffer > 0 {
		if err := s.conn.SetWriteBuffer(opts.WriteBuffer); err != nil {
			s.logger.Debug("set write buffer failed", "error", err)
		}
	}
	if rcv, snd, err := socketBuffers(s.conn); err == nil {
		s.logger.Debug("socket buffers", "read_bytes", rcv, "write_bytes", snd)
	}
	if opts.TOS > 0 {
		if err := s.setTOS(opts.TOS); err != nil {
			s.logger.Warn("set tos failed", "tos", opts.TOS, "error", err)
		}
	}
}

func (s *Socket) setTOS(tos int) error {
	if s.LocalAddr().Addr().Is4() {
		return ipv4.NewConn(s.conn).SetTOS(tos)
	}
	return ipv6.NewConn(s.conn).SetTrafficClass(tos)
}

func (s *Socket) Conn() *net.UDPConn {
	return s.conn
}

func (s *Socket) LocalAddr() netip.AddrPort {
	if ua, ok := s.conn.LocalAddr().(*net.UDPAddr); ok {
		return ua.AddrPort()
	}
	return netip.AddrPort{}
}

// SendOnly reports whether the socket fell back to an ephemeral port.
func (s *Socket) SendOnly() bool {
	return s.sendOnly
}

// WriteTo sends one datagram. Short writes are reported as errors.
func (s *Socket) WriteTo(b []byte, to netip.AddrPort) error {
	if !to.Addr().IsValid() {
		return ErrInvalidTarget
	}
	if s.LocalAddr().Addr().Is4() {
		to = netip.AddrPortFrom(to.Addr().Unmap(), to.Port())
	}
	n, err := s.conn.WriteToUDPAddrPort(b, to)
	if err != nil {
		return err
	}
	if n < len(b) {
		return errors.New("partial udp write")
	}
	return nil
}

// Serve reads datagrams until ctx is cancelled or the socket is closed.
func (s *Socket) Serve(ctx context.Context, handle DatagramHandler) error {
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.Close()
	})
	defer stop()

	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Debug("udp read failed", "error", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		handle(data, netip.AddrPortFrom(from.Addr().Unmap(), from.Port()))
	}
}

func (s *Socket) Close() error {
	return s.conn.Close()
}

// ParseTarget turns collaborator-supplied text into a destination. Text
// that is not an IP literal yields the zero address; sends to it fail.
func ParseTarget(text string, port int) netip.AddrPort {
	addr, err := netip.ParseAddr(strings.TrimSpace(text))
	if err != nil {
		return netip.AddrPortFrom(netip.Addr{}, uint16(port))
	}
	return netip.AddrPortFrom(addr.Unmap(), uint16(port))
}
