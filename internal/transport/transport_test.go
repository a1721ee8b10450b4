package transport

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"
)

func openLoopback(t *testing.T, port int) *Socket {
	t.Helper()
	s, err := Open(Options{BindAddr: "127.0.0.1", Port: port, ReadBuffer: 1 << 20}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenFallsBackToEphemeralPort(t *testing.T) {
	first := openLoopback(t, 0)
	taken := int(first.LocalAddr().Port())

	second := openLoopback(t, taken)
	if !second.SendOnly() {
		t.Fatalf("expected send-only socket after bind failure")
	}
	if int(second.LocalAddr().Port()) == taken {
		t.Fatalf("fallback socket reused the taken port")
	}
	if first.SendOnly() {
		t.Fatalf("ephemeral request must not be flagged send-only")
	}
}

func TestOpenStrictBind(t *testing.T) {
	first := openLoopback(t, 0)
	_, err := Open(Options{BindAddr: "127.0.0.1", Port: int(first.LocalAddr().Port()), Strict: true}, nil)
	if !errors.Is(err, ErrBindFailure) {
		t.Fatalf("expected ErrBindFailure, got %v", err)
	}
}

func TestOpenRejectsBadBindAddr(t *testing.T) {
	if _, err := Open(Options{BindAddr: "not-an-ip"}, nil); err == nil {
		t.Fatalf("expected error for invalid bind address")
	}
}

func TestServeDeliversDatagrams(t *testing.T) {
	rx := openLoopback(t, 0)
	tx := openLoopback(t, 0)

	got := make(chan []byte, 1)
	from := make(chan netip.AddrPort, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- rx.Serve(ctx, func(data []byte, addr netip.AddrPort) {
			got <- data
			from <- addr
		})
	}()

	if err := tx.WriteTo([]byte{0x03, 0xE8}, rx.LocalAddr()); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case data := <-got:
		if len(data) != 2 || data[0] != 0x03 || data[1] != 0xE8 {
			t.Fatalf("unexpected datagram %x", data)
		}
		if addr := <-from; addr != tx.LocalAddr() {
			t.Fatalf("unexpected sender %s, want %s", addr, tx.LocalAddr())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("datagram not delivered")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not stop on cancel")
	}
}

func TestWriteToInvalidTarget(t *testing.T) {
	s := openLoopback(t, 0)
	err := s.WriteTo([]byte{0xAA}, ParseTarget("fpga.local", 33982))
	if !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
}

func TestParseTarget(t *testing.T) {
	got := ParseTarget(" 192.168.1.10 ", 33982)
	if got != netip.MustParseAddrPort("192.168.1.10:33982") {
		t.Fatalf("unexpected target %s", got)
	}
	got = ParseTarget("::ffff:10.0.0.1", 1)
	if !got.Addr().Is4() {
		t.Fatalf("mapped address not unmapped: %s", got)
	}
	got = ParseTarget("", 1)
	if got.Addr().IsValid() || got.Port() != 1 {
		t.Fatalf("expected zero address with port, got %s", got)
	}
}

func TestPathMTUFits(t *testing.T) {
	v4 := newPathMTU("eth0", 1500, netip.MustParseAddr("10.0.0.1"))
	if v4.Required != 1500 || !v4.Fits() {
		t.Fatalf("ipv4 1500 should fit: %+v", v4)
	}
	v6 := newPathMTU("eth0", 1500, netip.MustParseAddr("2001:db8::1"))
	if v6.Fits() {
		t.Fatalf("ipv6 1500 should not fit a 1472 payload: %+v", v6)
	}
	tunnel := newPathMTU("wg0", 1420, netip.MustParseAddr("10.0.0.1"))
	if tunnel.Fits() {
		t.Fatalf("1420 link should not fit: %+v", tunnel)
	}
}

func TestSocketBuffersApplied(t *testing.T) {
	s := openLoopback(t, 0)
	rcv, _, err := socketBuffers(s.Conn())
	if err != nil {
		t.Skipf("buffer query unsupported: %v", err)
	}
	if rcv <= 0 {
		t.Fatalf("unexpected read buffer %d", rcv)
	}
	var _ net.Conn = s.Conn()
}
