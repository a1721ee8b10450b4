package transport

import (
	"net/netip"

	"github.com/simgunz/udp-ip-stack/internal/protocol"
)

// PathMTU describes the egress link towards the remote.
type PathMTU struct {
	Link     string
	MTU      int
	Required int
}

func (p PathMTU) Fits() bool {
	return p.MTU >= p.Required
}

func newPathMTU(link string, mtu int, remote netip.Addr) PathMTU {
	overhead := protocol.UDPIPv4Overhead
	if remote.Is6() && !remote.Is4In6() {
		overhead = protocol.UDPIPv6Overhead
	}
	return PathMTU{
		Link:     link,
		MTU:      mtu,
		Required: protocol.PayloadSize + overhead,
	}
}
