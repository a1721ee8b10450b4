//go:build linux

package transport

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
)

// CheckPathMTU resolves the route to remote and reports whether the egress
// link can carry a full payload datagram without fragmentation.
func CheckPathMTU(remote netip.Addr) (PathMTU, error) {
	if !remote.IsValid() {
		return PathMTU{}, ErrInvalidTarget
	}
	routes, err := netlink.RouteGet(net.IP(remote.AsSlice()))
	if err != nil {
		return PathMTU{}, fmt.Errorf("route lookup: %w", err)
	}
	if len(routes) == 0 {
		return PathMTU{}, fmt.Errorf("no route to %s", remote)
	}
	route := routes[0]
	link, err := netlink.LinkByIndex(route.LinkIndex)
	if err != nil {
		return PathMTU{}, fmt.Errorf("link %d: %w", route.LinkIndex, err)
	}
	mtu := link.Attrs().MTU
	if route.MTU > 0 && route.MTU < mtu {
		mtu = route.MTU
	}
	return newPathMTU(link.Attrs().Name, mtu, remote), nil
}
