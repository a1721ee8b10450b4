//go:build !linux

package transport

import (
	"errors"
	"net/netip"
)

func CheckPathMTU(remote netip.Addr) (PathMTU, error) {
	return PathMTU{}, errors.New("path mtu check is only supported on linux")
}
