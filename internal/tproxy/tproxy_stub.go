//go:build !linux && !freebsd && !openbsd

package tproxy

import (
	"errors"
	"net"
	"net/netip"
)

const Supported = false

var errUnsupported = errors.New("transparent proxy is only supported on linux, freebsd and openbsd")

func ListenTransparentTCP(_ string, _ net.KeepAliveConfig) (net.Listener, error) {
	return nil, errUnsupported
}

func OriginalDst(_ net.Conn) (netip.AddrPort, error) {
	return netip.AddrPort{}, errUnsupported
}
