package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

type directDialer struct {
	cfg Config
}

func NewDirectDialer(cfg Config) Dialer {
	return &directDialer{cfg: cfg}
}

// DialContext resolves address with the configured Resolver and tries each
// address in turn until one connects.
func (f *directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}

	var addrs []netip.Addr
	if ip, err := netip.ParseAddr(host); err == nil {
		addrs = []netip.Addr{ip}
	} else {
		addrs, err = f.cfg.resolver().LookupNetIP(ctx, lookupNetwork(network), host)
		if err != nil {
			return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
		}
	}

	dd := net.Dialer{Timeout: f.cfg.DialTimeout}

	var errs []error
	for _, ip := range addrs {
		conn, err := dd.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		if err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetKeepAliveConfig(f.cfg.KeepAlive)
		}
		return conn, nil
	}
	return nil, fmt.Errorf("dial %s %s: %w", network, address, errors.Join(errs...))
}

func lookupNetwork(network string) string {
	switch network {
	case "tcp4":
		return "ip4"
	case "tcp6":
		return "ip6"
	}
	return "ip"
}

// lookupIPv4 returns the first IPv4 address for host.
func lookupIPv4(ctx context.Context, cfg Config, host string) (string, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		if ip = ip.Unmap(); ip.Is4() {
			return ip.String(), nil
		}
		return "", fmt.Errorf("%s is not an IPv4 address", host)
	}
	addrs, err := cfg.resolver().LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return "", err
	}
	for _, ip := range addrs {
		if ip = ip.Unmap(); ip.Is4() {
			return ip.String(), nil
		}
	}
	return "", &net.DNSError{Err: "no IPv4 address", Name: host, IsNotFound: true}
}
