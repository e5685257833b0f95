package dialer

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/die-net/sockstate/internal/handshake"
)

// SOCKSProxyDialer dials outbound TCP connections via an upstream SOCKS4,
// SOCKS4a or SOCKS5 proxy.
type SOCKSProxyDialer struct {
	cfg       Config
	proto     handshake.Proto
	proxyAddr string
	auth      handshake.Auth
	direct    Dialer
}

// NewSOCKSProxyDialer constructs a dialer for the proxy at proxyAddr. For
// SOCKS4 and SOCKS4a, auth.Username is sent as the userid.
func NewSOCKSProxyDialer(cfg Config, proto handshake.Proto, proxyAddr string, auth handshake.Auth) *SOCKSProxyDialer {
	return &SOCKSProxyDialer{
		cfg:       cfg,
		proto:     proto,
		proxyAddr: proxyAddr,
		auth:      auth,
		direct:    NewDirectDialer(cfg),
	}
}

// ProxyAddr returns the proxy host:port.
func (f *SOCKSProxyDialer) ProxyAddr() string {
	return f.proxyAddr
}

// DialContext establishes a TCP connection to address via the proxy.
//
// SOCKS4 cannot carry hostnames, so for it the destination is resolved
// locally first. If NegotiationTimeout is set, a deadline is applied during
// the handshake and cleared before returning. Canceling ctx aborts the
// handshake.
func (f *SOCKSProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("%s proxy dial %s %s: unsupported network", f.proto, network, address)
	}

	if f.proto == handshake.SOCKS4 {
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			return nil, fmt.Errorf("%s proxy dial %s: %w", f.proto, address, err)
		}
		ip, err := lookupIPv4(ctx, f.cfg, host)
		if err != nil {
			return nil, fmt.Errorf("%s proxy dial %s: %w", f.proto, address, err)
		}
		address = net.JoinHostPort(ip, port)
	}

	c, err := f.direct.DialContext(ctx, "tcp", f.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("%s proxy: %w", f.proto, err)
	}

	if f.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(f.cfg.NegotiationTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.SetDeadline(time.Unix(1, 0))
	})

	conn, err := handshake.ClientDial(c, f.proto, f.auth, address)
	if !stop() {
		_ = c.Close()
		return nil, fmt.Errorf("%s proxy dial %s: %w", f.proto, address, ctx.Err())
	}
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("%s proxy dial %s: %w", f.proto, address, err)
	}

	if f.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Time{})
	}
	return conn, nil
}
