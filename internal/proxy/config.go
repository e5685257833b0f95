package proxy

import (
	"net"
	"time"

	"github.com/die-net/sockstate/internal/dialer"
	"github.com/die-net/sockstate/internal/handshake"
)

type Config struct {
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig
	ReusePort bool

	HTTPIdleTimeout  time.Duration
	HTTPMaxIdleConns int

	Dialer dialer.Dialer

	// Auth, when set, requires SOCKS5 clients to authenticate with
	// username/password and turns away SOCKS4 clients. HTTP proxy clients
	// must send Basic Proxy-Authorization.
	Auth handshake.Authenticator
}
