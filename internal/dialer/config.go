package dialer

import (
	"net"
	"time"

	"github.com/die-net/sockstate/internal/resolver"
)

type Config struct {
	DialTimeout        time.Duration
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig

	// Resolver looks up hostnames for direct dials and SOCKS4 upstreams.
	// Nil means the system resolver.
	Resolver resolver.Resolver
}

func (c Config) resolver() resolver.Resolver {
	if c.Resolver != nil {
		return c.Resolver
	}
	return net.DefaultResolver
}
