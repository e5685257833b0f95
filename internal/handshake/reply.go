package handshake

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/die-net/sockstate/internal/socks"
)

// ErrCommandNotSupported is passed to Reply for commands the server does not
// implement.
var ErrCommandNotSupported = errors.New("socks: command not supported")

// StatusFor maps a dial or policy error to the SOCKS5 reply status that
// best describes it.
func StatusFor(err error) socks.Status {
	var (
		replyErr *ReplyError
		dnsErr   *net.DNSError
		netErr   net.Error
	)
	switch {
	case err == nil:
		return socks.StatusSuccess
	case errors.Is(err, ErrCommandNotSupported):
		return socks.StatusCmdNotSupported
	case errors.Is(err, ErrNotAllowed):
		return socks.StatusNotAllowed
	case errors.As(err, &replyErr) && replyErr.Socks4 == 0:
		return replyErr.Status
	case errors.Is(err, syscall.ECONNREFUSED):
		return socks.StatusConnRefused
	case errors.Is(err, syscall.ENETUNREACH):
		return socks.StatusNetworkUnreachable
	case errors.Is(err, syscall.EHOSTUNREACH), errors.As(err, &dnsErr):
		return socks.StatusHostUnreachable
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return socks.StatusTTLExpired
	}
	return socks.StatusGeneralFailure
}
