package dialer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/txthinking/socks5"

	"github.com/die-net/sockstate/internal/handshake"
	"github.com/die-net/sockstate/internal/socks"
	"github.com/die-net/sockstate/internal/testutil"
)

func TestSOCKS5ProxyDialerDialSuccess(t *testing.T) {
	tests := []struct {
		name string
		user string
		pass string
	}{
		{name: "no_auth"},
		{name: "user_pass", user: "user", pass: "pass"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			echoLn := testutil.StartEchoTCPServer(t, ctx)
			defer echoLn.Close()

			upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
				_ = handleSOCKS5Connect(ctx, c, tt.user, tt.pass)
			})

			f := NewSOCKSProxyDialer(Config{DialTimeout: 2 * time.Second}, handshake.SOCKS5, upLn.Addr().String(),
				handshake.Auth{Username: tt.user, Password: tt.pass})

			conn, err := f.DialContext(ctx, "tcp", echoLn.Addr().String())
			if err != nil {
				t.Fatal(err)
			}
			defer conn.Close()

			testutil.AssertEcho(t, conn, conn, []byte("hello"))

			waitUp()
		})
	}
}

func TestSOCKS4ProxyDialerDialSuccess(t *testing.T) {
	tests := []struct {
		name  string
		proto handshake.Proto
		want  func(echoPort string) string
	}{
		{name: "socks4", proto: handshake.SOCKS4, want: func(p string) string { return net.JoinHostPort("127.0.0.1", p) }},
		{name: "socks4a", proto: handshake.SOCKS4a, want: func(p string) string { return net.JoinHostPort("echo.test", p) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			echoLn := testutil.StartEchoTCPServer(t, ctx)
			defer echoLn.Close()
			_, port, err := net.SplitHostPort(echoLn.Addr().String())
			if err != nil {
				t.Fatal(err)
			}

			upErr := make(chan error, 1)
			upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
				upErr <- handleSOCKSConnect(ctx, c, tt.want(port), echoLn.Addr().String())
			})

			cfg := Config{
				DialTimeout: 2 * time.Second,
				Resolver:    staticResolver{"echo.test": {netip.MustParseAddr("127.0.0.1")}},
			}
			f := NewSOCKSProxyDialer(cfg, tt.proto, upLn.Addr().String(), handshake.Auth{Username: "ident"})

			conn, err := f.DialContext(ctx, "tcp", net.JoinHostPort("echo.test", port))
			if err != nil {
				t.Fatal(err)
			}
			defer conn.Close()

			testutil.AssertEcho(t, conn, conn, []byte("hello"))

			waitUp()
			if err := <-upErr; err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestSOCKS5ProxyDialerDialContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lc := net.ListenConfig{}
	upLn, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer upLn.Close()

	f := NewSOCKSProxyDialer(Config{DialTimeout: 2 * time.Second}, handshake.SOCKS5, upLn.Addr().String(), handshake.Auth{})

	_, err = f.DialContext(ctx, "tcp", "127.0.0.1:1")
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestSOCKS5ProxyDialerCancelDuringHandshake(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	upLn, waitUp := testutil.StartSingleAcceptServer(t, context.Background(), func(c net.Conn) {
		// Read the greeting, then stall until the client gives up.
		_, _ = socks5.NewNegotiationRequestFrom(c)
		cancel()
		_, _ = io.Copy(io.Discard, c)
	})

	f := NewSOCKSProxyDialer(Config{DialTimeout: 2 * time.Second}, handshake.SOCKS5, upLn.Addr().String(), handshake.Auth{})

	_, err := f.DialContext(ctx, "tcp", "127.0.0.1:1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}

	waitUp()
}

func TestSOCKS5ProxyDialerNegotiationTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		_, _ = io.Copy(io.Discard, c)
	})

	cfg := Config{DialTimeout: 2 * time.Second, NegotiationTimeout: 50 * time.Millisecond}
	f := NewSOCKSProxyDialer(cfg, handshake.SOCKS5, upLn.Addr().String(), handshake.Auth{})

	_, err := f.DialContext(ctx, "tcp", "127.0.0.1:1")
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("got %v, want timeout", err)
	}

	waitUp()
}

func TestSOCKS5ProxyDialerDialFail(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		if _, err := socks5.NewNegotiationRequestFrom(c); err != nil {
			return
		}
		if _, err := socks5.NewNegotiationReply(socks5.MethodNone).WriteTo(c); err != nil {
			return
		}
		req, err := socks5.NewRequestFrom(c)
		if err != nil {
			return
		}
		if req.Cmd != socks5.CmdConnect {
			return
		}
		_, _ = socks5.NewReply(socks5.RepConnectionRefused, socks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00}).WriteTo(c)
	})

	f := NewSOCKSProxyDialer(Config{DialTimeout: 2 * time.Second}, handshake.SOCKS5, upLn.Addr().String(), handshake.Auth{})

	_, err := f.DialContext(ctx, "tcp", "127.0.0.1:1")
	var replyErr *handshake.ReplyError
	if !errors.As(err, &replyErr) || replyErr.Status != socks.StatusConnRefused {
		t.Fatalf("got %v, want connection refused reply", err)
	}

	waitUp()
}

func TestSOCKSProxyDialerUnsupportedNetwork(t *testing.T) {
	f := NewSOCKSProxyDialer(Config{}, handshake.SOCKS5, "127.0.0.1:1", handshake.Auth{})
	if _, err := f.DialContext(context.Background(), "udp", "127.0.0.1:53"); err == nil {
		t.Fatal("expected error")
	}
}

// handleSOCKS5Connect is an upstream proxy written against an independent
// SOCKS5 implementation.
func handleSOCKS5Connect(ctx context.Context, c net.Conn, user, pass string) error {
	if _, err := socks5.NewNegotiationRequestFrom(c); err != nil {
		return err
	}

	if user == "" && pass == "" {
		if _, err := socks5.NewNegotiationReply(socks5.MethodNone).WriteTo(c); err != nil {
			return err
		}
	} else {
		if _, err := socks5.NewNegotiationReply(socks5.MethodUsernamePassword).WriteTo(c); err != nil {
			return err
		}

		urq, err := socks5.NewUserPassNegotiationRequestFrom(c)
		if err != nil {
			return err
		}
		if string(urq.Uname) != user || string(urq.Passwd) != pass {
			_, _ = socks5.NewUserPassNegotiationReply(socks5.UserPassStatusFailure).WriteTo(c)
			return nil
		}
		if _, err := socks5.NewUserPassNegotiationReply(socks5.UserPassStatusSuccess).WriteTo(c); err != nil {
			return err
		}
	}

	req, err := socks5.NewRequestFrom(c)
	if err != nil {
		return err
	}
	if req.Cmd != socks5.CmdConnect {
		_, _ = socks5.NewReply(socks5.RepCommandNotSupported, socks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00}).WriteTo(c)
		return nil
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", req.Address())
	if err != nil {
		_, _ = socks5.NewReply(socks5.RepHostUnreachable, socks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00}).WriteTo(c)
		return nil
	}
	defer dst.Close()

	a, addr, port, err := socks5.ParseAddress(dst.LocalAddr().String())
	if err != nil {
		return err
	}
	if a == socks5.ATYPDomain {
		addr = addr[1:]
	}
	if _, err := socks5.NewReply(socks5.RepSuccess, a, addr, port).WriteTo(c); err != nil {
		return err
	}

	relay(c, dst)
	return nil
}

// handleSOCKSConnect is a SOCKS4/4a upstream that checks the requested
// destination is want and connects to dstAddr instead.
func handleSOCKSConnect(ctx context.Context, c net.Conn, want, dstAddr string) error {
	srv, err := handshake.NewServer(c, nil)
	if err != nil {
		return err
	}
	req, err := srv.Handshake()
	if err != nil {
		return err
	}
	if req.HostPort() != want {
		_ = srv.Reply(nil, handshake.ErrNotAllowed)
		return fmt.Errorf("got destination %s, want %s", req.HostPort(), want)
	}
	if req.UserID != "ident" {
		_ = srv.Reply(nil, handshake.ErrNotAllowed)
		return fmt.Errorf("got userid %q", req.UserID)
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", dstAddr)
	if err != nil {
		_ = srv.Reply(nil, err)
		return err
	}
	defer dst.Close()

	if err := srv.Reply(dst.LocalAddr(), nil); err != nil {
		return err
	}
	relay(srv.Conn(), dst)
	return nil
}

func relay(c, dst net.Conn) {
	go func() {
		_, _ = io.Copy(dst, c)
		_ = dst.Close()
	}()
	_, _ = io.Copy(c, dst)
}
