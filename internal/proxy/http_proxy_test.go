package proxy

import (
	"bufio"
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/die-net/sockstate/internal/auth"
	"github.com/die-net/sockstate/internal/dialer"
	"github.com/die-net/sockstate/internal/handshake"
	"github.com/die-net/sockstate/internal/testutil"
)

func startHTTPProxy(t *testing.T, ctx context.Context, cfg Config) net.Listener {
	t.Helper()

	if cfg.Dialer == nil {
		cfg.Dialer = dialer.NewDirectDialer(testDialerConfig)
	}
	cfg.NegotiationTimeout = 2 * time.Second

	ln, err := ListenTCP("tcp", "127.0.0.1:0", net.KeepAliveConfig{Enable: false}, false)
	if err != nil {
		t.Fatal(err)
	}

	srv := NewHTTPProxyServer(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		_ = srv.Close()
		_ = ln.Close()
	})
	return ln
}

// connect sends a CONNECT for target with optional extra header lines and
// returns the response and a reader positioned after it.
func connect(t *testing.T, proxyAddr, target string, header http.Header) (net.Conn, *bufio.Reader, *http.Response) {
	t.Helper()

	c, err := net.Dial("tcp", proxyAddr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })

	req := &http.Request{Method: http.MethodConnect, Host: target, URL: &url.URL{Opaque: target}, Header: header}
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if err := req.Write(c); err != nil {
		t.Fatal(err)
	}
	br := bufio.NewReader(c)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	return c, br, resp
}

func TestHTTPProxyConnectDirect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	ln := startHTTPProxy(t, ctx, Config{})

	c, br, resp := connect(t, ln.Addr().String(), echoLn.Addr().String(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}
	testutil.AssertEcho(t, c, br, []byte("hello"))
}

// TestHTTPProxyConnectViaSOCKS tunnels an HTTP CONNECT through the SOCKS
// server using each upstream protocol.
func TestHTTPProxyConnectViaSOCKS(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	socksLn := startServer(t, ctx, Config{})

	for _, proto := range []handshake.Proto{handshake.SOCKS5, handshake.SOCKS4, handshake.SOCKS4a} {
		t.Run(proto.String(), func(t *testing.T) {
			echoLn := testutil.StartEchoTCPServer(t, ctx)
			_, port, err := net.SplitHostPort(echoLn.Addr().String())
			if err != nil {
				t.Fatal(err)
			}

			up := dialer.NewSOCKSProxyDialer(testDialerConfig, proto, socksLn.Addr().String(), handshake.Auth{})
			ln := startHTTPProxy(t, ctx, Config{Dialer: up})

			c, br, resp := connect(t, ln.Addr().String(), net.JoinHostPort("localhost", port), nil)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200 got %d", resp.StatusCode)
			}
			testutil.AssertEcho(t, c, br, []byte("hello"))
		})
	}
}

func TestHTTPProxyConnectDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ln := startHTTPProxy(t, ctx, Config{})

	_, _, resp := connect(t, ln.Addr().String(), testutil.ClosedTCPAddr(t), nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d", resp.StatusCode)
	}
}

func TestHTTPProxyAuth(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hash, err := auth.HashPassword("secret", 4)
	if err != nil {
		t.Fatal(err)
	}
	store, err := auth.NewStore("alice:" + hash)
	if err != nil {
		t.Fatal(err)
	}
	ln := startHTTPProxy(t, ctx, Config{Auth: store})

	basic := func(user, pass string) http.Header {
		return http.Header{"Proxy-Authorization": {"Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))}}
	}

	tests := []struct {
		name   string
		header http.Header
		want   int
	}{
		{name: "valid", header: basic("alice", "secret"), want: http.StatusOK},
		{name: "wrong_password", header: basic("alice", "nope"), want: http.StatusProxyAuthRequired},
		{name: "unknown_user", header: basic("bob", "secret"), want: http.StatusProxyAuthRequired},
		{name: "missing", want: http.StatusProxyAuthRequired},
		{name: "bearer", header: http.Header{"Proxy-Authorization": {"Bearer abc"}}, want: http.StatusProxyAuthRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			echoLn := testutil.StartEchoTCPServer(t, ctx)

			c, br, resp := connect(t, ln.Addr().String(), echoLn.Addr().String(), tt.header)
			if resp.StatusCode != tt.want {
				t.Fatalf("expected %d got %d", tt.want, resp.StatusCode)
			}
			if tt.want != http.StatusOK {
				if resp.Header.Get("Proxy-Authenticate") == "" {
					t.Fatal("missing Proxy-Authenticate")
				}
				return
			}
			testutil.AssertEcho(t, c, br, []byte("hello"))
		})
	}
}

func TestHTTPProxyForwardsPlainRequests(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Forwarded-For") != "" {
			http.Error(w, "unexpected X-Forwarded-For", http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, "origin:"+r.URL.Path)
	}))
	defer origin.Close()

	socksLn := startServer(t, ctx, Config{})
	up := dialer.NewSOCKSProxyDialer(testDialerConfig, handshake.SOCKS5, socksLn.Addr().String(), handshake.Auth{})
	ln := startHTTPProxy(t, ctx, Config{Dialer: up})

	proxyURL := &url.URL{Scheme: "http", Host: ln.Addr().String()}
	client := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin.URL+"/path", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || string(body) != "origin:/path" {
		t.Fatalf("got %d %q", resp.StatusCode, body)
	}
}

func TestStatusForDial(t *testing.T) {
	if got := statusForDial(context.DeadlineExceeded); got != http.StatusGatewayTimeout {
		t.Fatalf("deadline: got %d", got)
	}
	if got := statusForDial(io.EOF); got != http.StatusBadGateway {
		t.Fatalf("eof: got %d", got)
	}
}
