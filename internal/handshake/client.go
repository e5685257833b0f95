package handshake

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/die-net/sockstate/internal/socks"
)

// Proto is the protocol a client speaks to its proxy.
type Proto uint8

const (
	SOCKS5 Proto = iota
	SOCKS4
	SOCKS4a
)

func (p Proto) String() string {
	switch p {
	case SOCKS5:
		return "socks5"
	case SOCKS4:
		return "socks4"
	case SOCKS4a:
		return "socks4a"
	}
	return fmt.Sprintf("Proto(%d)", uint8(p))
}

// Auth configures optional username/password authentication. For SOCKS4
// only Username is sent, as the userid.
type Auth struct {
	Username string
	Password string
}

// ErrNoAcceptableMethods is returned when the server accepted none of the
// offered methods.
var ErrNoAcceptableMethods = errors.New("socks: no acceptable authentication methods")

// ReplyError is a non-success reply from the server.
type ReplyError struct {
	Status socks.Status

	// Socks4 is set instead of Status for SOCKS4 replies.
	Socks4 socks.Socks4Status
}

func (e *ReplyError) Error() string {
	if e.Socks4 != 0 {
		return "socks4 request failed: " + e.Socks4.String()
	}
	return "socks5 request failed: " + e.Status.String()
}

// Client is the client side of one handshake.
type Client struct {
	s *session
}

// NewClient returns a Client speaking over conn, which should already be
// connected to the proxy.
func NewClient(conn net.Conn, opts ...socks.Option) (*Client, error) {
	s, err := newSession(conn, socks.Client, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{s: s}, nil
}

// ClientDial runs a complete CONNECT handshake for address and returns conn
// ready for the proxied stream.
func ClientDial(conn net.Conn, proto Proto, auth Auth, address string, opts ...socks.Option) (net.Conn, error) {
	c, err := NewClient(conn, opts...)
	if err != nil {
		return nil, err
	}
	switch proto {
	case SOCKS5:
		if err := c.Negotiate(auth); err != nil {
			return nil, err
		}
		if _, err := c.Connect(address); err != nil {
			return nil, err
		}
	case SOCKS4, SOCKS4a:
		if _, err := c.Socks4Connect(address, auth.Username, proto == SOCKS4a); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported protocol %s", proto)
	}
	return c.Conn(), nil
}

// Negotiate runs SOCKS5 method selection, and RFC 1929 when the server
// asks for it. Username/password is offered only when auth has a username.
func (c *Client) Negotiate(auth Auth) error {
	methods := []socks.AuthMethod{socks.MethodNoAuth}
	if auth.Username != "" {
		methods = append(methods, socks.MethodUsernamePassword)
	}
	greeting, err := socks.NewGreetingRequest(methods...)
	if err != nil {
		return err
	}
	if err := c.s.send(greeting); err != nil {
		return fmt.Errorf("negotiation: %w", err)
	}

	ev, err := c.s.recv()
	if err != nil {
		return fmt.Errorf("negotiation: %w", err)
	}
	// The machine rejects SOCKS4 replies and methods that were not offered.
	switch ev.(socks.GreetingResponse).Method {
	case socks.MethodNoAuth:
		return nil
	case socks.MethodNoAcceptable:
		return ErrNoAcceptableMethods
	}

	// Username/password was offered and selected.
	req, err := socks.NewAuthRequest(auth.Username, auth.Password)
	if err != nil {
		return err
	}
	if err := c.s.send(req); err != nil {
		return fmt.Errorf("userpass: %w", err)
	}
	if _, err := c.s.recv(); err != nil {
		return fmt.Errorf("userpass: %w", err)
	}
	return c.s.sc.AuthEnd()
}

// Connect sends a CONNECT request for address ("host:port") and returns the
// server's success reply. A failure reply is returned as a *ReplyError.
func (c *Client) Connect(address string) (socks.Response, error) {
	return c.Request(socks.CmdConnect, address)
}

// Request sends a SOCKS5 request and waits for the reply.
func (c *Client) Request(cmd socks.Command, address string) (socks.Response, error) {
	addr, port, err := socks.ParseHostPort(address)
	if err != nil {
		return socks.Response{}, fmt.Errorf("parse address: %w", err)
	}
	if err := c.s.send(socks.Request{Cmd: cmd, Addr: addr, Port: port}); err != nil {
		return socks.Response{}, fmt.Errorf("request: %w", err)
	}
	ev, err := c.s.recv()
	if err != nil {
		return socks.Response{}, fmt.Errorf("reply: %w", err)
	}
	rep := ev.(socks.Response)
	if rep.Status != socks.StatusSuccess {
		return rep, &ReplyError{Status: rep.Status}
	}
	return rep, nil
}

// Socks4Connect sends a SOCKS4 CONNECT for address. The host must be an IPv4
// literal unless remoteDNS is set, in which case other hosts are sent as a
// SOCKS4a domain name for the server to resolve.
func (c *Client) Socks4Connect(address, userID string, remoteDNS bool) (socks.Socks4Response, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return socks.Socks4Response{}, fmt.Errorf("parse address: %w", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return socks.Socks4Response{}, fmt.Errorf("parse port %q: %w", portStr, err)
	}

	var req socks.Socks4Request
	if ip, perr := netip.ParseAddr(host); perr == nil && ip.Unmap().Is4() {
		req, err = socks.NewSocks4Request(socks.CmdConnect, ip.Unmap().String(), uint16(port), userID, "")
	} else if remoteDNS {
		req, err = socks.NewSocks4Request(socks.CmdConnect, "", uint16(port), userID, host)
	} else {
		return socks.Socks4Response{}, fmt.Errorf("socks4 needs an IPv4 address, got %q", host)
	}
	if err != nil {
		return socks.Socks4Response{}, err
	}

	if err := c.s.send(req); err != nil {
		return socks.Socks4Response{}, fmt.Errorf("request: %w", err)
	}
	ev, err := c.s.recv()
	if err != nil {
		return socks.Socks4Response{}, fmt.Errorf("reply: %w", err)
	}
	rep := ev.(socks.Socks4Response)
	if rep.Status != socks.Socks4Granted {
		return rep, &ReplyError{Socks4: rep.Status}
	}
	return rep, nil
}

// Conn returns the connection for the proxied stream. Bytes the server sent
// right behind its reply are returned first.
func (c *Client) Conn() net.Conn {
	return c.s.stream()
}
