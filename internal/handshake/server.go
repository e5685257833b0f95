package handshake

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strconv"

	"github.com/die-net/sockstate/internal/socks"
)

// Authenticator checks RFC 1929 credentials.
type Authenticator interface {
	Authenticate(username, password string) bool
}

// ErrNotAllowed is returned for requests the server's policy refuses.
var ErrNotAllowed = errors.New("socks: request not allowed")

// Request is what the client asked for, with SOCKS4 and SOCKS5 in one shape.
type Request struct {
	Version byte
	Cmd     socks.Command
	Addr    socks.Addr
	Port    uint16

	// UserID is the SOCKS4 userid; Username the RFC 1929 username that
	// authenticated, if any.
	UserID   string
	Username string
}

// HostPort returns the destination as "host:port".
func (r Request) HostPort() string {
	return net.JoinHostPort(r.Addr.String(), strconv.Itoa(int(r.Port)))
}

// Server is the server side of one handshake.
type Server struct {
	s    *session
	auth Authenticator
	req  Request
}

// NewServer returns a Server for an accepted conn. With a nil auth, SOCKS5
// clients must offer no authentication and SOCKS4 is accepted; otherwise
// SOCKS5 clients must authenticate and SOCKS4 requests are rejected.
func NewServer(conn net.Conn, auth Authenticator) (*Server, error) {
	s, err := newSession(conn, socks.Server)
	if err != nil {
		return nil, err
	}
	return &Server{s: s, auth: auth}, nil
}

// Handshake negotiates with the client and returns its request. Failures
// during negotiation are answered here; once a request is returned, the
// caller must answer it with Reply.
func (s *Server) Handshake() (Request, error) {
	ev, err := s.s.recv()
	if err != nil {
		return Request{}, fmt.Errorf("greeting: %w", err)
	}
	switch ev := ev.(type) {
	case socks.Socks4Request:
		return s.socks4(ev)
	case socks.GreetingRequest:
		return s.socks5(ev)
	}
	return Request{}, fmt.Errorf("greeting: unexpected %v", ev)
}

func (s *Server) socks4(ev socks.Socks4Request) (Request, error) {
	s.req = Request{Version: socks.Version4, Cmd: ev.Cmd, Port: ev.Port, UserID: ev.UserID}
	if ev.IsSocks4a() {
		s.req.Addr = socks.Addr{Type: socks.AddrDomain, Domain: ev.DomainName}
	} else {
		s.req.Addr = socks.AddrFromIP(ev.Addr)
	}
	if s.auth != nil {
		err := fmt.Errorf("socks4 request without credentials: %w", ErrNotAllowed)
		_ = s.Reply(nil, err)
		return Request{}, err
	}
	return s.req, nil
}

func (s *Server) socks5(ev socks.GreetingRequest) (Request, error) {
	want := socks.MethodNoAuth
	if s.auth != nil {
		want = socks.MethodUsernamePassword
	}
	if !slices.Contains(ev.Methods, want) {
		_ = s.s.send(socks.GreetingResponse{Method: socks.MethodNoAcceptable})
		return Request{}, fmt.Errorf("client does not offer %s: %w", want, ErrNoAcceptableMethods)
	}
	if err := s.s.send(socks.GreetingResponse{Method: want}); err != nil {
		return Request{}, fmt.Errorf("negotiation reply: %w", err)
	}

	s.req.Version = socks.Version5
	if want == socks.MethodUsernamePassword {
		if err := s.authenticate(); err != nil {
			return Request{}, err
		}
	}

	ev2, err := s.s.recv()
	if err != nil {
		return Request{}, fmt.Errorf("request: %w", err)
	}
	r := ev2.(socks.Request)
	s.req.Cmd, s.req.Addr, s.req.Port = r.Cmd, r.Addr, r.Port
	return s.req, nil
}

func (s *Server) authenticate() error {
	ev, err := s.s.recv()
	if err != nil {
		return fmt.Errorf("read userpass: %w", err)
	}
	creds := ev.(socks.AuthRequest)
	status := socks.AuthFailure
	if s.auth.Authenticate(creds.Username, creds.Password) {
		status = socks.AuthSuccess
	}
	if err := s.s.send(socks.NewAuthResponse(status)); err != nil {
		return fmt.Errorf("write userpass: %w", err)
	}
	if err := s.s.sc.AuthEnd(); err != nil {
		return fmt.Errorf("user %q: %w", creds.Username, err)
	}
	s.req.Username = creds.Username
	return nil
}

// Reply answers the request returned by Handshake. A nil err sends success
// with bound as the bound address; otherwise the failure reply matching err.
func (s *Server) Reply(bound net.Addr, err error) error {
	var ev socks.Event
	if s.req.Version == socks.Version4 {
		ev = s.socks4Reply(bound, err)
	} else {
		ev = s.socks5Reply(bound, err)
	}
	if err := s.s.send(ev); err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	return nil
}

func (s *Server) socks4Reply(bound net.Addr, err error) socks.Socks4Response {
	rep := socks.Socks4Response{Status: socks.Socks4Granted, Addr: netip.IPv4Unspecified()}
	if err != nil {
		rep.Status = socks.Socks4Rejected
		return rep
	}
	if ap, ok := addrPort(bound); ok && ap.Addr().Unmap().Is4() {
		rep.Addr, rep.Port = ap.Addr().Unmap(), ap.Port()
	}
	return rep
}

func (s *Server) socks5Reply(bound net.Addr, err error) socks.Response {
	zero := netip.IPv4Unspecified()
	if s.req.Addr.Type == socks.AddrIPv6 {
		zero = netip.IPv6Unspecified()
	}
	rep := socks.Response{Status: socks.StatusSuccess, Addr: socks.AddrFromIP(zero)}
	if err != nil {
		rep.Status = StatusFor(err)
		return rep
	}
	if ap, ok := addrPort(bound); ok {
		rep.Addr, rep.Port = socks.AddrFromIP(ap.Addr()), ap.Port()
	}
	return rep
}

// Conn returns the connection for the proxied stream. Bytes the client sent
// right behind its request are returned first.
func (s *Server) Conn() net.Conn {
	return s.s.stream()
}

func addrPort(a net.Addr) (netip.AddrPort, bool) {
	switch a := a.(type) {
	case *net.TCPAddr:
		return a.AddrPort(), true
	case nil:
		return netip.AddrPort{}, false
	}
	ap, err := netip.ParseAddrPort(a.String())
	return ap, err == nil
}
