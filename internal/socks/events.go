package socks

import (
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strconv"
)

// Event is one protocol message, or NeedMoreData. The set of implementations
// is closed: GreetingRequest, Socks4Request, GreetingResponse, Socks4Response,
// AuthRequest, AuthResponse, Request, Response and NeedMoreData.
//
// Events built with the New* constructors are valid. Events built as struct
// literals are validated when sent.
type Event interface {
	fmt.Stringer
	event()
}

// NeedMoreData is returned by decoders and Recv when the buffered bytes end
// before a complete message.
type NeedMoreData struct{}

// GreetingRequest is the SOCKS5 method negotiation request.
type GreetingRequest struct {
	Methods []AuthMethod
}

// Socks4Request is a SOCKS4 or SOCKS4a request. For SOCKS4a, Addr is
// 0.0.0.1 and DomainName holds the destination.
type Socks4Request struct {
	Cmd        Command
	Addr       netip.Addr
	Port       uint16
	UserID     string
	DomainName string
}

// GreetingResponse is the SOCKS5 method selection.
type GreetingResponse struct {
	Method AuthMethod
}

// Socks4Response is a SOCKS4 reply.
type Socks4Response struct {
	Status Socks4Status
	Addr   netip.Addr
	Port   uint16
}

// AuthRequest is the RFC 1929 username/password request.
type AuthRequest struct {
	Username string
	Password string
}

// AuthResponse is the RFC 1929 reply.
type AuthResponse struct {
	Status AuthStatus
}

// Request is a SOCKS5 request.
type Request struct {
	Cmd  Command
	Addr Addr
	Port uint16
}

// Response is a SOCKS5 reply.
type Response struct {
	Status Status
	Addr   Addr
	Port   uint16
}

func (NeedMoreData) event()     {}
func (GreetingRequest) event()  {}
func (Socks4Request) event()    {}
func (GreetingResponse) event() {}
func (Socks4Response) event()   {}
func (AuthRequest) event()      {}
func (AuthResponse) event()     {}
func (Request) event()          {}
func (Response) event()         {}

var socks4aAddr = netip.AddrFrom4([4]byte{0, 0, 0, 1})

const maxMethods = 255

// NewGreetingRequest returns a greeting offering methods in order.
func NewGreetingRequest(methods ...AuthMethod) (GreetingRequest, error) {
	g := GreetingRequest{Methods: slices.Clone(methods)}
	return g, g.validate()
}

// NewSocks4Request returns a SOCKS4 request, or a SOCKS4a request when
// domainName is set. For SOCKS4a addr may be empty, in which case 0.0.0.1 is
// used.
func NewSocks4Request(cmd Command, addr string, port uint16, userID, domainName string) (Socks4Request, error) {
	r := Socks4Request{Cmd: cmd, Port: port, UserID: userID}
	if addr == "" && domainName != "" {
		r.Addr = socks4aAddr
	} else {
		ip, err := netip.ParseAddr(addr)
		if err != nil || !ip.Is4() {
			return Socks4Request{}, invalid("addr", "%q is not an IPv4 address", addr)
		}
		r.Addr = ip
	}
	if domainName != "" {
		name, err := toASCII(domainName)
		if err != nil {
			return Socks4Request{}, err
		}
		r.DomainName = name
	}
	return r, r.validate()
}

// NewGreetingResponse returns a method selection.
func NewGreetingResponse(method AuthMethod) (GreetingResponse, error) {
	g := GreetingResponse{Method: method}
	return g, g.validate()
}

// NewSocks4Response returns a SOCKS4 reply.
func NewSocks4Response(status Socks4Status, addr string, port uint16) (Socks4Response, error) {
	ip, err := netip.ParseAddr(addr)
	if err != nil || !ip.Is4() {
		return Socks4Response{}, invalid("addr", "%q is not an IPv4 address", addr)
	}
	r := Socks4Response{Status: status, Addr: ip, Port: port}
	return r, r.validate()
}

// NewAuthRequest returns an RFC 1929 request.
func NewAuthRequest(username, password string) (AuthRequest, error) {
	r := AuthRequest{Username: username, Password: password}
	return r, r.validate()
}

// NewAuthResponse returns an RFC 1929 reply. Every status byte is valid.
func NewAuthResponse(status AuthStatus) AuthResponse {
	return AuthResponse{Status: status}
}

// NewRequest returns a SOCKS5 request, parsing addr according to atyp.
func NewRequest(cmd Command, atyp AddrType, addr string, port uint16) (Request, error) {
	a, err := NewAddr(atyp, addr)
	if err != nil {
		return Request{}, err
	}
	r := Request{Cmd: cmd, Addr: a, Port: port}
	return r, r.validate()
}

// NewResponse returns a SOCKS5 reply, parsing addr according to atyp.
func NewResponse(status Status, atyp AddrType, addr string, port uint16) (Response, error) {
	a, err := NewAddr(atyp, addr)
	if err != nil {
		return Response{}, err
	}
	r := Response{Status: status, Addr: a, Port: port}
	return r, r.validate()
}

func (g GreetingRequest) validate() error {
	if len(g.Methods) > maxMethods {
		return invalid("methods", "%d methods exceeds %d", len(g.Methods), maxMethods)
	}
	for _, m := range g.Methods {
		if !m.valid() {
			return invalid("methods", "unsupported method %s", m)
		}
	}
	return nil
}

func (r Socks4Request) validate() error {
	if r.Cmd != CmdConnect && r.Cmd != CmdBind {
		return invalid("cmd", "%s is not a SOCKS4 command", r.Cmd)
	}
	if !r.Addr.Is4() {
		return invalid("addr", "%s is not an IPv4 address", r.Addr)
	}
	if len(r.UserID) > maxCString {
		return invalid("userid", "%d bytes exceeds %d", len(r.UserID), maxCString)
	}
	if err := checkText("userid", r.UserID); err != nil {
		return err
	}
	switch {
	case r.Addr == socks4aAddr && r.DomainName == "":
		return invalid("domain name", "required when addr is %s", socks4aAddr)
	case r.Addr != socks4aAddr && r.DomainName != "":
		return invalid("domain name", "only allowed when addr is %s", socks4aAddr)
	case r.DomainName != "":
		return validateDomain(r.DomainName)
	}
	return nil
}

func (g GreetingResponse) validate() error {
	if !g.Method.valid() {
		return invalid("auth method", "unsupported method %s", g.Method)
	}
	return nil
}

func (r Socks4Response) validate() error {
	if !r.Status.valid() {
		return invalid("status", "unsupported SOCKS4 status %s", r.Status)
	}
	if !r.Addr.Is4() {
		return invalid("addr", "%s is not an IPv4 address", r.Addr)
	}
	return nil
}

func (r AuthRequest) validate() error {
	for _, f := range []struct{ name, val string }{{"username", r.Username}, {"password", r.Password}} {
		if len(f.val) > 255 {
			return invalid(f.name, "%d bytes exceeds 255", len(f.val))
		}
		for i := 0; i < len(f.val); i++ {
			if f.val[i] > 0x7f {
				return invalid(f.name, "non-ASCII byte at offset %d", i)
			}
		}
	}
	return nil
}

func (r Request) validate() error {
	if !r.Cmd.valid() {
		return invalid("cmd", "unsupported command %s", r.Cmd)
	}
	return r.Addr.validate()
}

func (r Response) validate() error {
	if !r.Status.valid() {
		return invalid("status", "unsupported status %s", r.Status)
	}
	return r.Addr.validate()
}

// IsSocks4a reports whether the request carries a domain name.
func (r Socks4Request) IsSocks4a() bool {
	return r.DomainName != ""
}

// HostPort returns the destination as "host:port".
func (r Socks4Request) HostPort() string {
	host := r.Addr.String()
	if r.IsSocks4a() {
		host = r.DomainName
	}
	return net.JoinHostPort(host, strconv.Itoa(int(r.Port)))
}

// HostPort returns the destination as "host:port".
func (r Request) HostPort() string {
	return net.JoinHostPort(r.Addr.String(), strconv.Itoa(int(r.Port)))
}

// HostPort returns the bound address as "host:port".
func (r Response) HostPort() string {
	return net.JoinHostPort(r.Addr.String(), strconv.Itoa(int(r.Port)))
}

func (NeedMoreData) String() string { return "NeedMoreData" }

func (g GreetingRequest) String() string {
	return fmt.Sprintf("SOCKS5 greeting request: methods %v", g.Methods)
}

func (r Socks4Request) String() string {
	ver := "SOCKS4"
	if r.IsSocks4a() {
		ver = "SOCKS4a"
	}
	return fmt.Sprintf("%s request: %s %s userid %q", ver, r.Cmd, r.HostPort(), r.UserID)
}

func (g GreetingResponse) String() string {
	return fmt.Sprintf("SOCKS5 greeting response: method %s", g.Method)
}

func (r Socks4Response) String() string {
	return fmt.Sprintf("SOCKS4 response: %s %s", r.Status,
		net.JoinHostPort(r.Addr.String(), strconv.Itoa(int(r.Port))))
}

// String omits the password.
func (r AuthRequest) String() string {
	return fmt.Sprintf("auth request: username %q", r.Username)
}

func (r AuthResponse) String() string {
	return fmt.Sprintf("auth response: %s", r.Status)
}

func (r Request) String() string {
	return fmt.Sprintf("SOCKS5 request: %s %s %s", r.Cmd, r.Addr.Type, r.HostPort())
}

func (r Response) String() string {
	return fmt.Sprintf("SOCKS5 response: %s %s %s", r.Status, r.Addr.Type, r.HostPort())
}

// Equal reports whether a and b are the same event with the same fields.
func Equal(a, b Event) bool {
	switch a := a.(type) {
	case GreetingRequest:
		b, ok := b.(GreetingRequest)
		return ok && slices.Equal(a.Methods, b.Methods)
	case nil:
		return b == nil
	}
	if _, ok := b.(GreetingRequest); ok {
		return false
	}
	return a == b
}

// isMessage reports whether ev is one of the wire messages.
func isMessage(ev Event) bool {
	switch ev.(type) {
	case GreetingRequest, Socks4Request, GreetingResponse, Socks4Response,
		AuthRequest, AuthResponse, Request, Response:
		return true
	}
	return false
}

// validate checks any event, including ones built as struct literals.
func validate(ev Event) error {
	switch ev := ev.(type) {
	case GreetingRequest:
		return ev.validate()
	case Socks4Request:
		return ev.validate()
	case GreetingResponse:
		return ev.validate()
	case Socks4Response:
		return ev.validate()
	case AuthRequest:
		return ev.validate()
	case AuthResponse:
		return nil
	case Request:
		return ev.validate()
	case Response:
		return ev.validate()
	case NeedMoreData:
		return invalid("event", "NeedMoreData is not a message")
	case nil:
		return invalid("event", "nil")
	}
	return invalid("event", "unknown event %T", ev)
}
