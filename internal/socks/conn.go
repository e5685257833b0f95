package socks

import (
	"errors"
	"fmt"
	"slices"
)

// ErrAuthFailed is returned by AuthEnd when the server rejected the
// credentials. The connection is over at that point.
var ErrAuthFailed = errors.New("socks: authentication failed")

// State is a step of the SOCKS exchange.
type State uint8

const (
	StateInit State = iota
	StateGreetingRequest
	StateGreetingResponse
	StateAuthInProgress
	StateRequest
	StateResponse
	StateEnd
)

var stateNames = [...]string{
	StateInit:             "Init",
	StateGreetingRequest:  "GreetingRequest",
	StateGreetingResponse: "GreetingResponse",
	StateAuthInProgress:   "AuthInProgress",
	StateRequest:          "Request",
	StateResponse:         "Response",
	StateEnd:              "End",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

var connPhases = [StateEnd + 1]phase{
	StateGreetingRequest:  {decode: DecodeGreetingRequest, clientSends: true},
	StateGreetingResponse: {decode: DecodeGreetingResponse},
	StateRequest:          {decode: DecodeRequest, clientSends: true},
	StateResponse:         {decode: DecodeResponse},
}

// Option configures a Connection.
type Option func(*Connection)

// WithStrictEcho requires replies to repeat the requested destination: a
// SOCKS5 Response must carry the request's address and port, and a SOCKS4
// response the request's port. Many proxies report their bound address
// instead, so this is off by default.
func WithStrictEcho() Option {
	return func(c *Connection) {
		c.strictEcho = true
	}
}

// Connection is the SOCKS4/4a/5 state machine for one session.
//
// The zero value is not usable; call New.
type Connection struct {
	m          machine[State]
	strictEcho bool

	// Remembered from the greeting and request, to check what follows.
	version byte
	offered []AuthMethod
	reqAddr Addr
	reqPort uint16

	auth       *AuthConnection
	authStatus AuthStatus
	authDone   bool
}

// New returns a Connection for role in StateInit.
func New(role Role, opts ...Option) *Connection {
	c := &Connection{m: machine[State]{
		role:   role,
		end:    StateEnd,
		phases: connPhases[:],
	}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Role returns the role the Connection was created with.
func (c *Connection) Role() Role {
	return c.m.role
}

// State returns the current state. A Connection that hit a fatal error
// reports StateEnd.
func (c *Connection) State() State {
	return c.m.state
}

// Version returns the SOCKS version chosen by the greeting, or 0 before it.
func (c *Connection) Version() byte {
	return c.version
}

// Err returns the error that ended the Connection, if any.
func (c *Connection) Err() error {
	if c.m.err != nil {
		return c.m.err
	}
	if c.auth != nil {
		return c.auth.m.err
	}
	return nil
}

// Initiate starts the exchange, moving to StateGreetingRequest.
func (c *Connection) Initiate() error {
	if c.m.state != StateInit {
		return c.m.errorf("initiate", "already initiated")
	}
	c.m.state = StateGreetingRequest
	return nil
}

// Send validates ev against the current state and returns its encoding.
// While authentication is in progress, ev goes to the nested
// AuthConnection.
func (c *Connection) Send(ev Event) ([]byte, error) {
	if c.m.state == StateAuthInProgress && c.m.err == nil {
		return c.auth.Send(ev)
	}
	b, err := c.m.send(ev, c.next)
	if err != nil {
		return nil, err
	}
	c.entered()
	return b, nil
}

// Recv appends data to the receive buffer and decodes the peer's next
// message. It returns NeedMoreData, keeping the buffer, until the message
// is complete. Malformed input or a message contradicting the session ends
// the Connection.
//
// Bytes following the decoded message stay buffered for the next Recv,
// which may be called with no data, or can be taken with Leftover.
func (c *Connection) Recv(data []byte) (Event, error) {
	if c.m.state == StateAuthInProgress && c.m.err == nil {
		ev, err := c.auth.Recv(data)
		if err != nil && c.auth.m.err != nil {
			c.m.fail(err)
		}
		return ev, err
	}
	ev, err := c.m.recv(data, c.next)
	if err != nil {
		return nil, err
	}
	c.entered()
	return ev, nil
}

// AuthEnd leaves StateAuthInProgress for StateRequest. The nested exchange
// must either be finished or not started; the latter lets callers run RFC
// 1929 on their own AuthConnection. If the server rejected the credentials
// the Connection moves to StateEnd and ErrAuthFailed is returned.
func (c *Connection) AuthEnd() error {
	if err := c.m.usable("auth end"); err != nil {
		return err
	}
	if c.m.state != StateAuthInProgress {
		return c.m.errorf("auth end", "authentication is not in progress")
	}
	a := c.auth
	switch {
	case a.m.state == AuthStateEnd:
		c.authStatus, c.authDone = a.Status()
	case a.untouched():
	default:
		return c.m.errorf("auth end", "authentication exchange is incomplete (%s)", a.State())
	}
	c.auth = nil
	c.m.buf = a.Leftover()
	if c.authDone && !c.authStatus.OK() {
		c.m.state = StateEnd
		return ErrAuthFailed
	}
	c.m.state = StateRequest
	return nil
}

// AuthStatus returns the result of the nested RFC 1929 exchange, and false
// if it did not run on this Connection.
func (c *Connection) AuthStatus() (AuthStatus, bool) {
	if c.auth != nil {
		return c.auth.Status()
	}
	return c.authStatus, c.authDone
}

// Leftover returns and clears bytes received beyond the last decoded
// message. After StateEnd these belong to the proxied stream.
func (c *Connection) Leftover() []byte {
	if c.auth != nil {
		return c.auth.Leftover()
	}
	return c.m.leftover()
}

// next computes the transition for ev in the current state, checking it
// against what the session has negotiated so far. Greeting and request
// fields are remembered only when the transition is accepted.
func (c *Connection) next(op string, ev Event) (State, error) {
	switch c.m.state {
	case StateGreetingRequest:
		switch ev := ev.(type) {
		case GreetingRequest:
			c.remember(Version5, ev.Methods, Addr{}, 0)
			return StateGreetingResponse, nil
		case Socks4Request:
			c.remember(Version4, nil, Addr{Type: AddrIPv4, IP: ev.Addr}, ev.Port)
			return StateGreetingResponse, nil
		}
	case StateGreetingResponse:
		switch ev := ev.(type) {
		case GreetingResponse:
			if c.version != Version5 {
				return 0, c.m.errorf(op, "SOCKS5 method selection after a SOCKS%d request", c.version)
			}
			return c.selectMethod(op, ev.Method)
		case Socks4Response:
			if c.version != Version4 {
				return 0, c.m.errorf(op, "SOCKS4 reply after a SOCKS%d greeting", c.version)
			}
			if c.strictEcho && ev.Port != c.reqPort {
				return 0, c.m.errorf(op, "reply port %d does not match requested port %d", ev.Port, c.reqPort)
			}
			return StateEnd, nil
		}
	case StateRequest:
		if ev, ok := ev.(Request); ok {
			c.reqAddr, c.reqPort = ev.Addr, ev.Port
			return StateResponse, nil
		}
	case StateResponse:
		if ev, ok := ev.(Response); ok {
			if c.strictEcho && (ev.Addr != c.reqAddr || ev.Port != c.reqPort) {
				return 0, c.m.errorf(op, "reply %s does not match requested %s:%d", ev.HostPort(), c.reqAddr, c.reqPort)
			}
			return StateEnd, nil
		}
	}
	return 0, c.m.errorf(op, "unexpected %T", ev)
}

func (c *Connection) remember(version byte, methods []AuthMethod, addr Addr, port uint16) {
	c.version = version
	c.offered = slices.Clone(methods)
	c.reqAddr, c.reqPort = addr, port
}

func (c *Connection) selectMethod(op string, m AuthMethod) (State, error) {
	switch m {
	case MethodNoAcceptable:
		return StateEnd, nil
	case MethodNoAuth, MethodUsernamePassword:
		if !slices.Contains(c.offered, m) {
			return 0, c.m.errorf(op, "method %s was not offered", m)
		}
		if m == MethodNoAuth {
			return StateRequest, nil
		}
		return StateAuthInProgress, nil
	}
	return 0, c.m.errorf(op, "method %s is not supported", m)
}

// entered sets up the nested exchange after a transition into
// StateAuthInProgress, handing it any bytes already buffered.
func (c *Connection) entered() {
	if c.m.state != StateAuthInProgress || c.auth != nil {
		return
	}
	c.auth = NewAuth(c.m.role)
	_ = c.auth.Initiate()
	c.auth.m.buf = c.m.leftover()
}
