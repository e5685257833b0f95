package socks

import "fmt"

// AuthState is a step of the RFC 1929 subnegotiation.
type AuthState uint8

const (
	AuthStateInit AuthState = iota
	AuthStateRequest
	AuthStateResponse
	AuthStateEnd
)

func (s AuthState) String() string {
	switch s {
	case AuthStateInit:
		return "AuthInit"
	case AuthStateRequest:
		return "AuthRequest"
	case AuthStateResponse:
		return "AuthResponse"
	case AuthStateEnd:
		return "AuthEnd"
	}
	return fmt.Sprintf("AuthState(%d)", uint8(s))
}

var authPhases = [AuthStateEnd + 1]phase{
	AuthStateRequest:  {decode: DecodeAuthRequest, clientSends: true},
	AuthStateResponse: {decode: DecodeAuthResponse},
}

// AuthConnection runs the RFC 1929 username/password exchange for one role.
type AuthConnection struct {
	m      machine[AuthState]
	status AuthStatus
	done   bool
}

// NewAuth returns an AuthConnection in AuthStateInit.
func NewAuth(role Role) *AuthConnection {
	return &AuthConnection{m: machine[AuthState]{
		role:   role,
		end:    AuthStateEnd,
		phases: authPhases[:],
	}}
}

// Initiate moves to AuthStateRequest.
func (a *AuthConnection) Initiate() error {
	if a.m.state != AuthStateInit {
		return a.m.errorf("initiate", "already initiated")
	}
	a.m.state = AuthStateRequest
	return nil
}

// Send encodes ev, which must be the message this role sends next.
func (a *AuthConnection) Send(ev Event) ([]byte, error) {
	return a.m.send(ev, a.next)
}

// Recv buffers data and returns the peer's message once complete, or
// NeedMoreData.
func (a *AuthConnection) Recv(data []byte) (Event, error) {
	return a.m.recv(data, a.next)
}

// State returns the current state.
func (a *AuthConnection) State() AuthState {
	return a.m.state
}

// Status returns the server's verdict, and false if none was exchanged yet.
func (a *AuthConnection) Status() (AuthStatus, bool) {
	return a.status, a.done
}

// Leftover returns and clears any bytes received after the last message.
func (a *AuthConnection) Leftover() []byte {
	return a.m.leftover()
}

func (a *AuthConnection) next(op string, ev Event) (AuthState, error) {
	switch ev := ev.(type) {
	case AuthRequest:
		if a.m.state == AuthStateRequest {
			return AuthStateResponse, nil
		}
	case AuthResponse:
		if a.m.state == AuthStateResponse {
			a.status, a.done = ev.Status, true
			return AuthStateEnd, nil
		}
	}
	return 0, a.m.errorf(op, "unexpected %T", ev)
}

// untouched reports whether nothing has been exchanged or buffered yet.
func (a *AuthConnection) untouched() bool {
	return a.m.state == AuthStateRequest && len(a.m.buf) == 0 && a.m.err == nil
}
