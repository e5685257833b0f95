package socks

import "fmt"

// Role selects which side of the exchange a machine plays.
type Role uint8

const (
	Client Role = iota
	Server
)

func (r Role) String() string {
	switch r {
	case Client:
		return "client"
	case Server:
		return "server"
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

type decoderFunc func([]byte) (Event, int, error)

// phase describes the message exchanged in one state: how to decode it and
// which side sends it. A nil decode means no message may be exchanged.
type phase struct {
	decode      decoderFunc
	clientSends bool
}

type stateEnum interface {
	~uint8
	fmt.Stringer
}

// machine is the role-aware core shared by Connection and AuthConnection. It
// gates send and recv by state, buffers partial input and records the first
// fatal error. Transitions are computed by the caller-supplied step.
type machine[S stateEnum] struct {
	role   Role
	state  S
	end    S
	phases []phase
	buf    []byte
	err    error
}

// step checks ev against the current state and returns the next state. It
// must not change anything when it returns an error.
type step[S stateEnum] func(op string, ev Event) (S, error)

func (m *machine[S]) errorf(op, format string, args ...any) *ProtocolError {
	return &ProtocolError{Op: op, State: m.state.String(), Reason: fmt.Sprintf(format, args...)}
}

func (m *machine[S]) phase() phase {
	if int(m.state) < len(m.phases) {
		return m.phases[m.state]
	}
	return phase{}
}

// allowed reports whether the local side may send (or receive, when
// sending is false) in the current state.
func (m *machine[S]) allowed(sending bool) bool {
	p := m.phase()
	if p.decode == nil {
		return false
	}
	localSends := p.clientSends == (m.role == Client)
	return localSends == sending
}

func (m *machine[S]) usable(op string) error {
	if m.err != nil {
		return &ProtocolError{Op: op, State: m.state.String(), Reason: "connection already failed", Err: m.err}
	}
	return nil
}

func (m *machine[S]) fail(err error) error {
	m.err = err
	m.state = m.end
	m.buf = nil
	return err
}

func (m *machine[S]) send(ev Event, next step[S]) ([]byte, error) {
	if err := m.usable("send"); err != nil {
		return nil, err
	}
	if !m.allowed(true) {
		return nil, m.errorf("send", "%s may not send", m.role)
	}
	if !isMessage(ev) {
		return nil, m.errorf("send", "%T is not a message", ev)
	}
	if err := validate(ev); err != nil {
		return nil, err
	}
	s, err := next("send", ev)
	if err != nil {
		return nil, err
	}
	m.state = s
	return appendEvent(nil, ev), nil
}

// recv buffers data and tries to decode one message. Malformed input and
// peer messages rejected by next are fatal.
func (m *machine[S]) recv(data []byte, next step[S]) (Event, error) {
	if err := m.usable("recv"); err != nil {
		return nil, err
	}
	if !m.allowed(false) {
		return nil, m.errorf("recv", "%s may not receive", m.role)
	}
	m.buf = append(m.buf, data...)
	ev, n, err := m.phase().decode(m.buf)
	if err != nil {
		return nil, m.fail(err)
	}
	if _, ok := ev.(NeedMoreData); ok {
		return ev, nil
	}
	m.buf = append(m.buf[:0], m.buf[n:]...)
	s, err := next("recv", ev)
	if err != nil {
		return nil, m.fail(err)
	}
	m.state = s
	return ev, nil
}

func (m *machine[S]) leftover() []byte {
	if len(m.buf) == 0 {
		return nil
	}
	b := m.buf
	m.buf = nil
	return b
}
