package socks

import (
	"errors"
	"testing"
)

func must[E any](ev E, err error) E {
	if err != nil {
		panic(err)
	}
	return ev
}

func decoderFor(ev Event) decoderFunc {
	switch ev.(type) {
	case GreetingRequest, Socks4Request:
		return DecodeGreetingRequest
	case GreetingResponse, Socks4Response:
		return DecodeGreetingResponse
	case AuthRequest:
		return DecodeAuthRequest
	case AuthResponse:
		return DecodeAuthResponse
	case Request:
		return DecodeRequest
	case Response:
		return DecodeResponse
	}
	return nil
}

// exchange sends ev from one side and feeds the bytes to the other.
func exchange(t *testing.T, from, to *Connection, ev Event) []byte {
	t.Helper()

	b, err := from.Send(ev)
	if err != nil {
		t.Fatalf("send %v: %v", ev, err)
	}
	got, err := to.Recv(b)
	if err != nil {
		t.Fatalf("recv %v: %v", ev, err)
	}
	if !Equal(got, ev) {
		t.Fatalf("recv got %v, want %v", got, ev)
	}
	return b
}

// driveTo returns a Connection for role that has reached target through a
// SOCKS5 exchange. Username/password is selected only for
// StateAuthInProgress.
func driveTo(t *testing.T, role Role, target State, opts ...Option) *Connection {
	t.Helper()

	conns := map[Role]*Connection{Client: New(Client, opts...), Server: New(Server, opts...)}
	if target == StateInit {
		return conns[role]
	}
	for _, c := range conns {
		if err := c.Initiate(); err != nil {
			t.Fatal(err)
		}
	}

	method := MethodNoAuth
	if target == StateAuthInProgress {
		method = MethodUsernamePassword
	}
	script := []struct {
		from, to Role
		ev       Event
	}{
		{Client, Server, must(NewGreetingRequest(MethodNoAuth, MethodUsernamePassword))},
		{Server, Client, must(NewGreetingResponse(method))},
		{Client, Server, must(NewRequest(CmdConnect, AddrIPv4, "127.0.0.1", 8080))},
		{Server, Client, must(NewResponse(StatusSuccess, AddrIPv4, "127.0.0.1", 8080))},
	}
	for _, s := range script {
		if conns[role].State() == target {
			break
		}
		exchange(t, conns[s.from], conns[s.to], s.ev)
	}
	if got := conns[role].State(); got != target {
		t.Fatalf("reached %s, want %s", got, target)
	}
	return conns[role]
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()

	if !errors.Is(err, target) {
		t.Fatalf("got error %v, want %v", err, target)
	}
}
