package handshake

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/die-net/sockstate/internal/socks"
)

// readBufSize covers the largest handshake message (a SOCKS4a request with
// maximal userid and domain name) in one read.
const readBufSize = 1024

// session pairs a net.Conn with the state machine driving it.
type session struct {
	conn net.Conn
	sc   *socks.Connection
	buf  []byte
}

func newSession(conn net.Conn, role socks.Role, opts ...socks.Option) (*session, error) {
	s := &session{conn: conn, sc: socks.New(role, opts...), buf: make([]byte, readBufSize)}
	if err := s.sc.Initiate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) send(ev socks.Event) error {
	b, err := s.sc.Send(ev)
	if err != nil {
		return err
	}
	if _, err := s.conn.Write(b); err != nil {
		return fmt.Errorf("write %T: %w", ev, err)
	}
	return nil
}

// recv returns the peer's next message, reading from conn until one is
// complete. Bytes already buffered by the machine are tried first.
func (s *session) recv() (socks.Event, error) {
	ev, err := s.sc.Recv(nil)
	for err == nil {
		if _, more := ev.(socks.NeedMoreData); !more {
			return ev, nil
		}
		n, rerr := s.conn.Read(s.buf)
		if n == 0 && rerr != nil {
			if errors.Is(rerr, io.EOF) {
				rerr = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("read: %w", rerr)
		}
		ev, err = s.sc.Recv(s.buf[:n])
	}
	return nil, err
}

// stream returns conn with any bytes that arrived behind the handshake
// placed in front of it.
func (s *session) stream() net.Conn {
	if rest := s.sc.Leftover(); len(rest) > 0 {
		return &prefixConn{Conn: s.conn, pending: rest}
	}
	return s.conn
}

// prefixConn replays pending before reading from the wrapped Conn.
type prefixConn struct {
	net.Conn
	pending []byte
}

func (c *prefixConn) Read(p []byte) (int, error) {
	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}

// CloseWrite half-closes the wrapped Conn when it supports it.
func (c *prefixConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}
