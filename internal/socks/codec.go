package socks

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// The Decode functions parse one message from the front of b. They return
// NeedMoreData when b holds only a prefix of a valid message, a
// *MalformedError when b cannot start a valid message, and otherwise the
// event and the number of bytes it occupied.

// DecodeGreetingRequest decodes a SOCKS5 greeting or a SOCKS4/4a request,
// depending on the version byte.
func DecodeGreetingRequest(b []byte) (Event, int, error) {
	return decode(b, "greeting request", func(c *cursor) (Event, error) {
		ver, err := c.u8()
		if err != nil {
			return nil, err
		}
		switch ver {
		case Version5:
			return readGreetingRequest(c)
		case Version4:
			return readSocks4Request(c)
		}
		return nil, fmt.Errorf("unsupported version %#02x", ver)
	})
}

// DecodeGreetingResponse decodes a SOCKS5 method selection or a SOCKS4
// reply, depending on the version byte.
func DecodeGreetingResponse(b []byte) (Event, int, error) {
	return decode(b, "greeting response", func(c *cursor) (Event, error) {
		ver, err := c.u8()
		if err != nil {
			return nil, err
		}
		switch ver {
		case Version5:
			m, err := c.u8()
			if err != nil {
				return nil, err
			}
			g := GreetingResponse{Method: AuthMethod(m)}
			return g, g.validate()
		case Socks4ReplyVer:
			return readSocks4Response(c)
		}
		return nil, fmt.Errorf("unsupported version %#02x", ver)
	})
}

// DecodeAuthRequest decodes an RFC 1929 username/password request.
func DecodeAuthRequest(b []byte) (Event, int, error) {
	return decode(b, "auth request", func(c *cursor) (Event, error) {
		if err := readAuthVersion(c); err != nil {
			return nil, err
		}
		user, err := readPascal(c)
		if err != nil {
			return nil, err
		}
		pass, err := readPascal(c)
		if err != nil {
			return nil, err
		}
		r := AuthRequest{Username: user, Password: pass}
		return r, r.validate()
	})
}

// DecodeAuthResponse decodes an RFC 1929 reply.
func DecodeAuthResponse(b []byte) (Event, int, error) {
	return decode(b, "auth response", func(c *cursor) (Event, error) {
		if err := readAuthVersion(c); err != nil {
			return nil, err
		}
		status, err := c.u8()
		if err != nil {
			return nil, err
		}
		return AuthResponse{Status: AuthStatus(status)}, nil
	})
}

// DecodeRequest decodes a SOCKS5 request.
func DecodeRequest(b []byte) (Event, int, error) {
	return decode(b, "request", func(c *cursor) (Event, error) {
		code, addr, port, err := readSocks5(c, func(v byte) error {
			if !Command(v).valid() {
				return fmt.Errorf("unsupported command %s", Command(v))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return Request{Cmd: Command(code), Addr: addr, Port: port}, nil
	})
}

// DecodeResponse decodes a SOCKS5 reply.
func DecodeResponse(b []byte) (Event, int, error) {
	return decode(b, "response", func(c *cursor) (Event, error) {
		code, addr, port, err := readSocks5(c, func(v byte) error {
			if !Status(v).valid() {
				return fmt.Errorf("unsupported status %s", Status(v))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return Response{Status: Status(code), Addr: addr, Port: port}, nil
	})
}

func readGreetingRequest(c *cursor) (Event, error) {
	n, err := c.u8()
	if err != nil {
		return nil, err
	}
	methods := make([]AuthMethod, 0, n)
	for range int(n) {
		v, err := c.u8()
		if err != nil {
			return nil, err
		}
		m := AuthMethod(v)
		if !m.valid() {
			return nil, fmt.Errorf("unsupported method %s", m)
		}
		methods = append(methods, m)
	}
	return GreetingRequest{Methods: methods}, nil
}

func readSocks4Request(c *cursor) (Event, error) {
	v, err := c.u8()
	if err != nil {
		return nil, err
	}
	cmd := Command(v)
	if cmd != CmdConnect && cmd != CmdBind {
		return nil, fmt.Errorf("unsupported SOCKS4 command %s", cmd)
	}
	port, err := c.u16()
	if err != nil {
		return nil, err
	}
	ip, err := readIPv4(c)
	if err != nil {
		return nil, err
	}
	user, err := c.cstring()
	if err != nil {
		return nil, err
	}
	r := Socks4Request{Cmd: cmd, Addr: ip, Port: port, UserID: user}
	if ip == socks4aAddr {
		if r.DomainName, err = c.cstring(); err != nil {
			return nil, err
		}
	}
	return r, r.validate()
}

func readSocks4Response(c *cursor) (Event, error) {
	v, err := c.u8()
	if err != nil {
		return nil, err
	}
	status := Socks4Status(v)
	if !status.valid() {
		return nil, fmt.Errorf("unsupported SOCKS4 status %s", status)
	}
	port, err := c.u16()
	if err != nil {
		return nil, err
	}
	ip, err := readIPv4(c)
	if err != nil {
		return nil, err
	}
	return Socks4Response{Status: status, Addr: ip, Port: port}, nil
}

func readAuthVersion(c *cursor) error {
	ver, err := c.u8()
	if err != nil {
		return err
	}
	if ver != AuthVersion {
		return fmt.Errorf("unsupported auth version %#02x", ver)
	}
	return nil
}

func readPascal(c *cursor) (string, error) {
	n, err := c.u8()
	if err != nil {
		return "", err
	}
	p, err := c.next(int(n))
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// readSocks5 reads VER CODE RSV ATYP ADDR PORT, checking CODE with check.
func readSocks5(c *cursor, check func(byte) error) (byte, Addr, uint16, error) {
	ver, err := c.u8()
	if err != nil {
		return 0, Addr{}, 0, err
	}
	if ver != Version5 {
		return 0, Addr{}, 0, fmt.Errorf("unsupported version %#02x", ver)
	}
	code, err := c.u8()
	if err != nil {
		return 0, Addr{}, 0, err
	}
	if err := check(code); err != nil {
		return 0, Addr{}, 0, err
	}
	rsv, err := c.u8()
	if err != nil {
		return 0, Addr{}, 0, err
	}
	if rsv != 0 {
		return 0, Addr{}, 0, fmt.Errorf("reserved byte is %#02x", rsv)
	}
	addr, err := readAddr(c)
	if err != nil {
		return 0, Addr{}, 0, err
	}
	port, err := c.u16()
	if err != nil {
		return 0, Addr{}, 0, err
	}
	return code, addr, port, nil
}

func readAddr(c *cursor) (Addr, error) {
	v, err := c.u8()
	if err != nil {
		return Addr{}, err
	}
	switch t := AddrType(v); t {
	case AddrIPv4:
		ip, err := readIPv4(c)
		return Addr{Type: t, IP: ip}, err
	case AddrIPv6:
		p, err := c.next(16)
		if err != nil {
			return Addr{}, err
		}
		return Addr{Type: t, IP: netip.AddrFrom16([16]byte(p))}, nil
	case AddrDomain:
		name, err := readPascal(c)
		if err != nil {
			return Addr{}, err
		}
		return Addr{Type: t, Domain: name}, validateDomain(name)
	default:
		return Addr{}, fmt.Errorf("unsupported address type %s", t)
	}
}

func readIPv4(c *cursor) (netip.Addr, error) {
	p, err := c.next(4)
	if err != nil {
		return netip.Addr{}, err
	}
	return netip.AddrFrom4([4]byte(p)), nil
}

// Encode validates ev and returns its wire form.
func Encode(ev Event) ([]byte, error) {
	if err := validate(ev); err != nil {
		return nil, err
	}
	return appendEvent(nil, ev), nil
}

// appendEvent appends the wire form of a valid ev to b.
func appendEvent(b []byte, ev Event) []byte {
	switch ev := ev.(type) {
	case GreetingRequest:
		b = append(b, Version5, byte(len(ev.Methods)))
		for _, m := range ev.Methods {
			b = append(b, byte(m))
		}
	case Socks4Request:
		b = append(b, Version4, byte(ev.Cmd))
		b = binary.BigEndian.AppendUint16(b, ev.Port)
		ip := ev.Addr.As4()
		b = append(b, ip[:]...)
		b = append(b, ev.UserID...)
		b = append(b, 0)
		if ev.IsSocks4a() {
			b = append(b, ev.DomainName...)
			b = append(b, 0)
		}
	case GreetingResponse:
		b = append(b, Version5, byte(ev.Method))
	case Socks4Response:
		b = append(b, Socks4ReplyVer, byte(ev.Status))
		b = binary.BigEndian.AppendUint16(b, ev.Port)
		ip := ev.Addr.As4()
		b = append(b, ip[:]...)
	case AuthRequest:
		b = append(b, AuthVersion, byte(len(ev.Username)))
		b = append(b, ev.Username...)
		b = append(b, byte(len(ev.Password)))
		b = append(b, ev.Password...)
	case AuthResponse:
		b = append(b, AuthVersion, byte(ev.Status))
	case Request:
		b = appendSocks5(b, byte(ev.Cmd), ev.Addr, ev.Port)
	case Response:
		b = appendSocks5(b, byte(ev.Status), ev.Addr, ev.Port)
	}
	return b
}

func appendSocks5(b []byte, code byte, addr Addr, port uint16) []byte {
	b = append(b, Version5, code, 0x00, byte(addr.Type))
	switch addr.Type {
	case AddrIPv4:
		ip := addr.IP.As4()
		b = append(b, ip[:]...)
	case AddrIPv6:
		ip := addr.IP.As16()
		b = append(b, ip[:]...)
	case AddrDomain:
		b = append(b, byte(len(addr.Domain)))
		b = append(b, addr.Domain...)
	}
	return binary.BigEndian.AppendUint16(b, port)
}
