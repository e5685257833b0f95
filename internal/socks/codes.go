package socks

import "fmt"

// Protocol version bytes.
const (
	Version4       = 0x04
	Version5       = 0x05
	Socks4ReplyVer = 0x00
	AuthVersion    = 0x01
)

// AuthMethod is a SOCKS5 authentication method code.
type AuthMethod byte

const (
	MethodNoAuth           AuthMethod = 0x00
	MethodGSSAPI           AuthMethod = 0x01
	MethodUsernamePassword AuthMethod = 0x02
	MethodNoAcceptable     AuthMethod = 0xff
)

func (m AuthMethod) valid() bool {
	switch m {
	case MethodNoAuth, MethodGSSAPI, MethodUsernamePassword, MethodNoAcceptable:
		return true
	}
	return false
}

func (m AuthMethod) String() string {
	switch m {
	case MethodNoAuth:
		return "NO_AUTH"
	case MethodGSSAPI:
		return "GSSAPI"
	case MethodUsernamePassword:
		return "USERNAME_PASSWORD"
	case MethodNoAcceptable:
		return "NO_ACCEPTABLE_METHODS"
	}
	return fmt.Sprintf("AuthMethod(%#02x)", byte(m))
}

// Command is a SOCKS request command. SOCKS4 only knows CONNECT and BIND.
type Command byte

const (
	CmdConnect      Command = 0x01
	CmdBind         Command = 0x02
	CmdUDPAssociate Command = 0x03
)

func (c Command) valid() bool {
	return c >= CmdConnect && c <= CmdUDPAssociate
}

func (c Command) String() string {
	switch c {
	case CmdConnect:
		return "CONNECT"
	case CmdBind:
		return "BIND"
	case CmdUDPAssociate:
		return "UDP_ASSOCIATE"
	}
	return fmt.Sprintf("Command(%#02x)", byte(c))
}

// AddrType is the SOCKS5 ATYP field.
type AddrType byte

const (
	AddrIPv4   AddrType = 0x01
	AddrDomain AddrType = 0x03
	AddrIPv6   AddrType = 0x04
)

func (t AddrType) valid() bool {
	return t == AddrIPv4 || t == AddrDomain || t == AddrIPv6
}

func (t AddrType) String() string {
	switch t {
	case AddrIPv4:
		return "IPV4"
	case AddrDomain:
		return "DOMAINNAME"
	case AddrIPv6:
		return "IPV6"
	}
	return fmt.Sprintf("AddrType(%#02x)", byte(t))
}

// Status is a SOCKS5 reply code.
type Status byte

const (
	StatusSuccess Status = iota
	StatusGeneralFailure
	StatusNotAllowed
	StatusNetworkUnreachable
	StatusHostUnreachable
	StatusConnRefused
	StatusTTLExpired
	StatusCmdNotSupported
	StatusAddrNotSupported
)

var statusNames = [...]string{
	StatusSuccess:            "SUCCESS",
	StatusGeneralFailure:     "GENERAL_FAILURE",
	StatusNotAllowed:         "CONNECTION_NOT_ALLOWED",
	StatusNetworkUnreachable: "NETWORK_UNREACHABLE",
	StatusHostUnreachable:    "HOST_UNREACHABLE",
	StatusConnRefused:        "CONNECTION_REFUSED",
	StatusTTLExpired:         "TTL_EXPIRED",
	StatusCmdNotSupported:    "COMMAND_NOT_SUPPORTED",
	StatusAddrNotSupported:   "ADDRESS_TYPE_NOT_SUPPORTED",
}

func (s Status) valid() bool {
	return s <= StatusAddrNotSupported
}

func (s Status) String() string {
	if s.valid() {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%#02x)", byte(s))
}

// Socks4Status is a SOCKS4 reply code.
type Socks4Status byte

const (
	Socks4Granted        Socks4Status = 0x5a
	Socks4Rejected       Socks4Status = 0x5b
	Socks4NoIdentd       Socks4Status = 0x5c
	Socks4IdentdMismatch Socks4Status = 0x5d
)

func (s Socks4Status) valid() bool {
	return s >= Socks4Granted && s <= Socks4IdentdMismatch
}

func (s Socks4Status) String() string {
	switch s {
	case Socks4Granted:
		return "REQUEST_GRANTED"
	case Socks4Rejected:
		return "REQUEST_REJECTED"
	case Socks4NoIdentd:
		return "REQUEST_FAILED_NO_IDENTD"
	case Socks4IdentdMismatch:
		return "REQUEST_FAILED_IDENTD_MISMATCH"
	}
	return fmt.Sprintf("Socks4Status(%#02x)", byte(s))
}

// AuthStatus is the RFC 1929 status byte. Any non-zero value is a failure.
type AuthStatus byte

const (
	AuthSuccess AuthStatus = 0x00
	AuthFailure AuthStatus = 0x01
)

// OK reports whether the status signals successful authentication.
func (s AuthStatus) OK() bool {
	return s == AuthSuccess
}

func (s AuthStatus) String() string {
	if s.OK() {
		return "SUCCESS"
	}
	return fmt.Sprintf("FAILURE(%#02x)", byte(s))
}
