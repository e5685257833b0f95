package socks

import (
	"net"
	"net/netip"
	"strconv"

	"golang.org/x/net/idna"
)

const maxDomainLen = 255

// Addr is the SOCKS5 address union. IP is set for AddrIPv4 and AddrIPv6,
// Domain for AddrDomain.
type Addr struct {
	Type   AddrType
	IP     netip.Addr
	Domain string
}

// NewAddr parses s according to atyp. Domain names are converted to their
// ASCII (punycode) form.
func NewAddr(atyp AddrType, s string) (Addr, error) {
	switch atyp {
	case AddrIPv4:
		ip, err := netip.ParseAddr(s)
		if err != nil || !ip.Is4() {
			return Addr{}, invalid("addr", "%q is not an IPv4 address", s)
		}
		return Addr{Type: AddrIPv4, IP: ip}, nil
	case AddrIPv6:
		ip, err := netip.ParseAddr(s)
		if err != nil || !ip.Is6() || ip.Zone() != "" {
			return Addr{}, invalid("addr", "%q is not an IPv6 address", s)
		}
		return Addr{Type: AddrIPv6, IP: ip}, nil
	case AddrDomain:
		name, err := toASCII(s)
		if err != nil {
			return Addr{}, err
		}
		return Addr{Type: AddrDomain, Domain: name}, nil
	}
	return Addr{}, invalid("addr type", "unsupported address type %s", atyp)
}

// AddrFromIP returns an IPv4 or IPv6 Addr for ip. IPv4-mapped IPv6
// addresses are unmapped.
func AddrFromIP(ip netip.Addr) Addr {
	ip = ip.Unmap().WithZone("")
	if ip.Is4() {
		return Addr{Type: AddrIPv4, IP: ip}
	}
	return Addr{Type: AddrIPv6, IP: ip}
}

// ParseHostPort splits a "host:port" string into an Addr and port. IP
// literals become IPv4/IPv6 addresses, anything else a domain name.
func ParseHostPort(hostport string) (Addr, uint16, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Addr{}, 0, invalid("address", "%v", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Addr{}, 0, invalid("port", "%q is not a port number", portStr)
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return AddrFromIP(ip), uint16(port), nil
	}
	a, err := NewAddr(AddrDomain, host)
	if err != nil {
		return Addr{}, 0, err
	}
	return a, uint16(port), nil
}

// String returns the IP or domain name.
func (a Addr) String() string {
	if a.Type == AddrDomain {
		return a.Domain
	}
	return a.IP.String()
}

func (a Addr) validate() error {
	switch a.Type {
	case AddrIPv4:
		if !a.IP.Is4() {
			return invalid("addr", "%s is not an IPv4 address", a.IP)
		}
	case AddrIPv6:
		if !a.IP.Is6() || a.IP.Zone() != "" {
			return invalid("addr", "%s is not an IPv6 address", a.IP)
		}
	case AddrDomain:
		return validateDomain(a.Domain)
	default:
		return invalid("addr type", "unsupported address type %s", a.Type)
	}
	return nil
}

func toASCII(name string) (string, error) {
	ascii, err := idna.Punycode.ToASCII(name)
	if err != nil {
		return "", invalid("domain name", "%q: %v", name, err)
	}
	if err := validateDomain(ascii); err != nil {
		return "", err
	}
	return ascii, nil
}

func validateDomain(name string) error {
	switch {
	case name == "":
		return invalid("domain name", "empty")
	case len(name) > maxDomainLen:
		return invalid("domain name", "%d bytes exceeds %d", len(name), maxDomainLen)
	}
	return checkText("domain name", name)
}

// checkText requires 7-bit ASCII without NUL, which SOCKS4 uses as a
// terminator.
func checkText(field, s string) error {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c == 0 || c > 0x7f {
			return invalid(field, "non-ASCII or NUL byte %#02x at offset %d", c, i)
		}
	}
	return nil
}
