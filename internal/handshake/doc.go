// Package handshake runs the SOCKS4/4a/5 handshake over a blocking net.Conn.
//
// It drives a socks.Connection, which owns all protocol state, and only adds
// reads, writes and policy: which methods to offer or accept, how to check
// credentials and which reply to send for a failed dial. It is shared by
// internal/proxy (server side) and internal/dialer (client side).
package handshake
