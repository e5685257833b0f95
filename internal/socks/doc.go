// Package socks implements the SOCKS4, SOCKS4a and SOCKS5 wire protocol as a
// state machine that performs no I/O.
//
// A [Connection] is driven by the caller: bytes read from a transport are
// passed to [Connection.Recv], which returns a decoded [Event] or
// [NeedMoreData] when the buffered bytes do not yet hold a complete message.
// Events passed to [Connection.Send] are checked against the current protocol
// step and encoded into bytes for the caller to write.
//
// The username/password subnegotiation of RFC 1929 runs on an
// [AuthConnection], which a Connection creates and drives by itself once the
// server selects [MethodUsernamePassword]. The caller ends that phase with
// [Connection.AuthEnd].
//
// Nothing in this package blocks, logs or holds locks. A Connection must not
// be used from more than one goroutine at a time.
package socks
