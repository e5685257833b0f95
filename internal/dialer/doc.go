// Package dialer provides outbound dialing implementations used by sockstate.
//
// Dialers implement a small interface (DialContext) and are used by the proxy
// server to establish outbound connections either directly or via an
// upstream SOCKS4, SOCKS4a or SOCKS5 proxy.
package dialer
