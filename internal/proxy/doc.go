// Package proxy implements the sockstate SOCKS4/4a/5 proxy server and an
// HTTP proxy front-end that shares its outbound dialer.
//
// It contains the accept loop and per-connection handling, and shared
// connection plumbing such as keepalive and reuse-port listeners and
// bidirectional copy.
package proxy
