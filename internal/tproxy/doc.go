// Package tproxy implements a transparent proxy front-end. Connections
// redirected to it by the firewall are forwarded to their original
// destination through the configured dialer, so a socks4/4a/5 upstream
// sees them as ordinary CONNECT requests.
//
// On Linux, it listens with IP_TRANSPARENT and retrieves the original
// destination of redirected TCP connections via SO_ORIGINAL_DST (getsockopt).
// This is designed for use with iptables/nftables TPROXY or REDIRECT rules.
//
// On FreeBSD, it listens with IP_BINDANY and retrieves the original
// destination from the socket's local address (which IPFW fwd and PF
// rdr-to preserve).
//
// On OpenBSD, it listens with SO_BINDANY and retrieves the original
// destination from the socket's local address (which PF rdr-to preserves).
//
// On other platforms, the listener and original-destination lookup return
// errors.
package tproxy
