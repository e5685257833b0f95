package proxy

import (
	"net"
	"testing"
)

func TestListenTCPReusePort(t *testing.T) {
	if !ReusePortSupported {
		t.Skip("SO_REUSEPORT not supported")
	}

	ln1, err := ListenTCP("tcp", "127.0.0.1:0", net.KeepAliveConfig{Enable: true}, true)
	if err != nil {
		t.Fatal(err)
	}
	defer ln1.Close()

	ln2, err := ListenTCP("tcp", ln1.Addr().String(), net.KeepAliveConfig{Enable: true}, true)
	if err != nil {
		t.Fatalf("second listener on %s: %v", ln1.Addr(), err)
	}
	defer ln2.Close()

	if _, err := ListenTCP("tcp", ln1.Addr().String(), net.KeepAliveConfig{}, false); err == nil {
		t.Fatal("listener without SO_REUSEPORT should fail")
	}
}
