package engine

import (
	"net/netip"
	"testing"

	"event-http/transport"
	"event-http/transport/tcp"

	"github.com/stretchr/testify/assert"
)

type unixAddr string

func (a unixAddr) Network() string { return "unix" }
func (a unixAddr) String() string  { return string(a) }

func TestSplitAddr(t *testing.T) {
	testcases := []struct {
		desc string
		addr transport.Addr
		host string
		port uint16
	}{
		{desc: "ipv4", addr: tcp.NewAddr(netip.MustParseAddr("192.0.2.1"), 80), host: "192.0.2.1", port: 80},
		{desc: "mapped", addr: tcp.NewAddr(netip.MustParseAddr("::ffff:192.0.2.1"), 8080), host: "192.0.2.1", port: 8080},
		{desc: "ipv6", addr: tcp.NewAddr(netip.MustParseAddr("2001:db8::1"), 443), host: "2001:db8::1", port: 443},
		{desc: "not ip", addr: unixAddr("/run/evhttpd.sock"), host: "/run/evhttpd.sock"},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			host, port := splitAddr(tc.addr)
			assert.Equal(t, tc.host, host)
			assert.Equal(t, tc.port, port)
		})
	}
}
