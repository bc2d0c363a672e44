// Package tcp adapts operating system TCP sockets to the transport interfaces.
package tcp

import (
	"context"
	"net"
	"net/netip"
	"os"
	"syscall"
	"time"

	"event-http/transport"

	"github.com/pkg/errors"
)

type Addr struct {
	netip.AddrPort
}

var _ transport.Addr = Addr{}

func NewAddr(ip netip.Addr, port uint16) Addr {
	return Addr{netip.AddrPortFrom(ip, port)}
}

func (a Addr) Network() string { return string(transport.TCP) }

// netAddr keeps addresses which aren't TCP. e.g. unix sockets behind PROXY headers.
type netAddr struct{ net.Addr }

func addrFrom(a net.Addr) transport.Addr {
	if a, ok := a.(*net.TCPAddr); ok {
		// IPv4 peers on dual-stack sockets arrive 4-in-6 mapped.
		ap := a.AddrPort()
		return Addr{netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())}
	}
	return netAddr{a}
}

type conn struct {
	c net.Conn
}

var _ transport.Conn = (*conn)(nil)

// Wrap adapts c into a transport.Conn.
func Wrap(c net.Conn) transport.Conn { return &conn{c: c} }

// Unwrap returns the socket behind c, if any.
func Unwrap(c transport.Conn) (net.Conn, bool) {
	if c, ok := c.(*conn); ok {
		return c.c, true
	}
	return nil, false
}

func (c *conn) Read(p []byte) (int, error) {
	n, err := c.c.Read(p)
	return n, convertErr(err)
}

func (c *conn) Write(p []byte) (int, error) {
	n, err := c.c.Write(p)
	return n, convertErr(err)
}

func (c *conn) Close() error {
	if err := c.c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (c *conn) LocalAddr() transport.Addr  { return addrFrom(c.c.LocalAddr()) }
func (c *conn) RemoteAddr() transport.Addr { return addrFrom(c.c.RemoteAddr()) }

func (c *conn) SetReadDeadLine(t time.Time)  { _ = c.c.SetReadDeadline(t) }
func (c *conn) SetWriteDeadLine(t time.Time) { _ = c.c.SetWriteDeadline(t) }

func convertErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return transport.ErrDeadLineExceeded
	case errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return errors.Wrap(transport.ErrConnClosed, err.Error())
	}

	return err
}

func convertDialErr(err error, addr string) error {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return errors.Wrap(transport.ErrConnRefused, addr)
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return errors.Wrap(transport.ErrNetUnreachable, addr)
	}

	return errors.Wrapf(err, "dialing %s", addr)
}

// Dialer opens TCP connections, optionally from a fixed local address.
type Dialer struct {
	// LocalAddr is the bind address. Its IP and port apply independently,
	// each only when set.
	LocalAddr netip.AddrPort
	KeepAlive time.Duration
}

var _ transport.ConnDialer = (*Dialer)(nil)

func (d *Dialer) Dial(ctx context.Context, addr transport.Addr) (transport.Conn, error) {
	nd := net.Dialer{KeepAlive: d.KeepAlive}

	if d.LocalAddr.Addr().IsValid() || d.LocalAddr.Port() != 0 {
		local := &net.TCPAddr{Port: int(d.LocalAddr.Port())}
		if d.LocalAddr.Addr().IsValid() {
			local.IP = d.LocalAddr.Addr().AsSlice()
		}
		nd.LocalAddr = local
	}

	c, err := nd.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, convertDialErr(err, addr.String())
	}

	return Wrap(c), nil
}
