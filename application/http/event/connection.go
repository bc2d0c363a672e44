// Package event is the request and connection API on top of the engine.
//
// Every method must be called on the loop goroutine of the engine base the
// connection or request belongs to.
package event

import (
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"event-http/application/config"
	"event-http/application/http/engine"
	"event-http/application/util/domain"
	"event-http/application/util/uri"
	"event-http/lib/own"
	"event-http/transport"
	"event-http/transport/stream"

	"github.com/pkg/errors"
)

// Addr is a peer given by host name or address, and port.
type Addr struct {
	Host string
	Port uint16
}

func (a Addr) String() string {
	return net.JoinHostPort(a.Host, strconv.FormatUint(uint64(a.Port), 10))
}

func ParseAddr(s string) (Addr, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Addr{}, errors.Wrapf(ErrInvalidArgument, "address %q", s)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return Addr{}, errors.Wrapf(ErrInvalidArgument, "port of %q", s)
	}
	return Addr{Host: host, Port: uint16(p)}, nil
}

// Connection is an HTTP link to one peer.
type Connection struct {
	link own.Handle[*engine.Link]
}

func freeLink(l *engine.Link) { l.Free() }

// WrapConnection wraps link. With deallocate the connection owns link and
// frees it on Close.
func WrapConnection(link *engine.Link, deallocate bool) (*Connection, error) {
	if link == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "connection cannot be nil")
	}
	return &Connection{link: own.New(link, deallocate, freeLink)}, nil
}

// DialConnection creates a connection to peer. Nothing is dialed before the
// first request.
func DialConnection(base *engine.Base, resolver domain.Lookuper, peer Addr) (*Connection, error) {
	if err := checkDial(base, resolver, peer); err != nil {
		return nil, err
	}
	return WrapConnection(engine.NewLink(base, resolver, peer.Host, peer.Port), true)
}

// DialConnectionOverStream creates a connection to peer that sends its
// requests over s. The connection owns s from now on.
func DialConnectionOverStream(base *engine.Base, resolver domain.Lookuper, s *stream.Stream, peer Addr) (*Connection, error) {
	if s == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "stream cannot be nil")
	}
	if err := checkDial(base, resolver, peer); err != nil {
		return nil, err
	}
	return WrapConnection(engine.NewLinkOverStream(base, resolver, s, peer.Host, peer.Port), true)
}

// DialConnectionToURI creates a connection to the host of an http or https
// URI. https needs tlsCtx.
func DialConnectionToURI(base *engine.Base, resolver domain.Lookuper, rawURI string, tlsCtx *stream.TLSContext) (*Connection, error) {
	u, err := uri.Parse(rawURI)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidArgument, "uri %q: %s", rawURI, err)
	}

	https := false
	switch strings.ToLower(u.Scheme) {
	case "http":
	case "https":
		https = true
	default:
		return nil, errors.Wrapf(ErrInvalidArgument, "scheme %q", u.Scheme)
	}

	peer := Addr{Host: u.Host(), Port: u.Port()}
	if https {
		if !stream.TLSSupported {
			return nil, errors.Wrap(ErrUnsupportedFeature, "built without tls support")
		}
		if tlsCtx == nil {
			return nil, errors.Wrap(ErrConfig, "need tls context for https connection")
		}
	}

	if err := checkDial(base, resolver, peer); err != nil {
		return nil, err
	}

	link := engine.NewLink(base, resolver, peer.Host, peer.Port)
	if https {
		ctx := *tlsCtx
		if ctx.ServerName == "" {
			ctx.ServerName = peer.Host
		}
		link.SetStreamWrapper(func(conn transport.Conn) (*stream.Stream, error) {
			return stream.Client(conn, &ctx)
		})
	}

	link.Logger().Debug("connecting", slog.String("uri", rawURI))

	return WrapConnection(link, true)
}

func checkDial(base *engine.Base, resolver domain.Lookuper, peer Addr) error {
	switch {
	case base == nil, resolver == nil:
		return errors.Wrap(ErrConnection, "engine and resolver are required")
	case peer.Host == "":
		return errors.Wrapf(ErrConnection, "failed to create connection to %s", peer)
	}
	return nil
}

// Link returns the wrapped link, or nil once closed.
func (c *Connection) Link() *engine.Link { return c.link.Get() }

func (c *Connection) Logger() *slog.Logger {
	if l := c.link.Get(); l != nil {
		return l.Logger()
	}
	return slog.New(slog.DiscardHandler)
}

// TransportStream returns the stream of the current connection.
func (c *Connection) TransportStream() (*stream.Stream, error) {
	l := c.link.Get()
	if l == nil || l.Stream() == nil {
		return nil, errors.Wrap(ErrNotAvailable, "connection does not have a stream")
	}
	return l.Stream(), nil
}

// Peer is the host and port the link was created for. A connected IPv4
// socket address takes precedence.
func (c *Connection) Peer() Addr {
	l := c.link.Get()
	if l == nil {
		return Addr{}
	}

	host, port := l.Peer()
	peer := Addr{Host: host, Port: port}

	if raw := l.RawAddr(); raw != nil {
		if ap, err := netip.ParseAddrPort(raw.String()); err == nil && ap.Addr().Unmap().Is4() {
			peer = Addr{Host: ap.Addr().Unmap().String(), Port: ap.Port()}
		}
	}

	return peer
}

// The setters do nothing once the connection is closed.

func (c *Connection) SetMaxBodySize(n uint) {
	if l := c.link.Get(); l != nil {
		l.SetMaxBodySize(n)
	}
}

func (c *Connection) SetMaxHeaderSize(n uint) {
	if l := c.link.Get(); l != nil {
		l.SetMaxHeaderSize(n)
	}
}

func (c *Connection) SetRetries(n int) {
	if l := c.link.Get(); l != nil {
		l.SetRetries(n)
	}
}

func (c *Connection) SetInitialRetryDelay(d time.Duration) {
	if l := c.link.Get(); l != nil {
		l.SetInitialRetryDelay(d)
	}
}

func (c *Connection) SetTimeout(d time.Duration) {
	if l := c.link.Get(); l != nil {
		l.SetTimeout(d)
	}
}

// SetLocalAddress binds outgoing sockets. The address and the port are
// applied separately, each only if set.
func (c *Connection) SetLocalAddress(addr netip.AddrPort) {
	l := c.link.Get()
	if l == nil {
		return
	}
	if ip := addr.Addr(); ip.IsValid() && !ip.IsUnspecified() {
		l.SetLocalIP(ip)
	}
	if addr.Port() != 0 {
		l.SetLocalPort(addr.Port())
	}
}

// SetDialer replaces the TCP dialer, e.g. by a SOCKS one.
func (c *Connection) SetDialer(d transport.ConnDialer) {
	if l := c.link.Get(); l != nil {
		l.SetDialer(d)
	}
}

// Apply sets every limit from opts.
func (c *Connection) Apply(opts config.ConnectionOptions) error {
	local, err := opts.LocalAddrPort()
	if err != nil {
		return errors.Wrap(ErrConfig, err.Error())
	}

	c.SetMaxBodySize(opts.MaxBodySize)
	c.SetMaxHeaderSize(opts.MaxHeaderSize)
	c.SetRetries(opts.Retries)
	c.SetInitialRetryDelay(opts.InitialRetryDelay.Std())
	c.SetTimeout(opts.Timeout.Std())
	c.SetLocalAddress(local)
	return nil
}

// MakeRequest submits txn as a method request for u.
func (c *Connection) MakeRequest(txn *engine.Transaction, method Method, u uri.URI) error {
	cmd, err := method.command()
	if err != nil {
		return err
	}

	l := c.link.Get()
	if l == nil {
		return errors.Wrap(ErrConnection, "connection is closed")
	}

	if err := l.MakeRequest(txn, cmd, u.RequestTarget()); err != nil {
		return errors.Wrapf(ErrConnection, "failed to make request to %s: %s", u.String(), err)
	}
	return nil
}

// LogTLSErrors logs and clears the TLS errors of the stream, if any.
func (c *Connection) LogTLSErrors() {
	if s, err := c.TransportStream(); err == nil {
		s.LogTLSErrors(c.Logger())
	}
}

// TLSErrors describes the TLS errors of the stream, one per line.
func (c *Connection) TLSErrors() string {
	s, err := c.TransportStream()
	if err != nil {
		return ""
	}

	var b strings.Builder
	for i, e := range s.TLSErrors() {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(e.Error())
	}
	return b.String()
}

// Close frees the link if the connection owns it.
func (c *Connection) Close() { c.link.Close() }
