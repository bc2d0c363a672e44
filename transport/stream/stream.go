// Package stream provides the byte stream an HTTP link runs on: a transport
// connection, optionally TLS terminated.
package stream

import (
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"event-http/transport"
	"event-http/transport/tcp"

	"github.com/pkg/errors"
)

var (
	ErrUnsupported = errors.New("tls support is not compiled in")
	ErrNoContext   = errors.New("tls context is required")
)

// Stream is a transport.Conn which may run TLS on top of another one.
type Stream struct {
	conn transport.Conn // the raw connection.
	rw   io.ReadWriteCloser

	secure bool

	mu      sync.Mutex
	tlsErrs []error
}

var _ transport.Conn = (*Stream)(nil)

// New wraps conn without TLS.
func New(conn transport.Conn) *Stream {
	return &Stream{conn: conn, rw: conn}
}

func (s *Stream) Conn() transport.Conn { return s.conn }

// IsSecure reports whether TLS is active on the stream.
func (s *Stream) IsSecure() bool { return s.secure }

func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.rw.Read(p)
	return n, s.filter(err)
}

func (s *Stream) Write(p []byte) (int, error) {
	n, err := s.rw.Write(p)
	return n, s.filter(err)
}

func (s *Stream) Close() error {
	if s.secure {
		// Sends close_notify. Peer may be gone already.
		_ = s.rw.Close()
		return nil
	}
	return s.conn.Close()
}

func (s *Stream) LocalAddr() transport.Addr    { return s.conn.LocalAddr() }
func (s *Stream) RemoteAddr() transport.Addr   { return s.conn.RemoteAddr() }
func (s *Stream) SetReadDeadLine(t time.Time)  { s.conn.SetReadDeadLine(t) }
func (s *Stream) SetWriteDeadLine(t time.Time) { s.conn.SetWriteDeadLine(t) }

// TLSErrors returns the TLS errors seen so far. It is empty without TLS.
func (s *Stream) TLSErrors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]error(nil), s.tlsErrs...)
}

// LogTLSErrors writes the TLS errors seen so far to logger and forgets them.
func (s *Stream) LogTLSErrors(logger *slog.Logger) {
	s.mu.Lock()
	errs := s.tlsErrs
	s.tlsErrs = nil
	s.mu.Unlock()

	for _, err := range errs {
		logger.Warn("tls error", slog.String("peer", s.RemoteAddr().String()), slog.Any("err", err))
	}
}

// filter records errors raised by the TLS layer itself.
func (s *Stream) filter(err error) error {
	if err == nil || !s.secure {
		return err
	}

	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, transport.ErrConnClosed),
		errors.Is(err, transport.ErrDeadLineExceeded):
		return err
	}

	s.mu.Lock()
	s.tlsErrs = append(s.tlsErrs, err)
	s.mu.Unlock()

	return err
}

// netConn exposes a transport.Conn as a net.Conn for TLS libraries.
type netConn struct {
	transport.Conn
}

func asNetConn(c transport.Conn) net.Conn {
	if raw, ok := tcp.Unwrap(c); ok {
		return raw
	}
	return netConn{c}
}

func (c netConn) LocalAddr() net.Addr  { return c.Conn.LocalAddr() }
func (c netConn) RemoteAddr() net.Addr { return c.Conn.RemoteAddr() }

func (c netConn) SetDeadline(t time.Time) error {
	c.Conn.SetReadDeadLine(t)
	c.Conn.SetWriteDeadLine(t)
	return nil
}

func (c netConn) SetReadDeadline(t time.Time) error {
	c.Conn.SetReadDeadLine(t)
	return nil
}

func (c netConn) SetWriteDeadline(t time.Time) error {
	c.Conn.SetWriteDeadLine(t)
	return nil
}
