package tcp

import (
	"context"
	"net"
	"syscall"
	"time"

	"event-http/transport"

	"github.com/pires/go-proxyproto"
	"github.com/pkg/errors"
)

type ListenOptions struct {
	// ProxyProtocol requires a PROXY protocol header on every accepted
	// connection. RemoteAddr then reports the client behind the proxy.
	ProxyProtocol     bool
	ReadHeaderTimeout time.Duration
}

type Listener struct {
	base *net.TCPListener
	l    net.Listener
}

var _ transport.ConnListener = (*Listener)(nil)

func Listen(addr string, opts ListenOptions) (*Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, errors.Wrap(transport.ErrAddrAlreadyInUse, addr)
		}
		return nil, errors.Wrapf(err, "listening on %s", addr)
	}

	ln := &Listener{base: l.(*net.TCPListener), l: l}

	if opts.ProxyProtocol {
		ln.l = &proxyproto.Listener{
			Listener: l,
			Policy: func(net.Addr) (proxyproto.Policy, error) {
				return proxyproto.REQUIRE, nil
			},
			ReadHeaderTimeout: opts.ReadHeaderTimeout,
		}
	}

	return ln, nil
}

func (l *Listener) Addr() transport.Addr { return addrFrom(l.base.Addr()) }

// Accept waits for the next connection until ctx is done.
func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = l.base.SetDeadline(time.Unix(1, 0))
	})

	c, err := l.l.Accept()
	if !stop() {
		// ctx fired. Clear the deadline for the next caller.
		_ = l.base.SetDeadline(time.Time{})
		if err != nil {
			return nil, ctx.Err()
		}
	}

	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, transport.ErrConnListenerClosed
		}
		return nil, err
	}

	return Wrap(c), nil
}

func (l *Listener) Close() error {
	if err := l.l.Close(); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return transport.ErrConnListenerClosed
		}
		return err
	}
	return nil
}
