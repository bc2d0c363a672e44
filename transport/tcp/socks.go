package tcp

import (
	"context"
	"net"

	"event-http/transport"

	"github.com/pkg/errors"
	"h12.io/socks"
)

// SOCKSDialer tunnels connections through a SOCKS4/4A/5 proxy.
//
// ProxyURI is like "socks5://127.0.0.1:1080?timeout=5s".
type SOCKSDialer struct {
	ProxyURI string
}

var _ transport.ConnDialer = (*SOCKSDialer)(nil)

func (d *SOCKSDialer) Dial(ctx context.Context, addr transport.Addr) (transport.Conn, error) {
	dial := socks.Dial(d.ProxyURI)

	type result struct {
		c   net.Conn
		err error
	}
	ch := make(chan result, 1)

	go func() {
		c, err := dial("tcp", addr.String())
		ch <- result{c, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, errors.Wrapf(r.err, "dialing %s via %s", addr, d.ProxyURI)
		}
		return Wrap(r.c), nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.c != nil {
				r.c.Close()
			}
		}()
		return nil, ctx.Err()
	}
}
