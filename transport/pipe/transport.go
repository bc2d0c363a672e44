package pipe

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"event-http/transport"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

const (
	DefaultBufferSize uint = 64 * 1024

	dialerHost = "127.0.0.1"
)

// Transport connects dialers and listeners inside one process.
// Listeners are keyed by the String form of their address.
type Transport struct {
	clock   clock.Clock
	bufSize uint
	ports   *transport.PortTable

	mu        sync.Mutex
	listeners map[string]*Listener
}

var _ transport.ConnDialer = (*Transport)(nil)

func NewTransport(clock clock.Clock) *Transport {
	return NewTransportSize(clock, DefaultBufferSize)
}

func NewTransportSize(clock clock.Clock, bufSize uint) *Transport {
	return &Transport{
		clock:   clock,
		bufSize: bufSize,
		ports: transport.NewPortTable(transport.EphemeralPortOptions{
			Range:  transport.DefaultEphemeralRange,
			Rand:   func() uint16 { return uint16(rand.UintN(1 << 16)) },
			MaxTry: 16,
		}),
		listeners: make(map[string]*Listener),
	}
}

func (t *Transport) Listen(addr transport.Addr) (*Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := addr.String()
	if _, ok := t.listeners[key]; ok {
		return nil, errors.Wrap(transport.ErrAddrAlreadyInUse, key)
	}

	l := &Listener{
		addr:      Addr{Name: key},
		transport: t,
		requests:  make(chan *Conn),
		closed:    make(chan struct{}),
	}
	t.listeners[key] = l

	return l, nil
}

func (t *Transport) Dial(ctx context.Context, addr transport.Addr) (transport.Conn, error) {
	t.mu.Lock()
	l, ok := t.listeners[addr.String()]
	t.mu.Unlock()

	if !ok {
		return nil, errors.Wrap(transport.ErrNetUnreachable, addr.String())
	}

	ok, port, release := t.ports.Occupy(0)
	if !ok {
		return nil, errors.New("no ephemeral port available")
	}

	local := Addr{Name: fmt.Sprintf("%s:%d", dialerHost, port)}
	c1, c2 := New(local, l.addr, t.clock, t.bufSize)
	c1.onClose = release

	select {
	case l.requests <- c2:
		return c1, nil
	case <-l.closed:
	case <-ctx.Done():
		release()
		return nil, ctx.Err()
	}

	release()
	return nil, errors.Wrap(transport.ErrConnRefused, addr.String())
}

func (t *Transport) remove(l *Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listeners[l.addr.Name] == l {
		delete(t.listeners, l.addr.Name)
	}
}

type Listener struct {
	addr      Addr
	transport *Transport

	requests  chan *Conn // never closed; closed signals shutdown.
	closed    chan struct{}
	closeOnce sync.Once
}

var _ transport.ConnListener = (*Listener)(nil)

func (l *Listener) Addr() transport.Addr { return l.addr }

func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case c := <-l.requests:
		return c, nil
	case <-l.closed:
		return nil, transport.ErrConnListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Listener) Close() error {
	err := transport.ErrConnListenerClosed

	l.closeOnce.Do(func() {
		close(l.closed)
		l.transport.remove(l)
		err = nil
	})

	return err
}
