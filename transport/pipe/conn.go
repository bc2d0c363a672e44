// Package pipe provides in-memory connections and a dialer/listener pair over them.
package pipe

import (
	"bytes"
	"sync"
	"time"

	"event-http/transport"

	"github.com/benbjohnson/clock"
)

type Addr struct {
	Name string
}

func (p Addr) Network() string { return string(transport.Pipe) }
func (p Addr) String() string  { return p.Name }

var _ transport.Addr = Addr{}

// buffer is one direction of a pipe pair.
type buffer struct {
	mu   sync.Mutex
	cond *sync.Cond // broadcast on every state change.

	data   bytes.Buffer
	size   int
	closed bool
}

func newBuffer(size uint) *buffer {
	b := &buffer{size: int(size)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *buffer) close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *buffer) wake() {
	b.mu.Lock()
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Conn is one end of a buffered in-memory connection.
// Writes block only while the peer's buffer is full.
//
// See:
// - https://github.com/golang/go/issues/24205
// - https://github.com/golang/go/issues/34502
type Conn struct {
	local, remote Addr

	rx, tx *buffer

	writeMu sync.Mutex // serializes writes so they never interleave.

	rdeadLine, wdeadLine *deadline

	closeOnce sync.Once
	onClose   func()
}

var _ transport.Conn = (*Conn)(nil)
var _ transport.BufferedConn = (*Conn)(nil)

// New creates a connected pair. Each direction buffers up to bufSize bytes,
// so bufSize MUST be more than 0.
func New(addr1, addr2 Addr, clock clock.Clock, bufSize uint) (c1, c2 *Conn) {
	if bufSize == 0 {
		panic("buffer size cannot be 0")
	}

	ab, ba := newBuffer(bufSize), newBuffer(bufSize)

	c1 = &Conn{
		local: addr1, remote: addr2,
		rx: ba, tx: ab,
		rdeadLine: newDeadLine(clock), wdeadLine: newDeadLine(clock),
	}
	c2 = &Conn{
		local: addr2, remote: addr1,
		rx: ab, tx: ba,
		rdeadLine: newDeadLine(clock), wdeadLine: newDeadLine(clock),
	}
	return c1, c2
}

func (c *Conn) ReadBufSize() uint          { return uint(c.rx.size) }
func (c *Conn) WriteBufSize() uint         { return uint(c.tx.size) }
func (c *Conn) LocalAddr() transport.Addr  { return c.local }
func (c *Conn) RemoteAddr() transport.Addr { return c.remote }

// Close closes both directions. Data already buffered stays readable.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.rx.close()
		c.tx.close()
		c.rdeadLine.stop()
		c.wdeadLine.stop()
		if c.onClose != nil {
			c.onClose()
		}
	})
	return nil
}

func (c *Conn) Read(b []byte) (n int, err error) {
	rx := c.rx
	rx.mu.Lock()
	defer rx.mu.Unlock()

	for {
		// We must check for deadline first.
		if c.rdeadLine.exceeded() {
			return 0, transport.ErrDeadLineExceeded
		}

		if rx.data.Len() > 0 {
			n, _ = rx.data.Read(b)
			// A writer may be waiting for room.
			rx.cond.Broadcast()
			return n, nil
		}

		if rx.closed {
			return 0, transport.ErrConnClosed
		}

		rx.cond.Wait()
	}
}

func (c *Conn) Write(b []byte) (n int, err error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	tx := c.tx
	tx.mu.Lock()
	defer tx.mu.Unlock()

	// Ensure all the bytes are sent.
	for {
		if c.wdeadLine.exceeded() {
			return n, transport.ErrDeadLineExceeded
		}

		if tx.closed {
			return n, transport.ErrConnClosed
		}

		if len(b) == 0 {
			break
		}

		if room := tx.size - tx.data.Len(); room > 0 {
			w := min(len(b), room)
			tx.data.Write(b[:w])
			b = b[w:]
			n += w

			tx.cond.Broadcast()
			continue
		}

		tx.cond.Wait()
	}

	return n, nil
}

func (c *Conn) SetReadDeadLine(t time.Time)  { c.rdeadLine.set(t, c.rx.wake) }
func (c *Conn) SetWriteDeadLine(t time.Time) { c.wdeadLine.set(t, c.tx.wake) }

func newDeadLine(clock clock.Clock) *deadline { return &deadline{clock: clock} }

type deadline struct {
	clock clock.Clock
	m     sync.Mutex

	timer *clock.Timer
	t     time.Time
}

// set arms the deadline. onExceed wakes up whoever waits on it.
func (d *deadline) set(t time.Time, onExceed func()) {
	d.m.Lock()
	defer d.m.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}

	d.t = t

	if !t.IsZero() {
		d.timer = d.clock.AfterFunc(d.clock.Until(t), onExceed)
	}
}

func (d *deadline) stop() {
	d.m.Lock()
	defer d.m.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *deadline) exceeded() bool {
	d.m.Lock()
	defer d.m.Unlock()

	if d.t.IsZero() {
		return false
	}

	return !d.clock.Now().Before(d.t)
}
