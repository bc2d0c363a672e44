// Package buffer is a byte queue backed by pooled storage.
//
// A Buffer either owns its storage, returning it to the pool on Free,
// or borrows storage that belongs to someone else.
package buffer

import (
	"encoding/hex"
	"io"
	"os"

	"event-http/lib/own"

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
)

type Buffer struct {
	h   own.Handle[*bytebufferpool.ByteBuffer]
	off int // read offset into h.Get().B
}

var (
	_ io.Writer       = (*Buffer)(nil)
	_ io.StringWriter = (*Buffer)(nil)
	_ io.ReaderFrom   = (*Buffer)(nil)
)

// New returns an empty owned buffer.
func New() *Buffer { return Wrap(bytebufferpool.Get(), true) }

// From returns an owned buffer holding a copy of b.
func From(b []byte) *Buffer {
	buf := New()
	buf.Add(b)
	return buf
}

// Wrap wraps existing storage. Only owned storage is returned to the pool by Free.
func Wrap(bb *bytebufferpool.ByteBuffer, owned bool) *Buffer {
	return &Buffer{h: own.New(bb, owned, bytebufferpool.Put)}
}

func (b *Buffer) raw() *bytebufferpool.ByteBuffer {
	if !b.h.IsSet() {
		// Freed buffers keep working as empty ones.
		b.h = own.Owned(bytebufferpool.Get(), bytebufferpool.Put)
		b.off = 0
	}
	return b.h.Get()
}

func (b *Buffer) IsOwned() bool { return b.h.IsOwned() }

func (b *Buffer) Add(p []byte)       { b.raw().B = append(b.raw().B, p...) }
func (b *Buffer) AddString(s string) { b.raw().B = append(b.raw().B, s...) }

// AddBuffer appends the unread contents of o without consuming them.
func (b *Buffer) AddBuffer(o *Buffer) {
	if o == nil || o == b {
		return
	}
	b.Add(o.Bytes())
}

// AddFile appends the whole file at path.
func (b *Buffer) AddFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening %q", path)
	}
	defer f.Close()

	if _, err := b.ReadFrom(f); err != nil {
		return errors.Wrapf(err, "reading %q", path)
	}
	return nil
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.Add(p)
	return len(p), nil
}

func (b *Buffer) WriteString(s string) (int, error) {
	b.AddString(s)
	return len(s), nil
}

func (b *Buffer) ReadFrom(r io.Reader) (int64, error) { return b.raw().ReadFrom(r) }

// Bytes returns the unread bytes. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.raw().B[b.off:] }

func (b *Buffer) String() string { return string(b.Bytes()) }

func (b *Buffer) Len() int { return len(b.raw().B) - b.off }

func (b *Buffer) Reset() {
	b.raw().Reset()
	b.off = 0
}

// Consume drops up to n unread bytes from the front.
func (b *Buffer) Consume(n int) {
	if n >= b.Len() {
		b.Reset()
		return
	}
	b.off += n
}

// Drain returns the unread contents as a string and empties the buffer.
func (b *Buffer) Drain() string {
	s := b.String()
	b.Reset()
	return s
}

// Reader returns a reader that consumes the buffer.
func (b *Buffer) Reader() io.Reader { return &reader{b: b} }

type reader struct{ b *Buffer }

func (r *reader) Read(p []byte) (int, error) {
	if r.b.Len() == 0 {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, r.b.Bytes())
	r.b.Consume(n)
	return n, nil
}

// Hexdump renders the unread bytes in `hexdump -C` form.
func (b *Buffer) Hexdump() string { return hex.Dump(b.Bytes()) }

// Free returns owned storage to the pool. Borrowed storage is left to its owner.
func (b *Buffer) Free() {
	b.h.Close()
	b.off = 0
}
