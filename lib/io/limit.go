package iolib

import (
	"io"

	"github.com/pkg/errors"
)

// LimitReader creates new [LimitedReader]
func LimitReader(r io.Reader, n uint) io.Reader { return &LimitedReader{r, n} }

// LimitedReader is uint port of [io.LimitedReader]
type LimitedReader struct {
	R io.Reader // underlying reader
	N uint      // max bytes remaining
}

func (l *LimitedReader) Read(p []byte) (n int, err error) {
	if l.N == 0 {
		return 0, io.EOF
	}
	if uint(len(p)) > l.N {
		p = p[:l.N]
	}
	n, err = l.R.Read(p)
	l.N -= uint(n)
	return
}

var ErrTooLarge = errors.New("read limit exceeded")

// MaxBytesReader reads from r but fails with [ErrTooLarge] once more than max bytes
// are available. Zero max means no limit.
func MaxBytesReader(r io.Reader, max uint) io.Reader {
	if max == 0 {
		return r
	}
	return &maxBytesReader{r: r, remain: max}
}

type maxBytesReader struct {
	r      io.Reader
	remain uint
	err    error
}

func (m *maxBytesReader) Read(p []byte) (n int, err error) {
	if m.err != nil {
		return 0, m.err
	}
	if len(p) == 0 {
		return 0, nil
	}

	// Read one extra byte to tell "exactly max" apart from "more than max".
	if uint(len(p)) > m.remain+1 {
		p = p[:m.remain+1]
	}

	n, err = m.r.Read(p)
	if uint(n) <= m.remain {
		m.remain -= uint(n)
		m.err = err
		return n, err
	}

	n = int(m.remain)
	m.remain = 0
	m.err = ErrTooLarge
	return n, m.err
}
