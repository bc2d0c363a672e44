package iolib

import (
	"bufio"
	"bytes"
	"io"
)

// ReadUntil reads from r until delim. The output will include delim.
// A non-zero max stops reading with [ErrTooLarge] once the line grows past it.
func ReadUntil(r *bufio.Reader, delim []byte, max uint) ([]byte, error) {
	var buf []byte
	last := delim[len(delim)-1]
	for {
		chunk, err := r.ReadSlice(last)
		buf = append(buf, chunk...)

		if max > 0 && uint(len(buf)) > max {
			return nil, ErrTooLarge
		}

		switch {
		case err == nil:
			if bytes.HasSuffix(buf, delim) {
				return buf, nil
			}
		case err == bufio.ErrBufferFull:
		case err == io.EOF:
			return nil, io.ErrUnexpectedEOF
		default:
			return nil, err
		}
	}
}
