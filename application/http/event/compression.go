package event

import (
	"io"
	"strconv"
	"strings"

	iolib "event-http/lib/io"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

type Compression uint8

const (
	CompressNone Compression = iota
	CompressZlib
	CompressGzip
	CompressBzip2
	// CompressAuto picks what the client asked for in Accept-Encoding.
	CompressAuto
)

// ContentEncoding is the Content-Encoding value of c, or "" for none.
func (c Compression) ContentEncoding() string {
	switch c {
	case CompressZlib:
		return "zlib"
	case CompressGzip:
		return "gzip"
	case CompressBzip2:
		return "bzip2"
	}
	return ""
}

func (c Compression) String() string {
	switch c {
	case CompressNone:
		return "none"
	case CompressAuto:
		return "auto"
	}
	return c.ContentEncoding()
}

// compressor wraps w. Closing it flushes the compressed stream but does not
// close w.
func compressor(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressZlib:
		return zlib.NewWriter(w), nil
	case CompressGzip:
		return gzip.NewWriter(w), nil
	case CompressBzip2:
		bw, err := bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
		if err != nil {
			return nil, errors.Wrap(err, "creating bzip2 writer")
		}
		return bw, nil
	case CompressNone:
		return iolib.NopWriteCloser(w), nil
	}
	return nil, errors.Wrapf(ErrInvalidArgument, "compression %d", c)
}

func isAcceptSep(r rune) bool { return r == ',' || r == ' ' || r == '\t' }

// negotiate picks a compression from an Accept-Encoding value.
//
// The best quality among the encodings known here wins, ties keep the
// earlier one. A wildcard rated above the winner selects gzip unless gzip
// was listed.
func negotiate(accept string) Compression {
	var (
		maxQ, otherQ float64
		named        = make(map[string]bool)
		compression  = CompressNone
	)

	for _, token := range strings.FieldsFunc(accept, isAcceptSep) {
		q := 1.0
		name := strings.ToLower(token)

		if i := strings.IndexByte(name, ';'); i >= 0 {
			arg := name[i+1:]
			name = name[:i]

			if len(arg) > 2 && strings.HasPrefix(arg, "q=") {
				var err error
				if q, err = strconv.ParseFloat(arg[2:], 64); err != nil {
					q = 0
				}
				if name == "*" {
					otherQ = q
				}
			}
		}

		named[name] = true

		if maxQ < q {
			switch name {
			case "identity":
				compression = CompressNone
			case "gzip":
				compression = CompressGzip
			case "zlib":
				compression = CompressZlib
			case "bzip2":
				compression = CompressBzip2
			default:
				q = 0
			}
		}

		if maxQ < q {
			maxQ = q
		}
	}

	if maxQ < otherQ && !named["gzip"] {
		compression = CompressGzip
	}

	return compression
}
