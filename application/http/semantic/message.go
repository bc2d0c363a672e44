package semantic

import (
	"io"
	"strconv"
	"strings"

	"event-http/application/http"
	"event-http/application/http/transfer"
	iolib "event-http/lib/io"

	"github.com/pkg/errors"
)

type Message struct {
	Version http.Version

	Headers *Headers

	ContentLength    *uint
	TransferEncoding []transfer.Coding

	// Body is framed by Content-Length or Transfer-Encoding and capped by
	// [ParseMessageOptions.MaxBodySize].
	Body io.Reader

	// Trailers is filled once a chunked body was read to the end.
	Trailers *Headers
}

type ParseMessageOptions struct {
	RequiredFields []string

	// MaxBodySize limits the decoded body. Zero means no limit.
	MaxBodySize uint

	// ReadUntilClose treats an unframed body as running until EOF.
	// Responses use it, requests don't.
	ReadUntilClose bool
}

var (
	ErrBodyTooLarge = iolib.ErrTooLarge

	pipeliner = transfer.NewCodingPipeliner(nil)
)

func createMessage(
	ver http.Version,
	headers []http.Field,
	body io.Reader,
	opts ParseMessageOptions,
) (msg Message, err error) {
	msg.Version = ver

	msg.Headers = HeadersFrom(headers)
	if err := assertHeaderContains(msg.Headers, opts.RequiredFields); err != nil {
		return Message{}, errors.Wrap(err, "header has missing fields")
	}

	msg.ContentLength, err = extractContentLength(msg.Headers)
	if err != nil {
		return Message{}, errors.Wrap(err, "extracting content length")
	}

	if body == nil {
		body = eofReader{}
	}

	if codings := msg.Headers.Tokens("Transfer-Encoding"); len(codings) > 0 {
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.1
		for _, coding := range codings {
			msg.TransferEncoding = append(msg.TransferEncoding, transfer.Coding(strings.ToLower(coding)))
		}
		if !msg.IsChunked() {
			return Message{}, errors.Wrap(transfer.ErrUnsupportedCoding, "chunked must be the final coding")
		}

		trailers := NewHeaders()
		body, err = pipeliner.Decode(body, msg.TransferEncoding, func(f []http.Field) {
			for _, field := range f {
				trailers.Add(field.Name, field.Value)
			}
		})
		if err != nil {
			return Message{}, errors.Wrap(err, "decoding transfer coding")
		}
		msg.Trailers = trailers
		// Content-Length is ignored once Transfer-Encoding is present.
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3-2.3
		msg.ContentLength = nil
	} else if msg.ContentLength != nil {
		if opts.MaxBodySize > 0 && *msg.ContentLength > opts.MaxBodySize {
			return Message{}, errors.Wrapf(ErrBodyTooLarge, "content length %d", *msg.ContentLength)
		}
		// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-8.6
		body = iolib.LimitReader(body, *msg.ContentLength)
	} else if !opts.ReadUntilClose {
		body = eofReader{}
	}

	msg.Body = iolib.MaxBytesReader(body, opts.MaxBodySize)

	return msg, nil
}

func (m *Message) IsChunked() bool {
	if len(m.TransferEncoding) == 0 {
		return false
	}

	last := m.TransferEncoding[len(m.TransferEncoding)-1]

	return last == transfer.CodingChunked
}

// EnsureHeadersSet writes framing fields back into the headers.
func (m *Message) EnsureHeadersSet() {
	if m.ContentLength != nil {
		m.Headers.Set("Content-Length", strconv.FormatUint(uint64(*m.ContentLength), 10))
	}
	if len(m.TransferEncoding) > 0 {
		m.Headers.Remove("Transfer-Encoding")
		for _, enc := range m.TransferEncoding {
			m.Headers.Add("Transfer-Encoding", string(enc))
		}
	}
}

func assertHeaderContains(h *Headers, keys []string) error {
	missing := make([]string, 0)
	for _, key := range keys {
		if !h.Has(key) {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		return errors.Errorf("missing key(s): %s", missing)
	}

	return nil
}

// extractContentLength extracts content length from headers.
func extractContentLength(h *Headers) (*uint, error) {
	v, ok := h.Get("Content-Length")
	if !ok {
		return nil, nil
	}

	// Any value greater than or equal to 0 is valid.
	// But let's restrict it to 64bit uint.
	// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-8.6-10
	len64, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse Content-Length")
	}

	l := uint(len64)
	return &l, nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
