package event

import (
	"bytes"
	"io"

	"event-http/lib/buffer"
	"event-http/lib/jsonw"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// InputJSON decodes the body. An empty body gives nil.
func (r *Request) InputJSON() (any, error) {
	body := r.InputBuffer().Bytes()
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, errors.Wrapf(ErrInvalidArgument, "json body: %s", err)
	}
	return v, nil
}

// JSONMessage is the JSON body, or an object of the query arguments if the
// body is not JSON. It is nil when there is neither.
func (r *Request) JSONMessage() (any, error) {
	if r.isJSONInput() {
		return r.InputJSON()
	}

	args := r.uri.Args()
	if len(args) == 0 {
		return nil, nil
	}

	msg := make(map[string]any, len(args))
	for _, arg := range args {
		msg[arg.Key] = arg.Value
	}
	return msg, nil
}

// JSONWriter streams one JSON value into a request. Nothing reaches the
// request before Close.
type JSONWriter struct {
	*jsonw.Writer

	buf    *buffer.Buffer
	out    io.WriteCloser
	suffix string
	send   func(*buffer.Buffer) error
	closed bool
}

func newJSONWriter(indent int, compact bool, c Compression, prefix, suffix string, send func(*buffer.Buffer) error) (*JSONWriter, error) {
	buf := buffer.New()

	out, err := compressor(buf, c)
	if err != nil {
		buf.Free()
		return nil, err
	}
	if _, err := io.WriteString(out, prefix); err != nil {
		out.Close()
		buf.Free()
		return nil, errors.Wrap(err, "writing json")
	}

	return &JSONWriter{
		Writer: jsonw.New(out, indent, compact),
		buf:    buf,
		out:    out,
		suffix: suffix,
		send:   send,
	}, nil
}

// Close ends the document and hands it to the request.
func (w *JSONWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.buf.Free()

	if err := w.Writer.Close(); err != nil {
		return err
	}
	if _, err := io.WriteString(w.out, w.suffix); err != nil {
		return errors.Wrap(err, "writing json")
	}
	if err := w.out.Close(); err != nil {
		return errors.Wrap(err, "flushing json")
	}

	return w.send(w.buf)
}


// JSONWriter resets the output and returns a writer for a JSON body.
func (r *Request) JSONWriter(indent int, compact bool, c Compression) (*JSONWriter, error) {
	if c == CompressAuto {
		c = r.RequestedCompression()
	}
	if err := r.ResetOutput(); err != nil {
		return nil, err
	}
	r.SetContentType("application/json")

	w, err := newJSONWriter(indent, compact, c, "", "", r.SendBuffer)
	if err != nil {
		return nil, err
	}
	r.OutSetContentEncoding(c)
	return w, nil
}

// DefaultJSONWriter is compact unless the URI has a pretty argument.
func (r *Request) DefaultJSONWriter(c Compression) (*JSONWriter, error) {
	return r.JSONWriter(0, !r.uri.Has("pretty"), c)
}

// JSONPWriter wraps the document in a call to callback.
func (r *Request) JSONPWriter(callback string) (*JSONWriter, error) {
	if err := r.ResetOutput(); err != nil {
		return nil, err
	}
	r.SetContentType("application/javascript")

	return newJSONWriter(0, true, CompressNone, callback+"(", ")", r.SendBuffer)
}

// JSONChunkWriter returns a writer whose document goes out as one chunk.
func (r *Request) JSONChunkWriter() (*JSONWriter, error) {
	return newJSONWriter(0, true, CompressNone, "", "", r.SendChunkBuffer)
}
