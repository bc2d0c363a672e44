package engine

import (
	"bytes"
	"io"

	"event-http/application/http"
	"event-http/application/http/semantic"

	"github.com/pkg/errors"
)

// Recorder is a [Sink] keeping replies in memory. Useful in tests.
type Recorder struct {
	Frames  [][]byte
	Done    bool
	Aborted bool

	// AutoFree frees the transaction when its last frame arrives,
	// like a real connection does once the reply is written.
	AutoFree bool
}

var _ Sink = (*Recorder)(nil)

func (r *Recorder) Send(txn *Transaction, frame []byte, last bool) {
	r.Frames = append(r.Frames, frame)
	if last {
		r.Done = true
		if r.AutoFree {
			txn.Free()
		}
	}
}

func (r *Recorder) Abort(*Transaction) { r.Aborted = true }

func (r *Recorder) Bytes() []byte { return bytes.Join(r.Frames, nil) }

// Response decodes what was recorded. method is the request's.
func (r *Recorder) Response(method string) (*semantic.Response, []byte, error) {
	dec := http.NewResponseDecoder(bytes.NewReader(r.Bytes()), http.DefaultDecodeOptions)

	var raw http.Response
	if err := dec.Decode(&raw); err != nil {
		return nil, nil, errors.Wrap(err, "decoding response")
	}

	res, err := semantic.ResponseFrom(&raw, semantic.ParseResponseOptions{
		ParseMessageOptions: semantic.ParseMessageOptions{ReadUntilClose: true},
		RequestMethod:       semantic.Method(method),
	})
	if err != nil {
		return nil, nil, err
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, nil, errors.Wrap(err, "reading body")
	}

	return res, body, nil
}
