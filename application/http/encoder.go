package http

import (
	"bufio"
	"io"
	"strconv"

	"event-http/application/util/rule"

	"github.com/pkg/errors"
	"golang.org/x/net/http/httpguts"
)

type EncodeOptions struct {
	// UseSoleLF specifies wheter a single LF character should be used as a line terminator.
	//
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-3
	UseSoleLF bool
}

var DefaultEncodeOptions = EncodeOptions{
	UseSoleLF: false,
}

var ErrInvalidField = errors.New("field cannot be sent")

type MessageEncoder struct {
	bw   *bufio.Writer
	opts EncodeOptions
}

func (me *MessageEncoder) writeLine(line []byte) error {
	if _, err := me.bw.Write(line); err != nil {
		return errors.Wrap(err, "writing line")
	}

	term := rule.CRLF
	if me.opts.UseSoleLF {
		term = term[1:]
	}

	if _, err := me.bw.Write(term); err != nil {
		return errors.Wrap(err, "writing line terminator")
	}

	return nil
}

func (me *MessageEncoder) encodeHeaders(headers []Field) error {
	for _, field := range headers {
		// Refuse anything that would split the message.
		if !httpguts.ValidHeaderFieldName(field.Name) || !httpguts.ValidHeaderFieldValue(field.Value) {
			return errors.Wrapf(ErrInvalidField, "%q", field.Name)
		}
		if err := me.writeLine(field.Text()); err != nil {
			return errors.Wrap(err, "writing field")
		}
	}

	// Write a empty line as all the headers are written.
	if err := me.writeLine(nil); err != nil {
		return errors.Wrap(err, "writing line terminator")
	}

	return nil
}

func (me *MessageEncoder) encodeBody(body io.Reader) error {
	// Flush head before body so that small heads are not held back.
	if err := me.bw.Flush(); err != nil {
		return errors.Wrap(err, "flushing head")
	}

	if body != nil {
		if _, err := me.bw.ReadFrom(body); err != nil {
			return errors.Wrap(err, "writing body")
		}
	}

	if err := me.bw.Flush(); err != nil {
		return errors.Wrap(err, "flushing body")
	}

	return nil
}

type RequestEncoder struct{ MessageEncoder }

func NewRequestEncoder(w io.Writer, opts EncodeOptions) *RequestEncoder {
	return &RequestEncoder{
		MessageEncoder{
			bw:   bufio.NewWriter(w),
			opts: opts,
		},
	}
}

// Encode writes the request. Body, if any, must already be framed.
func (re *RequestEncoder) Encode(request Request) error {
	if err := re.encodeRequestLine(request.RequestLine); err != nil {
		return errors.Wrap(err, "encoding request line")
	}

	if err := re.encodeHeaders(request.Headers); err != nil {
		return errors.Wrap(err, "encoding headers")
	}

	return re.encodeBody(request.Body)
}

func (re *RequestEncoder) encodeRequestLine(reqLine RequestLine) error {
	line := make([]byte, 0, len(reqLine.Method)+len(reqLine.Target)+10)
	line = append(line, reqLine.Method...)
	line = append(line, rule.SP)
	line = append(line, reqLine.Target...)
	line = append(line, rule.SP)
	line = append(line, reqLine.Version.Text()...)

	if err := re.writeLine(line); err != nil {
		return errors.Wrap(err, "writing line")
	}

	return nil
}

type ResponseEncoder struct{ MessageEncoder }

func NewResponseEncoder(w io.Writer, opts EncodeOptions) *ResponseEncoder {
	return &ResponseEncoder{
		MessageEncoder{
			bw:   bufio.NewWriter(w),
			opts: opts,
		},
	}
}

// Encode writes the response. Body, if any, must already be framed.
func (re *ResponseEncoder) Encode(response Response) error {
	if err := re.encodeStatusLine(response.StatusLine); err != nil {
		return errors.Wrap(err, "encoding status line")
	}

	if err := re.encodeHeaders(response.Headers); err != nil {
		return errors.Wrap(err, "encoding headers")
	}

	return re.encodeBody(response.Body)
}

func (re *ResponseEncoder) encodeStatusLine(statLine StatusLine) error {
	line := make([]byte, 0, len(statLine.ReasonPhrase)+16)
	line = append(line, statLine.Version.Text()...)
	line = append(line, rule.SP)
	line = strconv.AppendUint(line, uint64(statLine.StatusCode), 10)
	line = append(line, rule.SP)
	line = append(line, statLine.ReasonPhrase...)

	if err := re.writeLine(line); err != nil {
		return errors.Wrap(err, "writing line")
	}

	return nil
}
