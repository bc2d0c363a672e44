package event

import (
	"context"
	"log/slog"

	"event-http/application/http/engine"
	"event-http/lib/buffer"

	"github.com/pkg/errors"
)

const statusInternalServerError = 500

func (r *Request) transaction() (*engine.Transaction, error) {
	t := r.txn.Get()
	if t == nil {
		return nil, errors.Wrap(ErrNotAvailable, "transaction was freed")
	}
	return t, nil
}

// Finalize marks the reply as sent. It guesses a missing content type from
// the URI extension. Replies call it themselves.
func (r *Request) Finalize() error {
	if r.finalized {
		return ErrAlreadyFinalized
	}
	r.finalized = true

	if !r.HasContentType() {
		r.GuessContentType()
	}

	r.logger.Debug("response headers", slog.String("headers", r.outHeaders().String()))
	if ctx := context.Background(); r.logger.Enabled(ctx, engine.LevelTrace) {
		r.logger.Log(ctx, engine.LevelTrace, "response body", slog.String("hexdump", r.OutputBuffer().Hexdump()))
	}

	return nil
}

// checkReply fails when a full reply can no longer be sent. A chunked
// reply in progress must be ended with EndChunked.
func (r *Request) checkReply() error {
	if r.finalized {
		return ErrAlreadyFinalized
	}
	if r.chunked {
		return errors.Wrap(ErrAlreadyFinalized, "chunked reply in progress")
	}
	return nil
}

func (r *Request) logReply() {
	r.logger.Debug("> " + r.ResponseLine())
}

// Cancel aborts the exchange without replying.
func (r *Request) Cancel() {
	r.finalized = true
	if t := r.txn.Get(); t != nil {
		t.Cancel()
	}
}

// SendError replies with an error status. A code of 0 means 500.
func (r *Request) SendError(code uint) error {
	if err := r.checkReply(); err != nil {
		return err
	}
	if err := r.Finalize(); err != nil {
		return err
	}
	t, err := r.transaction()
	if err != nil {
		return err
	}

	if code == 0 {
		code = statusInternalServerError
	}
	if err := t.SendError(code, ""); err != nil {
		return errors.Wrap(err, "sending error")
	}

	r.logReply()
	return nil
}

// SendErrorMessage replies with an error status and msg as plain text.
func (r *Request) SendErrorMessage(code uint, msg string) error {
	if err := r.checkReply(); err != nil {
		return err
	}
	if err := r.ResetOutput(); err != nil {
		return err
	}
	r.SetContentType("text/plain")
	if err := r.SendString(msg); err != nil {
		return err
	}
	return r.SendError(code)
}

// SendJSONError replies with ["error", msg].
func (r *Request) SendJSONError(code uint, msg string) error {
	if err := r.checkReply(); err != nil {
		return err
	}
	w, err := r.DefaultJSONWriter(CompressNone)
	if err != nil {
		return err
	}

	w.BeginList()
	w.Append("error")
	w.Append(msg)
	w.EndList()
	if err := w.Close(); err != nil {
		return err
	}

	if code == 0 {
		code = statusInternalServerError
	}
	return r.Reply(code)
}

// Reply sends the output buffer with code.
func (r *Request) Reply(code uint) error {
	if err := r.checkReply(); err != nil {
		return err
	}
	if err := r.Finalize(); err != nil {
		return err
	}
	t, err := r.transaction()
	if err != nil {
		return err
	}

	if err := t.SendReply(code, ""); err != nil {
		return errors.Wrap(err, "sending reply")
	}

	r.logReply()
	return nil
}

func (r *Request) ReplyBytes(code uint, b []byte) error {
	if err := r.checkReply(); err != nil {
		return err
	}
	if err := r.Send(b); err != nil {
		return err
	}
	return r.Reply(code)
}

func (r *Request) ReplyString(code uint, s string) error {
	if err := r.checkReply(); err != nil {
		return err
	}
	if err := r.SendString(s); err != nil {
		return err
	}
	return r.Reply(code)
}

func (r *Request) ReplyBuffer(code uint, b *buffer.Buffer) error {
	if err := r.checkReply(); err != nil {
		return err
	}
	if err := r.SendBuffer(b); err != nil {
		return err
	}
	return r.Reply(code)
}

// StartChunked sends the head of a streamed reply.
func (r *Request) StartChunked(code uint) error {
	if r.finalized {
		return ErrAlreadyFinalized
	}
	if r.chunked {
		return errors.Wrap(ErrAlreadyFinalized, "chunked reply already started")
	}
	t, err := r.transaction()
	if err != nil {
		return err
	}

	if !r.HasContentType() {
		r.GuessContentType()
	}
	if err := t.ReplyStart(code, ""); err != nil {
		return errors.Wrap(err, "starting chunked reply")
	}

	r.chunked = true
	r.logReply()
	return nil
}

// SendChunk sends b as one chunk. It is only valid between StartChunked
// and EndChunked.
func (r *Request) SendChunk(b []byte) error {
	if !r.chunked {
		return errors.Wrap(ErrNotAvailable, "no chunked reply in progress")
	}
	t, err := r.transaction()
	if err != nil {
		return err
	}
	if err := t.ReplyChunk(b); err != nil {
		return errors.Wrap(err, "sending chunk")
	}
	return nil
}

func (r *Request) SendChunkString(s string) error { return r.SendChunk([]byte(s)) }

func (r *Request) SendChunkBuffer(b *buffer.Buffer) error { return r.SendChunk(b.Bytes()) }

// EndChunked terminates a streamed reply and finalizes the request.
func (r *Request) EndChunked() error {
	if !r.chunked {
		return errors.Wrap(ErrNotAvailable, "no chunked reply in progress")
	}
	if err := r.Finalize(); err != nil {
		return err
	}
	r.chunked = false

	t, err := r.transaction()
	if err != nil {
		return err
	}
	if err := t.ReplyEnd(); err != nil {
		return errors.Wrap(err, "ending chunked reply")
	}
	return nil
}

// Redirect replies with code and an empty body pointing at location.
func (r *Request) Redirect(location string, code uint) error {
	if err := r.checkReply(); err != nil {
		return err
	}
	r.OutSet("Location", location)
	r.OutSet("Content-Length", "0")
	return r.ReplyBytes(code, nil)
}
