package engine

import (
	"bytes"
	"strconv"
	"sync/atomic"

	"event-http/application/http"
	"event-http/application/http/semantic"
	"event-http/application/http/semantic/status"
	"event-http/application/http/transfer"
	"event-http/lib/buffer"

	"github.com/pkg/errors"
)

type Kind uint8

const (
	KindIncoming Kind = iota
	KindOutgoing
)

type Command uint8

const (
	CmdGet Command = iota
	CmdPost
	CmdHead
	CmdPut
	CmdDelete
	CmdOptions
	CmdPatch
)

var commandNames = [...]string{
	CmdGet:     "GET",
	CmdPost:    "POST",
	CmdHead:    "HEAD",
	CmdPut:     "PUT",
	CmdDelete:  "DELETE",
	CmdOptions: "OPTIONS",
	CmdPatch:   "PATCH",
}

func (c Command) String() string {
	if int(c) < len(commandNames) {
		return commandNames[c]
	}
	return "Command(" + strconv.Itoa(int(c)) + ")"
}

// ParseCommand maps a request method onto a command.
func ParseCommand(method string) (Command, bool) {
	for cmd, name := range commandNames {
		if name == method {
			return Command(cmd), true
		}
	}
	return 0, false
}

// Sink carries the reply of an incoming transaction to its peer.
// Both methods are called on the loop and must not block.
type Sink interface {
	// Send submits one frame of the reply. last marks the final frame;
	// the sink frees txn once it has been written.
	Send(txn *Transaction, frame []byte, last bool)
	// Abort drops the transaction and the connection it came from.
	Abort(txn *Transaction)
}

type replyState uint8

const (
	replyNone replyState = iota
	replyStreaming
	replyDone
)

var lastID atomic.Uint64

// Transaction is one request/response exchange.
// It must only be used on the loop of its base.
type Transaction struct {
	base *Base
	id   uint64
	kind Kind

	cmd     Command
	target  string
	version http.Version
	host    string

	in, out       *semantic.Headers
	input, output *buffer.Buffer

	code   uint
	reason string

	link *Link
	sink Sink

	onComplete func(*Transaction)
	onError    func(*Transaction, ErrorCode)
	onFree     func(*Transaction)

	err      *ErrorCode
	state    replyState
	chunks   *transfer.ChunkedWriter
	frame    bytes.Buffer
	close    bool
	queued   bool
	canceled bool
	freed    bool
}

func newTransaction(base *Base, kind Kind) *Transaction {
	return &Transaction{
		base:   base,
		id:     lastID.Add(1),
		kind:   kind,
		in:     semantic.NewHeaders(),
		out:    semantic.NewHeaders(),
		input:  buffer.New(),
		output: buffer.New(),
	}
}

// NewTransaction creates an outgoing transaction. onComplete runs on the loop
// once the response arrived or the exchange failed.
func NewTransaction(base *Base, onComplete func(*Transaction)) *Transaction {
	t := newTransaction(base, KindOutgoing)
	t.version = http.Version1_1
	t.onComplete = onComplete
	return t
}

type IncomingRequest struct {
	Command Command
	Target  string
	Version http.Version
	Host    string
	Headers *semantic.Headers
	Body    []byte
}

// NewIncomingTransaction creates a transaction for a received request whose
// reply goes to sink. link may be nil.
func NewIncomingTransaction(base *Base, link *Link, sink Sink, req IncomingRequest) *Transaction {
	t := newTransaction(base, KindIncoming)
	t.cmd = req.Command
	t.target = req.Target
	t.version = req.Version
	t.host = req.Host
	t.link = link
	t.sink = sink
	if req.Headers != nil {
		t.in = req.Headers
	}
	t.input.Add(req.Body)
	return t
}

func (t *Transaction) Base() *Base           { return t.base }
func (t *Transaction) ID() uint64            { return t.id }
func (t *Transaction) Kind() Kind            { return t.kind }
func (t *Transaction) IsIncoming() bool      { return t.kind == KindIncoming }
func (t *Transaction) Command() Command      { return t.cmd }
func (t *Transaction) Target() string        { return t.target }
func (t *Transaction) Version() http.Version { return t.version }
func (t *Transaction) Host() string          { return t.host }
func (t *Transaction) Link() *Link           { return t.link }

// InputHeaders are the headers received: the request's if incoming, the
// response's otherwise.
func (t *Transaction) InputHeaders() *semantic.Headers  { return t.in }
func (t *Transaction) OutputHeaders() *semantic.Headers { return t.out }
func (t *Transaction) InputBuffer() *buffer.Buffer      { return t.input }
func (t *Transaction) OutputBuffer() *buffer.Buffer     { return t.output }

func (t *Transaction) ResponseCode() uint     { return t.code }
func (t *Transaction) ResponseReason() string { return t.reason }

// KeepAlive reports whether the connection survives this exchange.
func (t *Transaction) KeepAlive() bool { return !t.close }

// Error returns the transport failure of the exchange, if any.
func (t *Transaction) Error() (ErrorCode, bool) {
	if t.err == nil {
		return 0, false
	}
	return *t.err, true
}

func (t *Transaction) IsFreed() bool    { return t.freed }
func (t *Transaction) IsCanceled() bool { return t.canceled }

// SetOnFree registers fn to run once, when the engine is done with t.
// A nil fn clears it.
func (t *Transaction) SetOnFree(fn func(*Transaction)) { t.onFree = fn }

func (t *Transaction) SetOnError(fn func(*Transaction, ErrorCode)) { t.onError = fn }

// Free releases t. Only the first call has an effect.
func (t *Transaction) Free() {
	if t.freed {
		return
	}
	t.freed = true

	if fn := t.onFree; fn != nil {
		t.onFree = nil
		fn(t)
	}
}

func (t *Transaction) fail(code ErrorCode) {
	t.err = &code
	if t.onError != nil {
		t.onError(t, code)
	}
}

// Cancel aborts the exchange right away and frees t.
func (t *Transaction) Cancel() {
	if t.freed {
		return
	}
	t.canceled = true

	switch {
	case t.kind == KindIncoming && t.sink != nil:
		t.sink.Abort(t)
	case t.kind == KindOutgoing && t.link != nil:
		t.link.cancel(t)
	}

	t.Free()
}

func (t *Transaction) replyable() error {
	switch {
	case t.kind != KindIncoming:
		return ErrNotIncoming
	case t.freed:
		return ErrTransactionFreed
	case t.sink == nil:
		return errors.Wrap(ErrReplyState, "no peer to reply to")
	}
	return nil
}

// SendReply sends a complete response with the output buffer as its body.
func (t *Transaction) SendReply(code uint, reason string) error {
	if err := t.replyable(); err != nil {
		return err
	}
	if t.state != replyNone {
		return ErrReplyState
	}

	body := t.output.Bytes()
	if !t.hasBody(code) {
		body = nil
	}

	t.frame.Reset()
	if err := t.writeHead(code, reason, false, len(t.output.Bytes())); err != nil {
		return err
	}
	t.frame.Write(body)

	t.state = replyDone
	t.sink.Send(t, t.takeFrame(), true)
	return nil
}

// SendError sends an error response. A default page is used when the output
// buffer is empty.
func (t *Transaction) SendError(code uint, reason string) error {
	if err := t.replyable(); err != nil {
		return err
	}
	if reason == "" {
		reason = status.Text(code)
	}

	if t.output.Len() == 0 {
		t.out.Set("Content-Type", "text/html")
		t.output.AddString(fmtErrorPage(code, reason))
	}

	return t.SendReply(code, reason)
}

func fmtErrorPage(code uint, reason string) string {
	c := strconv.FormatUint(uint64(code), 10)
	var b bytes.Buffer
	b.WriteString("<HTML><HEAD>\n<TITLE>")
	b.WriteString(c + " " + reason)
	b.WriteString("</TITLE>\n</HEAD><BODY>\n<H1>")
	b.WriteString(reason)
	b.WriteString("</H1>\n</BODY></HTML>\n")
	return b.String()
}

// ReplyStart sends the response head of a streamed reply. HTTP/1.1 peers
// get chunked transfer coding, older ones a body delimited by closing.
func (t *Transaction) ReplyStart(code uint, reason string) error {
	if err := t.replyable(); err != nil {
		return err
	}
	if t.state != replyNone {
		return ErrReplyState
	}

	t.frame.Reset()
	if err := t.writeHead(code, reason, true, 0); err != nil {
		return err
	}

	if t.isChunked() {
		t.chunks = transfer.NewChunkedWriter(&t.frame)
	}

	t.state = replyStreaming
	t.sink.Send(t, t.takeFrame(), false)
	return nil
}

// ReplyChunk sends b as one chunk. Empty chunks are skipped.
func (t *Transaction) ReplyChunk(b []byte) error {
	if err := t.replyable(); err != nil {
		return err
	}
	if t.state != replyStreaming {
		return ErrReplyState
	}
	if len(b) == 0 || !t.hasBody(t.code) {
		return nil
	}

	t.frame.Reset()
	if t.chunks != nil {
		if _, err := t.chunks.Write(b); err != nil {
			return errors.Wrap(err, "encoding chunk")
		}
	} else {
		t.frame.Write(b)
	}

	t.sink.Send(t, t.takeFrame(), false)
	return nil
}

// ReplyEnd terminates a streamed reply.
func (t *Transaction) ReplyEnd() error {
	if err := t.replyable(); err != nil {
		return err
	}
	if t.state != replyStreaming {
		return ErrReplyState
	}

	t.frame.Reset()
	if t.chunks != nil && t.hasBody(t.code) {
		if err := t.chunks.Close(); err != nil {
			return errors.Wrap(err, "encoding last chunk")
		}
	}

	t.state = replyDone
	t.sink.Send(t, t.takeFrame(), true)
	return nil
}

func (t *Transaction) takeFrame() []byte {
	return bytes.Clone(t.frame.Bytes())
}

func (t *Transaction) isChunked() bool { return !t.version.Less(http.Version1_1) }

func (t *Transaction) hasBody(code uint) bool {
	if t.cmd == CmdHead {
		return false
	}
	return !(code/100 == 1 || code == 204 || code == 304)
}

// replyVersion is the request's version, capped at HTTP/1.1.
func (t *Transaction) replyVersion() http.Version {
	if t.version.Less(http.Version1_1) {
		return t.version
	}
	return http.Version1_1
}

func hasToken(h *semantic.Headers, key, token string) bool {
	for _, v := range h.Values(key) {
		if http.HasToken(v, token) {
			return true
		}
	}
	return false
}

// writeHead writes the status line and headers into t.frame.
// The effective framing fields are written back into the output headers.
func (t *Transaction) writeHead(code uint, reason string, streaming bool, bodyLen int) error {
	if reason == "" {
		reason = status.Text(code)
	}
	t.code, t.reason = code, reason

	version := t.replyVersion()
	legacy := version.Less(http.Version1_1)

	t.close = hasToken(t.in, "Connection", "close") ||
		hasToken(t.out, "Connection", "close") ||
		(legacy && !hasToken(t.in, "Connection", "keep-alive") && !hasToken(t.out, "Connection", "keep-alive"))

	t.out.Remove("Transfer-Encoding")
	switch {
	case code/100 == 1 || code == 204 || code == 304:
		t.out.Remove("Content-Length")
	case streaming && !legacy:
		t.out.Remove("Content-Length")
		t.out.Set("Transfer-Encoding", string(transfer.CodingChunked))
	case streaming:
		// The body runs until the connection closes.
		t.out.Remove("Content-Length")
		t.close = true
	default:
		t.out.Set("Content-Length", strconv.Itoa(bodyLen))
	}

	if !t.out.Has("Date") {
		t.out.Set("Date", semantic.FormatDate(t.base.clock.Now()))
	}

	switch {
	case t.close && !legacy:
		t.out.Set("Connection", "close")
	case t.close:
		t.out.Remove("Connection")
	case legacy:
		t.out.Set("Connection", "keep-alive")
	}

	enc := http.NewResponseEncoder(&t.frame, http.DefaultEncodeOptions)
	err := enc.Encode(http.Response{
		StatusLine: http.StatusLine{Version: version, StatusCode: code, ReasonPhrase: reason},
		Headers:    t.out.Fields(),
	})
	if err != nil {
		return errors.Wrap(err, "encoding response head")
	}
	return nil
}
