package event

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"event-http/application/http"
	"event-http/application/http/engine"
	"event-http/application/http/semantic"
	"event-http/application/util/uri"
	"event-http/lib/buffer"
	"event-http/lib/own"

	"github.com/benbjohnson/clock"
	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
)

const DefaultUser = "anonymous"

// Session supplies the identity of a request.
type Session interface {
	HasUser() bool
	User() string
	SetUser(user string)
}

// Request is one exchange seen from the application.
//
// Two references keep it alive: the one returned to the caller and the one
// held by the engine until it frees the transaction. The request is
// destroyed once both are dropped.
type Request struct {
	txn     own.Handle[*engine.Transaction]
	logger  *slog.Logger
	base    *slog.Logger
	clock   clock.Clock
	id      uint64
	refs    int
	dropped bool // the caller's reference is gone.
	destroy func(*Request)

	originalURI uri.URI
	uri         uri.URI
	clientAddr  Addr

	user    string
	session Session
	args    map[string]any

	incoming  bool
	finalized bool
	chunked   bool

	detached *buffer.Buffer // stands in for both buffers once the transaction is freed.
}

func cancelTransaction(t *engine.Transaction) { t.Cancel() }

func newRequest(txn *engine.Transaction, deallocate bool, logger *slog.Logger, clk clock.Clock) (*Request, error) {
	if txn == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "transaction cannot be nil")
	}
	if logger == nil {
		logger = txn.Base().Logger()
	}
	if clk == nil {
		clk = txn.Base().Clock()
	}

	r := &Request{
		txn:      own.New(txn, deallocate, cancelTransaction),
		base:     logger,
		clock:    clk,
		user:     DefaultUser,
		args:     make(map[string]any),
		incoming: txn.IsIncoming(),
		refs:     2,
	}
	r.SetID(txn.ID())
	txn.SetOnFree(func(*engine.Transaction) { r.freed() })

	return r, nil
}

// NewRequest wraps a received transaction. With deallocate the request
// cancels the transaction if it is destroyed first.
func NewRequest(txn *engine.Transaction, deallocate bool, logger *slog.Logger, clk clock.Clock) (*Request, error) {
	var target uri.URI
	if txn != nil && txn.Target() != "*" {
		var err error
		if target, err = uri.Parse(txn.Target()); err != nil {
			return nil, errors.Wrapf(ErrInvalidArgument, "uri %q: %s", txn.Target(), err)
		}
	}

	r, err := newRequest(txn, deallocate, logger, clk)
	if err != nil {
		return nil, err
	}
	r.originalURI, r.uri = target, target

	if link := txn.Link(); link != nil {
		if con, err := WrapConnection(link, false); err == nil {
			r.clientAddr = con.Peer()
		}
	}

	r.logger.Info("< " + r.Method().String() + " " + txn.Target())
	r.logger.Debug("request headers", slog.String("headers", r.inHeaders().String()))
	if ctx := context.Background(); r.logger.Enabled(ctx, engine.LevelTrace) {
		r.logger.Log(ctx, engine.LevelTrace, "request body", slog.String("hexdump", r.InputBuffer().Hexdump()))
	}

	return r, nil
}

// NewOutgoingRequest wraps a transaction about to be sent to u.
func NewOutgoingRequest(txn *engine.Transaction, u uri.URI, deallocate bool, logger *slog.Logger, clk clock.Clock) (*Request, error) {
	r, err := newRequest(txn, deallocate, logger, clk)
	if err != nil {
		return nil, err
	}

	r.originalURI, r.uri = u, u
	r.clientAddr = Addr{Host: u.Host(), Port: u.Port()}
	return r, nil
}

// Transaction returns the wrapped transaction, or nil once the engine freed it.
func (r *Request) Transaction() *engine.Transaction { return r.txn.Get() }

// freed drops the reference of the engine.
func (r *Request) freed() {
	r.txn.Release()
	r.unref()
}

// Release drops the reference of the caller. Only the first call counts.
// A request that owns its transaction cancels it if no reply was sent.
func (r *Request) Release() {
	if r.dropped {
		return
	}
	r.dropped = true

	if r.txn.IsOwned() && !r.finalized {
		r.finalized = true
		r.txn.Close()
	}
	r.unref()
}

func (r *Request) unref() {
	r.refs--
	if r.refs > 0 {
		return
	}

	if t := r.txn.Get(); t != nil {
		t.SetOnFree(nil)
	}
	r.txn.Close()
	if r.detached != nil {
		r.detached.Free()
		r.detached = nil
	}

	if fn := r.destroy; fn != nil {
		r.destroy = nil
		fn(r)
	}
}

// Released reports whether both references are gone.
func (r *Request) Released() bool { return r.refs == 0 }

// SetOnDestroy registers fn to run when the request is destroyed.
func (r *Request) SetOnDestroy(fn func(*Request)) { r.destroy = fn }

// SetOnError registers fn for transport errors of the exchange.
func (r *Request) SetOnError(fn func(r *Request, code engine.ErrorCode)) {
	t := r.txn.Get()
	if t == nil {
		return
	}
	t.SetOnError(func(_ *engine.Transaction, code engine.ErrorCode) {
		r.logger.Debug("transport error", slog.String("error", ErrorString(code)))
		if fn != nil {
			fn(r, code)
		}
	})
}

func (r *Request) ID() uint64 { return r.id }

func (r *Request) SetID(id uint64) {
	r.id = id
	r.logger = r.base.With(slog.Uint64("request", id))
}

func (r *Request) LogPrefix() string { return "#" + strconv.FormatUint(r.id, 10) + ":" }

func (r *Request) Logger() *slog.Logger { return r.logger }

func (r *Request) IsIncoming() bool  { return r.incoming }
func (r *Request) IsFinalized() bool { return r.finalized }

func (r *Request) HasConnection() bool {
	t := r.txn.Get()
	return t != nil && t.Link() != nil
}

// Connection returns the connection the request came in or goes out on.
// It is borrowed: closing it has no effect.
func (r *Request) Connection() (*Connection, error) {
	if !r.HasConnection() {
		return nil, errors.Wrap(ErrNotAvailable, "request does not have a connection")
	}
	return WrapConnection(r.txn.Get().Link(), false)
}

func (r *Request) IsSecure() bool {
	con, err := r.Connection()
	if err != nil {
		return false
	}
	s, err := con.TransportStream()
	return err == nil && s.IsSecure()
}

func (r *Request) ClientAddr() Addr { return r.clientAddr }

// SessionID reads the header, falling back to the cookie.
func (r *Request) SessionID(cookieName, headerName string) string {
	if r.InHas(headerName) {
		return r.InFind(headerName)
	}
	return r.FindCookie(cookieName)
}

func (r *Request) Session() Session { return r.session }

func (r *Request) SetSession(s Session) { r.session = s }

func (r *Request) User() string {
	if r.session != nil && r.session.HasUser() {
		return r.session.User()
	}
	return r.user
}

func (r *Request) SetUser(user string) {
	r.user = user
	if r.session != nil {
		r.session.SetUser(user)
	}
}

func (r *Request) Version() http.Version {
	if t := r.txn.Get(); t != nil {
		return t.Version()
	}
	return http.Version1_1
}

func (r *Request) Host() string {
	if t := r.txn.Get(); t != nil {
		return t.Host()
	}
	return ""
}

func (r *Request) Method() Method {
	if t := r.txn.Get(); t != nil {
		return MethodFromCommand(t.Command())
	}
	return MethodUnknown
}

// URI is the current URI. It may be changed, e.g. while routing.
func (r *Request) URI() *uri.URI        { return &r.uri }
func (r *Request) OriginalURI() uri.URI { return r.originalURI }

func (r *Request) ResponseCode() uint {
	if t := r.txn.Get(); t != nil {
		return t.ResponseCode()
	}
	return 0
}

func (r *Request) ResponseMessage() string {
	if t := r.txn.Get(); t != nil {
		return t.ResponseReason()
	}
	return ""
}

func (r *Request) ResponseLine() string {
	return "HTTP/" + strconv.FormatUint(uint64(r.Version()[0]), 10) + "." +
		strconv.FormatUint(uint64(r.Version()[1]), 10) + " " +
		strconv.FormatUint(uint64(r.ResponseCode()), 10) + " " + r.ResponseMessage()
}

// Args returns the arguments collected so far.
func (r *Request) Args() map[string]any { return r.args }

func (r *Request) InsertArg(key string, value any) { r.args[key] = value }

func (r *Request) isJSONInput() bool {
	return strings.HasPrefix(r.inHeaders().ContentType(), "application/json")
}

// ParseJSONArgs adds the top-level keys of a JSON object body.
// Other bodies are ignored.
func (r *Request) ParseJSONArgs() (map[string]any, error) {
	if !r.isJSONInput() {
		return r.args, nil
	}

	body := bytes.TrimLeft(r.InputBuffer().Bytes(), " \t\r\n")
	if len(body) == 0 || body[0] != '{' {
		return r.args, nil
	}

	var dict map[string]any
	if err := json.Unmarshal(body, &dict); err != nil {
		return r.args, errors.Wrapf(ErrInvalidArgument, "json body: %s", err)
	}
	for k, v := range dict {
		r.InsertArg(k, v)
	}
	return r.args, nil
}

// ParseQueryArgs adds the query arguments of the current URI.
func (r *Request) ParseQueryArgs() map[string]any {
	for _, arg := range r.uri.Args() {
		r.InsertArg(arg.Key, arg.Value)
	}
	return r.args
}

// ParseArgs adds the JSON body arguments, then the query ones. The query
// wins on a shared key.
func (r *Request) ParseArgs() (map[string]any, error) {
	if _, err := r.ParseJSONArgs(); err != nil {
		return r.args, err
	}
	return r.ParseQueryArgs(), nil
}

func (r *Request) inHeaders() *semantic.Headers {
	if t := r.txn.Get(); t != nil {
		return t.InputHeaders()
	}
	return semantic.NewHeaders()
}

func (r *Request) outHeaders() *semantic.Headers {
	if t := r.txn.Get(); t != nil {
		return t.OutputHeaders()
	}
	return semantic.NewHeaders()
}

func (r *Request) InputHeaders() *semantic.Headers  { return r.inHeaders() }
func (r *Request) OutputHeaders() *semantic.Headers { return r.outHeaders() }

func getHeader(h *semantic.Headers, name string) (string, error) {
	v, ok := h.Get(name)
	if !ok {
		return "", errors.Wrapf(ErrNotFound, "header %q", name)
	}
	return v, nil
}

func (r *Request) InHas(name string) bool             { return r.inHeaders().Has(name) }
func (r *Request) InFind(name string) string          { return r.inHeaders().Find(name) }
func (r *Request) InGet(name string) (string, error)  { return getHeader(r.inHeaders(), name) }
func (r *Request) InAdd(name, value string)           { r.inHeaders().Add(name, value) }
func (r *Request) InSet(name, value string)           { r.inHeaders().Set(name, value) }
func (r *Request) InRemove(name string)               { r.inHeaders().Remove(name) }
func (r *Request) OutHas(name string) bool            { return r.outHeaders().Has(name) }
func (r *Request) OutFind(name string) string         { return r.outHeaders().Find(name) }
func (r *Request) OutGet(name string) (string, error) { return getHeader(r.outHeaders(), name) }
func (r *Request) OutAdd(name, value string)          { r.outHeaders().Add(name, value) }
func (r *Request) OutSet(name, value string)          { r.outHeaders().Set(name, value) }
func (r *Request) OutRemove(name string)              { r.outHeaders().Remove(name) }

// SetPersistent only emits a Connection header where it differs from the
// default of the version.
func (r *Request) SetPersistent(keepAlive bool) {
	switch {
	case r.Version().Less(http.Version1_1) && keepAlive:
		r.OutSet("Connection", "Keep-Alive")
	case r.Version().Less(http.Version1_1):
		r.OutRemove("Connection")
	case keepAlive:
		r.OutRemove("Connection")
	default:
		r.OutSet("Connection", "close")
	}
}

func (r *Request) HasContentType() bool     { return r.outHeaders().HasContentType() }
func (r *Request) ContentType() string      { return r.outHeaders().ContentType() }
func (r *Request) SetContentType(ct string) { r.outHeaders().SetContentType(ct) }
func (r *Request) GuessContentType()        { r.outHeaders().GuessContentType(r.uri.Extension()) }
func (r *Request) RequestedCompression() Compression {
	v, ok := r.inHeaders().Get("Accept-Encoding")
	if !ok {
		return CompressNone
	}
	return negotiate(v)
}

func (r *Request) OutSetContentEncoding(c Compression) {
	if enc := c.ContentEncoding(); enc != "" {
		r.OutSet("Content-Encoding", enc)
	}
}

func (r *Request) HasCookie(name string) bool {
	_, ok := findCookie(r.InFind("Cookie"), name)
	return ok
}

// FindCookie returns the value of the first cookie called name, or "".
func (r *Request) FindCookie(name string) string {
	v, _ := findCookie(r.InFind("Cookie"), name)
	return v
}

func (r *Request) GetCookie(name string) (string, error) {
	v, ok := findCookie(r.InFind("Cookie"), name)
	if !ok {
		return "", errors.Wrapf(ErrNotFound, "cookie %q not set", name)
	}
	return v, nil
}

// SetCookie adds a Set-Cookie header. Earlier ones are kept.
func (r *Request) SetCookie(c Cookie) error {
	if err := c.validate(); err != nil {
		return err
	}
	r.OutAdd("Set-Cookie", c.String())
	return nil
}

// SetCache sets Date, Cache-Control and Expires. A zero maxAge forbids caching.
func (r *Request) SetCache(maxAge time.Duration) {
	now := r.clock.Now()
	r.OutSet("Date", semantic.FormatDate(now))

	secs := int64(maxAge / time.Second)
	if secs > 0 {
		r.OutSet("Cache-Control", "max-age="+strconv.FormatInt(secs, 10))
		r.OutSet("Expires", semantic.FormatDate(now.Add(time.Duration(secs)*time.Second)))
		return
	}

	r.OutSet("Cache-Control", "max-age=0, no-cache, no-store")
	r.OutSet("Expires", semantic.FormatDate(now))
}

// InputBuffer and OutputBuffer return the buffers of the transaction. Once
// it is freed both return the same empty buffer, reset on every call.
func (r *Request) InputBuffer() *buffer.Buffer {
	if t := r.txn.Get(); t != nil {
		return t.InputBuffer()
	}
	return r.detachedBuffer()
}

func (r *Request) OutputBuffer() *buffer.Buffer {
	if t := r.txn.Get(); t != nil {
		return t.OutputBuffer()
	}
	return r.detachedBuffer()
}

func (r *Request) detachedBuffer() *buffer.Buffer {
	if r.detached == nil {
		r.detached = buffer.New()
	}
	r.detached.Reset()
	return r.detached
}

func (r *Request) Input() string  { return r.InputBuffer().String() }
func (r *Request) Output() string { return r.OutputBuffer().String() }

// InputStream reads the body without consuming the input buffer.
func (r *Request) InputStream() io.Reader { return bytes.NewReader(r.InputBuffer().Bytes()) }

// OutputStream appends to the output, compressed with c. CompressAuto
// negotiates. Close the stream to flush it.
func (r *Request) OutputStream(c Compression) (io.WriteCloser, error) {
	out, err := r.output()
	if err != nil {
		return nil, err
	}
	if c == CompressAuto {
		c = r.RequestedCompression()
	}
	r.OutSetContentEncoding(c)
	return compressor(out, c)
}

// ResetOutput drops whatever was written to the output so far.
func (r *Request) ResetOutput() error {
	if r.finalized {
		return errors.Wrap(ErrAlreadyFinalized, "cannot reset output")
	}
	r.OutputBuffer().Reset()
	return nil
}

// output returns the buffer the Send family appends to. It fails once the
// reply went out or the transaction is gone.
func (r *Request) output() (*buffer.Buffer, error) {
	if r.finalized {
		return nil, errors.Wrap(ErrAlreadyFinalized, "cannot send after reply")
	}
	t, err := r.transaction()
	if err != nil {
		return nil, err
	}
	return t.OutputBuffer(), nil
}

func (r *Request) Send(b []byte) error {
	out, err := r.output()
	if err != nil {
		return err
	}
	out.Add(b)
	return nil
}

func (r *Request) SendString(s string) error {
	out, err := r.output()
	if err != nil {
		return err
	}
	out.AddString(s)
	return nil
}

func (r *Request) SendBuffer(b *buffer.Buffer) error {
	out, err := r.output()
	if err != nil {
		return err
	}
	out.AddBuffer(b)
	return nil
}

func (r *Request) SendFile(path string) error {
	out, err := r.output()
	if err != nil {
		return err
	}
	if err := out.AddFile(path); err != nil {
		return errors.Wrap(err, "sending file")
	}
	return nil
}
