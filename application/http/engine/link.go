package engine

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"event-http/application/http"
	"event-http/application/http/semantic"
	"event-http/application/util/domain"
	"event-http/lib/ds/queue"
	iolib "event-http/lib/io"
	"event-http/transport"
	"event-http/transport/stream"
	"event-http/transport/tcp"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

const (
	DefaultTimeout           = 50 * time.Second
	DefaultInitialRetryDelay = 2 * time.Second
)

// StreamWrapper turns a freshly dialed connection into the stream requests
// are sent over. e.g. to start TLS.
type StreamWrapper func(conn transport.Conn) (*stream.Stream, error)

// Link is an HTTP connection to one peer.
//
// Outgoing links dial lazily and send their transactions one at a time,
// keeping the connection open while the peer allows it.
type Link struct {
	base     *Base
	resolver domain.Lookuper
	dialer   transport.ConnDialer
	wrap     StreamWrapper
	logger   *slog.Logger

	host string
	port uint16
	raw  transport.Addr

	incoming bool
	fixed    bool // bound to a caller supplied stream. never redialed.

	maxBodySize   uint
	maxHeaderSize uint
	retries       int
	retryDelay    time.Duration
	timeout       time.Duration
	localIP       netip.Addr
	localPort     uint16

	idle   *wire // connection waiting for the next request.
	stream *stream.Stream

	pending       *queue.Queue[*Transaction]
	current       *Transaction
	cancelCurrent context.CancelFunc

	fixedUsed bool // the bound stream was handed to an exchange.
	freed     bool
}

func newLink(base *Base, resolver domain.Lookuper, host string, port uint16) *Link {
	return &Link{
		base:       base,
		resolver:   resolver,
		logger:     base.logger.With(slog.String("peer", joinHostPort(host, port))),
		host:       host,
		port:       port,
		retryDelay: DefaultInitialRetryDelay,
		timeout:    DefaultTimeout,
		pending:    queue.New[*Transaction](4),
	}
}

// NewLink creates an outgoing link to host:port. Nothing is dialed until
// the first request.
func NewLink(base *Base, resolver domain.Lookuper, host string, port uint16) *Link {
	return newLink(base, resolver, host, port)
}

// NewLinkOverStream creates an outgoing link bound to s. The link owns s
// from now on.
func NewLinkOverStream(base *Base, resolver domain.Lookuper, s *stream.Stream, host string, port uint16) *Link {
	l := newLink(base, resolver, host, port)
	l.fixed = true
	l.stream = s
	l.raw = s.RemoteAddr()
	return l
}

func newInboundLink(base *Base, s *stream.Stream) *Link {
	host, port := splitAddr(s.RemoteAddr())

	l := newLink(base, nil, host, port)
	l.incoming = true
	l.fixed = true
	l.stream = s
	l.raw = s.RemoteAddr()
	return l
}

func joinHostPort(host string, port uint16) string {
	return host + ":" + strconv.FormatUint(uint64(port), 10)
}

func splitAddr(addr transport.Addr) (string, uint16) {
	if ap, err := netip.ParseAddrPort(addr.String()); err == nil {
		return ap.Addr().Unmap().String(), ap.Port()
	}
	return addr.String(), 0
}

func (l *Link) Base() *Base          { return l.base }
func (l *Link) IsIncoming() bool     { return l.incoming }
func (l *Link) IsFreed() bool        { return l.freed }
func (l *Link) Logger() *slog.Logger { return l.logger }

// Peer returns the name and port the link was created for.
// Inbound links report the remote socket address.
func (l *Link) Peer() (host string, port uint16) { return l.host, l.port }

// RawAddr is the remote socket address of the last connection, if any.
func (l *Link) RawAddr() transport.Addr { return l.raw }

// Stream is the stream of the current connection, or nil before any.
func (l *Link) Stream() *stream.Stream { return l.stream }

func (l *Link) MaxBodySize() uint                { return l.maxBodySize }
func (l *Link) MaxHeaderSize() uint              { return l.maxHeaderSize }
func (l *Link) Retries() int                     { return l.retries }
func (l *Link) InitialRetryDelay() time.Duration { return l.retryDelay }
func (l *Link) Timeout() time.Duration           { return l.timeout }
func (l *Link) LocalAddr() netip.AddrPort        { return netip.AddrPortFrom(l.localIP, l.localPort) }

// SetMaxBodySize limits received bodies. Zero means no limit.
func (l *Link) SetMaxBodySize(n uint) { l.maxBodySize = n }

// SetMaxHeaderSize limits received heads. Zero means no limit.
func (l *Link) SetMaxHeaderSize(n uint) { l.maxHeaderSize = n }

// SetRetries sets how many times a failed dial is retried.
func (l *Link) SetRetries(n int) { l.retries = n }

// SetInitialRetryDelay sets the delay before the first retry.
// It doubles on every further retry.
func (l *Link) SetInitialRetryDelay(d time.Duration) { l.retryDelay = d }

// SetTimeout bounds each read and write. Zero disables it.
func (l *Link) SetTimeout(d time.Duration) { l.timeout = d }

func (l *Link) SetLocalIP(ip netip.Addr)         { l.localIP = ip }
func (l *Link) SetLocalPort(port uint16)         { l.localPort = port }
func (l *Link) SetDialer(d transport.ConnDialer) { l.dialer = d }
func (l *Link) SetStreamWrapper(w StreamWrapper) { l.wrap = w }

// MakeRequest queues txn to be sent as cmd on target.
// Its completion callback runs once the response arrived or it failed.
func (l *Link) MakeRequest(txn *Transaction, cmd Command, target string) error {
	switch {
	case l.freed:
		return ErrLinkClosed
	case l.incoming:
		return errors.Wrap(ErrLinkClosed, "inbound links cannot send requests")
	case txn.kind != KindOutgoing, txn.queued, txn.freed:
		return ErrAlreadySubmitted
	case int(cmd) >= len(commandNames):
		return ErrUnsupportedCommand
	}

	txn.cmd, txn.target, txn.link = cmd, target, l
	txn.queued = true
	if txn.host == "" {
		txn.host = l.host
	}

	l.pending.Enqueue(txn)
	l.kick()

	return nil
}

// Free closes the link. Queued and running transactions fail with
// [ErrorRequestCanceled].
func (l *Link) Free() {
	if l.freed {
		return
	}
	l.freed = true

	if cur := l.current; cur != nil {
		l.cancelCurrent()
		l.abandon(cur)
	}
	for _, txn := range l.pending.Drain() {
		l.abandon(txn)
	}

	if l.idle != nil {
		l.idle.s.Close()
		l.idle = nil
	}
	if l.fixed && l.stream != nil {
		l.stream.Close()
	}
}

func (l *Link) abandon(txn *Transaction) {
	if txn.freed {
		return
	}
	txn.fail(ErrorRequestCanceled)
	if txn.onComplete != nil {
		txn.onComplete(txn)
	}
	txn.Free()
}

func (l *Link) cancel(txn *Transaction) {
	if txn == l.current {
		l.cancelCurrent()
		return
	}
	l.pending.Remove(func(t *Transaction) bool { return t == txn })
}

// kick starts the next exchange if none is running.
func (l *Link) kick() {
	if l.current != nil || l.freed {
		return
	}

	txn, err := l.pending.Dequeue()
	if err != nil {
		return
	}

	head, err := l.encode(txn)
	if err != nil {
		l.finish(txn, result{err: err})
		return
	}

	ctx, cancel := context.WithCancel(l.base.Context())
	l.current, l.cancelCurrent = txn, cancel

	x := l.exchanger()
	w := l.idle
	l.idle = nil
	if w == nil && l.fixed && !l.fixedUsed {
		l.fixedUsed = true
		w = newWire(l.stream, l.maxHeaderSize)
	}

	l.base.Go(func(context.Context) {
		res := x.run(ctx, w, head, txn.cmd)

		if !l.base.Post(func() {
			cancel()
			l.finish(txn, res)
		}) && res.wire != nil {
			res.wire.s.Close()
		}
	})
}

func (l *Link) finish(txn *Transaction, res result) {
	if txn == l.current {
		l.current, l.cancelCurrent = nil, nil
	}

	if res.raw != nil {
		l.raw = res.raw
	}
	if res.stream != nil {
		l.stream = res.stream
	}
	if res.wire != nil {
		if l.freed {
			res.wire.s.Close()
		} else {
			l.idle = res.wire
		}
	}

	if !txn.freed {
		if res.err != nil {
			code := codeOf(res.err)
			l.logger.Debug("request failed",
				slog.String("target", txn.target),
				slog.String("code", code.String()),
				slog.Any("err", res.err),
			)
			txn.fail(code)
		} else {
			txn.code, txn.reason = res.code, res.reason
			txn.version = res.version
			txn.in = res.headers
			txn.input.Reset()
			txn.input.Add(res.body)
		}

		if txn.onComplete != nil {
			txn.onComplete(txn)
		}
		txn.Free()
	}

	l.kick()
}

func (l *Link) hostHeader() string {
	host := l.host
	if ip, err := netip.ParseAddr(host); err == nil && ip.Is6() {
		host = "[" + host + "]"
	}

	def := uint16(80)
	if l.wrap != nil || (l.stream != nil && l.stream.IsSecure()) {
		def = 443
	}
	if l.port == 0 || l.port == def {
		return host
	}
	return host + ":" + strconv.FormatUint(uint64(l.port), 10)
}

// encode renders the request head and body of txn.
func (l *Link) encode(txn *Transaction) ([]byte, error) {
	if !txn.out.Has("Host") {
		txn.out.Set("Host", l.hostHeader())
	}

	body := txn.output.Bytes()
	switch {
	case len(body) > 0, txn.cmd == CmdPost, txn.cmd == CmdPut, txn.cmd == CmdPatch:
		txn.out.Set("Content-Length", strconv.Itoa(len(body)))
	default:
		txn.out.Remove("Content-Length")
	}

	var buf bytes.Buffer
	enc := http.NewRequestEncoder(&buf, http.DefaultEncodeOptions)
	err := enc.Encode(http.Request{
		RequestLine: http.RequestLine{
			Method:  txn.cmd.String(),
			Target:  txn.target,
			Version: txn.version,
		},
		Headers: txn.out.Fields(),
		Body:    bytes.NewReader(body),
	})
	if err != nil {
		return nil, errors.Wrap(err, "encoding request")
	}

	return buf.Bytes(), nil
}

// wire is one live connection and the decoder reading from it.
type wire struct {
	s      *stream.Stream
	dec    *http.ResponseDecoder
	reused bool
}

func newWire(s *stream.Stream, maxHeaderSize uint) *wire {
	opts := http.DefaultDecodeOptions
	opts.MaxHeaderBytes = maxHeaderSize

	return &wire{s: s, dec: http.NewResponseDecoder(eofReader{s}, opts)}
}

// eofReader reports a closed connection as the end of the stream.
type eofReader struct{ r io.Reader }

func (e eofReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if errors.Is(err, transport.ErrConnClosed) {
		err = io.EOF
	}
	return n, err
}

type result struct {
	wire   *wire // nil if the connection must not be reused.
	raw    transport.Addr
	stream *stream.Stream

	code    uint
	reason  string
	version http.Version
	headers *semantic.Headers
	body    []byte

	err error
}

// exchanger is what an exchange needs from its link, copied so that the
// I/O goroutine never touches the link itself.
type exchanger struct {
	clock    clock.Clock
	logger   *slog.Logger
	resolver domain.Lookuper
	dialer   transport.ConnDialer
	wrap     StreamWrapper

	host  string
	port  uint16
	fixed bool

	retries    int
	retryDelay time.Duration
	timeout    time.Duration
	maxBody    uint
	maxHeader  uint
}

func (l *Link) exchanger() *exchanger {
	dialer := l.dialer
	if dialer == nil {
		dialer = &tcp.Dialer{LocalAddr: netip.AddrPortFrom(l.localIP, l.localPort)}
	}

	return &exchanger{
		clock:      l.base.clock,
		logger:     l.logger,
		resolver:   l.resolver,
		dialer:     dialer,
		wrap:       l.wrap,
		host:       l.host,
		port:       l.port,
		fixed:      l.fixed,
		retries:    l.retries,
		retryDelay: l.retryDelay,
		timeout:    l.timeout,
		maxBody:    l.maxBodySize,
		maxHeader:  l.maxHeaderSize,
	}
}

func (x *exchanger) run(ctx context.Context, w *wire, head []byte, cmd Command) (res result) {
	var (
		mu  sync.Mutex
		cur *wire
	)
	setCur := func(w *wire) {
		mu.Lock()
		cur = w
		mu.Unlock()
	}
	stop := context.AfterFunc(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		if cur != nil {
			cur.s.Close()
		}
	})
	defer stop()

	delay := x.retryDelay
	staleRetried := false

	for attempt := 0; ; {
		if err := ctx.Err(); err != nil {
			res.err = err
			return res
		}

		if w == nil {
			if x.fixed {
				res.err = errors.Wrap(transport.ErrConnClosed, "bound stream is gone")
				return res
			}

			var err error
			if w, err = x.dial(ctx); err != nil {
				res.err = err
				if ctx.Err() != nil || attempt >= x.retries {
					return res
				}
				attempt++

				x.logger.Debug("retrying dial", slog.Int("attempt", attempt), slog.Duration("delay", delay), slog.Any("err", err))
				select {
				case <-x.clock.After(delay):
				case <-ctx.Done():
					res.err = ctx.Err()
					return res
				}
				delay *= 2
				continue
			}
		}

		setCur(w)
		res.raw, res.stream = w.s.RemoteAddr(), w.s

		keep, err := x.roundTrip(w, head, cmd, &res)
		if err == nil {
			setCur(nil)
			if keep {
				res.wire = w
			} else {
				w.s.Close()
			}
			res.err = nil
			return res
		}

		setCur(nil)
		w.s.Close()

		if ctx.Err() != nil {
			res.err = ctx.Err()
			return res
		}

		// The peer may have dropped an idle connection. Try once more on a new one.
		if w.reused && !staleRetried && !x.fixed && codeOf(err) == ErrorEOF {
			staleRetried = true
			w = nil
			continue
		}

		res.err = err
		return res
	}
}

func (x *exchanger) dial(ctx context.Context) (*wire, error) {
	addrs, err := x.resolver.LookupIP(ctx, x.host)
	if err != nil {
		return nil, errors.Wrapf(transport.ErrNetUnreachable, "resolving %s: %s", x.host, err)
	}
	if len(addrs) == 0 {
		return nil, errors.Wrapf(transport.ErrNetUnreachable, "no address for %s", x.host)
	}

	dctx := ctx
	if x.timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	conn, err := x.dialer.Dial(dctx, tcp.NewAddr(addrs[0], x.port))
	if err != nil {
		return nil, errors.Wrap(err, "dialing")
	}

	s := stream.New(conn)
	if x.wrap != nil {
		if s, err = x.wrap(conn); err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "wrapping connection")
		}
	}

	return newWire(s, x.maxHeader), nil
}

// roundTrip writes head and reads one response into res.
func (x *exchanger) roundTrip(w *wire, head []byte, cmd Command, res *result) (keep bool, err error) {
	defer func() {
		w.s.SetReadDeadLine(time.Time{})
		w.s.SetWriteDeadLine(time.Time{})
	}()

	if x.timeout > 0 {
		w.s.SetWriteDeadLine(x.clock.Now().Add(x.timeout))
	}
	if _, err := iolib.WriteFull(w.s, head); err != nil {
		return false, errors.Wrap(err, "writing request")
	}

	if x.timeout > 0 {
		w.s.SetReadDeadLine(x.clock.Now().Add(x.timeout))
	}

	var raw http.Response
	for {
		if err := w.dec.Decode(&raw); err != nil {
			return false, markErr(errHead, err)
		}
		// Skip interim responses such as 100 Continue.
		if raw.StatusCode/100 != 1 || raw.StatusCode == 101 {
			break
		}
	}
	w.reused = true

	resp, err := semantic.ResponseFrom(&raw, semantic.ParseResponseOptions{
		ParseMessageOptions: semantic.ParseMessageOptions{
			MaxBodySize:    x.maxBody,
			ReadUntilClose: true,
		},
		RequestMethod: semantic.Method(cmd.String()),
	})
	if err != nil {
		if errors.Is(err, semantic.ErrBodyTooLarge) {
			return false, err
		}
		return false, markErr(errHead, err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, semantic.ErrBodyTooLarge) {
			return false, err
		}
		return false, markErr(errBody, err)
	}

	res.code, res.reason = resp.Status.Code, resp.Status.ReasonPhrase
	res.version = resp.Version
	res.headers = resp.Headers
	res.body = body

	delimited := resp.ContentLength != nil || resp.IsChunked() ||
		!hasResponseBody(cmd, resp.Status.Code)
	keep = delimited &&
		!hasToken(resp.Headers, "Connection", "close") &&
		!(resp.Version.Less(http.Version1_1) && !hasToken(resp.Headers, "Connection", "keep-alive"))

	return keep, nil
}

func hasResponseBody(cmd Command, code uint) bool {
	if cmd == CmdHead {
		return false
	}
	return !(code/100 == 1 || code == 204 || code == 304)
}
