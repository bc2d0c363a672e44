package engine

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"event-http/application/http"
	"event-http/application/http/semantic"
	"event-http/application/http/semantic/status"
	"event-http/application/http/transfer"
	"event-http/lib/ds/queue"
	iolib "event-http/lib/io"
	"event-http/transport"
	"event-http/transport/stream"

	"github.com/pkg/errors"
)

// Handler runs on the loop for every received request. It may reply
// right away or keep txn and reply later.
type Handler func(txn *Transaction)

type ServerOptions struct {
	MaxHeaderSize uint
	MaxBodySize   uint
	MaxURILen     uint

	// Timeout bounds reading a request and writing each reply frame.
	Timeout time.Duration
	// IdleTimeout bounds waiting for the next request.
	IdleTimeout time.Duration

	// TLS terminates TLS on every accepted connection when set.
	TLS *stream.TLSContext
}

type Server struct {
	base    *Base
	l       transport.ConnListener
	handler Handler
	opts    ServerOptions
	logger  *slog.Logger
}

func NewServer(base *Base, l transport.ConnListener, handler Handler, opts ServerOptions) *Server {
	return &Server{
		base:    base,
		l:       l,
		handler: handler,
		opts:    opts,
		logger:  base.logger.With(slog.String("listener", l.Addr().String())),
	}
}

// Serve accepts connections until ctx is done or the listener is closed.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("serving")

	for {
		conn, err := s.l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrConnListenerClosed) {
				return nil
			}
			return errors.Wrap(err, "accepting connection")
		}

		s.base.Go(func(bctx context.Context) {
			cctx, cancel := context.WithCancel(bctx)
			defer cancel()
			stop := context.AfterFunc(ctx, cancel)
			defer stop()

			s.serveConn(cctx, conn)
		})
	}
}

func (s *Server) serveConn(ctx context.Context, conn transport.Conn) {
	st := stream.New(conn)
	if s.opts.TLS != nil {
		var err error
		if st, err = stream.Server(conn, s.opts.TLS); err != nil {
			s.logger.Error("starting tls", slog.Any("err", err))
			conn.Close()
			return
		}
	}

	sc := &serverConn{
		srv:     s,
		s:       st,
		link:    newInboundLink(s.base, st),
		logger:  s.logger.With(slog.String("remote", conn.RemoteAddr().String())),
		frames:  queue.New[frame](4),
		notify:  make(chan struct{}, 1),
		replied: make(chan bool, 1),
		done:    make(chan struct{}),
	}

	stop := context.AfterFunc(ctx, sc.shutdown)
	defer stop()
	defer sc.shutdown()

	s.base.Go(func(context.Context) { sc.writeLoop() })

	sc.readLoop()
}

type frame struct {
	txn  *Transaction
	data []byte
	last bool
	keep bool
}

// serverConn serves the requests of one connection, one at a time.
type serverConn struct {
	srv    *Server
	s      *stream.Stream
	link   *Link
	logger *slog.Logger

	frames  *queue.Queue[frame]
	notify  chan struct{}
	replied chan bool // keep-alive of each finished reply.

	done      chan struct{}
	closeOnce sync.Once

	current *Transaction // only touched on the loop.
}

var _ Sink = (*serverConn)(nil)

func (sc *serverConn) shutdown() {
	sc.closeOnce.Do(func() {
		close(sc.done)
		sc.s.Close()

		sc.srv.base.Post(func() {
			sc.link.freed = true
			if cur := sc.current; cur != nil {
				sc.current = nil
				if cur.state != replyDone {
					cur.fail(ErrorEOF)
				}
				cur.Free()
			}
		})
	})
}

func (sc *serverConn) closed() bool {
	select {
	case <-sc.done:
		return true
	default:
		return false
	}
}

func (sc *serverConn) Send(txn *Transaction, data []byte, last bool) {
	if sc.closed() {
		if last {
			sc.release(txn)
		}
		return
	}

	sc.frames.Enqueue(frame{txn: txn, data: data, last: last, keep: txn.KeepAlive()})
	select {
	case sc.notify <- struct{}{}:
	default:
	}
}

func (sc *serverConn) Abort(txn *Transaction) {
	if sc.current == txn {
		sc.current = nil
	}
	sc.shutdown()
}

// release frees txn on the loop once its reply is out.
func (sc *serverConn) release(txn *Transaction) {
	if sc.current == txn {
		sc.current = nil
	}
	txn.Free()
}

func (sc *serverConn) readLoop() {
	opts := http.DefaultDecodeOptions
	opts.MaxHeaderBytes = sc.srv.opts.MaxHeaderSize
	dec := http.NewRequestDecoder(eofReader{sc.s}, opts)

	clock := sc.srv.base.clock
	timeout := sc.srv.opts.Timeout

	for {
		if idle := sc.srv.opts.IdleTimeout; idle > 0 {
			sc.s.SetReadDeadLine(clock.Now().Add(idle))
		} else {
			sc.s.SetReadDeadLine(time.Time{})
		}

		// Wait for the first byte of the next request.
		if _, err := dec.Reader().Peek(1); err != nil {
			if !errors.Is(err, io.EOF) {
				sc.logger.Debug("waiting for request", slog.Any("err", err))
			}
			return
		}

		if timeout > 0 {
			sc.s.SetReadDeadLine(clock.Now().Add(timeout))
		}

		in, err := sc.readRequest(dec)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return
			}

			st := statusOf(err)
			sc.logger.Info("bad request", slog.Int("status", int(st.Code)), slog.Any("err", err))
			sc.writeRaw(errorResponse(st, sc.srv.base.clock.Now()))
			return
		}
		sc.s.SetReadDeadLine(time.Time{})

		posted := sc.srv.base.Post(func() {
			txn := NewIncomingTransaction(sc.srv.base, sc.link, sc, in)
			sc.current = txn
			sc.srv.handler(txn)
		})
		if !posted {
			return
		}

		select {
		case keep := <-sc.replied:
			if !keep {
				return
			}
		case <-sc.done:
			return
		}
	}
}

func (sc *serverConn) readRequest(dec *http.RequestDecoder) (IncomingRequest, error) {
	var raw http.Request
	if err := dec.Decode(&raw); err != nil {
		return IncomingRequest{}, err
	}

	cmd, ok := ParseCommand(raw.Method)
	if !ok {
		return IncomingRequest{}, status.NewError(
			errors.Wrap(ErrUnsupportedCommand, raw.Method), status.NotImplemented,
		)
	}

	req, err := semantic.RequestFrom(&raw, semantic.ParseRequestOptions{
		ParseMessageOptions: semantic.ParseMessageOptions{
			MaxBodySize: sc.srv.opts.MaxBodySize,
		},
		MaxURILen: sc.srv.opts.MaxURILen,
	})
	if err != nil {
		return IncomingRequest{}, err
	}

	if !raw.Version.Less(http.Version1_1) && hasToken(req.Headers, "Expect", "100-continue") {
		sc.writeRaw([]byte("HTTP/1.1 100 Continue\r\n\r\n"))
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return IncomingRequest{}, errors.Wrap(err, "reading body")
	}

	return IncomingRequest{
		Command: cmd,
		Target:  raw.Target,
		Version: raw.Version,
		Host:    req.Host,
		Headers: req.Headers,
		Body:    body,
	}, nil
}

// writeRaw writes b while no reply is in flight.
func (sc *serverConn) writeRaw(b []byte) {
	if timeout := sc.srv.opts.Timeout; timeout > 0 {
		sc.s.SetWriteDeadLine(sc.srv.base.clock.Now().Add(timeout))
	}
	if _, err := iolib.WriteFull(sc.s, b); err != nil {
		sc.logger.Debug("writing", slog.Any("err", err))
	}
}

func (sc *serverConn) writeLoop() {
	for {
		f, err := sc.frames.Dequeue()
		if err != nil {
			select {
			case <-sc.notify:
				continue
			case <-sc.done:
				sc.drop()
				return
			}
		}

		if timeout := sc.srv.opts.Timeout; timeout > 0 {
			sc.s.SetWriteDeadLine(sc.srv.base.clock.Now().Add(timeout))
		}

		if _, err := iolib.WriteFull(sc.s, f.data); err != nil {
			sc.logger.Debug("writing reply", slog.Any("err", err))
			sc.frames.Enqueue(f)
			sc.shutdown()
			sc.drop()
			return
		}

		if f.last {
			txn := f.txn
			sc.srv.base.Post(func() { sc.release(txn) })

			select {
			case sc.replied <- f.keep:
			case <-sc.done:
				sc.drop()
				return
			}
		}
	}
}

// drop frees the transactions whose replies will never be written.
func (sc *serverConn) drop() {
	for _, f := range sc.frames.Drain() {
		if f.last {
			txn := f.txn
			sc.srv.base.Post(func() { sc.release(txn) })
		}
	}
}

// statusOf picks the status a malformed request is answered with.
func statusOf(err error) status.Status {
	if se := new(status.Error); errors.As(err, se) {
		return se.Status
	}

	switch {
	case errors.Is(err, transport.ErrDeadLineExceeded):
		return status.RequestTimeout
	case errors.Is(err, semantic.ErrBodyTooLarge):
		return status.ContentTooLarge
	case errors.Is(err, semantic.ErrURITooLong), errors.Is(err, http.ErrRequestLineTooLong):
		return status.RequestURITooLong
	case errors.Is(err, transfer.ErrUnsupportedCoding):
		return status.NotImplemented
	}

	return status.BadRequest
}

func errorResponse(st status.Status, now time.Time) []byte {
	page := fmtErrorPage(st.Code, st.ReasonPhrase)

	b := []byte("HTTP/1.1 " + strconv.FormatUint(uint64(st.Code), 10) + " " + st.ReasonPhrase + "\r\n")
	b = append(b, "Content-Type: text/html\r\n"...)
	b = append(b, "Content-Length: "+strconv.Itoa(len(page))+"\r\n"...)
	b = append(b, "Date: "+semantic.FormatDate(now)+"\r\n"...)
	b = append(b, "Connection: close\r\n\r\n"...)
	return append(b, page...)
}
