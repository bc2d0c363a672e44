package main

import (
	"context"
	"log/slog"
	"time"

	"event-http/application/config"
	"event-http/application/http/engine"
	"event-http/application/http/event"
	"event-http/application/http/session"
	"event-http/transport/stream"
	"event-http/transport/tcp"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type echoServer struct {
	logger   *slog.Logger
	sessions *session.Store
	opts     config.SessionOptions
}

func runServer(ctx context.Context, base *engine.Base, opts config.Options) error {
	var tlsCtx *stream.TLSContext
	if opts.TLS.Cert != "" {
		var err error
		if tlsCtx, err = stream.LoadServerContext(opts.TLS.Cert, opts.TLS.Key); err != nil {
			return errors.Wrap(err, "loading server certificate")
		}
	}

	l, err := tcp.Listen(opts.Server.Listen, tcp.ListenOptions{
		ProxyProtocol:     opts.Server.ProxyProtocol,
		ReadHeaderTimeout: opts.Server.Timeout.Std(),
	})
	if err != nil {
		return err
	}
	defer l.Close()

	echo := &echoServer{
		logger:   base.Logger(),
		sessions: session.NewStore(base.Clock(), opts.Session.IdleTimeout.Std()),
		opts:     opts.Session,
	}

	srv := engine.NewServer(base, l, echo.handle, engine.ServerOptions{
		MaxHeaderSize: opts.Server.MaxHeaderSize,
		MaxBodySize:   opts.Server.MaxBodySize,
		MaxURILen:     opts.Server.MaxURILen,
		Timeout:       opts.Server.Timeout.Std(),
		IdleTimeout:   opts.Server.IdleTimeout.Std(),
		TLS:           tlsCtx,
	})

	base.Logger().Info("listening", slog.String("addr", l.Addr().String()), slog.Bool("tls", tlsCtx != nil))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return base.Run(ctx) })
	g.Go(func() error { return srv.Serve(ctx) })
	g.Go(func() error {
		echo.expireSessions(ctx, base)
		return nil
	})
	return g.Wait()
}

func (e *echoServer) expireSessions(ctx context.Context, base *engine.Base) {
	t := base.Clock().Ticker(time.Minute)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := e.sessions.Expire(); n > 0 {
				e.logger.Debug("sessions expired", slog.Int("count", n))
			}
		}
	}
}

func (e *echoServer) handle(txn *engine.Transaction) {
	r, err := event.NewRequest(txn, false, nil, nil)
	if err != nil {
		e.logger.Warn("rejecting request", slog.Any("err", err))
		txn.SendError(400, "")
		return
	}
	defer r.Release()

	if err := e.dispatch(r); err != nil {
		r.Logger().Warn("handler failed", slog.Any("err", err))
		if !r.IsFinalized() {
			r.SendJSONError(500, err.Error())
		}
	}
}

func (e *echoServer) dispatch(r *event.Request) error {
	switch {
	case r.Method() == event.MethodOptions:
		r.OutSet("Allow", "GET, HEAD, POST, OPTIONS")
		return r.Reply(204)
	case r.URI().Path == "/echo":
		return e.echo(r)
	case r.URI().Path == "/stream":
		return e.stream(r)
	}
	return r.SendErrorMessage(404, "no such path: "+r.URI().Path)
}

// echo replies with what it was sent. A user argument logs the session in.
func (e *echoServer) echo(r *event.Request) error {
	args, err := r.ParseArgs()
	if err != nil {
		return r.SendJSONError(400, err.Error())
	}

	s, created := e.sessions.Open(r.SessionID(e.opts.CookieName, e.opts.HeaderName))
	r.SetSession(s)
	if created {
		err := r.SetCookie(event.Cookie{
			Name:     e.opts.CookieName,
			Value:    s.ID(),
			Path:     "/",
			MaxAge:   e.opts.IdleTimeout.Std(),
			HTTPOnly: true,
			Secure:   r.IsSecure(),
		})
		if err != nil {
			return err
		}
	}
	if user, ok := args["user"].(string); ok && user != "" {
		r.SetUser(user)
	}

	w, err := r.DefaultJSONWriter(event.CompressAuto)
	if err != nil {
		return err
	}
	w.BeginDict()
	w.Insert("method", r.Method().String())
	w.Insert("path", r.URI().Path)
	w.Insert("client", r.ClientAddr().String())
	w.Insert("user", r.User())
	w.Insert("session", s.ID())
	w.Insert("args", args)
	w.Key("headers")
	w.BeginDict()
	for _, f := range r.InputHeaders().Fields() {
		w.Insert(f.Name, f.Value)
	}
	w.EndDict()
	if err := w.Close(); err != nil {
		return err
	}

	r.SetCache(0)
	return r.Reply(200)
}

// stream sends the query arguments back as newline separated JSON chunks.
func (e *echoServer) stream(r *event.Request) error {
	r.SetContentType("application/x-ndjson")
	if err := r.StartChunked(200); err != nil {
		return err
	}

	for _, arg := range r.URI().Args() {
		w, err := r.JSONChunkWriter()
		if err != nil {
			return err
		}
		w.BeginDict()
		w.Insert(arg.Key, arg.Value)
		if err := w.Close(); err != nil {
			return err
		}
		if err := r.SendChunkString("\n"); err != nil {
			return err
		}
	}
	return r.EndChunked()
}
