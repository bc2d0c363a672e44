package main

import (
	"context"
	"log/slog"
	"os"

	"event-http/application/config"
	"event-http/application/http/engine"
	"event-http/application/http/event"
	"event-http/application/util/domain"
	"event-http/application/util/uri"
	"event-http/transport/stream"
	"event-http/transport/tcp"

	"github.com/pkg/errors"
)

type fetched struct {
	status string
	body   []byte
	err    error
}

func runFetch(ctx context.Context, base *engine.Base, resolver domain.Lookuper, opts config.Options, rawURI string) error {
	u, err := uri.Parse(rawURI)
	if err != nil {
		return errors.Wrapf(event.ErrInvalidArgument, "uri %q: %s", rawURI, err)
	}

	var tlsCtx *stream.TLSContext
	if u.Scheme == "https" {
		if tlsCtx, err = stream.LoadClientContext(opts.TLS.ServerName, opts.TLS.CA, opts.TLS.Fingerprint); err != nil {
			return errors.Wrap(err, "loading client tls settings")
		}
		tlsCtx.InsecureSkipVerify = opts.TLS.Insecure
	}

	ctx, cancel := context.WithCancel(ctx)
	ran := make(chan error, 1)
	go func() { ran <- base.Run(ctx) }()
	defer func() {
		cancel()
		<-ran
	}()

	done := make(chan fetched, 1)
	var con *event.Connection

	var setupErr error
	err = base.Call(ctx, func() {
		if con, setupErr = event.DialConnectionToURI(base, resolver, rawURI, tlsCtx); setupErr != nil {
			return
		}
		if opts.Proxy.SOCKS != "" {
			con.SetDialer(&tcp.SOCKSDialer{ProxyURI: opts.Proxy.SOCKS})
		}
		if setupErr = con.Apply(opts.Connection); setupErr == nil {
			setupErr = fetch(base, con, u, done)
		}
	})
	if err == nil {
		err = setupErr
	}
	if err != nil {
		if con != nil {
			base.Call(context.Background(), con.Close)
		}
		return err
	}
	defer base.Call(context.Background(), con.Close)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-done:
		if res.err != nil {
			return res.err
		}
		base.Logger().Info(res.status)
		_, err := os.Stdout.Write(res.body)
		return err
	}
}

// fetch submits a GET for u on con. It runs on the loop.
func fetch(base *engine.Base, con *event.Connection, u uri.URI, done chan<- fetched) error {
	var r *event.Request

	txn := engine.NewTransaction(base, func(t *engine.Transaction) {
		if code, failed := t.Error(); failed {
			con.LogTLSErrors()
			done <- fetched{err: errors.Wrap(event.ErrConnection, event.ErrorString(code))}
			return
		}
		done <- fetched{
			status: r.ResponseLine(),
			body:   []byte(r.Input()),
		}
	})

	r, err := event.NewOutgoingRequest(txn, u, false, nil, nil)
	if err != nil {
		return err
	}
	r.SetOnError(func(r *event.Request, code engine.ErrorCode) {
		r.Logger().Debug("fetch failed", slog.String("uri", u.String()))
	})
	r.OutSet("Accept", "*/*")

	if err := con.MakeRequest(txn, event.MethodGet, u); err != nil {
		r.Release()
		return err
	}
	r.Release()
	return nil
}
