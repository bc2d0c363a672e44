package main

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"event-http/application/config"
	"event-http/application/http"
	"event-http/application/http/engine"
	"event-http/application/http/semantic"
	"event-http/application/http/session"

	"github.com/benbjohnson/clock"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEcho() (*echoServer, *engine.Base) {
	clk := clock.NewMock()
	base := engine.NewBase(slog.New(slog.DiscardHandler), clk)
	return &echoServer{
		logger:   base.Logger(),
		sessions: session.NewStore(clk, time.Minute),
		opts:     config.Default().Session,
	}, base
}

func (e *echoServer) serveOne(t *testing.T, base *engine.Base, cmd engine.Command, target string, headers ...http.Field) (*semantic.Response, []byte) {
	t.Helper()

	rec := &engine.Recorder{AutoFree: true}
	e.handle(engine.NewIncomingTransaction(base, nil, rec, engine.IncomingRequest{
		Command: cmd,
		Target:  target,
		Version: http.Version1_1,
		Headers: semantic.HeadersFrom(headers),
	}))
	require.True(t, rec.Done)

	res, body, err := rec.Response(cmd.String())
	require.NoError(t, err)
	return res, body
}

func TestEcho(t *testing.T) {
	e, base := newEcho()

	res, body := e.serveOne(t, base, engine.CmdGet, "/echo?user=alice&x=1")
	assert.Equal(t, uint(200), res.Status.Code)
	assert.Equal(t, "application/json", res.Headers.Find("Content-Type"))
	assert.Equal(t, "max-age=0, no-cache, no-store", res.Headers.Find("Cache-Control"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "GET", got["method"])
	assert.Equal(t, "alice", got["user"])
	assert.Equal(t, map[string]any{"user": "alice", "x": "1"}, got["args"])

	cookie := res.Headers.Find("Set-Cookie")
	require.True(t, strings.HasPrefix(cookie, "sid="+got["session"].(string)+";"), cookie)
	assert.Contains(t, cookie, "HttpOnly")
	assert.Equal(t, 1, e.sessions.Len())

	// The session remembers the user.
	res, body = e.serveOne(t, base, engine.CmdGet, "/echo", http.Field{Name: "X-Session-ID", Value: got["session"].(string)})
	assert.False(t, res.Headers.Has("Set-Cookie"))
	var again map[string]any
	require.NoError(t, json.Unmarshal(body, &again))
	assert.Equal(t, "alice", again["user"])
	assert.Equal(t, got["session"], again["session"])
}

func TestEchoCompressed(t *testing.T) {
	e, base := newEcho()

	res, _ := e.serveOne(t, base, engine.CmdGet, "/echo", http.Field{Name: "Accept-Encoding", Value: "gzip"})
	assert.Equal(t, "gzip", res.Headers.Find("Content-Encoding"))
}

func TestStream(t *testing.T) {
	e, base := newEcho()

	res, body := e.serveOne(t, base, engine.CmdGet, "/stream?a=1&b=2")
	assert.Equal(t, "application/x-ndjson", res.Headers.Find("Content-Type"))
	assert.Equal(t, "{\"a\":\"1\"}\n{\"b\":\"2\"}\n", string(body))
}

func TestDispatch(t *testing.T) {
	e, base := newEcho()

	res, body := e.serveOne(t, base, engine.CmdGet, "/nowhere")
	assert.Equal(t, uint(404), res.Status.Code)
	assert.Equal(t, "no such path: /nowhere", string(body))

	res, _ = e.serveOne(t, base, engine.CmdOptions, "*")
	assert.Equal(t, uint(204), res.Status.Code)
	assert.Equal(t, "GET, HEAD, POST, OPTIONS", res.Headers.Find("Allow"))
}
