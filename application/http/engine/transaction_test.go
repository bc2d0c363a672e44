package engine

import (
	"testing"

	"event-http/application/http"
	"event-http/application/http/semantic"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type TransactionTestSuite struct {
	suite.Suite

	base *Base
	rec  *Recorder
}

func TestTransactionTestSuite(t *testing.T) {
	suite.Run(t, new(TransactionTestSuite))
}

func (s *TransactionTestSuite) SetupTest() {
	s.base = NewBase(discard(), clock.NewMock())
	s.rec = &Recorder{}
}

func (s *TransactionTestSuite) incoming(cmd Command, version http.Version, headers ...http.Field) *Transaction {
	return NewIncomingTransaction(s.base, nil, s.rec, IncomingRequest{
		Command: cmd,
		Target:  "/index",
		Version: version,
		Headers: semantic.HeadersFrom(headers),
	})
}

func (s *TransactionTestSuite) TestSendReply() {
	txn := s.incoming(CmdGet, http.Version1_1)
	txn.OutputHeaders().Set("Content-Type", "text/plain")
	txn.OutputBuffer().AddString("hello")

	s.Require().NoError(txn.SendReply(200, ""))
	s.True(s.rec.Done)
	s.True(txn.KeepAlive())
	s.Equal(uint(200), txn.ResponseCode())
	s.Equal("OK", txn.ResponseReason())

	res, body, err := s.rec.Response("GET")
	s.Require().NoError(err)
	s.Equal(uint(200), res.Status.Code)
	s.Equal(http.Version1_1, res.Version)
	s.Equal("hello", string(body))
	s.Equal("5", res.Headers.Find("Content-Length"))
	s.Equal("Thu, 01 Jan 1970 00:00:00 GMT", res.Headers.Find("Date"))
	s.False(res.Headers.Has("Connection"))

	s.ErrorIs(txn.SendReply(200, ""), ErrReplyState)
	s.ErrorIs(txn.ReplyStart(200, ""), ErrReplyState)
}

func (s *TransactionTestSuite) TestPersistence() {
	testcases := []struct {
		desc       string
		version    http.Version
		in         []http.Field
		out        []http.Field
		keepAlive  bool
		connection string
	}{
		{desc: "1.1 default", version: http.Version1_1, keepAlive: true},
		{
			desc: "1.1 close requested", version: http.Version1_1,
			in: []http.Field{{Name: "Connection", Value: "close"}}, connection: "close",
		},
		{
			desc: "1.1 close replied", version: http.Version1_1,
			out: []http.Field{{Name: "Connection", Value: "close"}}, connection: "close",
		},
		{desc: "1.0 default", version: http.Version1_0},
		{
			desc: "1.0 keep-alive requested", version: http.Version1_0,
			in:        []http.Field{{Name: "Connection", Value: "Keep-Alive"}},
			keepAlive: true, connection: "keep-alive",
		},
		{
			desc: "1.0 keep-alive replied", version: http.Version1_0,
			out:       []http.Field{{Name: "Connection", Value: "Keep-Alive"}},
			keepAlive: true, connection: "keep-alive",
		},
	}

	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			s.rec = &Recorder{}
			txn := s.incoming(CmdGet, tc.version, tc.in...)
			for _, f := range tc.out {
				txn.OutputHeaders().Add(f.Name, f.Value)
			}

			s.Require().NoError(txn.SendReply(204, ""))
			s.Equal(tc.keepAlive, txn.KeepAlive())

			res, _, err := s.rec.Response("GET")
			s.Require().NoError(err)
			s.Equal(tc.version, res.Version)
			s.Equal(tc.connection, res.Headers.Find("Connection"))
			s.False(res.Headers.Has("Content-Length"), "204 has no content length")
		})
	}
}

func (s *TransactionTestSuite) TestChunked() {
	txn := s.incoming(CmdGet, http.Version1_1)

	s.ErrorIs(txn.ReplyChunk([]byte("early")), ErrReplyState)

	s.Require().NoError(txn.ReplyStart(200, ""))
	s.Require().NoError(txn.ReplyChunk([]byte("ab")))
	s.Require().NoError(txn.ReplyChunk(nil))
	s.Require().NoError(txn.ReplyChunk([]byte("cd")))
	s.False(s.rec.Done)
	s.Require().NoError(txn.ReplyEnd())
	s.True(s.rec.Done)

	s.Len(s.rec.Frames, 4)
	s.Equal("2\r\nab\r\n", string(s.rec.Frames[1]))
	s.Equal("0\r\n\r\n", string(s.rec.Frames[3]))

	res, body, err := s.rec.Response("GET")
	s.Require().NoError(err)
	s.True(res.IsChunked())
	s.Equal("abcd", string(body))

	s.ErrorIs(txn.ReplyEnd(), ErrReplyState)
}

func (s *TransactionTestSuite) TestStreamedLegacy() {
	txn := s.incoming(CmdGet, http.Version1_0, http.Field{Name: "Connection", Value: "keep-alive"})

	s.Require().NoError(txn.ReplyStart(200, ""))
	s.Require().NoError(txn.ReplyChunk([]byte("raw")))
	s.Require().NoError(txn.ReplyEnd())

	s.False(txn.KeepAlive(), "body is delimited by closing")

	res, body, err := s.rec.Response("GET")
	s.Require().NoError(err)
	s.False(res.IsChunked())
	s.Equal("raw", string(body))
}

func (s *TransactionTestSuite) TestHead() {
	txn := s.incoming(CmdHead, http.Version1_1)
	txn.OutputBuffer().AddString("hello")

	s.Require().NoError(txn.SendReply(200, ""))

	res, body, err := s.rec.Response("HEAD")
	s.Require().NoError(err)
	s.Equal("5", res.Headers.Find("Content-Length"))
	s.Empty(body)
	s.NotContains(string(s.rec.Bytes()), "hello")
}

func (s *TransactionTestSuite) TestSendError() {
	txn := s.incoming(CmdGet, http.Version1_1)

	s.Require().NoError(txn.SendError(404, ""))

	res, body, err := s.rec.Response("GET")
	s.Require().NoError(err)
	s.Equal(uint(404), res.Status.Code)
	s.Equal("Not Found", res.Status.ReasonPhrase)
	s.Equal("text/html", res.Headers.Find("Content-Type"))
	s.Contains(string(body), "<TITLE>404 Not Found</TITLE>")
}

func (s *TransactionTestSuite) TestSendErrorKeepsBody() {
	txn := s.incoming(CmdGet, http.Version1_1)
	txn.OutputBuffer().AddString("custom")

	s.Require().NoError(txn.SendError(500, "Oops"))

	res, body, err := s.rec.Response("GET")
	s.Require().NoError(err)
	s.Equal("Oops", res.Status.ReasonPhrase)
	s.Equal("custom", string(body))
}

func (s *TransactionTestSuite) TestFreeOnce() {
	txn := s.incoming(CmdGet, http.Version1_1)

	freed := 0
	txn.SetOnFree(func(*Transaction) { freed++ })

	txn.Free()
	txn.Free()
	s.Equal(1, freed)
	s.True(txn.IsFreed())

	s.ErrorIs(txn.SendReply(200, ""), ErrTransactionFreed)
}

func (s *TransactionTestSuite) TestAutoFree() {
	s.rec.AutoFree = true
	txn := s.incoming(CmdGet, http.Version1_1)

	freed := 0
	txn.SetOnFree(func(*Transaction) { freed++ })

	s.Require().NoError(txn.SendReply(200, ""))
	s.Equal(1, freed)
}

func (s *TransactionTestSuite) TestCancel() {
	txn := s.incoming(CmdGet, http.Version1_1)

	freed := 0
	txn.SetOnFree(func(*Transaction) { freed++ })

	txn.Cancel()
	txn.Cancel()

	s.True(s.rec.Aborted)
	s.True(txn.IsCanceled())
	s.Equal(1, freed)
}

func (s *TransactionTestSuite) TestOutgoingCannotReply() {
	txn := NewTransaction(s.base, nil)

	s.False(txn.IsIncoming())
	s.ErrorIs(txn.SendReply(200, ""), ErrNotIncoming)
	s.ErrorIs(txn.ReplyStart(200, ""), ErrNotIncoming)
}

func (s *TransactionTestSuite) TestUniqueIDs() {
	a, b := NewTransaction(s.base, nil), NewTransaction(s.base, nil)
	s.NotEqual(a.ID(), b.ID())
}

func TestCommand(t *testing.T) {
	for _, name := range []string{"GET", "POST", "HEAD", "PUT", "DELETE", "OPTIONS", "PATCH"} {
		cmd, ok := ParseCommand(name)
		require.True(t, ok, name)
		assert.Equal(t, name, cmd.String())
	}

	_, ok := ParseCommand("BREW")
	assert.False(t, ok)
	_, ok = ParseCommand("get")
	assert.False(t, ok, "methods are case sensitive")
	assert.Equal(t, "Command(42)", Command(42).String())
}

func TestErrorCodeString(t *testing.T) {
	testcases := []struct {
		code ErrorCode
		want string
	}{
		{ErrorTimeout, "Timeout"},
		{ErrorEOF, "End of file"},
		{ErrorInvalidHeader, "Invalid header"},
		{ErrorBuffer, "Buffer error"},
		{ErrorRequestCanceled, "Request canceled"},
		{ErrorDataTooLong, "Data too long"},
		{ErrorUnknown, "Unknown"},
		{ErrorCode(200), "Unknown"},
	}

	for _, tc := range testcases {
		assert.Equal(t, tc.want, tc.code.String())
	}
}
