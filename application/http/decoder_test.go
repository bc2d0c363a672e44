package http

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

type MessageDecoderTestSuite struct {
	suite.Suite
}

func TestMessageDecoderTestSuite(t *testing.T) {
	suite.Run(t, new(MessageDecoderTestSuite))
}

func (s *MessageDecoderTestSuite) TestReadLine() {
	testcases := []struct {
		desc     string
		opts     DecodeOptions
		limit    uint
		input    string
		expected string
		wantErr  error
	}{
		{
			desc:     "simple line with CRLF",
			input:    "Hello\r\n",
			expected: "Hello",
		},
		{
			desc:    "line exceeding limit",
			input:   "Hey\r\n",
			limit:   1,
			wantErr: errLineTooLong,
		},
		{
			desc:    "Sole LF (fail)",
			input:   "Hello\n",
			wantErr: ErrMissingCRBeforeLF,
		},
		{
			desc:     "Sole LF (success)",
			opts:     DecodeOptions{AllowSoleLF: true},
			input:    "Hello\n",
			expected: "Hello",
		},
		{
			desc:     "bare CR inside line",
			input:    "Hello \r World!\r\n",
			expected: "Hello   World!",
		},
		{
			desc:     "lenient whitespace trimmed",
			opts:     DecodeOptions{LenientWhitespace: true},
			input:    " \t Hey \t \r\n",
			expected: "Hey",
		},
		{
			desc:    "header budget exhausted",
			opts:    DecodeOptions{MaxHeaderBytes: 4},
			input:   "Hello\r\n",
			wantErr: ErrHeaderTooLarge,
		},
	}
	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			d := MessageDecoder{
				br:   bufio.NewReader(strings.NewReader(tc.input)),
				opts: tc.opts,
			}

			b, err := d.readLine(tc.limit)
			if tc.wantErr != nil {
				s.ErrorIs(err, tc.wantErr)
				return
			}

			s.NoError(err)
			s.Equal(tc.expected, string(b))
		})
	}
}

func (s *MessageDecoderTestSuite) TestDecodeHeaders() {
	testcases := []struct {
		desc     string
		opts     DecodeOptions
		input    string
		expected []Field
		wantErr  error
	}{
		{
			desc: "simple headers",
			input: "" +
				"Content-Type: text/html\r\n" +
				"Content-Length: 123\r\n" +
				"\r\n",
			expected: []Field{
				{"Content-Type", "text/html"},
				{"Content-Length", "123"},
			},
		},
		{
			desc:    "field line exceeding limit",
			opts:    DecodeOptions{MaxFieldLineLength: 5},
			input:   "Content-Type: text/html\r\n\r\n",
			wantErr: ErrFieldLineTooLong,
		},
		{
			desc:    "malformed headers",
			input:   "Content-Type text/html\r\n",
			wantErr: ErrMalformedFieldLine,
		},
		{
			desc:    "unterminated headers",
			input:   "Content-Type: text/html\r\n",
			wantErr: io.ErrUnexpectedEOF,
		},
	}
	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			d := MessageDecoder{
				br:   bufio.NewReader(strings.NewReader(tc.input)),
				opts: tc.opts,
			}

			h := []Field{}
			err := d.decodeHeaders(&h)
			if tc.wantErr != nil {
				s.ErrorIs(err, tc.wantErr)
				return
			}

			s.NoError(err)
			s.Equal(tc.expected, h)
		})
	}
}

type RequestDecoderTestSuite struct {
	suite.Suite
}

func TestRequestDecoderTestSuite(t *testing.T) {
	suite.Run(t, new(RequestDecoderTestSuite))
}

func (s *RequestDecoderTestSuite) TestDecode() {
	input := "" +
		"\r\n" + // Leading empty line is ignored.
		"POST /submit?x=1 HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Content-Length: 5\r\n" +
		"\r\n" +
		"hello" +
		"GET / HTTP/1.1\r\n\r\n"

	d := NewRequestDecoder(strings.NewReader(input), DefaultDecodeOptions)

	var r Request
	s.Require().NoError(d.Decode(&r))
	s.Equal(RequestLine{Method: "POST", Target: "/submit?x=1", Version: Version1_1}, r.RequestLine)
	s.Equal([]Field{{"Host", "example.com"}, {"Content-Length", "5"}}, r.Headers)

	body := make([]byte, 5)
	_, err := io.ReadFull(r.Body, body)
	s.Require().NoError(err)
	s.Equal("hello", string(body))

	// The same decoder continues with the next message.
	var next Request
	s.Require().NoError(d.Decode(&next))
	s.Equal("GET", next.Method)
	s.Empty(next.Headers)
}

func (s *RequestDecoderTestSuite) TestDecodeErrors() {
	testcases := []struct {
		desc    string
		opts    DecodeOptions
		input   string
		wantErr error
	}{
		{desc: "too many parts", input: "GET / / HTTP/1.1\r\n\r\n", wantErr: ErrMalformedRequestLine},
		{desc: "invalid method", input: "G(T / HTTP/1.1\r\n\r\n", wantErr: ErrMalformedRequestLine},
		{desc: "bad version", input: "GET / HTTP/x\r\n\r\n", wantErr: ErrMalformedRequestLine},
		{
			desc:    "request line too long",
			opts:    DecodeOptions{MaxRequestLineLength: 10},
			input:   "GET /very/long/target HTTP/1.1\r\n\r\n",
			wantErr: ErrRequestLineTooLong,
		},
		{
			desc:    "header too large",
			opts:    DecodeOptions{MaxHeaderBytes: 40},
			input:   "GET / HTTP/1.1\r\n" + "X-Filler: " + strings.Repeat("a", 40) + "\r\n\r\n",
			wantErr: ErrHeaderTooLarge,
		},
	}

	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			d := NewRequestDecoder(strings.NewReader(tc.input), tc.opts)
			var r Request
			s.ErrorIs(d.Decode(&r), tc.wantErr)
		})
	}
}

type ResponseDecoderTestSuite struct {
	suite.Suite
}

func TestResponseDecoderTestSuite(t *testing.T) {
	suite.Run(t, new(ResponseDecoderTestSuite))
}

func (s *ResponseDecoderTestSuite) TestDecode() {
	testcases := []struct {
		desc     string
		input    string
		expected StatusLine
		wantErr  error
	}{
		{
			desc:     "with reason",
			input:    "HTTP/1.1 404 Not Found\r\n\r\n",
			expected: StatusLine{Version: Version1_1, StatusCode: 404, ReasonPhrase: "Not Found"},
		},
		{
			desc:     "without reason",
			input:    "HTTP/1.0 204\r\n\r\n",
			expected: StatusLine{Version: Version1_0, StatusCode: 204},
		},
		{desc: "short status code", input: "HTTP/1.1 20 OK\r\n\r\n", wantErr: ErrMalformedStatusLine},
		{desc: "missing code", input: "HTTP/1.1\r\n\r\n", wantErr: ErrMalformedStatusLine},
	}

	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			d := NewResponseDecoder(strings.NewReader(tc.input), DefaultDecodeOptions)
			var r Response
			err := d.Decode(&r)
			if tc.wantErr != nil {
				s.ErrorIs(err, tc.wantErr)
				return
			}
			s.Require().NoError(err)
			s.Equal(tc.expected, r.StatusLine)
		})
	}
}
