package semantic

import (
	"io"
	"strings"
	"testing"

	"event-http/application/http"
	"event-http/application/http/transfer"
	iolib "event-http/lib/io"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMessage(t *testing.T) {
	ver := http.Version1_1

	t.Run("transfer encoding", func(t *testing.T) {
		h := []http.Field{
			{Name: "Transfer-Encoding", Value: "Chunked"},
			{Name: "Content-Length", Value: "100"},
		}
		msg, err := createMessage(ver, h, strings.NewReader("0\r\n\r\n"), ParseMessageOptions{})
		require.NoError(t, err)

		assert.Equal(t, HeadersFrom(h), msg.Headers)
		assert.Nil(t, msg.ContentLength)
		assert.Equal(t, []transfer.Coding{"chunked"}, msg.TransferEncoding)

		b, err := io.ReadAll(msg.Body)
		assert.NoError(t, err)
		assert.Empty(t, b)
	})

	t.Run("content length", func(t *testing.T) {
		body := strings.NewReader("Hello")
		h := []http.Field{
			{Name: "Content-Length", Value: "5"},
		}
		msg, err := createMessage(ver, h, body, ParseMessageOptions{})
		require.NoError(t, err)

		assert.Empty(t, msg.TransferEncoding)

		require.NotNil(t, msg.ContentLength)
		assert.Equal(t, uint(5), *msg.ContentLength)

		assert.IsType(t, &iolib.LimitedReader{}, msg.Body)
		b, err := io.ReadAll(msg.Body)
		assert.NoError(t, err)
		assert.Equal(t, []byte("Hello"), b)
	})

	t.Run("no framing", func(t *testing.T) {
		msg, err := createMessage(ver, nil, strings.NewReader("ignored"), ParseMessageOptions{})
		require.NoError(t, err)

		b, err := io.ReadAll(msg.Body)
		assert.NoError(t, err)
		assert.Empty(t, b)
	})

	t.Run("chunked over limit", func(t *testing.T) {
		h := []http.Field{{Name: "Transfer-Encoding", Value: "chunked"}}
		msg, err := createMessage(ver, h, strings.NewReader("6\r\nabcdef\r\n0\r\n\r\n"), ParseMessageOptions{MaxBodySize: 5})
		require.NoError(t, err)

		_, err = io.ReadAll(msg.Body)
		assert.ErrorIs(t, err, ErrBodyTooLarge)
	})

	t.Run("unsupported coding", func(t *testing.T) {
		h := []http.Field{{Name: "Transfer-Encoding", Value: "gzip"}}
		_, err := createMessage(ver, h, nil, ParseMessageOptions{})
		assert.ErrorIs(t, err, transfer.ErrUnsupportedCoding)
	})

	t.Run("required fields", func(t *testing.T) {
		_, err := createMessage(ver, nil, nil, ParseMessageOptions{RequiredFields: []string{"Host"}})
		assert.Error(t, err)
	})
}

func TestExtractContentLength(t *testing.T) {
	testcases := []struct {
		desc     string
		value    string
		expected *uint
		wantErr  bool
	}{
		{desc: "missing", expected: nil},
		{desc: "valid", value: "12", expected: func() *uint { v := uint(12); return &v }()},
		{desc: "negative", value: "-1", wantErr: true},
		{desc: "not a number", value: "abc", wantErr: true},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			h := NewHeaders()
			if tc.value != "" {
				h.Set("Content-Length", tc.value)
			}

			l, err := extractContentLength(h)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, l)
		})
	}
}

func TestEnsureHeadersSet(t *testing.T) {
	length := uint(3)
	msg := Message{
		Headers:          HeadersFrom([]http.Field{{Name: "Transfer-Encoding", Value: "gzip"}}),
		ContentLength:    &length,
		TransferEncoding: []transfer.Coding{transfer.CodingChunked},
	}
	msg.EnsureHeadersSet()

	assert.Equal(t, "3", msg.Headers.Find("Content-Length"))
	assert.Equal(t, []string{"chunked"}, msg.Headers.Values("Transfer-Encoding"))
}
