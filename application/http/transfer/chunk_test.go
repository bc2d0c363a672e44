package transfer

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"event-http/application/http"
	iolib "event-http/lib/io"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type ChunkedReaderTestSuite struct {
	suite.Suite
}

func TestChunkedReaderTestSuite(t *testing.T) {
	suite.Run(t, new(ChunkedReaderTestSuite))
}

func newReader(s string) *ChunkedReader {
	return NewChunkedReader(bufio.NewReader(strings.NewReader(s)))
}

func (s *ChunkedReaderTestSuite) TestRead() {
	input := "" +
		"5;ext=foo\r\n" +
		"ABCDE\r\n" +
		"a\r\n" +
		"FGHIJKLNMO\r\n" +
		"0\r\n" + // last chunk
		"Hello: World\r\n" + // trailer
		"\r\n" // empty trailer (last trailer)

	var trailers []http.Field
	cr := newReader(input)
	cr.SetOnTrailerReceived(func(f []http.Field) { trailers = f })

	buf := make([]byte, 2)
	// First read reads only AB
	n, err := cr.Read(buf)
	s.Require().NoError(err)
	s.Equal(len(buf), n)
	s.Equal([]byte("AB"), buf)

	buf = make([]byte, 10)
	// Second read reads the rest of the first chunk.
	n, err = cr.Read(buf)
	s.Require().NoError(err)
	s.Equal(3, n)
	s.Equal([]byte("CDE"), buf[:n])

	// Third read reads all the data in second chunk.
	n, err = cr.Read(buf)
	s.Require().NoError(err)
	s.Equal(len(buf), n)
	s.Equal([]byte("FGHIJKLNMO"), buf)

	// Fourth read reads last chunk.
	n, err = cr.Read(buf)
	s.Require().ErrorIs(err, io.EOF)
	s.Equal(0, n)

	s.Equal([]http.Field{{Name: "Hello", Value: "World"}}, trailers)

	// Stays at EOF.
	_, err = cr.Read(buf)
	s.ErrorIs(err, io.EOF)
}

func (s *ChunkedReaderTestSuite) TestDoesNotOverRead() {
	br := bufio.NewReader(strings.NewReader("3\r\nabc\r\n0\r\n\r\nNEXT"))

	b, err := io.ReadAll(NewChunkedReader(br))
	s.Require().NoError(err)
	s.Equal("abc", string(b))

	rest, err := io.ReadAll(br)
	s.Require().NoError(err)
	s.Equal("NEXT", string(rest))
}

func (s *ChunkedReaderTestSuite) TestTruncated() {
	_, err := io.ReadAll(newReader("5\r\nAB"))
	s.ErrorIs(err, io.ErrUnexpectedEOF)
}

func (s *ChunkedReaderTestSuite) TestBadDelimiter() {
	_, err := io.ReadAll(newReader("2\r\nABxx0\r\n\r\n"))
	s.Error(err)
}

func (s *ChunkedReaderTestSuite) TestDecodeChunk() {
	testcases := []struct {
		desc     string
		input    string
		expected Chunk
		wantErr  bool
	}{
		{
			desc:     "example chunk",
			input:    "5;ext=foo\r\nABCDE\r\n",
			expected: Chunk{Size: 5, Extensions: [][2]string{{"ext", "foo"}}},
		},
		{
			desc:     "BWS inside chunk",
			input:    "5 ; ext = foo\r\nABCDE\r\n",
			expected: Chunk{Size: 5, Extensions: [][2]string{{"ext", "foo"}}},
		},
		{
			desc:     "quoted extension",
			input:    "5;ext=\"a b\"\r\nABCDE\r\n",
			expected: Chunk{Size: 5, Extensions: [][2]string{{"ext", "a b"}}},
		},
		{
			desc:    "malformed chunk (empty)",
			input:   "\r\n",
			wantErr: true,
		},
	}

	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			cr := newReader(tc.input)

			err := cr.decodeChunk()
			if tc.wantErr {
				s.Error(err)
				return
			}

			s.NoError(err)
			s.Equal(tc.expected, *cr.LastChunk())

			data, err := io.ReadAll(cr.br)
			s.NoError(err)
			s.Len(data, int(cr.chunk.Size)+2) // ignore crlf
		})
	}
}

func TestDecodeChunkSize(t *testing.T) {
	testcases := []struct {
		desc     string
		input    []byte
		expected uint
		wantErr  bool
	}{
		{desc: "normal hex", input: []byte("FF"), expected: 0xFF},
		{desc: "lowercase hex", input: []byte("1a"), expected: 0x1A},
		{desc: "invalid hex", input: []byte("haha this aint hex"), wantErr: true},
		{desc: "negative", input: []byte("-1"), wantErr: true},
		{desc: "hex too long", input: []byte("FFFFFFFFFFFFFFFFFF"), wantErr: true}, // 9 bytes
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			size, err := decodeChunkSize(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tc.expected, size)
		})
	}
}

func (s *ChunkedReaderTestSuite) TestDecodeTrailers() {
	expected := []http.Field{
		{Name: "Hello", Value: "World"},
		{Name: "Foo", Value: "Bar"},
	}

	var store []http.Field
	cr := newReader("Hello: World\r\nFoo: Bar\r\n\r\n")
	cr.SetOnTrailerReceived(func(f []http.Field) { store = f })

	s.NoError(cr.decodeTrailers())
	s.Equal(expected, store)
}

type ChunkedWriterTestSuite struct {
	suite.Suite
}

func TestChunkedWriterTestSuite(t *testing.T) {
	suite.Run(t, new(ChunkedWriterTestSuite))
}

func (s *ChunkedWriterTestSuite) TestWrite() {
	buf := bytes.NewBuffer(nil)
	cw := NewChunkedWriter(buf)

	cw.SetExtensions([][2]string{{"foo", "bar"}})
	n, err := cw.Write([]byte("123456789ABCDEF"))
	s.Require().NoError(err)
	s.Equal(15, n)

	// Empty writes are not chunks.
	n, err = cw.Write(nil)
	s.Require().NoError(err)
	s.Zero(n)

	s.Equal("f;foo=bar\r\n123456789ABCDEF\r\n", buf.String())
}

func (s *ChunkedWriterTestSuite) TestClose() {
	buf := bytes.NewBuffer(nil)
	cw := NewChunkedWriter(buf)
	cw.SetExtensions([][2]string{{"foo", "bar"}})
	cw.SetSendTrailers(func() []http.Field { return []http.Field{{Name: "foo", Value: "bar"}} })

	s.Require().NoError(cw.Close())
	s.Equal("0;foo=bar\r\nfoo: bar\r\n\r\n", buf.String())
}

func (s *ChunkedWriterTestSuite) TestEncodeTrailersNil() {
	buf := bytes.NewBuffer(nil)
	cw := NewChunkedWriter(buf)

	s.Require().NoError(cw.encodeTrailers())
	s.Equal("\r\n", buf.String())
}

func (s *ChunkedWriterTestSuite) TestRoundTrip() {
	var wire bytes.Buffer
	cp := NewCodingPipeliner(nil)

	w, err := cp.Encode(iolib.NopWriteCloser(&wire), []Coding{CodingChunked}, func() []http.Field {
		return []http.Field{{Name: "Checksum", Value: "abc"}}
	})
	s.Require().NoError(err)
	for _, part := range []string{"hello", " ", "world"} {
		_, err := w.Write([]byte(part))
		s.Require().NoError(err)
	}
	s.Require().NoError(w.Close())

	var trailers []http.Field
	r, err := cp.Decode(&wire, []Coding{CodingChunked}, func(f []http.Field) { trailers = f })
	s.Require().NoError(err)

	body, err := io.ReadAll(r)
	s.Require().NoError(err)
	s.Equal("hello world", string(body))
	s.Equal([]http.Field{{Name: "Checksum", Value: "abc"}}, trailers)
}

func TestUnsupportedCoding(t *testing.T) {
	_, err := NewCodingPipeliner(nil).Decode(strings.NewReader(""), []Coding{"gzip"}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedCoding)
}

func TestLines(t *testing.T) {
	line, err := readLine(bufio.NewReader(strings.NewReader("hello\r\n")))
	assert.NoError(t, err)
	assert.Equal(t, []byte("hello"), line)

	buf := bytes.NewBuffer(nil)
	assert.NoError(t, writeLine(buf, []byte("hello")))
	assert.Equal(t, "hello\r\n", buf.String())
}
