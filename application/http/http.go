package http

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"event-http/application/util/rule"

	"github.com/pkg/errors"
	"golang.org/x/net/http/httpguts"
)

type RequestLine struct {
	Method  string
	Target  string
	Version Version
}

// Request is a request as it appears on the wire.
type Request struct {
	RequestLine
	Headers []Field

	Body io.Reader
}

type StatusLine struct {
	Version      Version
	StatusCode   uint
	ReasonPhrase string
}

// Response is a response as it appears on the wire.
type Response struct {
	StatusLine
	Headers []Field

	Body io.Reader
}

// [Major, Minor]
type Version [2]uint

var (
	Version1_0 = Version{1, 0}
	Version1_1 = Version{1, 1}
)

// ParseVersion parses http version text(e.g. "HTTP/1.1") into [Version].
func ParseVersion(b []byte) (Version, error) {
	prefix := []byte("HTTP/")
	if !bytes.HasPrefix(b, prefix) {
		return Version{}, errors.Errorf("http version prefix not found: %s", b)
	}

	// Get major and minor version.
	first, second, found := bytes.Cut(b[len(prefix):], []byte{'.'})
	if !found {
		return Version{}, errors.Errorf("dot seperator not found on version: %s", b)
	}

	major, err1 := strconv.ParseUint(string(first), 10, 64)
	minor, err2 := strconv.ParseUint(string(second), 10, 64)
	if err1 != nil || err2 != nil {
		return Version{}, errors.Errorf("http version is not convertable to int: %s", b)
	}

	return Version{uint(major), uint(minor)}, nil
}

// Less reports whether ver is older than other.
func (ver Version) Less(other Version) bool {
	if ver[0] != other[0] {
		return ver[0] < other[0]
	}
	return ver[1] < other[1]
}

func (ver Version) Text() []byte {
	b := make([]byte, 0, 8)
	b = append(b, "HTTP/"...)
	b = strconv.AppendUint(b, uint64(ver[0]), 10)
	b = append(b, '.')
	b = strconv.AppendUint(b, uint64(ver[1]), 10)
	return b
}

func (ver Version) String() string { return string(ver.Text()) }

type Field struct{ Name, Value string }

func ParseField(fieldLine []byte) (Field, error) {
	name, value, found := bytes.Cut(fieldLine, []byte{':'})
	if !found {
		return Field{}, errors.Errorf("colon seperator not found on header: %q", string(fieldLine))
	}

	// No whitespace is allowed between field name and colon.
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-5.1-2
	if !httpguts.ValidHeaderFieldName(string(name)) {
		return Field{}, errors.Errorf("field name is not a token: %q", string(name))
	}

	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-5.1-3
	v := rule.TrimOWS(string(value))
	if !httpguts.ValidHeaderFieldValue(v) {
		return Field{}, errors.Errorf("field value of %q is malformed", string(name))
	}

	return Field{Name: string(name), Value: v}, nil
}

func (f Field) Text() []byte {
	b := make([]byte, 0, len(f.Name)+len(f.Value)+2)
	b = append(b, f.Name...)
	b = append(b, ": "...)
	b = append(b, f.Value...)
	return b
}

func (f Field) String() string { return string(f.Text()) }

// HasToken reports whether the comma separated field value contains token, ignoring case.
func HasToken(value, token string) bool {
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(rule.TrimOWS(part), token) {
			return true
		}
	}
	return false
}
