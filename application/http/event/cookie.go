package event

import (
	"strconv"
	"strings"
	"time"

	"event-http/application/http/semantic"

	"github.com/pkg/errors"
)

// Cookie is what a Set-Cookie header carries.
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string

	// Expires is left out when zero.
	Expires time.Time
	// MaxAge is left out when zero. Negative values expire the cookie now.
	MaxAge time.Duration

	HTTPOnly bool
	Secure   bool
}

// cookie-octet = %x21 / %x23-2B / %x2D-3A / %x3C-5B / %x5D-7E
func isCookieOctet(b byte) bool {
	return b == 0x21 || (b >= 0x23 && b <= 0x2B) || (b >= 0x2D && b <= 0x3A) ||
		(b >= 0x3C && b <= 0x5B) || (b >= 0x5D && b <= 0x7E)
}

func (c *Cookie) validate() error {
	if c.Name == "" {
		return errors.Wrap(ErrInvalidArgument, "cookie name is empty")
	}
	for i := 0; i < len(c.Name); i++ {
		if b := c.Name[i]; !isCookieOctet(b) || b == '=' {
			return errors.Wrapf(ErrInvalidArgument, "cookie name %q", c.Name)
		}
	}
	for i := 0; i < len(c.Value); i++ {
		if !isCookieOctet(c.Value[i]) {
			return errors.Wrapf(ErrInvalidArgument, "cookie value %q", c.Value)
		}
	}
	for _, attr := range []string{c.Domain, c.Path} {
		if strings.ContainsAny(attr, ";\r\n") {
			return errors.Wrapf(ErrInvalidArgument, "cookie attribute %q", attr)
		}
	}
	return nil
}

// String renders the Set-Cookie value.
func (c *Cookie) String() string {
	var b strings.Builder

	b.WriteString(c.Name)
	b.WriteByte('=')
	b.WriteString(c.Value)

	if c.Domain != "" {
		b.WriteString("; Domain=")
		b.WriteString(c.Domain)
	}
	if c.Path != "" {
		b.WriteString("; Path=")
		b.WriteString(c.Path)
	}
	if !c.Expires.IsZero() {
		b.WriteString("; Expires=")
		b.WriteString(semantic.FormatDate(c.Expires))
	}
	switch {
	case c.MaxAge > 0:
		b.WriteString("; Max-Age=")
		b.WriteString(strconv.FormatInt(int64(c.MaxAge/time.Second), 10))
	case c.MaxAge < 0:
		b.WriteString("; Max-Age=0")
	}
	if c.HTTPOnly {
		b.WriteString("; HttpOnly")
	}
	if c.Secure {
		b.WriteString("; Secure")
	}

	return b.String()
}

func isCookieSep(r rune) bool {
	return r == ';' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// findCookie looks name up in a Cookie header value. Only the first match
// counts.
func findCookie(header, name string) (value string, ok bool) {
	for _, token := range strings.FieldsFunc(header, isCookieSep) {
		k, v, _ := strings.Cut(token, "=")
		if k == name {
			return v, true
		}
	}
	return "", false
}
