package semantic

import (
	"bytes"
	"mime"
	"strings"

	"event-http/application/http"
	"event-http/application/util/rule"
)

// Headers is an ordered multi-map of header fields.
// Lookups ignore case; valid token names are stored in canonical form.
type Headers struct{ fields []http.Field }

func NewHeaders() *Headers { return &Headers{} }

// HeadersFrom creates semantic header from raw fields, keeping their order.
func HeadersFrom(fields []http.Field) *Headers {
	h := &Headers{fields: make([]http.Field, 0, len(fields))}
	for _, f := range fields {
		h.Add(f.Name, f.Value)
	}
	return h
}

func (h *Headers) Len() int { return len(h.fields) }

func (h *Headers) Has(key string) bool { return h.index(key) >= 0 }

// Find returns the first value of key, or an empty string.
func (h *Headers) Find(key string) string {
	v, _ := h.Get(key)
	return v
}

// Get assumes the field is a singleton field.
// Even if key has multiple lines, it will only return the first one.
// For list-based field, use [Headers.Values] or [Headers.Tokens].
func (h *Headers) Get(key string) (value string, ok bool) {
	idx := h.index(key)
	if idx < 0 {
		return "", false
	}
	return h.fields[idx].Value, true
}

// Values returns the value of every line named key.
func (h *Headers) Values(key string) []string {
	var values []string
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, key) {
			values = append(values, f.Value)
		}
	}
	return values
}

// Tokens splits every line named key into list elements.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-5.6.1
func (h *Headers) Tokens(key string) []string {
	tokens := make([]string, 0)
	for _, v := range h.Values(key) {
		tokens = append(tokens, tokenizeFieldValues(v)...)
	}
	return tokens
}

func (h *Headers) Add(key, value string) {
	h.fields = append(h.fields, http.Field{Name: canonical(key), Value: value})
}

// Set assumes the field is a singleton field.
// The first line keeps its position and the rest are dropped.
func (h *Headers) Set(key, value string) {
	idx := h.index(key)
	if idx < 0 {
		h.Add(key, value)
		return
	}

	h.fields[idx].Value = value
	h.fields = append(h.fields[:idx+1], h.removeFrom(idx+1, key)...)
}

// Remove drops every line named key and reports whether any existed.
func (h *Headers) Remove(key string) bool {
	n := len(h.fields)
	h.fields = h.removeFrom(0, key)
	return len(h.fields) != n
}

func (h *Headers) removeFrom(start int, key string) []http.Field {
	kept := h.fields[start:start]
	for _, f := range h.fields[start:] {
		if !strings.EqualFold(f.Name, key) {
			kept = append(kept, f)
		}
	}
	return kept
}

func (h *Headers) Reset() { h.fields = h.fields[:0] }

// Fields returns a copy of the lines in order.
func (h *Headers) Fields() []http.Field {
	clone := make([]http.Field, len(h.fields))
	copy(clone, h.fields)
	return clone
}

func (h *Headers) Clone() *Headers { return &Headers{fields: h.Fields()} }

func (h *Headers) String() string {
	var sb strings.Builder
	for _, f := range h.fields {
		sb.WriteString(f.Name)
		sb.WriteString(": ")
		sb.WriteString(f.Value)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (h *Headers) index(key string) int {
	for idx, f := range h.fields {
		if strings.EqualFold(f.Name, key) {
			return idx
		}
	}
	return -1
}

func (h *Headers) HasContentType() bool { return h.Has("Content-Type") }

func (h *Headers) ContentType() string { return h.Find("Content-Type") }

func (h *Headers) SetContentType(contentType string) { h.Set("Content-Type", contentType) }

// IsContentType compares the media type of Content-Type with mediaType, ignoring parameters.
func (h *Headers) IsContentType(mediaType string) bool {
	v, ok := h.Get("Content-Type")
	if !ok {
		return false
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		mt, _, _ = strings.Cut(v, ";")
		mt = rule.TrimOWS(mt)
	}
	return strings.EqualFold(mt, mediaType)
}

// GuessContentType sets Content-Type from a file extension.
// Unknown extensions leave the headers untouched.
func (h *Headers) GuessContentType(ext string) {
	if ct := GuessContentType(ext); ct != "" {
		h.SetContentType(ct)
	}
}

var contentTypes = map[string]string{
	"css":  "text/css",
	"csv":  "text/csv",
	"gif":  "image/gif",
	"htm":  "text/html",
	"html": "text/html",
	"ico":  "image/x-icon",
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"js":   "application/javascript",
	"json": "application/json",
	"pdf":  "application/pdf",
	"png":  "image/png",
	"svg":  "image/svg+xml",
	"txt":  "text/plain",
	"wasm": "application/wasm",
	"webp": "image/webp",
	"xml":  "application/xml",
	"zip":  "application/zip",
}

// GuessContentType maps an extension (without dot) to a media type.
// Common web types are fixed; anything else falls back to the system table.
func GuessContentType(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		return ""
	}
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return mime.TypeByExtension("." + ext)
}

func canonical(s string) string {
	if rule.IsValidToken(s) {
		s = toCanonicalFieldName(s)
	}
	return s
}

// This only works for valid token.
func toCanonicalFieldName(s string) string {
	const capitalDiff = 'a' - 'A'
	b := []byte(s)
	upper := true
	for i, c := range b {
		if upper && 'a' <= c && c <= 'z' {
			c -= capitalDiff
		} else if !upper && 'A' <= c && c <= 'Z' {
			c += capitalDiff
		}
		b[i] = c
		upper = c == '-'
	}
	return string(b)
}

func tokenizeFieldValues(fieldValue string) []string {
	tokens := make([]string, 0)
	buf := bytes.NewBuffer(nil)

	// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-5.6.4-1
	quoted := false

	for _, part := range strings.Split(fieldValue, ",") {
		if quoted {
			// Comma inside quote, let's write it again.
			buf.WriteByte(',')
		}

		for idx := 0; idx < len(part); idx++ {
			c := part[idx]
			if c == '"' {
				quoted = !quoted
			}

			buf.WriteByte(c)
		}

		if !quoted {
			tokens = addToken(tokens, buf.Bytes())
			buf.Reset()
		}
	}

	if buf.Len() > 0 {
		// Quote didn't end properly.
		// At least write the raw token.
		tokens = addToken(tokens, buf.Bytes())
	}

	return tokens
}

func addToken(tokens []string, token []byte) []string {
	token = bytes.TrimFunc(token, rule.IsWhitespace)
	token = rule.Unquote(token)
	if len(token) == 0 {
		// Don't append if it's empty.
		return tokens
	}
	return append(tokens, string(token))
}
