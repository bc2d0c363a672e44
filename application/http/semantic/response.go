package semantic

import (
	"time"

	"event-http/application/http"
	"event-http/application/http/semantic/status"

	"github.com/pkg/errors"
)

type Response struct {
	Message
	raw *http.Response

	Status status.Status
	Date   time.Time
}

type ParseResponseOptions struct {
	ParseMessageOptions

	// RequestMethod is the method of the request being answered.
	RequestMethod Method
}

func ResponseFrom(raw *http.Response, opts ParseResponseOptions) (*Response, error) {
	response := Response{
		raw:    raw,
		Status: status.Status{Code: raw.StatusCode, ReasonPhrase: raw.ReasonPhrase},
	}

	body, noBody := raw.Body, !hasResponseBody(opts.RequestMethod, raw.StatusCode)
	if noBody {
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3-2.1
		body = eofReader{}
		opts.ReadUntilClose = false
	}

	var err error
	response.Message, err = createMessage(raw.Version, raw.Headers, body, opts.ParseMessageOptions)
	if err != nil {
		return nil, err
	}
	if noBody {
		response.Body = eofReader{}
	}

	response.Date, err = extractDate(response.Headers)
	if err != nil {
		return nil, errors.Wrap(err, "extracting date")
	}

	return &response, nil
}

func hasResponseBody(method Method, code uint) bool {
	if method == MethodHead {
		return false
	}
	return !(code/100 == 1 || code == 204 || code == 304)
}

func (r *Response) EnsureHeadersSet() {
	r.Message.EnsureHeadersSet()

	if !r.Date.IsZero() {
		r.Headers.Set("Date", FormatDate(r.Date))
	}
}

func (r *Response) RawResponse() http.Response {
	if r.raw != nil {
		return *r.raw
	}

	return http.Response{
		StatusLine: http.StatusLine{
			Version:      r.Version,
			StatusCode:   r.Status.Code,
			ReasonPhrase: r.Status.ReasonPhrase,
		},
		Headers: r.Headers.Fields(),
		Body:    r.Body,
	}
}

func extractDate(h *Headers) (time.Time, error) {
	v, ok := h.Get("Date")
	if !ok {
		return time.Time{}, nil
	}

	return ParseDate(v)
}
