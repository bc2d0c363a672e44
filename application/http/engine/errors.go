package engine

import (
	"context"
	"io"

	"event-http/application/http"
	"event-http/application/http/semantic"
	"event-http/transport"

	"github.com/pkg/errors"
)

// ErrorCode is a transport failure reported to a transaction.
type ErrorCode uint8

const (
	ErrorTimeout ErrorCode = iota
	ErrorEOF
	ErrorInvalidHeader
	ErrorBuffer
	ErrorRequestCanceled
	ErrorDataTooLong
	ErrorUnknown
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorTimeout:
		return "Timeout"
	case ErrorEOF:
		return "End of file"
	case ErrorInvalidHeader:
		return "Invalid header"
	case ErrorBuffer:
		return "Buffer error"
	case ErrorRequestCanceled:
		return "Request canceled"
	case ErrorDataTooLong:
		return "Data too long"
	}
	return "Unknown"
}

var (
	ErrLinkClosed         = errors.New("link is closed")
	ErrAlreadySubmitted   = errors.New("transaction is already submitted")
	ErrNotIncoming        = errors.New("transaction is not incoming")
	ErrReplyState         = errors.New("reply is not allowed in this state")
	ErrTransactionFreed   = errors.New("transaction is freed")
	ErrUnsupportedCommand = errors.New("unsupported command")
)

// codeOf classifies an exchange failure.
func codeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ErrorUnknown
	case errors.Is(err, context.Canceled):
		return ErrorRequestCanceled
	case errors.Is(err, transport.ErrDeadLineExceeded), errors.Is(err, context.DeadlineExceeded):
		return ErrorTimeout
	case errors.Is(err, semantic.ErrBodyTooLarge), errors.Is(err, http.ErrHeaderTooLarge):
		return ErrorDataTooLong
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, transport.ErrConnClosed),
		errors.Is(err, transport.ErrConnRefused),
		errors.Is(err, transport.ErrNetUnreachable):
		return ErrorEOF
	case errors.Is(err, errHead):
		return ErrorInvalidHeader
	case errors.Is(err, errBody):
		return ErrorBuffer
	}
	return ErrorUnknown
}

// Markers wrapped around decode failures so that codeOf can tell them apart.
var (
	errHead = errors.New("invalid message head")
	errBody = errors.New("reading message body")
)

// markErr wraps err so that both marker and err match errors.Is.
func markErr(marker, err error) error {
	return &markedError{marker: marker, err: err}
}

type markedError struct {
	marker, err error
}

func (e *markedError) Error() string { return e.marker.Error() + ": " + e.err.Error() }
func (e *markedError) Unwrap() []error {
	return []error{e.err, e.marker}
}
