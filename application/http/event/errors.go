package event

import (
	"event-http/application/http/engine"

	"github.com/pkg/errors"
)

var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrConfig             = errors.New("configuration error")
	ErrConnection         = errors.New("connection error")
	ErrNotAvailable       = errors.New("not available")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyFinalized   = errors.New("request already finalized")
	ErrUnsupportedMethod  = errors.New("unsupported method")
	ErrUnsupportedFeature = errors.New("unsupported feature")
)

// ErrorString describes a transport error reported by the engine.
func ErrorString(code engine.ErrorCode) string { return code.String() }
