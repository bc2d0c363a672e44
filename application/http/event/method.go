package event

import (
	"event-http/application/http/engine"

	"github.com/pkg/errors"
)

type Method uint8

const (
	MethodUnknown Method = iota
	MethodGet
	MethodPost
	MethodHead
	MethodPut
	MethodDelete
	MethodOptions
	MethodTrace
	MethodConnect
	MethodPatch
)

var methodNames = [...]string{
	MethodUnknown: "UNKNOWN",
	MethodGet:     "GET",
	MethodPost:    "POST",
	MethodHead:    "HEAD",
	MethodPut:     "PUT",
	MethodDelete:  "DELETE",
	MethodOptions: "OPTIONS",
	MethodTrace:   "TRACE",
	MethodConnect: "CONNECT",
	MethodPatch:   "PATCH",
}

func (m Method) String() string { return MethodString(m) }

func MethodString(m Method) string {
	if int(m) < len(methodNames) {
		return methodNames[m]
	}
	return methodNames[MethodUnknown]
}

// ParseMethod returns MethodUnknown for anything it does not know.
func ParseMethod(s string) Method {
	for m, name := range methodNames {
		if Method(m) != MethodUnknown && name == s {
			return Method(m)
		}
	}
	return MethodUnknown
}

var commandMethods = map[engine.Command]Method{
	engine.CmdGet:     MethodGet,
	engine.CmdPost:    MethodPost,
	engine.CmdHead:    MethodHead,
	engine.CmdPut:     MethodPut,
	engine.CmdDelete:  MethodDelete,
	engine.CmdOptions: MethodOptions,
	engine.CmdPatch:   MethodPatch,
}

func MethodFromCommand(cmd engine.Command) Method {
	if m, ok := commandMethods[cmd]; ok {
		return m
	}
	return MethodUnknown
}

// command maps m onto what the engine can send.
func (m Method) command() (engine.Command, error) {
	for cmd, method := range commandMethods {
		if method == m {
			return cmd, nil
		}
	}
	return 0, errors.Wrap(ErrUnsupportedMethod, m.String())
}
