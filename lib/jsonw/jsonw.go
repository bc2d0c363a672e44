// Package jsonw streams JSON documents without building them in memory.
package jsonw

import (
	"io"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
)

var (
	ErrClosed       = errors.New("json writer is closed")
	ErrInvalidState = errors.New("invalid json writer state")
)

type frameKind uint8

const (
	frameList frameKind = iota + 1
	frameDict
)

type frame struct {
	kind       frameKind
	count      int
	keyPending bool
}

// Writer emits one JSON value to w. The first error sticks and is reported
// by every later call as well as by Close.
type Writer struct {
	w       io.Writer
	indent  int
	compact bool

	stack  []frame
	wrote  bool // a complete top-level value was written.
	closed bool
	err    error
}

// New creates a writer. indent is the starting indentation level, each level
// is two spaces wide. compact disables all optional whitespace.
func New(w io.Writer, indent int, compact bool) *Writer {
	return &Writer{w: w, indent: indent, compact: compact}
}

func (w *Writer) IsCompact() bool { return w.compact }
func (w *Writer) Err() error      { return w.err }
func (w *Writer) Depth() int      { return len(w.stack) }

func (w *Writer) BeginList() error {
	if err := w.beginValue(); err != nil {
		return err
	}
	w.write("[")
	w.stack = append(w.stack, frame{kind: frameList})
	return w.err
}

func (w *Writer) EndList() error { return w.end(frameList, "]") }

func (w *Writer) BeginDict() error {
	if err := w.beginValue(); err != nil {
		return err
	}
	w.write("{")
	w.stack = append(w.stack, frame{kind: frameDict})
	return w.err
}

func (w *Writer) EndDict() error { return w.end(frameDict, "}") }

// Key starts a dict member. The next value written becomes its value.
func (w *Writer) Key(key string) error {
	if err := w.check(); err != nil {
		return err
	}

	top := w.top()
	if top == nil || top.kind != frameDict || top.keyPending {
		return w.fail(errors.Wrapf(ErrInvalidState, "key %q outside of dict", key))
	}

	if top.count > 0 {
		w.write(",")
	}
	w.newline(len(w.stack))
	w.encode(key)
	if w.compact {
		w.write(":")
	} else {
		w.write(": ")
	}

	top.count++
	top.keyPending = true
	return w.err
}

// Value writes a single value encoded as JSON.
func (w *Writer) Value(v any) error {
	if err := w.beginValue(); err != nil {
		return err
	}
	w.encode(v)
	return w.err
}

// Append writes v as the next list element.
func (w *Writer) Append(v any) error {
	if top := w.top(); top == nil || top.kind != frameList {
		return w.fail(errors.Wrap(ErrInvalidState, "append outside of list"))
	}
	return w.Value(v)
}

// Insert writes a key and its value into the current dict.
func (w *Writer) Insert(key string, v any) error {
	if err := w.Key(key); err != nil {
		return err
	}
	return w.Value(v)
}

// Close ends every open container. Calling it again is a no-op.
func (w *Writer) Close() error {
	if w.closed {
		return w.err
	}

	for len(w.stack) > 0 && w.err == nil {
		top := w.top()
		if top.keyPending {
			w.Value(nil)
		}
		if top.kind == frameList {
			w.EndList()
		} else {
			w.EndDict()
		}
	}

	w.closed = true
	return w.err
}

func (w *Writer) check() error {
	if w.err != nil {
		return w.err
	}
	if w.closed {
		return ErrClosed
	}
	return nil
}

func (w *Writer) beginValue() error {
	if err := w.check(); err != nil {
		return err
	}

	top := w.top()
	switch {
	case top == nil:
		if w.wrote {
			return w.fail(errors.Wrap(ErrInvalidState, "more than one top-level value"))
		}
		w.wrote = true
	case top.kind == frameDict:
		if !top.keyPending {
			return w.fail(errors.Wrap(ErrInvalidState, "dict value without key"))
		}
		top.keyPending = false
	default:
		if top.count > 0 {
			w.write(",")
		}
		w.newline(len(w.stack))
		top.count++
	}

	return nil
}

func (w *Writer) end(kind frameKind, closer string) error {
	if err := w.check(); err != nil {
		return err
	}

	top := w.top()
	if top == nil || top.kind != kind || top.keyPending {
		return w.fail(errors.Wrapf(ErrInvalidState, "unbalanced %q", closer))
	}

	w.stack = w.stack[:len(w.stack)-1]
	if top.count > 0 {
		w.newline(len(w.stack))
	}
	w.write(closer)
	return w.err
}

func (w *Writer) top() *frame {
	if len(w.stack) == 0 {
		return nil
	}
	return &w.stack[len(w.stack)-1]
}

func (w *Writer) newline(level int) {
	if w.compact {
		return
	}
	w.write("\n" + strings.Repeat("  ", w.indent+level))
}

func (w *Writer) encode(v any) {
	if w.err != nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		w.fail(errors.Wrap(err, "encoding value"))
		return
	}
	w.writeBytes(b)
}

func (w *Writer) write(s string) {
	if w.err != nil {
		return
	}
	if _, err := io.WriteString(w.w, s); err != nil {
		w.fail(errors.Wrap(err, "writing json"))
	}
}

func (w *Writer) writeBytes(b []byte) {
	if w.err != nil {
		return
	}
	if _, err := w.w.Write(b); err != nil {
		w.fail(errors.Wrap(err, "writing json"))
	}
}

func (w *Writer) fail(err error) error {
	if w.err == nil {
		w.err = err
	}
	return w.err
}
