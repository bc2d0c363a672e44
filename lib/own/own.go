// Package own implements handles that may own or merely borrow a resource.
//
// An owned handle destroys its value when it is closed. A borrowed handle
// only forgets it, leaving destruction to whoever lent it.
package own

type Handle[T any] struct {
	v       T
	set     bool
	owned   bool
	destroy func(T)
}

// New creates a handle. destroy is only ever called on owned handles.
func New[T any](v T, owned bool, destroy func(T)) Handle[T] {
	return Handle[T]{v: v, set: true, owned: owned, destroy: destroy}
}

func Owned[T any](v T, destroy func(T)) Handle[T] { return New(v, true, destroy) }
func Borrowed[T any](v T) Handle[T]               { return New(v, false, nil) }

func (h *Handle[T]) IsSet() bool   { return h.set }
func (h *Handle[T]) IsOwned() bool { return h.set && h.owned }

// Get returns the held value, or the zero value once the handle is released.
func (h *Handle[T]) Get() T { return h.v }

// Release forgets the value without destroying it and returns it.
func (h *Handle[T]) Release() T {
	v := h.v
	var zero T
	h.v, h.set, h.owned = zero, false, false
	return v
}

// Close destroys the value if the handle owns it, then forgets it.
// Closing a released handle is a no-op.
func (h *Handle[T]) Close() {
	if !h.set {
		return
	}

	owned, destroy := h.owned, h.destroy
	v := h.Release()

	if owned && destroy != nil {
		destroy(v)
	}
}
