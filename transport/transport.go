// Package transport defines the byte stream connections HTTP runs on.
package transport

type Protocol string

const (
	TCP  Protocol = "tcp"
	Pipe Protocol = "pipe"
)

// Addr is an endpoint of a connection. String must be usable to dial it again.
type Addr interface {
	Network() string
	String() string
}
