//go:build notls

package stream

import "event-http/transport"

const TLSSupported = false

type TLSContext struct {
	ServerName         string
	InsecureSkipVerify bool
	Fingerprint        string
}

func LoadServerContext(certFile, keyFile string) (*TLSContext, error) {
	return nil, ErrUnsupported
}

func LoadClientContext(serverName, caFile, fingerprint string) (*TLSContext, error) {
	return nil, ErrUnsupported
}

func Client(conn transport.Conn, ctx *TLSContext) (*Stream, error) { return nil, ErrUnsupported }
func Server(conn transport.Conn, ctx *TLSContext) (*Stream, error) { return nil, ErrUnsupported }
