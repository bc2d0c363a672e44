//go:build !notls

package stream

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"event-http/transport"

	"github.com/pkg/errors"
	utls "github.com/refraction-networking/utls"
)

const TLSSupported = true

// TLSContext holds TLS settings of either side.
type TLSContext struct {
	// Client side.
	ServerName         string
	RootCAs            *x509.CertPool
	InsecureSkipVerify bool
	// Fingerprint names the ClientHello to mimic. Empty means "golang".
	Fingerprint string

	// Server side.
	Certificates []tls.Certificate
}

// LoadServerContext reads a PEM certificate chain and its key.
func LoadServerContext(certFile, keyFile string) (*TLSContext, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, errors.Wrap(err, "loading key pair")
	}
	return &TLSContext{Certificates: []tls.Certificate{cert}}, nil
}

// LoadClientContext builds a client context trusting the PEM bundle at caFile,
// or the system pool when caFile is empty.
func LoadClientContext(serverName, caFile, fingerprint string) (*TLSContext, error) {
	if GetFingerprint(fingerprint) == nil {
		return nil, errors.Errorf("unknown fingerprint %q", fingerprint)
	}

	ctx := &TLSContext{ServerName: serverName, Fingerprint: fingerprint}
	if caFile == "" {
		return ctx, nil
	}

	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, errors.Wrap(err, "reading ca bundle")
	}

	ctx.RootCAs = x509.NewCertPool()
	if !ctx.RootCAs.AppendCertsFromPEM(pem) {
		return nil, errors.Errorf("no certificate found in %s", caFile)
	}
	return ctx, nil
}

func (c *TLSContext) utlsConfig() *utls.Config {
	return &utls.Config{
		RootCAs:            c.RootCAs,
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.InsecureSkipVerify,
		NextProtos:         []string{"http/1.1"},
	}
}

// Client starts client TLS over conn. The handshake happens on first I/O.
func Client(conn transport.Conn, ctx *TLSContext) (*Stream, error) {
	if ctx == nil {
		return nil, ErrNoContext
	}

	fingerprint := GetFingerprint(ctx.Fingerprint)
	if fingerprint == nil {
		return nil, errors.Errorf("unknown fingerprint %q", ctx.Fingerprint)
	}

	uconn := utls.UClient(asNetConn(conn), ctx.utlsConfig(), *fingerprint)
	if err := offerHTTP11(uconn); err != nil {
		return nil, errors.Wrap(err, "building client hello")
	}

	return &Stream{conn: conn, rw: uconn, secure: true}, nil
}

// offerHTTP11 rewrites the fingerprint's ALPN so that only HTTP/1.1 is offered.
func offerHTTP11(c *utls.UConn) error {
	if err := c.BuildHandshakeState(); err != nil {
		return err
	}

	found := false
	for _, ext := range c.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			found = true
			break
		}
	}
	if !found {
		c.Extensions = append(c.Extensions, &utls.ALPNExtension{AlpnProtocols: []string{"http/1.1"}})
	}

	return c.BuildHandshakeState()
}

// Server starts server TLS over conn. The handshake happens on first I/O.
func Server(conn transport.Conn, ctx *TLSContext) (*Stream, error) {
	if ctx == nil || len(ctx.Certificates) == 0 {
		return nil, ErrNoContext
	}

	sconn := tls.Server(asNetConn(conn), &tls.Config{
		Certificates: ctx.Certificates,
		NextProtos:   []string{"http/1.1"},
	})

	return &Stream{conn: conn, rw: sconn, secure: true}, nil
}

var fingerprints = map[string]*utls.ClientHelloID{
	"":           &utls.HelloGolang,
	"golang":     &utls.HelloGolang,
	"chrome":     &utls.HelloChrome_Auto,
	"firefox":    &utls.HelloFirefox_Auto,
	"safari":     &utls.HelloSafari_Auto,
	"ios":        &utls.HelloIOS_Auto,
	"android":    &utls.HelloAndroid_11_OkHttp,
	"edge":       &utls.HelloEdge_Auto,
	"randomized": &utls.HelloRandomizedALPN,
}

// GetFingerprint returns the ClientHello named by name, or nil if unknown.
func GetFingerprint(name string) *utls.ClientHelloID {
	return fingerprints[name]
}
