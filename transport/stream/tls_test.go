//go:build !notls

package stream

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"event-http/transport/pipe"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

func selfSigned(t *testing.T, host string) (tls.Certificate, *x509.CertPool) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: host},
		DNSNames:     []string{host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:         true,

		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(cert)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: cert}, pool
}

type TLSTestSuite struct {
	suite.Suite

	cert tls.Certificate
	pool *x509.CertPool
}

func TestTLSTestSuite(t *testing.T) {
	suite.Run(t, new(TLSTestSuite))
}

func (s *TLSTestSuite) SetupSuite() {
	s.cert, s.pool = selfSigned(s.T(), "example.com")
}

func (s *TLSTestSuite) TearDownTest() {
	goleak.VerifyNone(s.T())
}

func (s *TLSTestSuite) handshake(client *TLSContext) (cs, ss *Stream, clientErr, serverErr error) {
	c1, c2 := pipe.New(pipe.Addr{Name: "client"}, pipe.Addr{Name: "server"}, clock.New(), 64*1024)

	cs, err := Client(c1, client)
	s.Require().NoError(err)
	ss, err = Server(c2, &TLSContext{Certificates: []tls.Certificate{s.cert}})
	s.Require().NoError(err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b := make([]byte, 4)
		if _, serverErr = io.ReadFull(ss, b); serverErr == nil {
			_, serverErr = ss.Write(b)
		}
	}()

	if _, clientErr = cs.Write([]byte("ping")); clientErr == nil {
		b := make([]byte, 4)
		_, clientErr = io.ReadFull(cs, b)
		if clientErr == nil {
			s.Equal("ping", string(b))
		}
	}

	if clientErr != nil {
		// Unblock the server side.
		cs.Close()
	}
	wg.Wait()

	return cs, ss, clientErr, serverErr
}

func (s *TLSTestSuite) TestFingerprints() {
	for _, name := range []string{"", "golang", "chrome", "firefox"} {
		s.Run(name, func() {
			cs, ss, cerr, serr := s.handshake(&TLSContext{
				ServerName:  "example.com",
				RootCAs:     s.pool,
				Fingerprint: name,
			})
			defer cs.Close()
			defer ss.Close()

			s.Require().NoError(cerr)
			s.Require().NoError(serr)
			s.True(cs.IsSecure())
			s.True(ss.IsSecure())
			s.Empty(cs.TLSErrors())
		})
	}
}

func (s *TLSTestSuite) TestVerifyFailure() {
	cs, ss, cerr, _ := s.handshake(&TLSContext{ServerName: "other.example", RootCAs: s.pool})
	defer ss.Close()
	defer cs.Close()

	s.Require().Error(cerr)
	s.Len(cs.TLSErrors(), 1)

	cs.LogTLSErrors(slog.New(slog.DiscardHandler))
	s.Empty(cs.TLSErrors())
}

func TestClientRequiresContext(t *testing.T) {
	c1, c2 := pipe.New(pipe.Addr{Name: "a"}, pipe.Addr{Name: "b"}, clock.New(), 16)
	defer c1.Close()
	defer c2.Close()

	_, err := Client(c1, nil)
	assert.ErrorIs(t, err, ErrNoContext)

	_, err = Server(c2, &TLSContext{})
	assert.ErrorIs(t, err, ErrNoContext)

	_, err = Client(c1, &TLSContext{Fingerprint: "netscape"})
	assert.Error(t, err)
}

func TestGetFingerprint(t *testing.T) {
	assert.NotNil(t, GetFingerprint("chrome"))
	assert.NotNil(t, GetFingerprint(""))
	assert.Nil(t, GetFingerprint("netscape"))
}
