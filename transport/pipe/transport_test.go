package pipe

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"event-http/transport"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

type TransportTestSuite struct {
	suite.Suite

	t *Transport
}

func TestTransportTestSuite(t *testing.T) {
	suite.Run(t, new(TransportTestSuite))
}

func (s *TransportTestSuite) SetupTest() {
	s.t = NewTransport(clock.New())
}

func (s *TransportTestSuite) TearDownTest() {
	goleak.VerifyNone(s.T())
}

func (s *TransportTestSuite) TestDialAccept() {
	l, err := s.t.Listen(Addr{Name: "example.com:80"})
	s.Require().NoError(err)
	defer l.Close()

	var wg sync.WaitGroup
	defer wg.Wait()

	wg.Add(1)
	go func() {
		defer wg.Done()
		conn, err := l.Accept(context.Background())
		s.Require().NoError(err)
		defer conn.Close()

		b := make([]byte, 5)
		n, err := conn.Read(b)
		s.NoError(err)
		s.Equal("hello", string(b[:n]))
	}()

	conn, err := s.t.Dial(context.Background(), Addr{Name: "example.com:80"})
	s.Require().NoError(err)
	defer conn.Close()

	s.Equal("example.com:80", conn.RemoteAddr().String())
	s.True(strings.HasPrefix(conn.LocalAddr().String(), "127.0.0.1:"))
	s.Equal("pipe", conn.LocalAddr().Network())

	_, err = conn.Write([]byte("hello"))
	s.NoError(err)
}

func (s *TransportTestSuite) TestDialUnknown() {
	_, err := s.t.Dial(context.Background(), Addr{Name: "nowhere:1"})
	s.ErrorIs(err, transport.ErrNetUnreachable)
}

func (s *TransportTestSuite) TestListenTwice() {
	l, err := s.t.Listen(Addr{Name: "x:1"})
	s.Require().NoError(err)
	defer l.Close()

	_, err = s.t.Listen(Addr{Name: "x:1"})
	s.ErrorIs(err, transport.ErrAddrAlreadyInUse)
}

func (s *TransportTestSuite) TestClose() {
	l, err := s.t.Listen(Addr{Name: "x:1"})
	s.Require().NoError(err)

	s.NoError(l.Close())
	s.ErrorIs(l.Close(), transport.ErrConnListenerClosed)

	_, err = l.Accept(context.Background())
	s.ErrorIs(err, transport.ErrConnListenerClosed)

	_, err = s.t.Dial(context.Background(), Addr{Name: "x:1"})
	s.ErrorIs(err, transport.ErrNetUnreachable)

	// The address can be reused.
	l, err = s.t.Listen(Addr{Name: "x:1"})
	s.Require().NoError(err)
	s.NoError(l.Close())
}

func (s *TransportTestSuite) TestCloseUnblocksAccept() {
	l, err := s.t.Listen(Addr{Name: "x:1"})
	s.Require().NoError(err)

	done := make(chan error)
	go func() {
		_, err := l.Accept(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	s.NoError(l.Close())
	s.ErrorIs(<-done, transport.ErrConnListenerClosed)
}

func (s *TransportTestSuite) TestDialCancelled() {
	l, err := s.t.Listen(Addr{Name: "x:1"})
	s.Require().NoError(err)
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// Nobody accepts.
	_, err = s.t.Dial(ctx, Addr{Name: "x:1"})
	s.ErrorIs(err, context.DeadlineExceeded)
}

func TestEphemeralPortReleased(t *testing.T) {
	defer goleak.VerifyNone(t)

	tr := NewTransport(clock.New())
	l, err := tr.Listen(Addr{Name: "x:1"})
	require.NoError(t, err)
	defer l.Close()

	var wg sync.WaitGroup
	defer wg.Wait()

	wg.Add(1)
	go func() {
		defer wg.Done()
		conn, err := l.Accept(context.Background())
		if err == nil {
			conn.Close()
		}
	}()

	conn, err := tr.Dial(context.Background(), Addr{Name: "x:1"})
	require.NoError(t, err)

	port, err := strconv.ParseUint(strings.TrimPrefix(conn.LocalAddr().String(), "127.0.0.1:"), 10, 16)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	ok, _, release := tr.ports.Occupy(uint16(port))
	assert.True(t, ok)
	release()
}
