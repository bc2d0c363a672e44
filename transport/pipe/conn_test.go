package pipe

import (
	"testing"

	"event-http/transport/test"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/suite"
)

type ConnTestSuite struct {
	test.BufferedConnTestSuite
}

func TestConnTestSuite(t *testing.T) {
	suite.Run(t, new(ConnTestSuite))
}

func (s *ConnTestSuite) SetupTest() {
	s.BufferedConnTestSuite.SetupTest()
	s.C1, s.C2 = New(Addr{Name: "a"}, Addr{Name: "b"}, s.Clock, 20)
}

func TestNewPanicsOnZeroBuffer(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	New(Addr{}, Addr{}, clock.New(), 0)
}
