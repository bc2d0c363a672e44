package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func runBase(t *testing.T, b *Base) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- b.Run(ctx) }()

	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("event base did not stop")
		}
	}
}

func TestBasePostOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := NewBase(discard(), clock.New())
	stop := runBase(t, b)
	defer stop()

	var got []int
	for i := range 3 {
		require.True(t, b.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, b.Call(context.Background(), func() { got = append(got, 3) }))

	assert.Equal(t, []int{0, 1, 2, 3}, got)
}

func TestBasePostAfterStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := NewBase(discard(), clock.New())
	runBase(t, b)()

	assert.False(t, b.Post(func() {}))
	assert.ErrorIs(t, b.Call(context.Background(), func() {}), ErrBaseClosed)
	assert.Error(t, b.Run(context.Background()), "a base runs once")
}

func TestBaseGoWaited(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := NewBase(discard(), clock.New())
	stop := runBase(t, b)

	finished := make(chan struct{})
	b.Go(func(ctx context.Context) {
		<-ctx.Done()
		close(finished)
	})

	stop()

	select {
	case <-finished:
	default:
		t.Fatal("Run returned before its goroutines")
	}

	ran := false
	b.Go(func(context.Context) { ran = true })
	assert.False(t, ran)
}

func TestBaseRecoversPanic(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := NewBase(discard(), clock.New())
	stop := runBase(t, b)
	defer stop()

	b.Post(func() { panic("boom") })

	ok := false
	require.NoError(t, b.Call(context.Background(), func() { ok = true }))
	assert.True(t, ok)
}
