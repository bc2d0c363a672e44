// Package engine runs HTTP/1.x transactions on a single event loop goroutine.
//
// Callbacks handed to the engine (handlers, completion, error and free
// callbacks) always run on the loop. Socket I/O happens on goroutines owned
// by the engine, which report back through [Base.Post].
package engine

import (
	"context"
	"log/slog"
	"sync"

	"event-http/lib/ds/queue"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// LevelTrace is below debug. Hex dumps are logged at this level.
const LevelTrace = slog.LevelDebug - 4

var ErrBaseClosed = errors.New("event base is closed")

type Base struct {
	logger *slog.Logger
	clock  clock.Clock

	tasks  *queue.Queue[func()]
	notify chan struct{}

	ctx    context.Context // cancelled when Run returns.
	cancel context.CancelFunc
	g      errgroup.Group

	mu      sync.Mutex
	running bool
	closed  bool
}

func NewBase(logger *slog.Logger, clock clock.Clock) *Base {
	ctx, cancel := context.WithCancel(context.Background())

	return &Base{
		logger: logger,
		clock:  clock,
		tasks:  queue.New[func()](16),
		notify: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (b *Base) Logger() *slog.Logger { return b.logger }
func (b *Base) Clock() clock.Clock   { return b.clock }

// Context is done once the loop stopped.
func (b *Base) Context() context.Context { return b.ctx }

// Run executes posted functions until ctx is done. It then waits for every
// goroutine started with [Base.Go].
func (b *Base) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.running || b.closed {
		b.mu.Unlock()
		return errors.New("event base cannot be run twice")
	}
	b.running = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()

		b.cancel()
		// Goroutines may still post. Those are dropped.
		_ = b.g.Wait()
		b.tasks.Drain()
	}()

	for {
		for {
			fn, err := b.tasks.Dequeue()
			if err != nil {
				break
			}
			b.runTask(fn)

			if ctx.Err() != nil {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-b.notify:
		}
	}
}

func (b *Base) runTask(fn func()) {
	defer func() {
		if e := recover(); e != nil {
			b.logger.Error("callback panicked", slog.Any("panic", e))
		}
	}()

	fn()
}

// Post schedules fn on the loop. It is safe to call from any goroutine.
// It reports false if the loop has stopped.
func (b *Base) Post(fn func()) bool {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return false
	}

	b.tasks.Enqueue(fn)

	select {
	case b.notify <- struct{}{}:
	default:
	}

	return true
}

// Call runs fn on the loop and waits for it.
func (b *Base) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})

	if !b.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrBaseClosed
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.ctx.Done():
		return ErrBaseClosed
	}
}

// Go runs fn on its own goroutine, tracked until Run returns.
// ctx passed to fn is done when the loop stops. Nothing is started once the
// loop has stopped.
func (b *Base) Go(fn func(ctx context.Context)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.g.Go(func() error {
		fn(b.ctx)
		return nil
	})
}
