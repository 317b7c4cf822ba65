// Package looper runs posted closures one at a time on a single owner goroutine.
//
// All tab model, selector and store mutation happens on the loop. Background work
// hands results back with Post; callers outside the loop use Do to wait for a result.
package looper

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/tabkeep/schema"
)

// Deps configures a Loop.
type Deps struct {
	Logger pslog.Logger
}

// Loop is a serial executor bound to one goroutine.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	closed  bool
	running bool
	done    chan struct{}
	log     pslog.Logger
}

// New constructs a Loop. Call Run to start executing posted work.
func New(deps Deps) *Loop {
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		log:  logger,
	}
}

// Run executes posted closures until ctx is cancelled or Stop is called.
// Work still queued at shutdown is drained before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return errors.New("loop already running")
	}
	l.running = true
	l.mu.Unlock()
	defer close(l.done)
	l.log.Debug("loop started")
	for {
		l.drain()
		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			l.drain()
			l.log.Debug("loop stopped")
			return nil
		}
		select {
		case <-ctx.Done():
			l.Stop()
		case <-l.wake:
		}
	}
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()
		l.invoke(fn)
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("loop task panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// Post queues fn for execution on the loop. It never blocks and reports false
// once the loop has been stopped.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it to return.
// It must not be called from the loop itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return schema.ErrLoopClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return schema.ErrLoopClosed
		}
	}
}

// Stop prevents further posts; queued work still runs.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed after Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Pending reports the number of queued closures.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}
