// Package taskrunner executes persistence work off the owner loop.
//
// Work runs on a background goroutine and returns a completion closure. The
// completion is posted back to the owner loop and skipped when the task was
// cancelled in the meantime, so results never land on state that moved on.
package taskrunner

import (
	"context"
	"sync"
)

// Poster delivers closures to the owner loop.
type Poster interface {
	Post(fn func()) bool
}

// Work performs background work and returns an optional completion to run on the owner.
type Work func(ctx context.Context) func()

// Task is the handle of submitted work.
type Task struct {
	name   string
	ctx    context.Context
	cancel context.CancelFunc
	work   Work

	mu        sync.Mutex
	started   bool
	finished  bool
	cancelled bool
	done      chan struct{}
}

func newTask(parent context.Context, name string, work Work) *Task {
	ctx, cancel := context.WithCancel(parent)
	return &Task{
		name:   name,
		ctx:    ctx,
		cancel: cancel,
		work:   work,
		done:   make(chan struct{}),
	}
}

// Name returns the label given at submission.
func (t *Task) Name() string {
	return t.name
}

// Cancel suppresses the completion and interrupts the work. It reports whether
// the work had not finished yet; false means the work ran to completion and
// only its completion callback was suppressed.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	t.cancelled = true
	finished := t.finished
	t.mu.Unlock()
	t.cancel()
	return !finished
}

// Cancelled reports whether Cancel was called.
func (t *Task) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Finished reports whether the work returned.
func (t *Task) Finished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finished
}

// Wait blocks until the work returned or was skipped.
func (t *Task) Wait() {
	<-t.done
}

// Done is closed once the work returned or was skipped.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// begin marks the task started; it returns false if it was cancelled before running.
func (t *Task) begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		t.finished = true
		return false
	}
	t.started = true
	return true
}

func (t *Task) finish() {
	t.mu.Lock()
	t.finished = true
	t.mu.Unlock()
	t.cancel()
	close(t.done)
}

// run executes the work and hands the completion to poster.
func (t *Task) run(poster Poster) {
	if !t.begin() {
		t.finish()
		return
	}
	completion := t.work(t.ctx)
	t.finish()
	if completion == nil || poster == nil {
		return
	}
	poster.Post(func() {
		if t.Cancelled() {
			return
		}
		completion()
	})
}
