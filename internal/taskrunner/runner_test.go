package taskrunner

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingPoster collects completions so tests can run them on the test goroutine.
type recordingPoster struct {
	mu  sync.Mutex
	fns []func()
}

func (p *recordingPoster) Post(fn func()) bool {
	p.mu.Lock()
	p.fns = append(p.fns, fn)
	p.mu.Unlock()
	return true
}

func (p *recordingPoster) flush() int {
	p.mu.Lock()
	fns := p.fns
	p.fns = nil
	p.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

func TestSerialRunsInOrder(t *testing.T) {
	poster := &recordingPoster{}
	serial := NewSerial(Deps{Poster: poster})
	defer serial.Close()

	var (
		mu    sync.Mutex
		order []int
	)
	var last *Task
	for i := 0; i < 20; i++ {
		i := i
		last = serial.Submit("job", func(context.Context) func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
	}
	last.Wait()
	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("unexpected order %v", order)
		}
	}
	if len(order) != 20 {
		t.Fatalf("expected 20 jobs, got %d", len(order))
	}
}

func TestSerialNeverOverlaps(t *testing.T) {
	serial := NewSerial(Deps{})
	defer serial.Close()

	var running, peak int32
	var last *Task
	for i := 0; i < 10; i++ {
		last = serial.Submit("job", func(context.Context) func() {
			n := atomic.AddInt32(&running, 1)
			if n > atomic.LoadInt32(&peak) {
				atomic.StoreInt32(&peak, n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		})
	}
	last.Wait()
	if peak != 1 {
		t.Fatalf("expected one task in flight, saw %d", peak)
	}
}

func TestCompletionPostedToOwner(t *testing.T) {
	poster := &recordingPoster{}
	serial := NewSerial(Deps{Poster: poster})
	defer serial.Close()

	called := false
	task := serial.Submit("job", func(context.Context) func() {
		return func() { called = true }
	})
	task.Wait()
	if called {
		t.Fatalf("completion must not run on the worker")
	}
	if n := poster.flush(); n != 1 {
		t.Fatalf("expected one posted completion, got %d", n)
	}
	if !called {
		t.Fatalf("expected completion to run on flush")
	}
}

func TestCancelSuppressesCompletion(t *testing.T) {
	poster := &recordingPoster{}
	serial := NewSerial(Deps{Poster: poster})
	defer serial.Close()

	called := false
	task := serial.Submit("job", func(context.Context) func() {
		return func() { called = true }
	})
	task.Wait()
	if task.Cancel() {
		t.Fatalf("expected Cancel to report finished work")
	}
	poster.flush()
	if called {
		t.Fatalf("cancelled completion must not run")
	}
}

func TestCancelInterruptsRunningWork(t *testing.T) {
	serial := NewSerial(Deps{})
	defer serial.Close()

	started := make(chan struct{})
	task := serial.Submit("block", func(ctx context.Context) func() {
		close(started)
		<-ctx.Done()
		return nil
	})
	<-started
	if !task.Cancel() {
		t.Fatalf("expected Cancel to interrupt running work")
	}
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatalf("task did not stop after cancel")
	}
}

func TestCancelBeforeStartSkipsWork(t *testing.T) {
	serial := NewSerial(Deps{})
	defer serial.Close()

	release := make(chan struct{})
	serial.Submit("block", func(context.Context) func() {
		<-release
		return nil
	})
	ran := false
	queued := serial.Submit("queued", func(context.Context) func() {
		ran = true
		return nil
	})
	queued.Cancel()
	close(release)
	queued.Wait()
	if ran {
		t.Fatalf("cancelled queued work must not run")
	}
}

func TestCloseRunsQueuedThenRejects(t *testing.T) {
	serial := NewSerial(Deps{})
	release := make(chan struct{})
	serial.Submit("block", func(context.Context) func() {
		<-release
		return nil
	})
	var ran atomic.Bool
	queued := serial.Submit("queued", func(context.Context) func() {
		ran.Store(true)
		return nil
	})
	go func() {
		time.Sleep(5 * time.Millisecond)
		close(release)
	}()
	serial.Close()
	if !queued.Finished() || !ran.Load() {
		t.Fatalf("expected queued work to run before close returned")
	}
	after := serial.Submit("late", func(context.Context) func() { return nil })
	if !after.Cancelled() {
		t.Fatalf("expected submit after close to be cancelled")
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(Deps{}, 2)

	var running, peak int32
	var mu sync.Mutex
	tasks := make([]*Task, 0, 8)
	for i := 0; i < 8; i++ {
		tasks = append(tasks, pool.Submit("scan", func(context.Context) func() {
			n := atomic.AddInt32(&running, 1)
			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		}))
	}
	pool.Close()
	for _, task := range tasks {
		if !task.Finished() {
			t.Fatalf("expected all tasks finished after close")
		}
	}
	if peak > 2 {
		t.Fatalf("expected at most 2 concurrent tasks, saw %d", peak)
	}
}

func TestPanicFinishesTask(t *testing.T) {
	serial := NewSerial(Deps{})
	defer serial.Close()

	task := serial.Submit("panic", func(context.Context) func() {
		panic("boom")
	})
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatalf("panicking task never finished")
	}
	next := serial.Submit("next", func(context.Context) func() { return nil })
	next.Wait()
}
