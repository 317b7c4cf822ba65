package taskrunner

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"
	"pkt.systems/pslog"
)

// Deps configures a runner.
type Deps struct {
	// Poster receives completions; nil drops them.
	Poster Poster
	Logger pslog.Logger
}

// queue feeds submitted tasks to a single dispatcher goroutine.
type queue struct {
	poster   Poster
	log      pslog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	dispatch func(*queue, *Task)

	mu     sync.Mutex
	tasks  []*Task
	closed bool
	wake   chan struct{}
	exited chan struct{}
}

func newQueue(deps Deps, dispatch func(*queue, *Task)) *queue {
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &queue{
		poster:   deps.Poster,
		log:      logger,
		ctx:      ctx,
		cancel:   cancel,
		dispatch: dispatch,
		wake:     make(chan struct{}, 1),
		exited:   make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *queue) submit(name string, work Work) *Task {
	task := newTask(q.ctx, name, work)
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		task.Cancel()
		task.run(nil)
		return task
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return task
}

func (q *queue) loop() {
	defer close(q.exited)
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.wake
			continue
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()
		q.dispatch(q, task)
	}
}

func (q *queue) exec(task *Task) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("taskrunner task panicked", "task", task.name, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			task.mu.Lock()
			finished := task.finished
			task.mu.Unlock()
			if !finished {
				task.finish()
			}
		}
	}()
	q.log.Trace("taskrunner task start", "task", task.name)
	task.run(q.poster)
}

// close stops accepting tasks and waits for queued ones to run.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.exited
}

// Serial runs tasks one at a time in submission order.
type Serial struct {
	q *queue
}

// NewSerial starts a serial runner.
func NewSerial(deps Deps) *Serial {
	return &Serial{q: newQueue(deps, (*queue).exec)}
}

// Submit queues work behind every previously submitted task.
func (s *Serial) Submit(name string, work Work) *Task {
	return s.q.submit(name, work)
}

// Close runs queued tasks and stops the runner.
func (s *Serial) Close() {
	s.q.close()
	s.q.cancel()
}

// Pool runs up to size tasks concurrently.
type Pool struct {
	q     *queue
	group *errgroup.Group
}

// NewPool starts a bounded pool.
func NewPool(deps Deps, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{group: &errgroup.Group{}}
	p.group.SetLimit(size)
	p.q = newQueue(deps, func(q *queue, task *Task) {
		p.group.Go(func() error {
			q.exec(task)
			return nil
		})
	})
	return p
}

// Submit queues work; it starts as soon as a slot is free.
func (p *Pool) Submit(name string, work Work) *Task {
	return p.q.submit(name, work)
}

// Close waits for queued and running tasks, then stops the pool.
func (p *Pool) Close() {
	p.q.close()
	_ = p.group.Wait()
	p.q.cancel()
}
