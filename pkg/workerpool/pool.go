// Package workerpool runs blocking or CPU-heavy tasks off the event loops on
// a fixed set of worker goroutines sharing one FIFO queue.
package workerpool

import (
	"errors"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/marmos91/dittonet/internal/logger"
)

// ErrPoolShutdown is returned by Submit after Shutdown has been called.
var ErrPoolShutdown = errors.New("worker pool is shut down")

type task struct {
	fn     func() (any, error)
	future *Future
}

// Pool is a fixed-size worker pool.
//
// Thread safety:
// All methods are safe for concurrent use. Shutdown must not be called from
// inside a task, since it waits for the workers to exit.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   *queue.Queue
	stopped bool

	pending atomic.Int64
	workers int
	wg      sync.WaitGroup
}

// New starts a pool of workers goroutines. Zero or negative means
// runtime.NumCPU().
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	p := &Pool{
		tasks:   queue.New(),
		workers: workers,
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}

	logger.Debug("Worker pool started with %d workers", workers)
	return p
}

// Submit queues fn and returns its deferred result. It never blocks.
// Errors returned by fn and panics raised by it are delivered through the
// Future.
func (p *Pool) Submit(fn func() (any, error)) (*Future, error) {
	t := &task{fn: fn, future: newFuture()}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, ErrPoolShutdown
	}
	p.tasks.Add(t)
	p.pending.Add(1)
	p.cond.Signal()
	p.mu.Unlock()

	return t.future, nil
}

// Execute queues a task that produces no value.
func (p *Pool) Execute(fn func()) (*Future, error) {
	return p.Submit(func() (any, error) {
		fn()
		return nil, nil
	})
}

// SubmitValue queues fn on p and returns a typed deferred result.
func SubmitValue[T any](p *Pool, fn func() (T, error)) (*Result[T], error) {
	f, err := p.Submit(func() (any, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	return &Result[T]{future: f}, nil
}

// TaskCount returns the number of queued tasks not yet picked up.
// Best-effort; the value may be stale by the time it is read.
func (p *Pool) TaskCount() int {
	return int(p.pending.Load())
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.workers
}

// Shutdown stops accepting tasks, lets the workers drain the queue and waits
// for them to exit. Idempotent.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	first := !p.stopped
	p.stopped = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
	if first {
		logger.Debug("Worker pool shut down")
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for p.tasks.Length() == 0 && !p.stopped {
			p.cond.Wait()
		}
		if p.tasks.Length() == 0 {
			p.mu.Unlock()
			return
		}
		t := p.tasks.Remove().(*task)
		p.mu.Unlock()

		p.pending.Add(-1)
		p.run(id, t)
	}
}

func (p *Pool) run(id int, t *task) {
	var (
		value any
		err   error
	)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Worker %d: task panicked: %v", id, r)
			err = &PanicError{Value: r, Stack: debug.Stack()}
			value = nil
		}
		t.future.resolve(value, err)
	}()

	value, err = t.fn()
}
