// Package eventloop provides single-threaded executors bound to dedicated OS
// threads and a round-robin pool of them.
//
// A Loop runs posted callbacks one at a time on its own locked OS thread.
// Blocking operations (socket reads, writes, accepts) are started with Go and
// run on helper goroutines; their completions are posted back so that all
// state owned by a loop is only ever touched from that loop.
//
// A Loop keeps running while it has queued callbacks or outstanding work.
// Outstanding work is counted for every keep-alive Guard, every in-flight Go
// operation and every armed Timer. When the queue is empty and the count
// reaches zero, the loop returns and its thread is released.
package eventloop

import (
	"errors"
	"runtime"
	"sync"

	"github.com/eapache/queue"
	"github.com/marmos91/dittonet/internal/logger"
)

// ErrLoopStopped is returned when work is handed to a loop that has exited.
var ErrLoopStopped = errors.New("event loop stopped")

// Loop is a single-threaded executor bound to one OS thread.
type Loop struct {
	id  int
	cpu int // -1 disables pinning

	mu     sync.Mutex
	cond   *sync.Cond
	tasks  *queue.Queue
	work   int
	exited bool

	done chan struct{}
}

func newLoop(id, cpu int) *Loop {
	l := &Loop{
		id:    id,
		cpu:   cpu,
		tasks: queue.New(),
		done:  make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// ID returns the loop's index within its pool.
func (l *Loop) ID() int {
	return l.id
}

// Done is closed once the loop has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post queues fn to run on the loop. It reports false if the loop has
// already exited, in which case fn is dropped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.exited {
		return false
	}
	l.tasks.Add(fn)
	l.cond.Signal()
	return true
}

// Go runs op on a helper goroutine and posts the completion it returns back
// onto the loop. A nil completion is allowed. The operation keeps the loop
// alive until its completion has been queued.
//
// Go reports false, without starting op, if the loop has exited.
func (l *Loop) Go(op func() func()) bool {
	if !l.addWork() {
		return false
	}
	go func() {
		l.complete(op())
	}()
	return true
}

// KeepAlive returns a guard that prevents the loop from returning while
// idle. The loop may exit once every guard has been released and no other
// work remains.
func (l *Loop) KeepAlive() *Guard {
	if !l.addWork() {
		return &Guard{}
	}
	return &Guard{loop: l}
}

func (l *Loop) addWork() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.exited {
		return false
	}
	l.work++
	return true
}

// complete queues fn (if any) and retires one unit of work in a single step,
// so the loop never observes an empty queue with the work already gone.
func (l *Loop) complete(fn func()) {
	l.mu.Lock()
	if fn != nil {
		l.tasks.Add(fn)
	}
	l.work--
	l.cond.Signal()
	l.mu.Unlock()
}

func (l *Loop) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(l.done)

	if l.cpu >= 0 {
		if err := pinThread(l.cpu); err != nil {
			logger.Warn("Event loop %d: failed to pin to CPU %d: %v", l.id, l.cpu, err)
		} else {
			logger.Debug("Event loop %d: pinned to CPU %d", l.id, l.cpu)
		}
	}

	for {
		l.mu.Lock()
		for l.tasks.Length() == 0 && l.work > 0 {
			l.cond.Wait()
		}
		if l.tasks.Length() == 0 {
			l.exited = true
			l.mu.Unlock()
			logger.Debug("Event loop %d: drained, exiting", l.id)
			return
		}
		fn := l.tasks.Remove().(func())
		l.mu.Unlock()

		l.execute(fn)
	}
}

func (l *Loop) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Event loop %d: panic in callback: %v", l.id, r)
		}
	}()
	fn()
}

// Guard is a keep-alive marker for a Loop.
type Guard struct {
	once sync.Once
	loop *Loop
}

// Release drops the keep-alive. Calling it more than once is a no-op.
func (g *Guard) Release() {
	if g == nil || g.loop == nil {
		return
	}
	g.once.Do(func() {
		g.loop.complete(nil)
	})
}
