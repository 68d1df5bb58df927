package eventloop

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/marmos91/dittonet/internal/logger"
)

// Config configures a loop pool.
type Config struct {
	// Size is the number of loops, each on its own OS thread.
	// Zero or negative means runtime.NumCPU().
	Size int `mapstructure:"size" validate:"min=0" yaml:"size"`

	// PinThreads pins loop i to CPU i modulo the CPU count. Linux only.
	PinThreads bool `mapstructure:"pin_threads" yaml:"pin_threads"`
}

// Pool is a fixed set of loops handed out in round-robin order.
//
// Thread safety:
// Acquire, Size and Stop are safe for concurrent use.
type Pool struct {
	mu      sync.RWMutex
	loops   []*Loop
	guards  []*Guard
	stopped bool

	next atomic.Uint64
}

// NewPool starts config.Size loops, each holding a keep-alive guard so it
// stays up while idle.
func NewPool(config Config) *Pool {
	n := config.Size
	if n <= 0 {
		n = runtime.NumCPU()
	}

	p := &Pool{
		loops:  make([]*Loop, n),
		guards: make([]*Guard, n),
	}

	for i := 0; i < n; i++ {
		cpu := -1
		if config.PinThreads {
			cpu = i % runtime.NumCPU()
		}
		l := newLoop(i, cpu)
		p.guards[i] = l.KeepAlive()
		p.loops[i] = l
		go l.run()
	}

	logger.Debug("Event loop pool started with %d loops (pinned=%v)", n, config.PinThreads)
	return p
}

// Acquire returns the next loop in round-robin order, or nil once the pool
// has been stopped. Calls 2N times on a pool of N loops return each loop
// exactly twice.
func (p *Pool) Acquire() *Loop {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.loops) == 0 {
		return nil
	}
	i := (p.next.Add(1) - 1) % uint64(len(p.loops))
	return p.loops[i]
}

// Size returns the number of live loops, zero after Stop.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.loops)
}

// Stop releases every keep-alive guard, waits for each loop to finish its
// queued and in-flight work, and clears the pool. Idempotent.
//
// Stop must not be called from one of the pool's own loops.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	loops, guards := p.loops, p.guards
	p.loops, p.guards = nil, nil
	p.mu.Unlock()

	for _, g := range guards {
		g.Release()
	}
	for _, l := range loops {
		<-l.Done()
	}

	logger.Debug("Event loop pool stopped (%d loops)", len(loops))
}
