// Package resourcepool provides a generic blocking pool of reusable
// resources built by an injected factory.
package resourcepool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/eapache/queue"
	"github.com/marmos91/dittonet/internal/logger"
)

// ErrPoolClosed is returned by Acquire once the pool has been closed.
var ErrPoolClosed = errors.New("resource pool is closed")

// Factory builds one resource.
type Factory[T any] func() (T, error)

// Config configures a resource pool.
type Config struct {
	// Capacity is the number of resources built up front and the most the
	// free queue ever holds.
	Capacity int `mapstructure:"capacity" validate:"min=1" yaml:"capacity"`

	// Strict makes Acquire wait for a release when every resource is in use.
	// When false, Acquire builds a transient resource instead.
	Strict bool `mapstructure:"strict" yaml:"strict"`
}

// Pool hands out resources of type T.
//
// Every resource is owned either by the free queue or by exactly one holder.
// Resources implementing io.Closer are closed when the pool discards them.
//
// Thread safety:
// All methods are safe for concurrent use.
type Pool[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	free    *queue.Queue
	inUse   int
	closed  bool
	config  Config
	factory Factory[T]
}

// New builds config.Capacity resources eagerly. If the factory fails, the
// resources built so far are discarded and the error is returned.
func New[T any](config Config, factory Factory[T]) (*Pool[T], error) {
	if config.Capacity <= 0 {
		return nil, fmt.Errorf("resource pool capacity must be positive, got %d", config.Capacity)
	}
	if factory == nil {
		return nil, errors.New("resource pool factory is nil")
	}

	p := &Pool[T]{
		free:    queue.New(),
		config:  config,
		factory: factory,
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < config.Capacity; i++ {
		r, err := factory()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to build resource %d/%d: %w", i+1, config.Capacity, err)
		}
		p.free.Add(r)
	}

	return p, nil
}

// Acquire takes a resource from the pool. See AcquireContext.
func (p *Pool[T]) Acquire() (T, error) {
	return p.AcquireContext(context.Background())
}

// AcquireContext takes a free resource. When none is free, a non-strict pool
// builds a transient one and a strict pool waits for a release, for ctx to
// end, or for the pool to close. After Close it returns ErrPoolClosed.
func (p *Pool[T]) AcquireContext(ctx context.Context) (T, error) {
	var zero T

	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
		defer stop()
	}

	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return zero, ErrPoolClosed
		}

		if p.free.Length() > 0 {
			r, _ := p.free.Remove().(T)
			p.inUse++
			p.mu.Unlock()
			return r, nil
		}

		if !p.config.Strict {
			p.inUse++
			p.mu.Unlock()
			return p.buildTransient()
		}

		if err := ctx.Err(); err != nil {
			p.mu.Unlock()
			return zero, err
		}
		p.cond.Wait()
	}
}

func (p *Pool[T]) buildTransient() (T, error) {
	r, err := p.factory()
	if err != nil {
		p.mu.Lock()
		p.inUse--
		p.mu.Unlock()
		var zero T
		return zero, fmt.Errorf("failed to build transient resource: %w", err)
	}
	logger.Debug("Resource pool exhausted, built transient resource")
	return r, nil
}

// Release returns r to the pool. If the free queue is already at capacity
// or the pool is closed, r is discarded.
func (p *Pool[T]) Release(r T) {
	p.mu.Lock()
	if p.inUse > 0 {
		p.inUse--
	}
	if p.closed || p.free.Length() >= p.config.Capacity {
		p.mu.Unlock()
		discard(r)
		return
	}
	p.free.Add(r)
	p.cond.Signal()
	p.mu.Unlock()
}

// Close discards every free resource and wakes all waiters, which then get
// ErrPoolClosed. Resources still held are discarded when released.
// Idempotent.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	drained := make([]T, 0, p.free.Length())
	for p.free.Length() > 0 {
		r, _ := p.free.Remove().(T)
		drained = append(drained, r)
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, r := range drained {
		discard(r)
	}
}

// AvailableCount returns the number of free resources. Advisory.
func (p *Pool[T]) AvailableCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free.Length()
}

// InUseCount returns the number of resources currently held, transient ones
// included. Advisory.
func (p *Pool[T]) InUseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Capacity returns the configured capacity.
func (p *Pool[T]) Capacity() int {
	return p.config.Capacity
}

func discard[T any](r T) {
	c, ok := any(r).(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logger.Debug("Resource pool: close of discarded resource failed: %v", err)
	}
}
