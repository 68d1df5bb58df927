package resourcepool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type resource struct {
	id     int64
	closed atomic.Bool
}

func (r *resource) Close() error {
	r.closed.Store(true)
	return nil
}

func counterFactory(n *atomic.Int64) Factory[*resource] {
	return func() (*resource, error) {
		return &resource{id: n.Add(1)}, nil
	}
}

func TestNewBuildsCapacityEagerly(t *testing.T) {
	var built atomic.Int64
	p, err := New(Config{Capacity: 3}, counterFactory(&built))
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, int64(3), built.Load())
	assert.Equal(t, 3, p.AvailableCount())
	assert.Zero(t, p.InUseCount())
	assert.Equal(t, 3, p.Capacity())
}

func TestNewRejectsBadArguments(t *testing.T) {
	_, err := New[int](Config{Capacity: 0}, func() (int, error) { return 0, nil })
	assert.Error(t, err)

	_, err = New[int](Config{Capacity: 1}, nil)
	assert.Error(t, err)
}

func TestNewFactoryFailureDiscardsBuilt(t *testing.T) {
	var made []*resource
	boom := errors.New("boom")
	_, err := New(Config{Capacity: 3}, func() (*resource, error) {
		if len(made) == 2 {
			return nil, boom
		}
		r := &resource{}
		made = append(made, r)
		return r, nil
	})
	require.ErrorIs(t, err, boom)
	for _, r := range made {
		assert.True(t, r.closed.Load())
	}
}

func TestAcquireReleaseCounts(t *testing.T) {
	var built atomic.Int64
	p, err := New(Config{Capacity: 2}, counterFactory(&built))
	require.NoError(t, err)
	defer p.Close()

	r, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 1, p.AvailableCount())
	assert.Equal(t, 1, p.InUseCount())

	p.Release(r)
	assert.Equal(t, 2, p.AvailableCount())
	assert.Zero(t, p.InUseCount())
}

func TestTransientOverflowWhenNotStrict(t *testing.T) {
	var built atomic.Int64
	p, err := New(Config{Capacity: 1}, counterFactory(&built))
	require.NoError(t, err)
	defer p.Close()

	a, err := p.Acquire()
	require.NoError(t, err)
	b, err := p.Acquire()
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, int64(2), built.Load(), "second acquire must call the factory again")
	assert.Equal(t, 2, p.InUseCount())

	p.Release(a)
	p.Release(b)

	// Free queue never exceeds capacity: the extra one is discarded.
	assert.Equal(t, 1, p.AvailableCount())
	assert.True(t, b.closed.Load())
	assert.False(t, a.closed.Load())
}

func TestStrictPoolBlocksUntilRelease(t *testing.T) {
	var built atomic.Int64
	p, err := New(Config{Capacity: 1, Strict: true}, counterFactory(&built))
	require.NoError(t, err)
	defer p.Close()

	held, err := p.Acquire()
	require.NoError(t, err)

	got := make(chan *resource, 1)
	go func() {
		r, err := p.Acquire()
		if err == nil {
			got <- r
		}
	}()

	select {
	case <-got:
		t.Fatal("strict acquire returned while the pool was empty")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(held)
	select {
	case r := <-got:
		assert.Same(t, held, r)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not woken by release")
	}
	assert.Equal(t, int64(1), built.Load())
}

func TestCloseWakesWaiters(t *testing.T) {
	var built atomic.Int64
	p, err := New(Config{Capacity: 1, Strict: true}, counterFactory(&built))
	require.NoError(t, err)

	_, err = p.Acquire()
	require.NoError(t, err)

	const waiters = 5
	errs := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			r, err := p.Acquire()
			if err == nil {
				err = errors.New("unexpected resource")
				_ = r
			}
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	p.Close()

	for i := 0; i < waiters; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrPoolClosed)
		case <-time.After(2 * time.Second):
			t.Fatal("waiter not woken by close")
		}
	}
}

func TestCloseIsIdempotentAndDiscardsFree(t *testing.T) {
	var built atomic.Int64
	p, err := New(Config{Capacity: 2}, counterFactory(&built))
	require.NoError(t, err)

	held, err := p.Acquire()
	require.NoError(t, err)
	free, err := p.Acquire()
	require.NoError(t, err)
	p.Release(free)

	p.Close()
	p.Close()

	assert.True(t, free.closed.Load())
	assert.Zero(t, p.AvailableCount())

	_, err = p.Acquire()
	assert.ErrorIs(t, err, ErrPoolClosed)

	p.Release(held)
	assert.True(t, held.closed.Load(), "release after close discards")
	assert.Zero(t, p.AvailableCount())
}

func TestAcquireContextCancellation(t *testing.T) {
	var built atomic.Int64
	p, err := New(Config{Capacity: 1, Strict: true}, counterFactory(&built))
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Acquire()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.AcquireContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, p.InUseCount())
}

func TestTransientFactoryFailure(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	p, err := New(Config{Capacity: 1}, func() (int, error) {
		calls++
		if calls > 1 {
			return 0, boom
		}
		return calls, nil
	})
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Acquire()
	require.NoError(t, err)

	_, err = p.Acquire()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, p.InUseCount())
}

func TestStrictPoolNoLossNoDuplication(t *testing.T) {
	const capacity = 4
	var built atomic.Int64
	p, err := New(Config{Capacity: capacity, Strict: true}, counterFactory(&built))
	require.NoError(t, err)
	defer p.Close()

	var (
		mu   sync.Mutex
		held = make(map[*resource]bool)
	)

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			for j := 0; j < 200; j++ {
				r, err := p.Acquire()
				if err != nil {
					return err
				}
				mu.Lock()
				if held[r] {
					mu.Unlock()
					return errors.New("resource handed out twice")
				}
				held[r] = true
				mu.Unlock()

				mu.Lock()
				delete(held, r)
				mu.Unlock()
				p.Release(r)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(capacity), built.Load())
	assert.Equal(t, capacity, p.AvailableCount())
	assert.Zero(t, p.InUseCount())
}
