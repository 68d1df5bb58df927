package workerpool

import (
	"context"
	"fmt"
)

// PanicError carries a panic recovered from a task.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Future is the deferred result of a submitted task.
type Future struct {
	done  chan struct{}
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(value any, err error) {
	f.value, f.err = value, err
	close(f.done)
}

// Done is closed when the task has finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task finishes and returns its value and error.
func (f *Future) Wait() (any, error) {
	<-f.done
	return f.value, f.err
}

// WaitContext is Wait bounded by ctx. The task keeps running if ctx ends first.
func (f *Future) WaitContext(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result is a typed view of a Future.
type Result[T any] struct {
	future *Future
}

// Future returns the untyped future behind r.
func (r *Result[T]) Future() *Future {
	return r.future
}

// Wait blocks until the task finishes.
func (r *Result[T]) Wait() (T, error) {
	return r.typed(r.future.Wait())
}

// WaitContext is Wait bounded by ctx.
func (r *Result[T]) WaitContext(ctx context.Context) (T, error) {
	return r.typed(r.future.WaitContext(ctx))
}

func (r *Result[T]) typed(v any, err error) (T, error) {
	var zero T
	if v == nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected result type %T", v)
	}
	return t, err
}
