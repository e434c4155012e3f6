package dataflow

import (
	"context"
	"sync/atomic"

	"github.com/kbukum/flowkit/errors"
)

// HandleState is the resolution state of a Handle.
type HandleState int32

const (
	Pending HandleState = iota
	Fulfilled
	Faulted
	resolving
)

func (s HandleState) String() string {
	switch s {
	case Fulfilled:
		return "fulfilled"
	case Faulted:
		return "faulted"
	default:
		return "pending"
	}
}

// Handle is a single-assignment completion handle. It is resolved exactly
// once, with a value or an error; a second attempt returns an error
// matching ErrDoubleResolution and leaves the first result in place.
type Handle[T any] struct {
	state atomic.Int32
	done  chan struct{}
	value T
	err   error
}

// NewHandle returns a pending handle.
func NewHandle[T any]() *Handle[T] {
	return &Handle[T]{done: make(chan struct{})}
}

// Resolved returns a handle already fulfilled with v.
func Resolved[T any](v T) *Handle[T] {
	h := NewHandle[T]()
	_ = h.Fulfill(v)
	return h
}

// Failed returns a handle already faulted with err.
func Failed[T any](err error) *Handle[T] {
	h := NewHandle[T]()
	_ = h.Fault(err)
	return h
}

// Fulfill resolves the handle with v.
func (h *Handle[T]) Fulfill(v T) error {
	if !h.state.CompareAndSwap(int32(Pending), int32(resolving)) {
		return h.doubleResolution()
	}
	h.value = v
	h.state.Store(int32(Fulfilled))
	close(h.done)
	return nil
}

// Fault resolves the handle with err. A nil err is replaced by an internal
// error so a faulted handle always carries a cause.
func (h *Handle[T]) Fault(err error) error {
	if !h.state.CompareAndSwap(int32(Pending), int32(resolving)) {
		return h.doubleResolution()
	}
	if err == nil {
		err = errors.Internal(nil).WithDetail("reason", "handle faulted without an error")
	}
	h.err = err
	h.state.Store(int32(Faulted))
	close(h.done)
	return nil
}

func (h *Handle[T]) doubleResolution() error {
	<-h.done
	return errors.DoubleResolution(h.State().String())
}

// Done is closed once the handle is resolved.
func (h *Handle[T]) Done() <-chan struct{} {
	return h.done
}

// State returns the current state. A resolution in progress reads as Pending.
func (h *Handle[T]) State() HandleState {
	s := HandleState(h.state.Load())
	if s == resolving {
		return Pending
	}
	return s
}

// Result returns the resolution without blocking. ok is false while pending.
func (h *Handle[T]) Result() (value T, err error, ok bool) {
	select {
	case <-h.done:
		return h.value, h.err, true
	default:
		return value, nil, false
	}
}

// Wait blocks until the handle is resolved or ctx is done. Giving up only
// stops the caller from waiting; the item keeps flowing through the graph.
func (h *Handle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.value, h.err
	case <-ctx.Done():
		var zero T
		return zero, errors.Timeout("handle.wait").WithCause(ctx.Err())
	}
}
