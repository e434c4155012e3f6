package dataflow

import (
	"context"

	"github.com/google/uuid"

	"github.com/kbukum/flowkit/errors"
)

// Envelope carries one payload through a graph together with the handle
// that reports the item's final result. The envelope owns its handle:
// Forward moves it onto the next payload and the previous envelope must not
// be used again. When a stage broadcasts an envelope, only one branch keeps
// the handle (see AsResult). A stage with no fault or discard handler
// faults the handle of a failed or unrouted envelope.
type Envelope[T, R any] struct {
	Payload T
	TraceID string
	handle  *Handle[R]
}

// NewEnvelope wraps payload with a fresh pending handle and trace id.
func NewEnvelope[T, R any](payload T) Envelope[T, R] {
	return Envelope[T, R]{
		Payload: payload,
		TraceID: uuid.NewString(),
		handle:  NewHandle[R](),
	}
}

// Forward moves e's handle and trace id onto a new payload.
func Forward[T, U, R any](e Envelope[T, R], payload U) Envelope[U, R] {
	return Envelope[U, R]{Payload: payload, TraceID: e.TraceID, handle: e.handle}
}

// Complete fulfills the envelope's handle with its payload.
func Complete[R any](e Envelope[R, R]) error {
	return e.handle.Fulfill(e.Payload)
}

// Fault resolves the envelope's handle with err.
func (e Envelope[T, R]) Fault(err error) error {
	return e.handle.Fault(err)
}

// Handle returns the envelope's completion handle.
func (e Envelope[T, R]) Handle() *Handle[R] {
	return e.handle
}

// detached returns a copy of e with a fresh handle nobody waits on, sent
// down branches that do not produce the result.
func (e Envelope[T, R]) detached() any {
	e.handle = NewHandle[R]()
	return e
}

func (e Envelope[T, R]) traceID() string {
	return e.TraceID
}

// FaultUnrouted returns a discard handler for envelope stages that faults
// the handle of every output no link accepted. Stages without a discard
// handler already do this; use it to restore the default on a stage
// shared with other item types.
//
//	s.OnDiscard(dataflow.FaultUnrouted[Order, Receipt](s.ID()))
func FaultUnrouted[T, R any](stage string) func(context.Context, Envelope[T, R]) error {
	return func(_ context.Context, e Envelope[T, R]) error {
		return e.Fault(errors.Unrouted(stage))
	}
}
