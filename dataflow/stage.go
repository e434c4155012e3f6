package dataflow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
)

// Transform processes one item.
type Transform[In, Out any] func(ctx context.Context, in In) (Out, error)

// StageState is the lifecycle state of a stage.
type StageState int32

const (
	Idle StageState = iota
	Running
	Draining
	Completed
)

func (s StageState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("StageState(%d)", int32(s))
	}
}

// StageStats is a snapshot of a stage's counters.
type StageStats struct {
	Queued       int   `json:"queued"`
	InFlight     int64 `json:"in_flight"`
	Processed    int64 `json:"processed"`
	Faulted      int64 `json:"faulted"`
	PeakInFlight int64 `json:"peak_in_flight"`
}

// Stage runs a transform over its input with a fixed worker pool and an
// optionally bounded queue. Submit blocks while queued plus in-flight items
// equal BoundedCapacity; a slot frees once the item's output has been
// handed to its successors.
type Stage[In, Out any] struct {
	id        string
	transform Transform[In, Out]
	opts      StageOptions
	settings  settings
	err       error

	slots *semaphore.Weighted

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []In
	accepting bool
	started   bool

	links    []*link[Out]
	upstream *tracker

	onFault   func(ctx context.Context, in In, err error) error
	onDiscard func(ctx context.Context, out Out) error

	state     atomic.Int32
	done      chan struct{}
	workers   sync.WaitGroup
	inFlight  atomic.Int64
	peak      atomic.Int64
	processed atomic.Int64
	faulted   atomic.Int64
}

// NewStage creates an idle stage. Invalid options are reported by Start
// and by Graph.Add.
func NewStage[In, Out any](id string, transform Transform[In, Out], opts StageOptions, options ...Option) *Stage[In, Out] {
	s := &Stage[In, Out]{
		id:        id,
		transform: transform,
		opts:      opts.WithDefaults(),
		settings:  newSettings(options),
		accepting: true,
		upstream:  newTracker(),
		done:      make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)

	switch {
	case id == "":
		s.err = errors.Validation("stage id is required")
	case transform == nil:
		s.err = errors.Validation(fmt.Sprintf("stage %q has no transform", id))
	default:
		if err := opts.Validate(); err != nil {
			s.err = fmt.Errorf("stage %q: %w", id, err)
		}
	}
	if s.err == nil && s.opts.BoundedCapacity != Unbounded {
		s.slots = semaphore.NewWeighted(int64(s.opts.BoundedCapacity))
	}
	return s
}

// NewBroadcast creates a stage that forwards every item unchanged, used to
// fan one input out to several links.
func NewBroadcast[T any](id string, opts StageOptions, options ...Option) *Stage[T, T] {
	return NewStage(id, func(_ context.Context, v T) (T, error) { return v, nil }, opts, options...)
}

// NewAction creates a terminal stage that consumes items.
func NewAction[In any](id string, fn func(ctx context.Context, in In) error, opts StageOptions, options ...Option) *Stage[In, struct{}] {
	var transform Transform[In, struct{}]
	if fn != nil {
		transform = func(ctx context.Context, in In) (struct{}, error) { return struct{}{}, fn(ctx, in) }
	}
	return NewStage(id, transform, opts, options...)
}

// ID returns the stage id.
func (s *Stage[In, Out]) ID() string { return s.id }

// Options returns the effective stage options.
func (s *Stage[In, Out]) Options() StageOptions { return s.opts }

// OnFault sets the handler called with the input of a failed item: a
// transform failure, a recovered panic or a delivery to a stage that no
// longer accepts input. An error returned by the handler is logged, and
// counted when it is a double resolution. Without a handler, an input that
// carries a handle, such as an Envelope, is faulted. Must be set before
// Start.
func (s *Stage[In, Out]) OnFault(fn func(ctx context.Context, in In, err error) error) *Stage[In, Out] {
	s.onFault = fn
	return s
}

// OnDiscard sets the handler called with an output that no outgoing link
// accepted. Without a handler, an output that carries a handle is faulted
// with an unrouted error. Must be set before Start.
func (s *Stage[In, Out]) OnDiscard(fn func(ctx context.Context, out Out) error) *Stage[In, Out] {
	s.onDiscard = fn
	return s
}

// State returns the lifecycle state.
func (s *Stage[In, Out]) State() StageState {
	return StageState(s.state.Load())
}

// Stats returns a snapshot of the stage counters.
func (s *Stage[In, Out]) Stats() StageStats {
	s.mu.Lock()
	queued := len(s.queue)
	s.mu.Unlock()
	return StageStats{
		Queued:       queued,
		InFlight:     s.inFlight.Load(),
		Processed:    s.processed.Load(),
		Faulted:      s.faulted.Load(),
		PeakInFlight: s.peak.Load(),
	}
}

// Completion is closed once the stage is Completed.
func (s *Stage[In, Out]) Completion() <-chan struct{} {
	return s.done
}

// Wait blocks until the stage completes or ctx is done.
func (s *Stage[In, Out]) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit enqueues an item, blocking while the stage is at capacity. It
// fails with ErrStageCompleted once the stage stopped accepting input and
// with ctx's error if the caller gives up waiting for a slot.
func (s *Stage[In, Out]) Submit(ctx context.Context, item In) error {
	if s.err != nil {
		return s.err
	}
	if !s.isAccepting() {
		return errors.StageCompleted(s.id)
	}
	if s.slots != nil {
		if err := s.slots.Acquire(ctx, 1); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if !s.accepting {
		s.mu.Unlock()
		s.release()
		return errors.StageCompleted(s.id)
	}
	s.queue = append(s.queue, item)
	s.cond.Signal()
	s.mu.Unlock()
	return nil
}

// Complete declares that no more input will arrive. Stages fed by
// completion-propagating links are completed by their upstreams instead,
// and calling Complete on them is an invalid operation.
func (s *Stage[In, Out]) Complete() error {
	if n := s.upstream.size(); n > 0 {
		return errors.InvalidOperation(fmt.Sprintf("stage %q completes when its %d upstream stages complete", s.id, n))
	}
	s.beginDrain()
	return nil
}

// Start launches the workers. The context supplies values such as the
// logger and trace parent; canceling it does not stop the stage.
func (s *Stage[In, Out]) Start(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.InvalidOperation(fmt.Sprintf("stage %q already started", s.id))
	}
	s.started = true
	s.setState(ctx, Running)
	if !s.accepting {
		s.setState(ctx, Draining)
	}
	s.mu.Unlock()

	base := context.WithoutCancel(ctx)
	s.workers.Add(s.opts.MaxDegreeOfParallelism)
	for i := 0; i < s.opts.MaxDegreeOfParallelism; i++ {
		go s.work(base)
	}
	go func() {
		s.workers.Wait()
		s.finish(base)
	}()
	return nil
}

func (s *Stage[In, Out]) isAccepting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepting
}

func (s *Stage[In, Out]) release() {
	if s.slots != nil {
		s.slots.Release(1)
	}
}

func (s *Stage[In, Out]) beginDrain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accepting {
		return
	}
	s.accepting = false
	if s.started {
		s.setState(context.Background(), Draining)
	}
	s.cond.Broadcast()
}

// setState is called with s.mu held, except from finish which runs after
// every worker has exited.
func (s *Stage[In, Out]) setState(ctx context.Context, next StageState) {
	s.state.Store(int32(next))
	s.settings.logger().Debug("stage state changed", logger.StageFields(s.id, logger.FieldState, next.String()))
	if m := s.settings.metrics; m != nil {
		m.RecordStateChange(ctx, s.id, next.String())
	}
}

func (s *Stage[In, Out]) finish(ctx context.Context) {
	s.setState(ctx, Completed)
	close(s.done)

	notified := make(map[string]bool, len(s.links))
	for _, l := range s.links {
		if !l.propagate || notified[l.to] {
			continue
		}
		notified[l.to] = true
		l.target.upstreamDone(s.id)
	}
}

func (s *Stage[In, Out]) work(ctx context.Context) {
	defer s.workers.Done()
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && s.accepting {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		item := s.queue[0]
		var zero In
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.process(ctx, item)
		s.release()
	}
}

type traced interface{ traceID() string }

func (s *Stage[In, Out]) process(ctx context.Context, item In) {
	ctx = logger.ContextWithStage(ctx, s.id)
	if t, ok := any(item).(traced); ok {
		ctx = logger.ContextWithTraceID(ctx, t.traceID())
	}

	var span trace.Span
	if s.settings.traceEnabled {
		ctx, span = observability.StartSpan(ctx, s.settings.tracePrefix+"."+s.id)
		observability.SetSpanAttribute(ctx, observability.AttrStage, s.id)
		if id, ok := logger.TraceIDFromContext(ctx); ok {
			observability.SetSpanAttribute(ctx, observability.AttrTraceID, id)
		}
		defer span.End()
	}

	n := s.inFlight.Add(1)
	for peak := s.peak.Load(); n > peak && !s.peak.CompareAndSwap(peak, n); peak = s.peak.Load() {
	}
	if m := s.settings.metrics; m != nil {
		m.RecordStart(ctx, s.id)
	}

	start := time.Now()
	out, err := s.invoke(ctx, item)
	s.inFlight.Add(-1)

	status := observability.StatusOK
	if err != nil {
		status = observability.StatusFaulted
		err = errors.TransformFailure(s.id, err)
		if s.settings.traceEnabled {
			observability.SetSpanError(ctx, err)
		}
	}
	if m := s.settings.metrics; m != nil {
		m.RecordItem(ctx, s.id, status, time.Since(start))
	}

	if err != nil {
		s.fault(ctx, item, err)
		return
	}
	s.processed.Add(1)
	s.forward(ctx, item, out)
}

func (s *Stage[In, Out]) invoke(ctx context.Context, item In) (out Out, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.transform(ctx, item)
}

// faultable is implemented by items that carry a completion handle.
type faultable interface{ Fault(err error) error }

// detachable is implemented by items whose handle must not be shared
// between branches.
type detachable interface{ detached() any }

// forward offers out to every link in insertion order. Each accepting link
// receives its own copy. Only one of them, the first accepting result link
// or else the first accepting link, keeps out's handle; the others get a
// copy with a detached handle.
func (s *Stage[In, Out]) forward(ctx context.Context, in In, out Out) {
	if len(s.links) == 0 {
		return
	}
	accepting := make([]*link[Out], 0, len(s.links))
	keeper := -1
	for _, l := range s.links {
		if !l.accepts(out) {
			continue
		}
		if l.result && keeper < 0 {
			keeper = len(accepting)
		}
		accepting = append(accepting, l)
	}
	if len(accepting) == 0 {
		s.discard(ctx, out)
		return
	}
	if keeper < 0 {
		keeper = 0
	}

	for i, l := range accepting {
		v, detached := out, false
		if d, ok := any(out).(detachable); ok && i != keeper {
			v, detached = d.detached().(Out), true
		}
		err := l.target.Submit(ctx, l.copy(v))
		switch {
		case err == nil:
		case detached:
			s.recordFault(ctx, err)
			_ = any(v).(faultable).Fault(err)
		default:
			s.fault(ctx, in, err)
		}
	}
}

func (s *Stage[In, Out]) discard(ctx context.Context, out Out) {
	if s.onDiscard != nil {
		s.report(ctx, s.onDiscard(ctx, out))
		return
	}
	s.settings.logger().WithContext(ctx).Debug("item not routed", logger.StageFields(s.id))
	if f, ok := any(out).(faultable); ok {
		s.report(ctx, f.Fault(errors.Unrouted(s.id)))
	}
}

func (s *Stage[In, Out]) recordFault(ctx context.Context, err error) {
	s.faulted.Add(1)
	if m := s.settings.metrics; m != nil {
		m.RecordFault(ctx, s.id, string(errors.CodeOf(err)))
	}
	s.settings.logger().WithContext(ctx).Error("stage item faulted", logger.WithError(logger.StageFields(s.id), err))
}

// fault hands a failed item to OnFault. Without a handler, an item that
// carries a handle is faulted with err, unless err already is a double
// resolution of that handle.
func (s *Stage[In, Out]) fault(ctx context.Context, in In, err error) {
	s.recordFault(ctx, err)
	switch f, ok := any(in).(faultable); {
	case s.onFault != nil:
		s.report(ctx, s.onFault(ctx, in, err))
	case isDoubleResolution(err):
		s.report(ctx, err)
	case ok:
		s.report(ctx, f.Fault(err))
	}
}

// report surfaces an error returned by a fault or discard handler.
func (s *Stage[In, Out]) report(ctx context.Context, err error) {
	if err == nil {
		return
	}
	log := s.settings.logger().WithContext(ctx)
	if isDoubleResolution(err) {
		if m := s.settings.metrics; m != nil {
			m.RecordDoubleResolution(ctx, s.id)
		}
		log.Error("completion handle resolved twice", logger.WithError(logger.StageFields(s.id), err))
		return
	}
	log.Error("fault handler failed", logger.WithError(logger.StageFields(s.id), err))
}

func (s *Stage[In, Out]) upstreamDone(id string) {
	all, err := s.upstream.markDone(id)
	if err != nil {
		s.settings.logger().Error("invalid completion notice", logger.WithError(logger.StageFields(s.id), err))
		return
	}
	if all {
		s.beginDrain()
	}
}

func (s *Stage[In, Out]) addUpstream(id string) { s.upstream.register(id) }

func (s *Stage[In, Out]) pendingUpstreams() []string { return s.upstream.pending() }

func (s *Stage[In, Out]) configErr() error { return s.err }

func (s *Stage[In, Out]) inherit(parent settings) { s.settings.inherit(parent) }

func (s *Stage[In, Out]) hasStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}
