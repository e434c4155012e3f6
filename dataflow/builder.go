package dataflow

import (
	"context"
	"fmt"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
)

type stepKind int

const (
	syncStep stepKind = iota
	asyncStep
)

func (k stepKind) String() string {
	if k == asyncStep {
		return "async"
	}
	return "sync"
}

// Builder assembles a linear pipeline from In to Out. Cur is the output
// type of the last declared step. Steps are added with the package-level
// AddStep and AddAsyncStep functions and the pipeline is created by Build.
type Builder[In, Out, Cur any] struct {
	state *buildState[In, Out]
	// exactly one of tail and asyncTail is set once a step was declared
	tail      Source[Envelope[Cur, Out]]
	asyncTail Source[Envelope[*Handle[Cur], Out]]
	asyncOpts StageOptions
}

type buildState[In, Out any] struct {
	name  string
	graph *Graph
	head  Target[Envelope[In, Out]]
	kinds []stepKind
	err   error
}

// NewBuilder starts a pipeline named name. Options apply to every stage.
func NewBuilder[In, Out any](name string, opts ...Option) *Builder[In, Out, In] {
	return &Builder[In, Out, In]{
		state: &buildState[In, Out]{
			name:  name,
			graph: NewGraph(name, opts...),
		},
	}
}

// Steps returns the declared step kinds in order.
func (b *Builder[In, Out, Cur]) Steps() []string {
	out := make([]string, len(b.state.kinds))
	for i, k := range b.state.kinds {
		out[i] = k.String()
	}
	return out
}

// AddStep appends a synchronous step. A builder is consumed by the call
// that extends it; branching topologies are wired with Link instead.
func AddStep[In, Out, A, B any](b *Builder[In, Out, A], fn func(ctx context.Context, in A) (B, error), opts ...StageOptions) *Builder[In, Out, B] {
	next := &Builder[In, Out, B]{state: b.state}
	if b.state.err != nil {
		return next
	}
	if fn == nil {
		b.state.err = errors.Validation(fmt.Sprintf("step %d of %q has no transform", len(b.state.kinds)+1, b.state.name))
		return next
	}

	id := b.state.stepID("step")
	stage := NewStage(id, func(ctx context.Context, e Envelope[A, Out]) (Envelope[B, Out], error) {
		v, err := fn(ctx, e.Payload)
		if err != nil {
			return Envelope[B, Out]{}, err
		}
		return Forward(e, v), nil
	}, stageOptions(opts))

	if err := b.attach(stage); err != nil {
		b.state.err = err
		return next
	}
	b.state.kinds = append(b.state.kinds, syncStep)
	next.tail = stage
	return next
}

// AddAsyncStep appends a step whose result arrives through a Handle. The
// step that follows it sees the resolved value: Build inserts a stage that
// awaits the handle.
func AddAsyncStep[In, Out, A, B any](b *Builder[In, Out, A], fn func(ctx context.Context, in A) *Handle[B], opts ...StageOptions) *Builder[In, Out, B] {
	next := &Builder[In, Out, B]{state: b.state, asyncOpts: stageOptions(opts)}
	if b.state.err != nil {
		return next
	}
	if fn == nil {
		b.state.err = errors.Validation(fmt.Sprintf("step %d of %q has no transform", len(b.state.kinds)+1, b.state.name))
		return next
	}

	id := b.state.stepID("async")
	stage := NewStage(id, func(ctx context.Context, e Envelope[A, Out]) (Envelope[*Handle[B], Out], error) {
		h := fn(ctx, e.Payload)
		if h == nil {
			return Envelope[*Handle[B], Out]{}, errors.Internal(nil).WithDetail("reason", "async step returned a nil handle")
		}
		return Forward(e, h), nil
	}, next.asyncOpts)

	if err := b.attach(stage); err != nil {
		b.state.err = err
		return next
	}
	b.state.kinds = append(b.state.kinds, asyncStep)
	next.asyncTail = stage
	return next
}

type inputStage[T any] interface {
	Target[T]
	Node
}

// attach links stage after the current tail, or makes it the head when no
// step was declared yet.
func (b *Builder[In, Out, Cur]) attach(stage inputStage[Envelope[Cur, Out]]) error {
	s := b.state
	src, err := b.source()
	if err != nil {
		return err
	}
	if src == nil {
		// Cur is In until the first step is declared.
		head, ok := any(stage).(Target[Envelope[In, Out]])
		if !ok {
			return errors.Internal(fmt.Errorf("head of %q does not accept the pipeline input", s.name))
		}
		if err := s.graph.Add(stage); err != nil {
			return err
		}
		s.head = head
		s.graph.SetHead(stage.ID())
		return nil
	}
	return Link[Envelope[Cur, Out]](s.graph, src, stage)
}

// source returns the stage producing Cur values, inserting a stage that
// awaits the handle when the last declared step is async.
func (b *Builder[In, Out, Cur]) source() (Source[Envelope[Cur, Out]], error) {
	if b.tail != nil || b.asyncTail == nil {
		return b.tail, nil
	}
	await := NewStage(fmt.Sprintf("%s.%d-await", b.state.name, len(b.state.kinds)),
		func(ctx context.Context, e Envelope[*Handle[Cur], Out]) (Envelope[Cur, Out], error) {
			v, err := e.Payload.Wait(ctx)
			if err != nil {
				return Envelope[Cur, Out]{}, err
			}
			return Forward(e, v), nil
		}, b.asyncOpts)
	if err := Link[Envelope[*Handle[Cur], Out]](b.state.graph, b.asyncTail, await); err != nil {
		return nil, err
	}
	b.tail, b.asyncTail = await, nil
	return await, nil
}

// Build appends the stage that fulfills each envelope's handle, validates
// the graph and starts it.
func Build[In, Out any](b *Builder[In, Out, Out]) (*Pipeline[In, Out], error) {
	s := b.state
	if s.err != nil {
		return nil, s.err
	}
	if len(s.kinds) == 0 {
		return nil, graphErrorf(s.name, ErrEmptyPipeline, "add at least one step before Build")
	}

	done := NewAction(s.name+".complete", func(_ context.Context, e Envelope[Out, Out]) error {
		return Complete(e)
	}, StageOptions{})
	if err := b.attach(done); err != nil {
		return nil, err
	}

	s.graph.SetTerminal(done.ID())
	if err := s.graph.Start(context.Background()); err != nil {
		return nil, err
	}
	return &Pipeline[In, Out]{name: s.name, graph: s.graph, head: s.head}, nil
}

func (s *buildState[In, Out]) stepID(kind string) string {
	return fmt.Sprintf("%s.%d-%s", s.name, len(s.kinds)+1, kind)
}

func stageOptions(opts []StageOptions) StageOptions {
	if len(opts) == 0 {
		return DefaultStageOptions()
	}
	return opts[0]
}

// Pipeline is a started linear graph that resolves one handle per input.
type Pipeline[In, Out any] struct {
	name  string
	graph *Graph
	head  Target[Envelope[In, Out]]
}

// Execute wraps input in a new envelope and submits it to the head,
// blocking while the head is at capacity. The returned handle resolves with
// the last step's output or with the first fault. A submission failure
// faults the handle. A trace id already carried by ctx is reused for the
// envelope.
func (p *Pipeline[In, Out]) Execute(ctx context.Context, input In) *Handle[Out] {
	e := NewEnvelope[In, Out](input)
	if id, ok := logger.TraceIDFromContext(ctx); ok && id != "" {
		e.TraceID = id
	}
	if err := p.head.Submit(ctx, e); err != nil {
		if isStageCompleted(err) {
			err = errors.ServiceUnavailable("pipeline " + p.name).WithCause(err)
		}
		_ = e.Fault(err)
		p.graph.settings.logger().WithContext(logger.ContextWithTraceID(ctx, e.TraceID)).
			Warn("pipeline submission failed", logger.WithError(logger.Fields(logger.FieldGraph, p.name), err))
	}
	return e.Handle()
}

// ExecuteWait executes input and waits for its result.
func (p *Pipeline[In, Out]) ExecuteWait(ctx context.Context, input In) (Out, error) {
	return p.Execute(ctx, input).Wait(ctx)
}

// Close stops accepting input and waits for in-flight items to finish.
func (p *Pipeline[In, Out]) Close(ctx context.Context) error {
	if err := p.graph.Complete(); err != nil {
		return err
	}
	return p.graph.Wait(ctx)
}

// Graph returns the underlying graph for inspection.
func (p *Pipeline[In, Out]) Graph() *Graph { return p.graph }

// Name returns the pipeline name.
func (p *Pipeline[In, Out]) Name() string { return p.name }
