package dataflow

import "context"

// Source is a stage whose outputs of type T can be linked onward.
type Source[T any] interface {
	ID() string
	addLink(l *link[T])
}

// Target is a stage that accepts items of type T.
type Target[T any] interface {
	ID() string
	Submit(ctx context.Context, item T) error
	addUpstream(id string)
	upstreamDone(id string)
}

// AlwaysName is the predicate name of links without a predicate.
const AlwaysName = "always"

type link[T any] struct {
	from, to  string
	name      string
	predicate func(T) bool
	clone     func(T) T
	propagate bool
	result    bool
	target    Target[T]
}

func (l *link[T]) accepts(v T) bool {
	return l.predicate == nil || l.predicate(v)
}

func (l *link[T]) copy(v T) T {
	if l.clone == nil {
		return v
	}
	return l.clone(v)
}

// LinkOption configures a link.
type LinkOption[T any] func(*link[T])

// When restricts the link to items accepted by predicate. The name shows
// up in Graph.Describe.
func When[T any](name string, predicate func(T) bool) LinkOption[T] {
	return func(l *link[T]) {
		l.name = name
		l.predicate = predicate
	}
}

// WithoutCompletion makes the link carry items but not completion. The
// target must still be completed through another link.
func WithoutCompletion[T any]() LinkOption[T] {
	return func(l *link[T]) { l.propagate = false }
}

// AsResult marks the link as the branch that carries the result of
// envelopes broadcast by its source: copies sent down the source's other
// links get a detached handle. A stage may have at most one result link.
// Without one, the first accepting link keeps the handle.
func AsResult[T any]() LinkOption[T] {
	return func(l *link[T]) { l.result = true }
}

// WithClone copies each item before it crosses the link, for payloads that
// successors must not share.
func WithClone[T any](clone func(T) T) LinkOption[T] {
	return func(l *link[T]) { l.clone = clone }
}

func (s *Stage[In, Out]) addLink(l *link[Out]) {
	s.links = append(s.links, l)
}

// Link connects from's output to to's input and records the edge in g,
// adding either stage to g if needed. Links must be created before the
// graph starts.
func Link[T any](g *Graph, from Source[T], to Target[T], opts ...LinkOption[T]) error {
	l := &link[T]{
		from:      from.ID(),
		to:        to.ID(),
		name:      AlwaysName,
		propagate: true,
		target:    to,
	}
	for _, opt := range opts {
		opt(l)
	}

	fromNode, ok := from.(Node)
	if !ok {
		return graphErrorf(g.name, ErrGraphConfiguration, "source %q is not a stage", l.from)
	}
	toNode, ok := to.(Node)
	if !ok {
		return graphErrorf(g.name, ErrGraphConfiguration, "target %q is not a stage", l.to)
	}
	if err := g.connect(fromNode, toNode, Edge{
		From:                l.from,
		To:                  l.to,
		Predicate:           l.name,
		PropagateCompletion: l.propagate,
		Result:              l.result,
	}); err != nil {
		return err
	}

	from.addLink(l)
	if l.propagate {
		to.addUpstream(l.from)
	}
	return nil
}
