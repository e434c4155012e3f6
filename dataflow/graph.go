package dataflow

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
)

// Node is a stage of any item types, as held by a Graph.
type Node interface {
	ID() string
	State() StageState
	Stats() StageStats
	Completion() <-chan struct{}
	Wait(ctx context.Context) error
	Complete() error
	Start(ctx context.Context) error
	pendingUpstreams() []string
	configErr() error
	inherit(parent settings)
	hasStarted() bool
}

// Edge describes one link of a graph.
type Edge struct {
	From                string `json:"from"`
	To                  string `json:"to"`
	Predicate           string `json:"predicate"`
	PropagateCompletion bool   `json:"propagate_completion"`
	Result              bool   `json:"result,omitempty"`
}

// Graph is a set of stages and the links between them, with one head and
// one or more terminal stages. Stages and links are fixed once the graph
// starts.
type Graph struct {
	name     string
	settings settings

	mu        sync.Mutex
	stages    map[string]Node
	order     []string
	edges     []Edge
	head      string
	terminals []string
	started   bool
}

// NewGraph creates an empty graph. Options apply to every stage that did
// not set its own.
func NewGraph(name string, opts ...Option) *Graph {
	return &Graph{
		name:     name,
		settings: newSettings(opts),
		stages:   make(map[string]Node),
	}
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// Add registers stages. Adding the same stage twice is a no-op; a
// different stage with a known id is an error.
func (g *Graph) Add(stages ...Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range stages {
		if err := g.addLocked(s); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) addLocked(s Node) error {
	if g.started {
		return errors.InvalidOperation(fmt.Sprintf("graph %q already started", g.name))
	}
	if err := s.configErr(); err != nil {
		return err
	}
	if existing, ok := g.stages[s.ID()]; ok {
		if existing == s {
			return nil
		}
		return graphErrorf(g.name, ErrDuplicateStage, "%q", s.ID())
	}
	s.inherit(g.settings)
	g.stages[s.ID()] = s
	g.order = append(g.order, s.ID())
	return nil
}

func (g *Graph) connect(from, to Node, e Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.addLocked(from); err != nil {
		return err
	}
	if err := g.addLocked(to); err != nil {
		return err
	}
	g.edges = append(g.edges, e)
	return nil
}

// SetHead declares the stage that receives external input.
func (g *Graph) SetHead(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.head = id
}

// SetTerminal declares the terminal stages. By default every stage without
// outgoing links is terminal.
func (g *Graph) SetTerminal(ids ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.terminals = slices.Clone(ids)
}

// Head returns the head stage id.
func (g *Graph) Head() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.head
}

// Terminals returns the declared terminals, or the stages without outgoing
// links when none were declared.
func (g *Graph) Terminals() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.terminalsLocked()
}

func (g *Graph) terminalsLocked() []string {
	if len(g.terminals) > 0 {
		return slices.Clone(g.terminals)
	}
	hasOut := make(map[string]bool, len(g.edges))
	for _, e := range g.edges {
		hasOut[e.From] = true
	}
	var out []string
	for _, id := range g.order {
		if !hasOut[id] {
			out = append(out, id)
		}
	}
	return out
}

// Describe returns the edge list in link order.
func (g *Graph) Describe() []Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.edges)
}

// StageIDs returns stage ids in the order they were added.
func (g *Graph) StageIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.order)
}

// Stats returns a snapshot of every stage's counters.
func (g *Graph) Stats() map[string]StageStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]StageStats, len(g.stages))
	for id, s := range g.stages {
		out[id] = s.Stats()
	}
	return out
}

// Levels groups stages by topological level using Kahn's algorithm.
// Stages within a level keep insertion order.
func (g *Graph) Levels() ([][]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.levelsLocked()
}

func (g *Graph) levelsLocked() ([][]string, error) {
	inDegree := make(map[string]int, len(g.order))
	dependents := make(map[string][]string)
	for _, id := range g.order {
		inDegree[id] = 0
	}
	for _, e := range g.edges {
		inDegree[e.To]++
		dependents[e.From] = append(dependents[e.From], e.To)
	}

	var queue []string
	for _, id := range g.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	var levels [][]string
	visited := 0
	for len(queue) > 0 {
		levels = append(levels, queue)
		visited += len(queue)

		var next []string
		for _, id := range queue {
			for _, dep := range dependents[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		queue = next
	}

	if visited != len(g.order) {
		var stuck []string
		for _, id := range g.order {
			if inDegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		return nil, cycleError(g.name, stuck)
	}
	return levels, nil
}

// Validate checks that the graph is a DAG whose stages are all reachable
// from the head, are all completed through propagating links, all have a
// completion-propagating path to a terminal stage, and have at most one
// result link each.
func (g *Graph) Validate() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.validateLocked()
}

func (g *Graph) validateLocked() error {
	if len(g.order) == 0 {
		return graphErrorf(g.name, ErrMissingHead, "graph has no stages")
	}
	if g.head == "" {
		return graphErrorf(g.name, ErrMissingHead, "no head declared")
	}
	if _, ok := g.stages[g.head]; !ok {
		return graphErrorf(g.name, ErrMissingHead, "head %q is not a stage of the graph", g.head)
	}
	if _, err := g.levelsLocked(); err != nil {
		return err
	}

	terminals := g.terminalsLocked()
	isTerminal := make(map[string]bool, len(terminals))
	for _, id := range terminals {
		if _, ok := g.stages[id]; !ok {
			return graphErrorf(g.name, ErrInvalidTerminal, "terminal %q is not a stage of the graph", id)
		}
		isTerminal[id] = true
	}

	out := make(map[string][]Edge)
	in := make(map[string][]Edge)
	for _, e := range g.edges {
		out[e.From] = append(out[e.From], e)
		in[e.To] = append(in[e.To], e)
	}

	for _, id := range g.order {
		if n := countFunc(out[id], func(e Edge) bool { return e.Result }); n > 1 {
			return graphErrorf(g.name, ErrResultLinks, "stage %q has %d result links", id, n)
		}
	}

	for id := range isTerminal {
		if len(out[id]) > 0 {
			return graphErrorf(g.name, ErrInvalidTerminal, "terminal %q has outgoing links", id)
		}
	}

	reached := map[string]bool{g.head: true}
	queue := []string{g.head}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range out[id] {
			if !reached[e.To] {
				reached[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	for _, id := range g.order {
		if !reached[id] {
			return graphErrorf(g.name, ErrDisconnected, "%q", id)
		}
	}

	for _, id := range g.order {
		if id == g.head {
			continue
		}
		if !slices.ContainsFunc(in[id], func(e Edge) bool { return e.PropagateCompletion }) {
			return graphErrorf(g.name, ErrNoCompletionPath, "stage %q has no completion-propagating inbound link", id)
		}
	}

	completes := make(map[string]bool, len(terminals))
	queue = queue[:0]
	for _, id := range terminals {
		completes[id] = true
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range in[id] {
			if e.PropagateCompletion && !completes[e.From] {
				completes[e.From] = true
				queue = append(queue, e.From)
			}
		}
	}
	for _, id := range g.order {
		if !completes[id] {
			return graphErrorf(g.name, ErrNoCompletionPath, "stage %q has no completion-propagating path to a terminal", id)
		}
	}
	return nil
}

// Start validates the graph and starts every stage, sinks first so no
// stage forwards into one that is not yet running. It starts nothing when
// any stage is already running, for example in another graph.
func (g *Graph) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return errors.InvalidOperation(fmt.Sprintf("graph %q already started", g.name))
	}
	if err := g.validateLocked(); err != nil {
		return err
	}
	for _, id := range g.order {
		if g.stages[id].hasStarted() {
			return errors.InvalidOperation(fmt.Sprintf("stage %q of graph %q already started", id, g.name))
		}
	}
	levels, _ := g.levelsLocked()
	for i := len(levels) - 1; i >= 0; i-- {
		for _, id := range levels[i] {
			if err := g.stages[id].Start(ctx); err != nil {
				return err
			}
		}
	}
	g.started = true
	g.settings.logger().Debug("graph started", logger.Fields(
		logger.FieldGraph, g.name,
		"stages", len(g.order),
		"edges", len(g.edges),
	))
	return nil
}

// Submit is a convenience for feeding the head of graphs whose head
// accepts T.
func Submit[T any](ctx context.Context, g *Graph, item T) error {
	g.mu.Lock()
	head, ok := g.stages[g.head]
	g.mu.Unlock()
	if !ok {
		return graphErrorf(g.name, ErrMissingHead, "no head declared")
	}
	t, ok := head.(Target[T])
	if !ok {
		return errors.InvalidInput("item", fmt.Sprintf("head %q does not accept %T", g.head, item))
	}
	return t.Submit(ctx, item)
}

// Complete declares that no more input will reach the head.
func (g *Graph) Complete() error {
	g.mu.Lock()
	head, ok := g.stages[g.head]
	g.mu.Unlock()
	if !ok {
		return graphErrorf(g.name, ErrMissingHead, "no head declared")
	}
	return head.Complete()
}

// Wait blocks until every terminal stage has completed or ctx is done.
func (g *Graph) Wait(ctx context.Context) error {
	g.mu.Lock()
	terminals := make([]Node, 0, len(g.order))
	for _, id := range g.terminalsLocked() {
		terminals = append(terminals, g.stages[id])
	}
	g.mu.Unlock()

	eg, ctx := errgroup.WithContext(ctx)
	for _, t := range terminals {
		eg.Go(func() error { return t.Wait(ctx) })
	}
	return eg.Wait()
}

// Done reports whether every stage has completed.
func (g *Graph) Done() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.stages {
		if s.State() != Completed {
			return false
		}
	}
	return len(g.stages) > 0
}

// CheckHealth reports the graph as a health component: up while every
// item has succeeded, degraded once an item has faulted, down once the
// graph has finished and can take no more input.
func (g *Graph) CheckHealth(_ context.Context) observability.Health {
	g.mu.Lock()
	defer g.mu.Unlock()

	h := observability.Health{
		Name:    g.name,
		Status:  observability.HealthStatusUp,
		Details: make(map[string]string, len(g.order)),
	}
	var faulted int64
	completed := 0
	for _, id := range g.order {
		s := g.stages[id]
		st := s.Stats()
		faulted += st.Faulted
		if s.State() == Completed {
			completed++
		}
		h.Details[id] = fmt.Sprintf("%s queued=%d in_flight=%d processed=%d faulted=%d",
			s.State(), st.Queued, st.InFlight, st.Processed, st.Faulted)
	}

	switch {
	case !g.started:
		h.Status = observability.HealthStatusDown
		h.Message = "not started"
	case completed == len(g.order):
		h.Status = observability.HealthStatusDown
		h.Message = "completed"
	case faulted > 0:
		h.Status = observability.HealthStatusDegraded
		h.Message = fmt.Sprintf("%d items faulted", faulted)
	}
	return h
}

func countFunc[T any](s []T, f func(T) bool) int {
	n := 0
	for _, v := range s {
		if f(v) {
			n++
		}
	}
	return n
}
