package wordflow

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kbukum/flowkit/dataflow"
	"github.com/kbukum/flowkit/errors"
)

// MinFilterLength is the shortest fragment the fan-out filter keeps.
const MinFilterLength = 3

// Separators are the split points of the fan-out splitters, in order.
var Separators = []string{" ", "_", "="}

var separatorNames = map[string]string{" ": "space", "_": "underscore", "=": "equals"}

// Split breaks text on sep and drops empty fragments.
func Split(text, sep string) []string {
	parts := strings.Split(text, sep)
	return slices.DeleteFunc(parts, func(p string) bool { return p == "" })
}

// FanoutOptions sizes the stages of the fan-out topology by layer.
type FanoutOptions struct {
	Splitter  dataflow.StageOptions `yaml:"splitter" mapstructure:"splitter"`
	Filter    dataflow.StageOptions `yaml:"filter" mapstructure:"filter"`
	Crawler   dataflow.StageOptions `yaml:"crawler" mapstructure:"crawler"`
	Appraiser dataflow.StageOptions `yaml:"appraiser" mapstructure:"appraiser"`
	Sink      dataflow.StageOptions `yaml:"sink" mapstructure:"sink"`
}

// FanoutResult is what one fan-out run produced.
type FanoutResult struct {
	// Items are the appraised strings in sorted order.
	Items []string `json:"items"`
	// PerAppraiser counts the items each appraiser emitted, keyed by tag.
	PerAppraiser map[string]int `json:"per_appraiser"`
	// Unique is the number of distinct fragments that passed the filter.
	Unique int `json:"unique"`
	// Faulted is the number of items that faulted in any stage.
	Faulted int64 `json:"faulted"`
}

// Fanout is a single-use topology: input broadcast, three splitters, a
// shared dedup filter, a broadcast into three crawlers, a broadcast per
// crawler into two appraisers each, and one sink fed by all six.
type Fanout struct {
	graph  *dataflow.Graph
	sink   *dataflow.Stage[[]string, struct{}]
	tags   []string
	counts map[string]*atomic.Int64
	ran    atomic.Bool

	mu    sync.Mutex
	seen  map[string]struct{}
	items []string

	// gate runs before each appraisal; tests use it to hold an appraiser.
	gate func(ctx context.Context, tag string)
}

// NewFanout wires the topology. It is started by Run.
func NewFanout(opts FanoutOptions, options ...dataflow.Option) (*Fanout, error) {
	f := &Fanout{
		graph:  dataflow.NewGraph("fanout", options...),
		counts: make(map[string]*atomic.Int64),
		seen:   make(map[string]struct{}),
	}
	g := f.graph

	input := dataflow.NewBroadcast[string]("input", dataflow.StageOptions{})
	filter := dataflow.NewStage("filter", f.filter, opts.Filter)
	spread := dataflow.NewBroadcast[[]string]("spread", dataflow.StageOptions{})
	sink := dataflow.NewAction("consume", f.consume, opts.Sink)
	f.sink = sink

	if err := g.Add(input); err != nil {
		return nil, err
	}
	g.SetHead(input.ID())
	g.SetTerminal(sink.ID())

	for _, sep := range Separators {
		splitter := dataflow.NewStage("split-"+separatorNames[sep], func(_ context.Context, text string) ([]string, error) {
			return Split(text, sep), nil
		}, opts.Splitter)
		if err := dataflow.Link(g, input, splitter); err != nil {
			return nil, err
		}
		if err := dataflow.Link(g, splitter, filter); err != nil {
			return nil, err
		}
	}
	nonEmpty := dataflow.When("non-empty", func(b []string) bool { return len(b) > 0 })
	if err := dataflow.Link(g, filter, spread, nonEmpty); err != nil {
		return nil, err
	}

	for i, kind := range []Kind{KindLength, KindText, KindScore} {
		crawler := dataflow.NewStage("crawl-"+kind.String(), func(_ context.Context, words []string) (Batch, error) {
			return Crawl(kind, words)
		}, opts.Crawler)
		fan := dataflow.NewBroadcast[Batch]("fan-"+kind.String(), dataflow.StageOptions{})
		if err := dataflow.Link(g, spread, crawler); err != nil {
			return nil, err
		}
		if err := dataflow.Link(g, crawler, fan); err != nil {
			return nil, err
		}
		ofKind := dataflow.When(kind.String(), func(b Batch) bool { return b.Kind() == kind })
		for j := 1; j <= 2; j++ {
			tag := fmt.Sprintf("%d%d", i+1, j)
			f.tags = append(f.tags, tag)
			f.counts[tag] = new(atomic.Int64)
			appraiser := dataflow.NewStage("appraise-"+tag, f.appraiser(tag), opts.Appraiser)
			if err := dataflow.Link(g, fan, appraiser, ofKind); err != nil {
				return nil, err
			}
			if err := dataflow.Link(g, appraiser, sink); err != nil {
				return nil, err
			}
		}
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Graph returns the underlying graph.
func (f *Fanout) Graph() *dataflow.Graph { return f.graph }

// Tags returns the appraiser tags in wiring order.
func (f *Fanout) Tags() []string { return slices.Clone(f.tags) }

func (f *Fanout) filter(_ context.Context, words []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, w := range words {
		if CountChars(w) < MinFilterLength {
			continue
		}
		if _, dup := f.seen[w]; dup {
			continue
		}
		f.seen[w] = struct{}{}
		out = append(out, w)
	}
	return out, nil
}

func (f *Fanout) appraiser(tag string) dataflow.Transform[Batch, []string] {
	return func(ctx context.Context, batch Batch) ([]string, error) {
		if f.gate != nil {
			f.gate(ctx, tag)
		}
		out := make([]string, 0, len(batch))
		for _, d := range batch {
			s, err := Appraise(tag, d)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		f.counts[tag].Add(int64(len(out)))
		return out, nil
	}
}

func (f *Fanout) consume(_ context.Context, items []string) error {
	f.mu.Lock()
	f.items = append(f.items, items...)
	f.mu.Unlock()
	return nil
}

// Run starts the topology, feeds it inputs, completes it and waits for the
// sink. A Fanout runs once.
func (f *Fanout) Run(ctx context.Context, inputs ...string) (*FanoutResult, error) {
	if !f.ran.CompareAndSwap(false, true) {
		return nil, errors.InvalidOperation("fanout already ran")
	}
	if err := f.graph.Start(ctx); err != nil {
		return nil, err
	}
	for _, in := range inputs {
		if err := dataflow.Submit(ctx, f.graph, in); err != nil {
			_ = f.graph.Complete()
			return nil, err
		}
	}
	if err := f.graph.Complete(); err != nil {
		return nil, err
	}
	if err := f.graph.Wait(ctx); err != nil {
		return nil, err
	}
	return f.result(), nil
}

func (f *Fanout) result() *FanoutResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := &FanoutResult{
		Items:        slices.Sorted(slices.Values(f.items)),
		PerAppraiser: make(map[string]int, len(f.counts)),
		Unique:       len(f.seen),
	}
	for tag, n := range f.counts {
		res.PerAppraiser[tag] = int(n.Load())
	}
	for _, st := range f.graph.Stats() {
		res.Faulted += st.Faulted
	}
	return res
}

// RunFanout builds a fresh topology and runs it over inputs.
func RunFanout(ctx context.Context, opts FanoutOptions, inputs []string, options ...dataflow.Option) (*FanoutResult, error) {
	f, err := NewFanout(opts, options...)
	if err != nil {
		return nil, err
	}
	return f.Run(ctx, inputs...)
}
