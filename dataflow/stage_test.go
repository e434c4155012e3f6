package dataflow

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
)

var quiet = WithLogger(logger.Nop())

// collector is a terminal stage recording what it receives.
type collector[T any] struct {
	*Stage[T, struct{}]
	mu    sync.Mutex
	items []T
}

func newCollector[T any](id string) *collector[T] {
	c := &collector[T]{}
	c.Stage = NewAction(id, func(_ context.Context, v T) error {
		c.mu.Lock()
		c.items = append(c.items, v)
		c.mu.Unlock()
		return nil
	}, StageOptions{}, quiet)
	return c
}

func (c *collector[T]) received() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.items)
}

func mustStart(t *testing.T, g *Graph) {
	t.Helper()
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStageOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    StageOptions
		want    StageOptions
		wantErr bool
	}{
		{"zero value defaults", StageOptions{}, StageOptions{1, Unbounded}, false},
		{"bounded", StageOptions{3, 5}, StageOptions{3, 5}, false},
		{"unbounded explicit", StageOptions{2, Unbounded}, StageOptions{2, Unbounded}, false},
		{"negative parallelism", StageOptions{-1, 5}, StageOptions{-1, 5}, true},
		{"invalid capacity", StageOptions{1, -5}, StageOptions{1, -5}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.opts.WithDefaults(); got != tc.want {
				t.Errorf("expected %+v, got %+v", tc.want, got)
			}
			err := tc.opts.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("expected error=%v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestNewStage_InvalidConfiguration(t *testing.T) {
	s := NewStage("bad", func(_ context.Context, v int) (int, error) { return v, nil }, StageOptions{BoundedCapacity: -3}, quiet)
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail for invalid options")
	}
	if err := s.Submit(context.Background(), 1); err == nil {
		t.Fatal("expected submit to fail for invalid options")
	}
	if err := NewGraph("g").Add(s); err == nil {
		t.Fatal("expected graph add to fail for invalid options")
	}

	noID := NewStage("", func(_ context.Context, v int) (int, error) { return v, nil }, StageOptions{})
	if noID.Start(context.Background()) == nil {
		t.Error("expected error for empty id")
	}
}

func TestStage_StateMachine(t *testing.T) {
	s := NewAction("sink", func(context.Context, int) error { return nil }, StageOptions{}, quiet)
	if s.State() != Idle {
		t.Fatalf("expected idle, got %s", s.State())
	}

	// items submitted before start wait in the queue
	if err := s.Submit(context.Background(), 1); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.State() != Running {
		t.Fatalf("expected running, got %s", s.State())
	}
	if err := s.Start(context.Background()); !stderrors.Is(err, ErrInvalidOperation) {
		t.Errorf("expected invalid operation on second start, got %v", err)
	}

	if err := s.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if s.State() != Completed {
		t.Errorf("expected completed, got %s", s.State())
	}
	if s.Stats().Processed != 1 {
		t.Errorf("expected 1 processed, got %d", s.Stats().Processed)
	}
	if err := s.Submit(context.Background(), 2); !stderrors.Is(err, ErrStageCompleted) {
		t.Errorf("expected stage completed, got %v", err)
	}
	if err := s.Complete(); err != nil {
		t.Errorf("completing twice should be a no-op, got %v", err)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) states(t *testing.T) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var states []string
	for _, line := range bytes.Split(bytes.TrimSpace(b.buf.Bytes()), []byte("\n")) {
		var entry struct {
			Message string `json:"message"`
			State   string `json:"state"`
		}
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		if entry.Message == "stage state changed" {
			states = append(states, entry.State)
		}
	}
	return states
}

func TestStage_CompleteBeforeStart(t *testing.T) {
	out := &syncBuffer{}
	s := NewAction("sink", func(context.Context, int) error { return nil }, StageOptions{},
		WithLogger(logger.NewWithWriter(out, "debug", "test")))

	if err := s.Submit(context.Background(), 1); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := s.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if s.State() != Idle {
		t.Fatalf("expected idle until started, got %s", s.State())
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if s.Stats().Processed != 1 {
		t.Errorf("expected queued item to drain, got %d processed", s.Stats().Processed)
	}

	want := []string{Running.String(), Draining.String(), Completed.String()}
	if got := out.states(t); !slices.Equal(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
}

func TestStage_MaxDegreeOfParallelism(t *testing.T) {
	const workers = 3
	var current, peak atomic.Int64

	s := NewAction("count", func(context.Context, int) error {
		n := current.Add(1)
		for p := peak.Load(); n > p && !peak.CompareAndSwap(p, n); p = peak.Load() {
		}
		time.Sleep(2 * time.Millisecond)
		current.Add(-1)
		return nil
	}, StageOptions{MaxDegreeOfParallelism: workers, BoundedCapacity: 5}, quiet)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if err := s.Submit(context.Background(), i); err != nil {
					t.Errorf("submit: %v", err)
				}
			}
		}()
	}
	wg.Wait()
	_ = s.Complete()
	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if got := peak.Load(); got > workers || got < 1 {
		t.Errorf("expected between 1 and %d concurrent transforms, observed %d", workers, got)
	}
	stats := s.Stats()
	if stats.PeakInFlight > workers {
		t.Errorf("stage reported %d concurrent transforms, limit %d", stats.PeakInFlight, workers)
	}
	if stats.Processed != 100 {
		t.Errorf("expected 100 processed, got %d", stats.Processed)
	}
}

func TestStage_SubmitBlocksAtCapacity(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan int, 10)
	s := NewAction("slow", func(_ context.Context, v int) error {
		started <- v
		<-gate
		return nil
	}, StageOptions{MaxDegreeOfParallelism: 1, BoundedCapacity: 2}, quiet)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	// one in flight, one queued: the stage is full
	for i := 1; i <= 2; i++ {
		if err := s.Submit(context.Background(), i); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Submit(ctx, 99); !stderrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected submit to block until the deadline, got %v", err)
	}

	submitted := make(chan error, 1)
	go func() { submitted <- s.Submit(context.Background(), 3) }()

	select {
	case err := <-submitted:
		t.Fatalf("submit returned while the stage was full: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	gate <- struct{}{} // first item completes and frees its slot
	select {
	case err := <-submitted:
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("submit did not unblock after a slot freed")
	}

	close(gate)
	_ = s.Complete()
	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := s.Stats().Processed; got != 3 {
		t.Errorf("expected 3 processed, got %d", got)
	}
}

func TestStage_BroadcastWithPredicates(t *testing.T) {
	g := NewGraph("broadcast", quiet)
	head := NewBroadcast[int]("head", StageOptions{}, quiet)
	all := newCollector[int]("all")
	even := newCollector[int]("even")
	big := newCollector[int]("big")

	mustLink(t, Link[int](g, head, all.Stage))
	mustLink(t, Link(g, head, even.Stage, When("even", func(v int) bool { return v%2 == 0 })))
	mustLink(t, Link(g, head, big.Stage, When("big", func(v int) bool { return v > 100 })))
	g.SetHead("head")
	mustStart(t, g)

	for i := 1; i <= 6; i++ {
		if err := Submit(context.Background(), g, i); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	_ = g.Complete()
	if err := g.Wait(waitCtx(t)); err != nil {
		t.Fatalf("wait: %v", err)
	}

	sorted := func(v []int) []int { slices.Sort(v); return v }
	if got := sorted(all.received()); !slices.Equal(got, []int{1, 2, 3, 4, 5, 6}) {
		t.Errorf("all: expected every item, got %v", got)
	}
	if got := sorted(even.received()); !slices.Equal(got, []int{2, 4, 6}) {
		t.Errorf("even: expected only even items, got %v", got)
	}
	if got := big.received(); len(got) != 0 {
		t.Errorf("big: expected nothing, got %v", got)
	}
}

func TestStage_BroadcastClonesPerLink(t *testing.T) {
	g := NewGraph("clone", quiet)
	head := NewBroadcast[[]int]("head", StageOptions{}, quiet)
	clone := func(v []int) []int { return slices.Clone(v) }

	mutated := make(chan []int, 1)
	mutator := NewAction("mutator", func(_ context.Context, v []int) error {
		v[0] = -1
		mutated <- v
		return nil
	}, StageOptions{}, quiet)
	observer := newCollector[[]int]("observer")

	mustLink(t, Link(g, head, mutator, WithClone(clone)))
	mustLink(t, Link(g, head, observer.Stage, WithClone(clone)))
	g.SetHead("head")
	mustStart(t, g)

	if err := Submit(context.Background(), g, []int{1, 2}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_ = g.Complete()
	if err := g.Wait(waitCtx(t)); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if got := <-mutated; got[0] != -1 {
		t.Fatalf("expected the mutator to see its change, got %v", got)
	}
	if got := observer.received(); len(got) != 1 || got[0][0] != 1 {
		t.Errorf("expected an independent copy, got %v", got)
	}
}

func TestStage_FanInWaitsForEveryUpstream(t *testing.T) {
	g := NewGraph("fan-in", quiet)
	gate := make(chan struct{})

	head := NewBroadcast[int]("head", StageOptions{}, quiet)
	fast := NewStage("fast", func(_ context.Context, v int) (int, error) { return v, nil }, StageOptions{}, quiet)
	slow := NewStage("slow", func(_ context.Context, v int) (int, error) {
		<-gate
		return v * 10, nil
	}, StageOptions{}, quiet)
	merge := newCollector[int]("merge")

	mustLink(t, Link[int](g, head, fast))
	mustLink(t, Link[int](g, head, slow))
	mustLink(t, Link[int](g, fast, merge.Stage))
	mustLink(t, Link[int](g, slow, merge.Stage))
	g.SetHead("head")
	mustStart(t, g)

	if err := merge.Complete(); !stderrors.Is(err, ErrInvalidOperation) {
		t.Errorf("expected invalid operation completing a fan-in stage, got %v", err)
	}

	if err := Submit(context.Background(), g, 1); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_ = g.Complete()
	if err := fast.Wait(waitCtx(t)); err != nil {
		t.Fatalf("fast: %v", err)
	}

	select {
	case <-merge.Completion():
		t.Fatal("fan-in completed before every upstream completed")
	case <-time.After(30 * time.Millisecond):
	}
	if st := merge.State(); st == Completed || st == Draining {
		t.Fatalf("expected fan-in still running, got %s", st)
	}
	if pending := merge.pendingUpstreams(); !slices.Equal(pending, []string{"slow"}) {
		t.Errorf("expected pending [slow], got %v", pending)
	}

	close(gate)
	if err := merge.Wait(waitCtx(t)); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got := merge.received(); len(got) != 2 {
		t.Errorf("expected both branches to reach the sink, got %v", got)
	}
}

func TestStage_FaultIsolation(t *testing.T) {
	g := NewGraph("faults", quiet)
	var faults sync.Map

	parse := NewStage("parse", func(_ context.Context, v int) (int, error) {
		if v%3 == 0 {
			return 0, fmt.Errorf("cannot parse %d", v)
		}
		return v, nil
	}, StageOptions{MaxDegreeOfParallelism: 4}, quiet)
	parse.OnFault(func(_ context.Context, v int, err error) error {
		faults.Store(v, err)
		return nil
	})
	sink := newCollector[int]("sink")

	mustLink(t, Link[int](g, parse, sink.Stage))
	g.SetHead("parse")
	mustStart(t, g)

	for i := 1; i <= 9; i++ {
		if err := Submit(context.Background(), g, i); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	_ = g.Complete()
	if err := g.Wait(waitCtx(t)); err != nil {
		t.Fatalf("wait: %v", err)
	}

	got := sink.received()
	slices.Sort(got)
	if !slices.Equal(got, []int{1, 2, 4, 5, 7, 8}) {
		t.Errorf("expected failed items to never reach the sink, got %v", got)
	}
	for _, v := range []int{3, 6, 9} {
		err, ok := faults.Load(v)
		if !ok {
			t.Errorf("expected fault for %d", v)
			continue
		}
		if errors.CodeOf(err.(error)) != errors.ErrCodeTransformFailure {
			t.Errorf("expected transform failure for %d, got %v", v, err)
		}
	}
	if st := parse.Stats(); st.Faulted != 3 || st.Processed != 6 {
		t.Errorf("expected 3 faulted and 6 processed, got %+v", st)
	}
}

func TestStage_RecoversPanics(t *testing.T) {
	faulted := make(chan error, 1)
	s := NewAction("panics", func(context.Context, int) error { panic("bad input") }, StageOptions{}, quiet)
	s.OnFault(func(_ context.Context, _ int, err error) error {
		faulted <- err
		return nil
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = s.Submit(context.Background(), 1)
	_ = s.Complete()
	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("wait: %v", err)
	}

	err := <-faulted
	if !stderrors.Is(err, ErrTransformFailure) {
		t.Errorf("expected transform failure, got %v", err)
	}
}

func TestStage_DeliveryToCompletedStageFaults(t *testing.T) {
	g := NewGraph("late", quiet)
	gate := make(chan struct{})

	head := NewBroadcast[int]("head", StageOptions{}, quiet)
	tap := NewStage("tap", func(_ context.Context, v int) (int, error) {
		<-gate
		return v, nil
	}, StageOptions{}, quiet)
	main := newCollector[int]("main")
	side := newCollector[int]("side")

	faults := make(chan error, 1)
	tap.OnFault(func(_ context.Context, _ int, err error) error {
		faults <- err
		return nil
	})

	mustLink(t, Link[int](g, head, tap))
	mustLink(t, Link[int](g, head, side.Stage))
	mustLink(t, Link[int](g, tap, main.Stage))
	mustLink(t, Link[int](g, tap, side.Stage, WithoutCompletion[int]()))
	g.SetHead("head")
	mustStart(t, g)

	if err := Submit(context.Background(), g, 1); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_ = g.Complete()

	// side is completed by head alone and finishes while tap is still busy
	if err := side.Wait(waitCtx(t)); err != nil {
		t.Fatalf("side: %v", err)
	}
	close(gate)
	if err := g.Wait(waitCtx(t)); err != nil {
		t.Fatalf("wait: %v", err)
	}

	select {
	case err := <-faults:
		if !stderrors.Is(err, ErrStageCompleted) {
			t.Errorf("expected stage completed, got %v", err)
		}
	default:
		t.Fatal("expected the late delivery to be reported as a fault")
	}
	if got := main.received(); len(got) != 1 {
		t.Errorf("expected main to receive the item, got %v", got)
	}
	if got := side.received(); len(got) != 1 {
		t.Errorf("expected side to receive only head's copy, got %v", got)
	}
}

func TestStage_UnroutedGoesToDiscard(t *testing.T) {
	g := NewGraph("routes", quiet)
	head := NewBroadcast[int]("head", StageOptions{}, quiet)
	odd := newCollector[int]("odd")
	discarded := make(chan int, 4)
	head.OnDiscard(func(_ context.Context, v int) error {
		discarded <- v
		return nil
	})

	mustLink(t, Link(g, head, odd.Stage, When("odd", func(v int) bool { return v%2 == 1 })))
	g.SetHead("head")
	mustStart(t, g)

	for i := 1; i <= 4; i++ {
		_ = Submit(context.Background(), g, i)
	}
	_ = g.Complete()
	if err := g.Wait(waitCtx(t)); err != nil {
		t.Fatalf("wait: %v", err)
	}
	close(discarded)

	var got []int
	for v := range discarded {
		got = append(got, v)
	}
	slices.Sort(got)
	if !slices.Equal(got, []int{2, 4}) {
		t.Errorf("expected 2 and 4 discarded, got %v", got)
	}
}

func mustLink(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("link: %v", err)
	}
}
