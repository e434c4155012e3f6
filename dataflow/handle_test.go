package dataflow

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestHandle_FulfillOnce(t *testing.T) {
	h := NewHandle[int]()
	if h.State() != Pending {
		t.Fatalf("expected pending, got %s", h.State())
	}
	if _, _, ok := h.Result(); ok {
		t.Fatal("expected no result while pending")
	}

	if err := h.Fulfill(7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := h.Fault(stderrors.New("late"))
	if !stderrors.Is(err, ErrDoubleResolution) {
		t.Fatalf("expected double resolution, got %v", err)
	}
	if err := h.Fulfill(8); !stderrors.Is(err, ErrDoubleResolution) {
		t.Fatalf("expected double resolution, got %v", err)
	}

	v, err, ok := h.Result()
	if !ok || err != nil || v != 7 {
		t.Errorf("expected (7, nil, true), got (%d, %v, %v)", v, err, ok)
	}
	if h.State() != Fulfilled {
		t.Errorf("expected fulfilled, got %s", h.State())
	}
}

func TestHandle_Fault(t *testing.T) {
	cause := stderrors.New("boom")
	h := Failed[string](cause)

	if h.State() != Faulted {
		t.Fatalf("expected faulted, got %s", h.State())
	}
	_, err := h.Wait(context.Background())
	if !stderrors.Is(err, cause) {
		t.Errorf("expected cause, got %v", err)
	}

	h = NewHandle[string]()
	_ = h.Fault(nil)
	if _, err := h.Wait(context.Background()); err == nil {
		t.Error("expected a non-nil error for a fault without cause")
	}
}

func TestHandle_ConcurrentResolutionExactlyOnce(t *testing.T) {
	for round := 0; round < 50; round++ {
		h := NewHandle[int]()
		var wins, rejected atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				var err error
				if i%2 == 0 {
					err = h.Fulfill(i)
				} else {
					err = h.Fault(stderrors.New("fault"))
				}
				if err == nil {
					wins.Add(1)
				} else if stderrors.Is(err, ErrDoubleResolution) {
					rejected.Add(1)
				}
			}()
		}
		wg.Wait()
		if wins.Load() != 1 || rejected.Load() != 7 {
			t.Fatalf("round %d: expected 1 win and 7 rejections, got %d and %d", round, wins.Load(), rejected.Load())
		}
	}
}

func TestHandle_WaitTimeout(t *testing.T) {
	h := NewHandle[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := h.Wait(ctx)
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if h.State() != Pending {
		t.Errorf("giving up must not resolve the handle, got %s", h.State())
	}

	_ = h.Fulfill(1)
	if v, err := h.Wait(context.Background()); err != nil || v != 1 {
		t.Errorf("expected 1 after late fulfillment, got %d, %v", v, err)
	}
}

func TestEnvelope_ForwardMovesHandle(t *testing.T) {
	e := NewEnvelope[string, int]("hello")
	if e.TraceID == "" {
		t.Fatal("expected a trace id")
	}

	next := Forward(e, 5)
	if next.Handle() != e.Handle() {
		t.Error("expected the handle to move with the envelope")
	}
	if next.TraceID != e.TraceID {
		t.Error("expected the trace id to move with the envelope")
	}

	if err := Complete(next); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, _ := e.Handle().Wait(context.Background()); v != 5 {
		t.Errorf("expected 5, got %d", v)
	}
	if err := next.Fault(stderrors.New("late")); !stderrors.Is(err, ErrDoubleResolution) {
		t.Errorf("expected double resolution, got %v", err)
	}
}

func TestEnvelope_DistinctTraceIDs(t *testing.T) {
	a := NewEnvelope[int, int](1)
	b := NewEnvelope[int, int](1)
	if a.TraceID == b.TraceID {
		t.Error("expected distinct trace ids")
	}
	if a.Handle() == b.Handle() {
		t.Error("expected distinct handles")
	}
}

func TestFaultUnrouted(t *testing.T) {
	g := NewGraph("route", quiet)
	head := NewBroadcast[Envelope[int, int]]("head", StageOptions{}, quiet)
	head.OnDiscard(FaultUnrouted[int, int](head.ID()))
	done := NewAction("done", func(_ context.Context, e Envelope[int, int]) error {
		return Complete(e)
	}, StageOptions{}, quiet)
	mustLink(t, Link(g, head, done, When("positive", func(e Envelope[int, int]) bool { return e.Payload > 0 })))
	g.SetHead(head.ID())
	mustStart(t, g)

	pos, neg := NewEnvelope[int, int](3), NewEnvelope[int, int](-3)
	for _, e := range []Envelope[int, int]{pos, neg} {
		if err := head.Submit(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}
	if v, err := pos.Handle().Wait(waitCtx(t)); err != nil || v != 3 {
		t.Errorf("positive: %v %v", v, err)
	}
	if _, err := neg.Handle().Wait(waitCtx(t)); !stderrors.Is(err, ErrUnrouted) {
		t.Errorf("negative: expected unrouted, got %v", err)
	}
	_ = g.Complete()
	if err := g.Wait(waitCtx(t)); err != nil {
		t.Fatal(err)
	}
}
