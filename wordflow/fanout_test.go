package wordflow

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/flowkit/dataflow"
)

const fanoutInput = "TPL Dataflow example is really_hard_to_set_up=really=hard=to=use"

func TestSplit(t *testing.T) {
	got := Split("a==b=", "=")
	if !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("got %q", got)
	}
}

func TestFanoutRun(t *testing.T) {
	res, err := RunFanout(testCtx(t), FanoutOptions{}, []string{fanoutInput}, quiet)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Unique != 11 {
		t.Errorf("unique = %d, want 11", res.Unique)
	}
	if len(res.PerAppraiser) != 6 {
		t.Fatalf("appraisers = %v", res.PerAppraiser)
	}
	total := 0
	for tag, n := range res.PerAppraiser {
		if n != res.Unique {
			t.Errorf("appraiser %s emitted %d, want %d", tag, n, res.Unique)
		}
		total += n
	}
	if len(res.Items) != total {
		t.Errorf("sink received %d items, appraisers emitted %d", len(res.Items), total)
	}
	for _, want := range []string{"3|11|", "TPL|21|", "hard|22|", "45.5|31|", "46.5|32|"} {
		if !slices.Contains(res.Items, want) {
			t.Errorf("missing %q", want)
		}
	}
	if res.Faulted != 0 {
		t.Errorf("faulted = %d", res.Faulted)
	}
}

func TestFanoutParallel(t *testing.T) {
	opts := FanoutOptions{
		Splitter:  dataflow.StageOptions{MaxDegreeOfParallelism: 2, BoundedCapacity: 1},
		Crawler:   dataflow.StageOptions{MaxDegreeOfParallelism: 4, BoundedCapacity: 2},
		Appraiser: dataflow.StageOptions{MaxDegreeOfParallelism: 3},
	}
	inputs := []string{fanoutInput, "more words arrive here", fanoutInput}
	res, err := RunFanout(testCtx(t), opts, inputs, quiet)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// the repeated input adds nothing new
	if res.Unique != 16 {
		t.Errorf("unique = %d, want 16", res.Unique)
	}
	if len(res.Items) != 6*res.Unique {
		t.Errorf("items = %d", len(res.Items))
	}
}

func TestFanoutSinkWaitsForAllAppraisers(t *testing.T) {
	f, err := NewFanout(FanoutOptions{}, quiet)
	if err != nil {
		t.Fatal(err)
	}
	held := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.gate = func(_ context.Context, tag string) {
		if tag != "32" {
			return
		}
		once.Do(func() { close(held) })
		<-release
	}

	ctx := testCtx(t)
	type outcome struct {
		res *FanoutResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := f.Run(ctx, fanoutInput)
		done <- outcome{res, err}
	}()

	select {
	case <-held:
	case <-ctx.Done():
		t.Fatal("appraiser 32 never ran")
	}
	time.Sleep(50 * time.Millisecond)
	if f.sink.State() == dataflow.Completed {
		t.Fatal("sink completed while an appraiser was still running")
	}
	select {
	case <-done:
		t.Fatal("run returned while an appraiser was still running")
	default:
	}

	close(release)
	out := <-done
	if out.err != nil {
		t.Fatalf("run: %v", out.err)
	}
	if !f.Graph().Done() {
		t.Error("graph not done after run")
	}
	if out.res.PerAppraiser["32"] != out.res.Unique {
		t.Errorf("appraiser 32 emitted %d", out.res.PerAppraiser["32"])
	}
}

func TestFanoutRunsOnce(t *testing.T) {
	f, err := NewFanout(FanoutOptions{}, quiet)
	if err != nil {
		t.Fatal(err)
	}
	ctx := testCtx(t)
	if _, err := f.Run(ctx, "one two three"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Run(ctx, "again"); err == nil {
		t.Error("expected second run to fail")
	}
	if got := f.Tags(); !slices.Equal(got, []string{"11", "12", "21", "22", "31", "32"}) {
		t.Errorf("tags = %v", got)
	}
}
