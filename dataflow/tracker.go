package dataflow

import (
	"fmt"
	"sync"
)

// tracker records which completion-propagating upstreams of a stage have
// completed.
type tracker struct {
	mu       sync.Mutex
	upstream map[string]bool
	order    []string
}

func newTracker() *tracker {
	return &tracker{upstream: make(map[string]bool)}
}

// register adds an upstream. Registering the same id twice is a no-op so
// parallel links between two stages count once.
func (t *tracker) register(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.upstream[id]; ok {
		return
	}
	t.upstream[id] = false
	t.order = append(t.order, id)
}

// markDone records that upstream id completed and reports whether every
// upstream has now completed. all is true only for the call that completes
// the set.
func (t *tracker) markDone(id string) (all bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	done, ok := t.upstream[id]
	switch {
	case !ok:
		return false, fmt.Errorf("completion from unknown upstream %q", id)
	case done:
		return false, fmt.Errorf("duplicate completion from upstream %q", id)
	}
	t.upstream[id] = true
	for _, d := range t.upstream {
		if !d {
			return false, nil
		}
	}
	return true, nil
}

func (t *tracker) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.upstream)
}

// pending lists upstreams that have not completed, in registration order.
func (t *tracker) pending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, id := range t.order {
		if !t.upstream[id] {
			out = append(out, id)
		}
	}
	return out
}
