package manager

import (
	"context"
	"sync"
	"time"

	"modelproxy/internal/runtime"
)

// Handle is a loaded model owned by exactly one deployment record. Callers
// only generate through it; releasing waits for in-flight generations.
type Handle struct {
	model runtime.Model

	mu       sync.Mutex
	active   int
	released bool
	idle     chan struct{} // closed when active drops to 0 after release
}

func newHandle(m runtime.Model) *Handle { return &Handle{model: m} }

// Task returns the model's post-processing task.
func (h *Handle) Task() runtime.Task { return h.model.Task() }

// Backend returns the runtime backend that loaded the model.
func (h *Handle) Backend() runtime.Backend { return h.model.Backend() }

// acquire takes a reference for one generation. It never blocks and fails
// once release has started.
func (h *Handle) acquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return false
	}
	h.active++
	return true
}

// done drops a reference taken by acquire.
func (h *Handle) done() {
	h.mu.Lock()
	h.active--
	if h.active == 0 && h.idle != nil {
		close(h.idle)
		h.idle = nil
	}
	h.mu.Unlock()
}

// generate runs one generation on the held model.
func (h *Handle) generate(ctx context.Context, prompt string, p runtime.Params, onToken func(string) error) (runtime.Result, error) {
	return h.model.Generate(ctx, prompt, p, onToken)
}

// release stops new acquires, waits up to drain for in-flight generations and
// unloads the model. Only the first call unloads; drained reports whether
// all generations finished in time.
func (h *Handle) release(rt runtime.Runtime, drain time.Duration) (drained bool, err error) {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return true, nil
	}
	h.released = true
	var idle chan struct{}
	if h.active > 0 {
		h.idle = make(chan struct{})
		idle = h.idle
	}
	h.mu.Unlock()

	drained = true
	if idle != nil {
		t := time.NewTimer(drain)
		select {
		case <-idle:
		case <-t.C:
			drained = false
		}
		t.Stop()
	}
	handlesReleasedTotal.Inc()
	return drained, rt.Unload(h.model)
}
