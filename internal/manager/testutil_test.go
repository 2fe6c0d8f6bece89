package manager

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"modelproxy/internal/runtime"
	"modelproxy/pkg/types"
)

// fakeRuntime is an in-memory runtime with controllable load behaviour.
type fakeRuntime struct {
	backend runtime.Backend
	task    runtime.Task
	tokens  []string
	genErr  error

	mu        sync.Mutex
	gate      chan struct{} // Load blocks until closed; ignores ctx like a cgo call would
	loadErr   error
	panicMsg  string
	genBlock  chan struct{} // Generate blocks until closed
	genStart  chan struct{} // receives once per Generate call when non-nil
	loads     int
	active    int
	maxActive int
	unloads   int
	specs     []runtime.LoadSpec
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		backend: runtime.BackendLlama,
		task:    runtime.TaskText2Text,
		tokens:  []string{"Hello", " world"},
	}
}

func (f *fakeRuntime) Load(ctx context.Context, spec runtime.LoadSpec) (runtime.Model, error) {
	f.mu.Lock()
	f.loads++
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.specs = append(f.specs, spec)
	gate, loadErr, panicMsg := f.gate, f.loadErr, f.panicMsg
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()
	if panicMsg != "" {
		panic(panicMsg)
	}
	if gate != nil {
		<-gate
	}
	if loadErr != nil {
		return nil, loadErr
	}
	return &fakeModel{rt: f, name: spec.ModelName}, nil
}

func (f *fakeRuntime) Unload(m runtime.Model) error {
	fm, ok := m.(*fakeModel)
	if !ok {
		return errors.New("foreign model")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fm.unloaded = true
	f.unloads++
	return nil
}

func (f *fakeRuntime) setGate(ch chan struct{}) {
	f.mu.Lock()
	f.gate = ch
	f.mu.Unlock()
}

func (f *fakeRuntime) counts() (loads, unloads, maxActive int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads, f.unloads, f.maxActive
}

type fakeModel struct {
	rt       *fakeRuntime
	name     string
	unloaded bool
}

func (m *fakeModel) Backend() runtime.Backend { return m.rt.backend }
func (m *fakeModel) Task() runtime.Task       { return m.rt.task }

func (m *fakeModel) Generate(ctx context.Context, prompt string, p runtime.Params, onToken func(string) error) (runtime.Result, error) {
	m.rt.mu.Lock()
	block, started, unloaded := m.rt.genBlock, m.rt.genStart, m.unloaded
	m.rt.mu.Unlock()
	if unloaded {
		return runtime.Result{}, errors.New("model unloaded")
	}
	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return runtime.Result{}, ctx.Err()
		}
	}
	if m.rt.genErr != nil {
		return runtime.Result{}, m.rt.genErr
	}
	var b strings.Builder
	for _, tok := range m.rt.tokens {
		b.WriteString(tok)
		if onToken != nil {
			if err := onToken(tok); err != nil {
				return runtime.Result{Text: b.String()}, err
			}
		}
	}
	return runtime.Result{Text: b.String(), FinishReason: "stop"}, nil
}

// fakeLimiter rejects every request after the first n.
type fakeLimiter struct {
	mu     sync.Mutex
	n      int
	seen   int
	forgot []string
}

func (l *fakeLimiter) Allow(string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen++
	if l.seen > l.n {
		return errors.New("rate limited")
	}
	return nil
}

func (l *fakeLimiter) Forget(key string) {
	l.mu.Lock()
	l.forgot = append(l.forgot, key)
	l.mu.Unlock()
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

// newTestManager returns a manager over rt with auth disabled unless cfg says otherwise.
func newTestManager(t *testing.T, rt runtime.Runtime, mutate func(*ManagerConfig)) *Manager {
	t.Helper()
	cfg := ManagerConfig{
		Runtime:      rt,
		DisableAuth:  true,
		DrainTimeout: 500 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m := NewWithConfig(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// waitStatus waits until userID's deployment reaches want.
func waitStatus(t *testing.T, m *Manager, userID string, want Status) Deployment {
	t.Helper()
	var last Deployment
	waitFor(t, userID+" to become "+string(want), func() bool {
		d, err := m.Get(userID)
		last = d
		return err == nil && d.Status == want
	})
	return last
}

func deploy(t *testing.T, m *Manager, userID, model string) DeployResult {
	t.Helper()
	res, err := m.Deploy(testCtx(t), DeployRequest{UserID: userID, ModelName: model, APIKeyEnabled: true})
	if err != nil {
		t.Fatalf("Deploy(%s, %s): %v", userID, model, err)
	}
	return res
}

func chatReq(s string) types.ChatCompletionRequest {
	return types.ChatCompletionRequest{Messages: []types.ChatMessage{{Role: "user", Content: s}}}
}
