package manager

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusDeploying}: true,
		{StatusPending, StatusError}:     true,
		{StatusPending, StatusStopped}:   true,
		{StatusDeploying, StatusReady}:   true,
		{StatusDeploying, StatusError}:   true,
		{StatusDeploying, StatusStopped}: true,
		{StatusReady, StatusStopped}:     true,
		{StatusError, StatusStopped}:     true,
	}
	for _, from := range Statuses {
		for _, to := range Statuses {
			if got := CanTransition(from, to); got != allowed[[2]Status{from, to}] {
				t.Fatalf("CanTransition(%s, %s) = %v", from, to, got)
			}
		}
	}
}

func TestRegistry_TransitionGuards(t *testing.T) {
	r := NewRegistry(0)
	d, created, _, err := r.Create(Deployment{UserID: "u1", ModelName: "m"})
	if err != nil || !created || d.Status != StatusPending {
		t.Fatalf("Create: %+v %v %v", d, created, err)
	}
	if _, ok := r.Transition("u1", d.Epoch(), StatusReady, ""); ok {
		t.Fatalf("ready must only be entered through AttachHandle")
	}
	if _, ok := r.Transition("u1", d.Epoch()+1, StatusDeploying, ""); ok {
		t.Fatalf("stale epoch must be rejected")
	}
	if _, ok := r.Transition("u1", d.Epoch(), StatusDeploying, ""); !ok {
		t.Fatalf("pending -> deploying rejected")
	}
	if _, ok := r.Transition("u1", 0, StatusPending, ""); ok {
		t.Fatalf("deploying -> pending must be rejected")
	}
	got, ok := r.Transition("u1", 0, StatusError, "bad weights")
	if !ok || got.ErrorMessage != "bad weights" {
		t.Fatalf("deploying -> error: %+v %v", got, ok)
	}
	if _, ok := r.Transition("ghost", 0, StatusError, ""); ok {
		t.Fatalf("unknown user must not transition")
	}
}

func TestRegistry_AttachAcquireStop(t *testing.T) {
	r := NewRegistry(0)
	d, _, _, _ := r.Create(Deployment{UserID: "u1", ModelName: "m"})
	h := newHandle(&fakeModel{rt: newFakeRuntime()})
	if r.AttachHandle("u1", d.Epoch(), h) {
		t.Fatalf("attach to a pending record must fail")
	}
	r.Transition("u1", d.Epoch(), StatusDeploying, "")
	if !r.AttachHandle("u1", d.Epoch(), h) {
		t.Fatalf("attach to deploying record failed")
	}
	got, ok := r.Get("u1")
	if !ok || got.Status != StatusReady || got.LoadedAt == nil {
		t.Fatalf("after attach: %+v", got)
	}

	_, ah, err := r.Acquire("u1")
	if err != nil || ah != h {
		t.Fatalf("Acquire: %v", err)
	}
	ah.done()

	stopped, sh, err := r.Stop("u1")
	if err != nil || sh != h || stopped.Status != StatusStopped {
		t.Fatalf("Stop: %+v %v", stopped, err)
	}
	if _, _, err := r.Acquire("u1"); !IsNotReady(err) {
		t.Fatalf("acquire on stopped: %v", err)
	}
	if r.AttachHandle("u1", d.Epoch(), h) {
		t.Fatalf("attach after stop must fail")
	}
	if _, sh, _ := r.Stop("u1"); sh != nil {
		t.Fatalf("second stop must not return a handle")
	}
}

func TestRegistry_AcquireFailsOnceReleased(t *testing.T) {
	rt := newFakeRuntime()
	r := NewRegistry(0)
	d, _, _, _ := r.Create(Deployment{UserID: "u1", ModelName: "m"})
	r.Transition("u1", d.Epoch(), StatusDeploying, "")
	h := newHandle(&fakeModel{rt: rt})
	r.AttachHandle("u1", d.Epoch(), h)

	if _, err := h.release(rt, time.Millisecond); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, _, err := r.Acquire("u1"); !IsNotReady(err) {
		t.Fatalf("released handle must not be acquirable: %v", err)
	}
	if drained, err := h.release(rt, time.Millisecond); !drained || err != nil {
		t.Fatalf("second release must be a no-op")
	}
	if _, unloads, _ := rt.counts(); unloads != 1 {
		t.Fatalf("unloads: %d", unloads)
	}
}

func TestHandle_ReleaseDrainTimeout(t *testing.T) {
	rt := newFakeRuntime()
	h := newHandle(&fakeModel{rt: rt})
	if !h.acquire() {
		t.Fatalf("acquire")
	}
	drained, err := h.release(rt, 10*time.Millisecond)
	if err != nil || drained {
		t.Fatalf("expected undrained release, got drained=%v err=%v", drained, err)
	}
	h.done()
}

func TestRegistry_RemoveAndList(t *testing.T) {
	r := NewRegistry(2)
	base := time.Unix(1700000000, 0)
	tick := 0
	r.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }

	r.Create(Deployment{UserID: "b", ModelName: "m"})
	r.Create(Deployment{UserID: "a", ModelName: "m"})
	if _, _, _, err := r.Create(Deployment{UserID: "c", ModelName: "m"}); !IsTooManyDeployments(err) {
		t.Fatalf("expected cap, got %v", err)
	}
	list := r.List()
	if len(list) != 2 || list[0].UserID != "b" || list[1].UserID != "a" {
		t.Fatalf("list order: %+v", list)
	}
	if _, _, err := r.Remove("b"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := r.Get("b"); ok {
		t.Fatalf("removed record still visible")
	}
	if _, _, _, err := r.Create(Deployment{UserID: "c", ModelName: "m"}); err != nil {
		t.Fatalf("create after remove: %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("len: %d", r.Len())
	}
}

func TestRegistry_ClonesAreIndependent(t *testing.T) {
	r := NewRegistry(0)
	d, _, _, _ := r.Create(Deployment{UserID: "u1", ModelName: "m", CustomConfig: map[string]any{"task": "x"}})
	d.CustomConfig["task"] = "mutated"
	got, _ := r.Get("u1")
	if got.CustomConfig["task"] != "x" {
		t.Fatalf("registry state leaked through a copy")
	}
}
