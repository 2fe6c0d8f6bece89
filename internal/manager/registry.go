package manager

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// slot holds one user's record. Every read or write of dep and handle
// happens under mu. A removed slot is marked dead so lockers that raced
// with the removal retry against the map.
type slot struct {
	mu     sync.Mutex
	dead   bool
	dep    Deployment
	handle *Handle
}

// Registry maps user ids to deployment records with per-key locking.
// There is no registry-wide lock: operations on different users never
// contend.
type Registry struct {
	slots *xsync.MapOf[string, *slot]
	epoch atomic.Uint64
	count atomic.Int64
	max   int
	now   func() time.Time
}

// NewRegistry returns an empty registry. maxDeployments caps the number of
// records (0 = unlimited).
func NewRegistry(maxDeployments int) *Registry {
	return &Registry{
		slots: xsync.NewMapOf[string, *slot](),
		max:   maxDeployments,
		now:   time.Now,
	}
}

// lock returns the user's live slot locked, or nil.
func (r *Registry) lock(userID string) *slot {
	for {
		s, ok := r.slots.Load(userID)
		if !ok {
			return nil
		}
		s.mu.Lock()
		if !s.dead {
			return s
		}
		s.mu.Unlock()
	}
}

// Create inserts d for d.UserID. When the user already has a record for the
// same model in pending, deploying or ready, that record is returned with
// created=false. Otherwise a fresh record with a new epoch replaces it and
// the replaced record's handle, if any, is returned for release.
func (r *Registry) Create(d Deployment) (dep Deployment, created bool, replaced *Handle, err error) {
	now := r.now()
	d.Status = StatusPending
	d.CreatedAt, d.UpdatedAt = now, now
	d.LoadedAt = nil
	d.ErrorMessage = ""
	for {
		fresh := &slot{}
		fresh.mu.Lock()
		actual, loaded := r.slots.LoadOrStore(d.UserID, fresh)
		if !loaded {
			if n := r.count.Add(1); r.max > 0 && n > int64(r.max) {
				r.count.Add(-1)
				fresh.dead = true
				r.slots.Delete(d.UserID)
				fresh.mu.Unlock()
				return Deployment{}, false, nil, tooManyDeploymentsError{limit: r.max}
			}
			d.epoch = r.epoch.Add(1)
			fresh.dep = d
			out := d.clone()
			fresh.mu.Unlock()
			return out, true, nil, nil
		}
		fresh.mu.Unlock()

		s := actual
		s.mu.Lock()
		if s.dead {
			s.mu.Unlock()
			continue
		}
		if s.dep.ModelName == d.ModelName && s.dep.Status.reusable() {
			out := s.dep.clone()
			s.mu.Unlock()
			return out, false, nil, nil
		}
		replaced = s.handle
		s.handle = nil
		d.epoch = r.epoch.Add(1)
		s.dep = d
		out := d.clone()
		s.mu.Unlock()
		return out, true, replaced, nil
	}
}

// Get returns a copy of the user's record.
func (r *Registry) Get(userID string) (Deployment, bool) {
	s := r.lock(userID)
	if s == nil {
		return Deployment{}, false
	}
	defer s.mu.Unlock()
	return s.dep.clone(), true
}

// List returns copies of all records ordered by creation time, then user id.
func (r *Registry) List() []Deployment {
	var out []Deployment
	r.slots.Range(func(userID string, _ *slot) bool {
		if d, ok := r.Get(userID); ok {
			out = append(out, d)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Transition moves the record to status `to` when the edge is legal and
// epoch matches the record (0 matches any). errMsg is recorded for error.
// Entering ready is only possible through AttachHandle; entering stopped
// only through Stop.
func (r *Registry) Transition(userID string, epoch uint64, to Status, errMsg string) (Deployment, bool) {
	if to == StatusReady || to == StatusStopped {
		return Deployment{}, false
	}
	s := r.lock(userID)
	if s == nil {
		return Deployment{}, false
	}
	defer s.mu.Unlock()
	if epoch != 0 && s.dep.epoch != epoch {
		return s.dep.clone(), false
	}
	if !CanTransition(s.dep.Status, to) {
		return s.dep.clone(), false
	}
	s.dep.Status = to
	s.dep.UpdatedAt = r.now()
	if to == StatusError {
		s.dep.ErrorMessage = errMsg
	}
	return s.dep.clone(), true
}

// AttachHandle stores h and marks the record ready, only if the record is
// still the epoch that started the load and is deploying. On false the
// caller owns h and must release it.
func (r *Registry) AttachHandle(userID string, epoch uint64, h *Handle) bool {
	s := r.lock(userID)
	if s == nil {
		return false
	}
	defer s.mu.Unlock()
	if s.dep.epoch != epoch || s.dep.Status != StatusDeploying {
		return false
	}
	now := r.now()
	s.handle = h
	s.dep.Status = StatusReady
	s.dep.UpdatedAt = now
	s.dep.LoadedAt = &now
	s.dep.ErrorMessage = ""
	return true
}

// Stop marks the record stopped and detaches its handle, which the caller
// must release. Stopping a stopped record is a no-op.
func (r *Registry) Stop(userID string) (Deployment, *Handle, error) {
	s := r.lock(userID)
	if s == nil {
		return Deployment{}, nil, ErrNotFound(userID)
	}
	defer s.mu.Unlock()
	if s.dep.Status == StatusStopped {
		return s.dep.clone(), nil, nil
	}
	h := s.handle
	s.handle = nil
	s.dep.Status = StatusStopped
	s.dep.UpdatedAt = r.now()
	return s.dep.clone(), h, nil
}

// Remove deletes the record and returns its handle for release.
func (r *Registry) Remove(userID string) (Deployment, *Handle, error) {
	s := r.lock(userID)
	if s == nil {
		return Deployment{}, nil, ErrNotFound(userID)
	}
	defer s.mu.Unlock()
	s.dead = true
	r.slots.Delete(userID)
	r.count.Add(-1)
	h := s.handle
	s.handle = nil
	return s.dep.clone(), h, nil
}

// Acquire returns the record and a reference on its handle, checked and
// taken together. The caller must call Handle.done. A deployment whose
// handle is gone or released reports notReady.
func (r *Registry) Acquire(userID string) (Deployment, *Handle, error) {
	s := r.lock(userID)
	if s == nil {
		return Deployment{}, nil, ErrNotFound(userID)
	}
	defer s.mu.Unlock()
	if s.dep.Status != StatusReady || s.handle == nil || !s.handle.acquire() {
		return s.dep.clone(), nil, notReadyError{userID: userID, status: s.dep.Status}
	}
	return s.dep.clone(), s.handle, nil
}

// detachAll detaches every attached handle, marking those records stopped.
// Used at shutdown.
func (r *Registry) detachAll() []*Handle {
	var out []*Handle
	r.slots.Range(func(userID string, _ *slot) bool {
		s := r.lock(userID)
		if s == nil {
			return true
		}
		if s.handle != nil {
			out = append(out, s.handle)
			s.handle = nil
			s.dep.Status = StatusStopped
			s.dep.UpdatedAt = r.now()
		}
		s.mu.Unlock()
		return true
	})
	return out
}

// Stats rolls up the registry. Each record is read under its own lock so
// none is observed mid-transition.
func (r *Registry) Stats() Stats {
	st := Stats{ByStatus: make(map[Status]int, len(Statuses))}
	for _, s := range Statuses {
		st.ByStatus[s] = 0
	}
	r.slots.Range(func(userID string, _ *slot) bool {
		s := r.lock(userID)
		if s == nil {
			return true
		}
		st.Total++
		st.DistinctUsers++
		st.ByStatus[s.dep.Status]++
		if s.handle != nil {
			st.ActiveHandles++
		}
		s.mu.Unlock()
		return true
	})
	return st
}

// Len reports the number of records.
func (r *Registry) Len() int { return r.slots.Size() }
