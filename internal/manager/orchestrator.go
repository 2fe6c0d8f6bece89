package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"modelproxy/internal/runtime"
)

// loadJob is one scheduled load for a record generation.
type loadJob struct {
	userID string
	epoch  uint64
	spec   runtime.LoadSpec
}

// flight marks a user with a load in progress. next is the job to run once
// it completes; a newer schedule overwrites it.
type flight struct {
	next *loadJob
}

// schedule runs job now, or parks it behind the user's in-flight load.
func (m *Manager) schedule(job loadJob) {
	start := false
	m.inflight.Compute(job.userID, func(f *flight, loaded bool) (*flight, bool) {
		if loaded {
			j := job
			f.next = &j
			return f, false
		}
		start = true
		return &flight{}, false
	})
	if start {
		m.launch(job)
	}
}

// launch moves the job's record to deploying and starts the load. A job
// whose record moved on (stopped, replaced, deleted) is skipped in favour of
// the parked one, if any.
func (m *Manager) launch(job loadJob) {
	for {
		if _, ok := m.registry.Transition(job.userID, job.epoch, StatusDeploying, ""); ok {
			j := job
			if m.goTracked(func() { m.runLoad(j) }) {
				return
			}
			m.registry.Transition(job.userID, job.epoch, StatusError, "server shutting down")
		}
		next, ok := m.finishFlight(job.userID)
		if !ok {
			return
		}
		job = next
	}
}

// finishFlight pops the parked job or clears the in-flight marker.
func (m *Manager) finishFlight(userID string) (loadJob, bool) {
	var next *loadJob
	m.inflight.Compute(userID, func(f *flight, loaded bool) (*flight, bool) {
		if !loaded || f.next == nil {
			return f, true
		}
		next = f.next
		f.next = nil
		return f, false
	})
	if next == nil {
		return loadJob{}, false
	}
	return *next, true
}

type loadOutcome struct {
	model runtime.Model
	err   error
}

// runLoad owns the user's in-flight marker until the runtime call returns,
// including a call abandoned by the load timeout.
func (m *Manager) runLoad(job loadJob) {
	defer func() {
		if next, ok := m.finishFlight(job.userID); ok {
			m.launch(next)
		}
	}()
	backend := string(job.spec.Backend)
	log := m.log.With().Str("user_id", job.userID).Str("model", job.spec.ModelName).Str("backend", backend).Logger()

	if err := m.loadSem.Acquire(m.baseCtx, 1); err != nil {
		m.registry.Transition(job.userID, job.epoch, StatusError, "server shutting down")
		return
	}
	m.publisher.Publish(Event{Name: EventLoadStart, UserID: job.userID, Fields: map[string]any{"model": job.spec.ModelName, "backend": backend}})
	log.Info().Msg("model load started")

	start := time.Now()
	ctx, cancel := context.WithTimeout(m.baseCtx, m.cfg.LoadTimeout)
	defer cancel()
	ch := make(chan loadOutcome, 1)
	go func() {
		model, err := m.safeLoad(ctx, job.spec)
		ch <- loadOutcome{model: model, err: err}
	}()

	select {
	case out := <-ch:
		m.loadSem.Release(1)
		m.finishLoad(job, out, time.Since(start))
	case <-ctx.Done():
		// The record errors now; the pool slot and the in-flight marker stay
		// held until the abandoned call returns.
		msg := loadTimeoutError{after: m.cfg.LoadTimeout}.Error()
		if m.baseCtx.Err() != nil {
			msg = "server shutting down"
		}
		m.registry.Transition(job.userID, job.epoch, StatusError, msg)
		loadsTotal.WithLabelValues(backend, "timeout").Inc()
		m.publisher.Publish(Event{Name: EventLoadTimeout, UserID: job.userID, Fields: map[string]any{"after": m.cfg.LoadTimeout.String()}})
		log.Warn().Dur("after", m.cfg.LoadTimeout).Msg("model load timed out")

		out := <-ch
		m.loadSem.Release(1)
		if out.err != nil {
			return
		}
		loadsTotal.WithLabelValues(backend, "discarded").Inc()
		m.publisher.Publish(Event{Name: EventLoadDiscarded, UserID: job.userID, Fields: map[string]any{"reason": "timeout"}})
		if err := m.rt.Unload(out.model); err != nil {
			log.Warn().Err(err).Msg("late model unload failed")
			return
		}
		log.Info().Msg("late model discarded")
	}
}

func (m *Manager) finishLoad(job loadJob, out loadOutcome, took time.Duration) {
	backend := string(job.spec.Backend)
	log := m.log.With().Str("user_id", job.userID).Str("model", job.spec.ModelName).Logger()
	if out.err != nil {
		m.registry.Transition(job.userID, job.epoch, StatusError, out.err.Error())
		loadsTotal.WithLabelValues(backend, "error").Inc()
		m.publisher.Publish(Event{Name: EventLoadError, UserID: job.userID, Fields: map[string]any{"error": out.err.Error()}})
		log.Warn().Err(out.err).Msg("model load failed")
		return
	}
	h := newHandle(out.model)
	if m.baseCtx.Err() != nil {
		m.registry.Transition(job.userID, job.epoch, StatusError, "server shutting down")
		m.release(job.userID, h)
		loadsTotal.WithLabelValues(backend, "discarded").Inc()
		return
	}
	if !m.registry.AttachHandle(job.userID, job.epoch, h) {
		m.release(job.userID, h)
		loadsTotal.WithLabelValues(backend, "discarded").Inc()
		m.publisher.Publish(Event{Name: EventLoadDiscarded, UserID: job.userID, Fields: map[string]any{"reason": "superseded"}})
		log.Info().Msg("loaded model discarded, deployment moved on")
		return
	}
	loadsTotal.WithLabelValues(backend, "ready").Inc()
	loadDuration.WithLabelValues(backend).Observe(took.Seconds())
	m.publisher.Publish(Event{Name: EventLoadReady, UserID: job.userID, Fields: map[string]any{"model": job.spec.ModelName, "took": took.String()}})
	log.Info().Dur("took", took).Msg("model ready")
}

// safeLoad calls the runtime, turning a panic into an error.
func (m *Manager) safeLoad(ctx context.Context, spec runtime.LoadSpec) (model runtime.Model, err error) {
	defer func() {
		if r := recover(); r != nil {
			model, err = nil, fmt.Errorf("runtime panic during load: %v", r)
		}
	}()
	model, err = m.rt.Load(ctx, spec)
	if err == nil && model == nil {
		err = errors.New("runtime returned no model")
	}
	return model, err
}
