package runtime

import (
	"context"
	"fmt"
)

// Mux dispatches loads to the runtime registered for each backend tag.
type Mux struct {
	backends map[Backend]Runtime
}

// NewMux returns an empty Mux.
func NewMux() *Mux { return &Mux{backends: make(map[Backend]Runtime)} }

// Register installs rt for backend b, replacing any previous registration.
// Not safe for use concurrently with Load.
func (m *Mux) Register(b Backend, rt Runtime) *Mux {
	m.backends[b] = rt
	return m
}

// Has reports whether b has a registered runtime.
func (m *Mux) Has(b Backend) bool {
	_, ok := m.backends[b]
	return ok
}

func (m *Mux) Load(ctx context.Context, spec LoadSpec) (Model, error) {
	rt, ok := m.backends[spec.Backend]
	if !ok {
		return nil, ErrDependencyUnavailable(fmt.Sprintf("backend %q is not configured", spec.Backend))
	}
	return rt.Load(ctx, spec)
}

func (m *Mux) Unload(model Model) error {
	if model == nil {
		return nil
	}
	rt, ok := m.backends[model.Backend()]
	if !ok {
		return fmt.Errorf("backend %q is not configured", model.Backend())
	}
	return rt.Unload(model)
}
