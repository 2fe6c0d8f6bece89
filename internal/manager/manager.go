package manager

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"modelproxy/internal/runtime"
)

// userIDPattern restricts user ids to URL-path-safe characters.
var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Manager coordinates deployments. Safe for concurrent use.
type Manager struct {
	cfg       ManagerConfig
	registry  *Registry
	auth      *AuthGate
	rt        runtime.Runtime
	addrs     Addresses
	publisher EventPublisher
	log       zerolog.Logger

	loadSem *semaphore.Weighted
	genSem  *semaphore.Weighted
	// inflight marks users with a running load; value holds the queued job.
	inflight *xsync.MapOf[string, *flight]

	baseCtx   context.Context
	cancel    context.CancelFunc
	// lifeMu orders wg.Add against Close: goroutines are only added under
	// the read lock while closed is false.
	lifeMu    sync.RWMutex
	wg        sync.WaitGroup
	closed    atomic.Bool
	startTime time.Time

	requests  atomic.Uint64
	idCounter atomic.Uint64
}

func newManager(cfg ManagerConfig) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:       cfg,
		registry:  NewRegistry(cfg.MaxDeployments),
		auth:      NewAuthGate(!cfg.DisableAuth),
		rt:        cfg.Runtime,
		addrs:     cfg.Addresses,
		publisher: cfg.Publisher,
		log:       cfg.Logger.With().Str("component", "manager").Logger(),
		loadSem:   semaphore.NewWeighted(int64(cfg.MaxConcurrentLoads)),
		genSem:    semaphore.NewWeighted(int64(cfg.MaxConcurrentGenerations)),
		inflight:  xsync.NewMapOf[string, *flight](),
		baseCtx:   ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

// SetEventPublisher installs an EventPublisher. Nil restores the no-op default.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	m.publisher = p
}

// Ready reports whether the manager accepts work.
func (m *Manager) Ready() bool { return !m.closed.Load() }

// AuthEnabled reports whether API keys are checked system-wide.
func (m *Manager) AuthEnabled() bool { return m.auth.Enabled() }

// Deploy creates (or returns) the user's deployment and schedules its load
// in the background. Load failures surface only through the record's status.
func (m *Manager) Deploy(ctx context.Context, req DeployRequest) (DeployResult, error) {
	if m.closed.Load() {
		return DeployResult{}, ErrValidation("server is shutting down")
	}
	req.ModelName = strings.TrimSpace(req.ModelName)
	if req.ModelName == "" {
		return DeployResult{}, ErrValidation("model_name is required")
	}
	backend, err := runtime.ParseBackend(req.Backend, m.cfg.DefaultBackend)
	if err != nil {
		return DeployResult{}, ErrValidation(err.Error())
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = uuid.NewString()
	} else if !userIDPattern.MatchString(userID) {
		return DeployResult{}, ErrValidation("user_id must be 1-128 characters of letters, digits, '.', '_' or '-'")
	}
	var key string
	if req.APIKeyEnabled {
		if key, err = m.auth.GenerateKey(); err != nil {
			return DeployResult{}, err
		}
	}
	dep, created, replaced, err := m.registry.Create(Deployment{
		UserID:        userID,
		ModelName:     req.ModelName,
		Backend:       backend,
		APIKey:        key,
		APIKeyEnabled: req.APIKeyEnabled,
		BaseURL:       m.addrs.BaseURL(ctx, userID),
		CustomConfig:  req.CustomConfig,
	})
	if err != nil {
		return DeployResult{}, err
	}
	if !created {
		return DeployResult{Deployment: dep}, nil
	}
	if replaced != nil {
		m.publisher.Publish(Event{Name: EventReplaced, UserID: userID, Fields: map[string]any{"model": dep.ModelName}})
		m.releaseAsync(userID, replaced)
	}
	m.publisher.Publish(Event{Name: EventDeployCreated, UserID: userID, Fields: map[string]any{"model": dep.ModelName, "backend": string(backend)}})
	m.log.Info().Str("user_id", userID).Str("model", dep.ModelName).Str("backend", string(backend)).Msg("deployment created")

	m.schedule(loadJob{
		userID: userID,
		epoch:  dep.epoch,
		spec:   runtime.LoadSpec{ModelName: dep.ModelName, Backend: backend, Options: dep.CustomConfig},
	})
	// schedule moves a startable job to deploying synchronously.
	if cur, ok := m.registry.Get(userID); ok && cur.epoch == dep.epoch {
		dep = cur
	}
	return DeployResult{Deployment: dep, Created: true}, nil
}

// Get returns the user's deployment.
func (m *Manager) Get(userID string) (Deployment, error) {
	d, ok := m.registry.Get(userID)
	if !ok {
		return Deployment{}, ErrNotFound(userID)
	}
	return d, nil
}

// List returns every deployment ordered by creation time.
func (m *Manager) List() []Deployment { return m.registry.List() }

// Stop marks the deployment stopped and releases its model. A load still in
// progress is discarded when it completes.
func (m *Manager) Stop(userID string) (Deployment, error) {
	dep, h, err := m.registry.Stop(userID)
	if err != nil {
		return Deployment{}, err
	}
	m.release(userID, h)
	m.publisher.Publish(Event{Name: EventStopped, UserID: userID, Fields: map[string]any{"model": dep.ModelName}})
	m.log.Info().Str("user_id", userID).Msg("deployment stopped")
	return dep, nil
}

// Delete removes the deployment and releases its model.
func (m *Manager) Delete(userID string) error {
	dep, h, err := m.registry.Remove(userID)
	if err != nil {
		return err
	}
	m.release(userID, h)
	if f, ok := m.cfg.Limiter.(interface{ Forget(string) }); ok {
		f.Forget(userID)
	}
	m.publisher.Publish(Event{Name: EventDeleted, UserID: userID, Fields: map[string]any{"model": dep.ModelName}})
	m.log.Info().Str("user_id", userID).Msg("deployment deleted")
	return nil
}

// ValidateKey reports whether key grants access to userID's endpoint. It is
// true when auth is disabled or the deployment does not require a key.
func (m *Manager) ValidateKey(userID, key string) bool {
	d, ok := m.registry.Get(userID)
	if !ok {
		return false
	}
	return m.auth.Authorize(d, key) == nil
}

// Close stops accepting deployments, abandons queued loads and releases
// every loaded model. Loads in flight discard their result on completion.
func (m *Manager) Close(ctx context.Context) error {
	m.lifeMu.Lock()
	first := m.closed.CompareAndSwap(false, true)
	m.lifeMu.Unlock()
	if !first {
		return nil
	}
	m.cancel()
	for _, h := range m.registry.detachAll() {
		m.release("", h)
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		// A load that finished while Close was detaching may have attached.
		for _, h := range m.registry.detachAll() {
			m.release("", h)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release unloads h synchronously. Nil is a no-op.
func (m *Manager) release(userID string, h *Handle) {
	if h == nil {
		return
	}
	drained, err := h.release(m.rt, m.cfg.DrainTimeout)
	ev := m.log.Info()
	if err != nil {
		ev = m.log.Warn().Err(err)
	}
	ev.Str("user_id", userID).Bool("drained", drained).Msg("model released")
}

func (m *Manager) releaseAsync(userID string, h *Handle) {
	if !m.goTracked(func() { m.release(userID, h) }) {
		m.release(userID, h)
	}
}

// goTracked runs fn in a goroutine Close waits for. It reports false, without
// running fn, once the manager is closed.
func (m *Manager) goTracked(fn func()) bool {
	m.lifeMu.RLock()
	defer m.lifeMu.RUnlock()
	if m.closed.Load() {
		return false
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
	return true
}
