package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"modelproxy/internal/hostaddr"
	"modelproxy/internal/runtime"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxConcurrentLoads       = 2
	defaultMaxConcurrentGenerations = 4
	defaultLoadTimeout              = 10 * time.Minute
	defaultGenerateQueueTimeout     = 30 * time.Second
	defaultDrainTimeout             = 30 * time.Second
	defaultVersion                  = "dev"
)

// Addresses builds deployment base URLs and reports the external address.
// *hostaddr.Resolver satisfies it.
type Addresses interface {
	BaseURL(ctx context.Context, userID string) string
	Resolve(ctx context.Context) hostaddr.Result
}

// Limiter admits or rejects a request for a tenant. *ratelimit.Limiter satisfies it.
type Limiter interface {
	Allow(key string) error
}

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	// Runtime loads models. Usually a *runtime.Mux over the configured backends.
	Runtime        runtime.Runtime
	DefaultBackend runtime.Backend
	Addresses      Addresses
	Limiter        Limiter
	Publisher      EventPublisher
	Logger         zerolog.Logger

	// DisableAuth turns off API-key checks system-wide.
	DisableAuth bool
	// MaxDeployments caps concurrent deployment records (0 = unlimited).
	MaxDeployments           int
	MaxConcurrentLoads       int
	MaxConcurrentGenerations int
	LoadTimeout              time.Duration
	// GenerateQueueTimeout bounds the wait for a generation slot.
	GenerateQueueTimeout time.Duration
	// DrainTimeout bounds the wait for in-flight generations on release.
	DrainTimeout time.Duration

	Version  string
	Features []string
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	if cfg.Runtime == nil {
		cfg.Runtime = runtime.NewMux()
	}
	if cfg.DefaultBackend == "" {
		cfg.DefaultBackend = runtime.BackendLlama
	}
	if cfg.Addresses == nil {
		cfg.Addresses = hostaddr.New(hostaddr.Config{})
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	if cfg.MaxConcurrentLoads <= 0 {
		cfg.MaxConcurrentLoads = defaultMaxConcurrentLoads
	}
	if cfg.MaxConcurrentGenerations <= 0 {
		cfg.MaxConcurrentGenerations = defaultMaxConcurrentGenerations
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = defaultLoadTimeout
	}
	if cfg.GenerateQueueTimeout <= 0 {
		cfg.GenerateQueueTimeout = defaultGenerateQueueTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if cfg.Version == "" {
		cfg.Version = defaultVersion
	}
	return newManager(cfg)
}
