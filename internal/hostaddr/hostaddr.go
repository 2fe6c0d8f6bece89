// Package hostaddr determines the externally reachable address used in
// deployment base URLs.
package hostaddr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Source records where an address came from.
type Source string

const (
	SourceConfigured Source = "configured"
	SourceMetadata   Source = "metadata"
	SourceFallback   Source = "fallback"
)

// FallbackAddress is used when no external address can be determined.
const FallbackAddress = "localhost"

// metadataPath is the GCE metadata path holding the instance's external IPv4.
const metadataPath = "/instance/network-interfaces/0/access-configs/0/external-ip"

const (
	defaultTimeout  = 2 * time.Second
	defaultCacheTTL = 5 * time.Minute
)

// Result is the outcome of an address lookup. Err is set when the metadata
// query failed and Address holds the fallback.
type Result struct {
	Address string
	Source  Source
	Err     error
}

// Config configures a Resolver.
type Config struct {
	// PublicBaseURL, when set, replaces address discovery entirely,
	// e.g. "https://models.example.com".
	PublicBaseURL string
	// MetadataURL is the GCE metadata root, e.g.
	// "http://metadata.google.internal/computeMetadata/v1". Empty disables the lookup.
	MetadataURL string
	// Port is the service port placed in discovered base URLs.
	Port     int
	Timeout  time.Duration
	CacheTTL time.Duration
	Client   *http.Client
	Logger   zerolog.Logger
}

// Resolver resolves and caches the external address.
type Resolver struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger
	group  singleflight.Group

	mu      sync.Mutex
	cached  Result
	expires time.Time
	now     func() time.Time
}

// New constructs a Resolver.
func New(cfg Config) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.Port <= 0 {
		cfg.Port = 8000
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Resolver{
		cfg:    cfg,
		client: client,
		log:    cfg.Logger.With().Str("component", "hostaddr").Logger(),
		now:    time.Now,
	}
}

// PortFromAddr extracts the port of a listen address like ":8000".
func PortFromAddr(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(p)
	return n
}

// Resolve returns the external address, querying metadata at most once per TTL.
func (r *Resolver) Resolve(ctx context.Context) Result {
	if u := strings.TrimSpace(r.cfg.PublicBaseURL); u != "" {
		return Result{Address: u, Source: SourceConfigured}
	}
	if strings.TrimSpace(r.cfg.MetadataURL) == "" {
		return Result{Address: FallbackAddress, Source: SourceFallback}
	}
	r.mu.Lock()
	if r.cached.Address != "" && r.now().Before(r.expires) {
		res := r.cached
		r.mu.Unlock()
		return res
	}
	r.mu.Unlock()

	v, _, _ := r.group.Do("external", func() (any, error) {
		res := r.lookup(ctx)
		r.mu.Lock()
		r.cached = res
		r.expires = r.now().Add(r.cfg.CacheTTL)
		r.mu.Unlock()
		return res, nil
	})
	return v.(Result)
}

// BaseURL returns the OpenAI-compatible base URL for a user's deployment.
func (r *Resolver) BaseURL(ctx context.Context, userID string) string {
	res := r.Resolve(ctx)
	if res.Source == SourceConfigured {
		return strings.TrimRight(res.Address, "/") + "/user/" + userID + "/v1"
	}
	return fmt.Sprintf("http://%s/user/%s/v1", net.JoinHostPort(res.Address, strconv.Itoa(r.cfg.Port)), userID)
}

func (r *Resolver) lookup(ctx context.Context) Result {
	// Detached from the caller so one canceled request does not poison the cache.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.Timeout)
	defer cancel()
	addr, err := r.queryMetadata(ctx)
	if err != nil {
		r.log.Warn().Err(err).Str("fallback", FallbackAddress).Msg("external address lookup failed")
		return Result{Address: FallbackAddress, Source: SourceFallback, Err: err}
	}
	r.log.Info().Str("address", addr).Msg("external address resolved")
	return Result{Address: addr, Source: SourceMetadata}
}

func (r *Resolver) queryMetadata(ctx context.Context) (string, error) {
	url := strings.TrimRight(r.cfg.MetadataURL, "/") + metadataPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Metadata-Flavor", "Google")
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata server returned %s", resp.Status)
	}
	addr := strings.TrimSpace(string(body))
	if net.ParseIP(addr) == nil {
		return "", errors.New("metadata server returned an invalid address")
	}
	return addr, nil
}
