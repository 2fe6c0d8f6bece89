package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"modelproxy/internal/catalog"
	"modelproxy/internal/config"
	"modelproxy/internal/hostaddr"
	"modelproxy/internal/httpapi"
	"modelproxy/internal/manager"
	"modelproxy/internal/ratelimit"
	"modelproxy/internal/runtime"
	"modelproxy/internal/search"
)

const shutdownTimeout = 30 * time.Second

// buildRuntime registers every backend the configuration enables. llama is
// always registered; without -tags=llama its loads fail as dependency unavailable.
// The returned cleanup stops spawned servers.
func buildRuntime(cfg config.Config, cat *catalog.Catalog, log zerolog.Logger) (*runtime.Mux, []string, func(), error) {
	mux := runtime.NewMux()
	cleanup := func() {}
	backends := []string{string(runtime.BackendLlama)}

	llama, err := runtime.NewLlama(runtime.LlamaConfig{
		CtxSize:  cfg.LlamaCtxSize,
		Threads:  cfg.LlamaThreads,
		NGL:      cfg.LlamaNGL,
		Resolver: cat,
		Logger:   log,
	})
	if err != nil {
		return nil, nil, cleanup, fmt.Errorf("llama backend: %w", err)
	}
	mux.Register(runtime.BackendLlama, llama)

	if cfg.LlamaServerURL != "" {
		ls, err := runtime.NewLlamaServer(runtime.LlamaServerConfig{
			BaseURL: cfg.LlamaServerURL,
			APIKey:  cfg.LlamaServerAPIKey,
			Logger:  log,
		})
		if err != nil {
			return nil, nil, cleanup, fmt.Errorf("llama_server backend: %w", err)
		}
		mux.Register(runtime.BackendLlamaServer, ls)
		backends = append(backends, string(runtime.BackendLlamaServer))
	}

	if cfg.LlamaBin != "" {
		sp, err := runtime.NewSpawn(runtime.SpawnConfig{
			Bin:       cfg.LlamaBin,
			Host:      cfg.LlamaHost,
			PortStart: cfg.LlamaPortStart,
			PortEnd:   cfg.LlamaPortEnd,
			CtxSize:   cfg.LlamaCtxSize,
			Threads:   cfg.LlamaThreads,
			NGL:       cfg.LlamaNGL,
			ExtraArgs: cfg.LlamaExtraArgs,
			Resolver:  cat,
			Logger:    log,
		})
		if err != nil {
			return nil, nil, cleanup, fmt.Errorf("spawn backend: %w", err)
		}
		mux.Register(runtime.BackendSpawn, sp)
		backends = append(backends, string(runtime.BackendSpawn))
		cleanup = sp.StopAll
	}
	return mux, backends, cleanup, nil
}

// newService wires the manager and its collaborators from cfg.
func newService(cfg config.Config, log zerolog.Logger) (*manager.Manager, *search.Provider, func(), error) {
	cat, err := catalog.New(cfg.ModelsDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("models dir: %w", err)
	}
	if models, err := cat.Scan(); err != nil {
		log.Warn().Err(err).Str("dir", cat.Dir()).Msg("models dir not readable")
	} else {
		log.Info().Int("count", len(models)).Str("dir", cat.Dir()).Msg("model catalog scanned")
	}

	rt, backends, cleanup, err := buildRuntime(cfg, cat, log)
	if err != nil {
		return nil, nil, nil, err
	}
	defBackend, _ := runtime.ParseBackend(cfg.DefaultBackend, runtime.BackendLlama)
	if !rt.Has(defBackend) {
		log.Warn().Str("backend", string(defBackend)).Msg("default backend is not configured; deploys without a backend will fail")
	}

	addrs := hostaddr.New(hostaddr.Config{
		PublicBaseURL: cfg.PublicBaseURL,
		MetadataURL:   cfg.MetadataURL,
		Port:          hostaddr.PortFromAddr(cfg.Addr),
		CacheTTL:      cfg.AddressCacheTTL(),
		Logger:        log,
	})

	features := append([]string{"streaming", "model_search"}, backends...)
	if cfg.EnableAuth {
		features = append(features, "api_keys")
	}
	if cfg.RequestsPerMinute > 0 {
		features = append(features, "rate_limit")
	}

	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Runtime:                  rt,
		DefaultBackend:           defBackend,
		Addresses:                addrs,
		Limiter:                  ratelimit.New(cfg.RequestsPerMinute),
		Publisher:                manager.NewLogPublisher(log),
		Logger:                   log,
		DisableAuth:              !cfg.EnableAuth,
		MaxDeployments:           cfg.MaxDeployments,
		MaxConcurrentLoads:       cfg.MaxConcurrentLoads,
		MaxConcurrentGenerations: cfg.MaxConcurrentGenerations,
		LoadTimeout:              cfg.LoadTimeout(),
		GenerateQueueTimeout:     cfg.GenerateQueueTimeout(),
		DrainTimeout:             cfg.DrainTimeout(),
		Version:                  version,
		Features:                 features,
	})

	searcher := search.New(search.Config{
		APIURL:   cfg.HFAPIURL,
		CacheTTL: cfg.SearchCacheTTL(),
		Logger:   log,
	})
	return mgr, searcher, cleanup, nil
}

// configureHTTP pushes HTTP layer settings and builds the handler.
func configureHTTP(cfg config.Config, mgr *manager.Manager, searcher httpapi.Searcher, log zerolog.Logger) http.Handler {
	httpapi.SetLogger(log)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetChatTimeoutSeconds(int64(cfg.ChatTimeoutSeconds))
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins, nil, nil)
	httpapi.SetSettings(cfg.Settings())
	return httpapi.NewMux(mgr, searcher)
}

func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr, searcher, cleanup, err := newService(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()
	if err := prometheus.Register(mgr.Collector()); err != nil {
		log.Warn().Err(err).Msg("deployment collector not registered")
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           configureHTTP(cfg, mgr, searcher, log),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("version", version).Str("models_dir", cfg.ModelsDir).Msg("modelproxy listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// In-flight requests get until the deadline; streams still open after that are canceled.
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	cancelBase()
	cctx, ccancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer ccancel()
	if err := mgr.Close(cctx); err != nil {
		log.Warn().Err(err).Msg("manager close")
	}
	return nil
}
