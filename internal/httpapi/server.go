package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modelproxy/internal/manager"
	"modelproxy/internal/search"
	"modelproxy/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
// *manager.Manager satisfies it.
type Service interface {
	Deploy(ctx context.Context, req manager.DeployRequest) (manager.DeployResult, error)
	Get(userID string) (manager.Deployment, error)
	List() []manager.Deployment
	Stop(userID string) (manager.Deployment, error)
	Delete(userID string) error
	ListModels(ctx context.Context, userID, apiKey string) (types.ModelList, error)
	ChatCompletion(ctx context.Context, userID, apiKey string, req types.ChatCompletionRequest, onChunk func(types.ChatCompletionChunk) error) (types.ChatCompletionResponse, error)
	Status(ctx context.Context) types.ServerStatus
	Uptime() time.Duration
	AuthEnabled() bool
	Ready() bool
}

// Searcher runs model discovery queries. *search.Provider satisfies it.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (search.Response, error)
}

type handlers struct {
	svc    Service
	search Searcher
}

// NewMux builds the router. search may be nil, which disables model search.
func NewMux(svc Service, searcher Searcher) http.Handler {
	h := &handlers{svc: svc, search: searcher}
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, access log, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// Compression for JSON endpoints; event streams are left alone.
	r.Use(middleware.Compress(5, "application/json"))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(corsOptions()))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/deploy-model", h.deploy)
		r.Get("/deployment-status/{user_id}", h.deploymentStatus)
		r.Get("/deployments", h.listDeployments)
		r.Post("/deployments/{user_id}/stop", h.stopDeployment)
		r.Delete("/deployments/{user_id}", h.deleteDeployment)
		r.Get("/status", h.status)
		r.Post("/search-models", h.searchModels)
		r.Get("/settings", h.settings)
	})

	r.Route("/user/{user_id}/v1", func(r chi.Router) {
		r.Get("/models", h.models)
		r.Post("/chat/completions", h.chatCompletions)
	})

	r.Get("/health", h.health)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("shutting down"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

func corsOptions() cors.Options {
	origins := corsAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	methods := corsAllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	}
	headers := corsAllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Authorization", "Content-Type", "X-Log-Level", "X-Request-Id"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: methods,
		AllowedHeaders: headers,
		ExposedHeaders: []string{"X-Request-Id", "Retry-After"},
		MaxAge:         300,
	}
}

// health godoc
// @Summary      Liveness with uptime
// @Tags         health
// @Produce      json
// @Success      200  {object}  types.HealthResponse
// @Router       /health [get]
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:        "healthy",
		Timestamp:     time.Now().Unix(),
		UptimeSeconds: int64(h.svc.Uptime().Seconds()),
	})
}

// status godoc
// @Summary      Aggregate server status
// @Tags         admin
// @Produce      json
// @Success      200  {object}  types.ServerStatus
// @Router       /api/v1/status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status(r.Context()))
}

// settings godoc
// @Summary      Effective configuration (secrets masked)
// @Tags         admin
// @Produce      json
// @Success      200  {object}  types.SettingsResponse
// @Router       /api/v1/settings [get]
func (h *handlers) settings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.SettingsResponse{Settings: settings})
}
