package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"modelproxy/internal/hostaddr"
	"modelproxy/internal/httpapi"
	"modelproxy/internal/manager"
	"modelproxy/internal/ratelimit"
	"modelproxy/internal/runtime"
	"modelproxy/pkg/types"
)

// fakeLlamaServer is an OpenAI-compatible completion server. Every
// completion streams the configured fragments.
type fakeLlamaServer struct {
	*httptest.Server

	mu        sync.Mutex
	models    []string
	fragments []string
	prompts   []string
}

func newFakeLlamaServer(t *testing.T, models []string, fragments ...string) *fakeLlamaServer {
	t.Helper()
	f := &fakeLlamaServer{models: models, fragments: fragments}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		data := make([]map[string]string, 0, len(f.models))
		for _, m := range f.models {
			data = append(data, map[string]string{"id": m})
		}
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
	})
	mux.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.prompts = append(f.prompts, req.Prompt)
		frags := append([]string(nil), f.fragments...)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fl, _ := w.(http.Flusher)
		for _, s := range frags {
			b, _ := json.Marshal(map[string]any{"object": "text_completion", "choices": []map[string]any{{"text": s}}})
			_, _ = w.Write([]byte("data: " + string(b) + "\n\n"))
			if fl != nil {
				fl.Flush()
			}
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeLlamaServer) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

// newStack wires a real manager and HTTP API over the llama_server backend
// pointed at upstream. mutate may adjust the manager config.
func newStack(t *testing.T, upstream string, mutate func(*manager.ManagerConfig)) (*httptest.Server, *manager.Manager) {
	t.Helper()
	ls, err := runtime.NewLlamaServer(runtime.LlamaServerConfig{BaseURL: upstream, RequestTimeout: 5 * time.Second, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("llama server runtime: %v", err)
	}
	cfg := manager.ManagerConfig{
		Runtime:        runtime.NewMux().Register(runtime.BackendLlamaServer, ls),
		DefaultBackend: runtime.BackendLlamaServer,
		Addresses:      hostaddr.New(hostaddr.Config{PublicBaseURL: "http://proxy.test"}),
		Limiter:        ratelimit.New(0),
		Logger:         zerolog.Nop(),
		LoadTimeout:    5 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	mgr := manager.NewWithConfig(cfg)
	srv := httptest.NewServer(httpapi.NewMux(mgr, nil))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Close(ctx)
	})
	return srv, mgr
}

func do(t *testing.T, method, url string, payload any, hdr map[string]string) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, body)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func bearer(key string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + key}
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("decode %s: %v", string(b), err)
	}
	return v
}

// waitForStatus polls deployment-status until it reports want.
func waitForStatus(t *testing.T, base, userID, want string) types.DeploymentStatus {
	t.Helper()
	return waitForStatusWithin(t, base, userID, want, 5*time.Second)
}

func waitForStatusWithin(t *testing.T, base, userID, want string, d time.Duration) types.DeploymentStatus {
	t.Helper()
	deadline := time.Now().Add(d)
	var last types.DeploymentStatus
	for time.Now().Before(deadline) {
		resp, b := do(t, http.MethodGet, base+"/api/v1/deployment-status/"+userID, nil, nil)
		if resp.StatusCode == http.StatusOK {
			last = decode[types.DeploymentStatus](t, b)
			if last.Status == want {
				return last
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("deployment %s never reached %s (last=%+v)", userID, want, last)
	return last
}

func chatBody(stream bool, content string) types.ChatCompletionRequest {
	return types.ChatCompletionRequest{
		Messages: []types.ChatMessage{{Role: "user", Content: content}},
		Stream:   stream,
	}
}
