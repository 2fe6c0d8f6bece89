package e2e

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"modelproxy/internal/manager"
	"modelproxy/internal/ratelimit"
	"modelproxy/pkg/types"
)

// streamText concatenates the delta contents of an SSE body and reports
// whether it ended with [DONE].
func streamText(t *testing.T, body []byte) (string, bool) {
	t.Helper()
	var (
		text strings.Builder
		done bool
	)
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			done = true
			continue
		}
		var c types.ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			t.Fatalf("decode chunk %q: %v", data, err)
		}
		if len(c.Choices) > 0 {
			text.WriteString(c.Choices[0].Delta.Content)
		}
	}
	return text.String(), done
}

func TestE2E_DeployChatStopDelete(t *testing.T) {
	up := newFakeLlamaServer(t, []string{"/models/tiny.gguf"}, "Hello", " world")
	srv, _ := newStack(t, up.URL, nil)

	resp, b := do(t, http.MethodPost, srv.URL+"/api/v1/deploy-model", map[string]any{"model_name": "tiny.gguf", "user_id": "alice"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deploy status=%d body=%s", resp.StatusCode, b)
	}
	dr := decode[types.DeployResponse](t, b)
	if dr.Message != "Deployment started" || dr.Backend != "llama_server" || !dr.APIKeyEnabled {
		t.Fatalf("unexpected deploy response: %+v", dr)
	}

	st := waitForStatus(t, srv.URL, "alice", "ready")
	if !strings.HasPrefix(st.APIKey, "sk-") || st.BaseURL != "http://proxy.test/user/alice/v1" || st.LoadedAt == nil {
		t.Fatalf("unexpected ready status: %+v", st)
	}
	key := st.APIKey

	// Redeploying the same model is idempotent.
	_, b = do(t, http.MethodPost, srv.URL+"/api/v1/deploy-model", map[string]any{"model_name": "tiny.gguf", "user_id": "alice"}, nil)
	if dr := decode[types.DeployResponse](t, b); dr.Message != "Deployment already exists" || dr.Status != "ready" {
		t.Fatalf("unexpected redeploy response: %+v", dr)
	}

	if resp, _ := do(t, http.MethodGet, srv.URL+"/user/alice/v1/models", nil, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("models without key: %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodGet, srv.URL+"/user/alice/v1/models", nil, bearer("sk-wrong")); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("models with wrong key: %d", resp.StatusCode)
	}
	resp, b = do(t, http.MethodGet, srv.URL+"/user/alice/v1/models", nil, bearer(key))
	ml := decode[types.ModelList](t, b)
	if resp.StatusCode != http.StatusOK || len(ml.Data) != 1 || ml.Data[0].ID != "tiny.gguf" || ml.Data[0].OwnedBy != "user-alice" {
		t.Fatalf("models: %d %+v", resp.StatusCode, ml)
	}

	resp, b = do(t, http.MethodPost, srv.URL+"/user/alice/v1/chat/completions", chatBody(false, "hi"), bearer(key))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat status=%d body=%s", resp.StatusCode, b)
	}
	cr := decode[types.ChatCompletionResponse](t, b)
	if len(cr.Choices) != 1 || cr.Choices[0].Message.Content != "Hello world" || cr.Usage.CompletionTokens != 2 {
		t.Fatalf("unexpected chat response: %+v", cr)
	}
	if p := up.lastPrompt(); !strings.Contains(p, "User: hi") || !strings.HasSuffix(p, "Assistant:") {
		t.Fatalf("unexpected upstream prompt %q", p)
	}

	resp, b = do(t, http.MethodPost, srv.URL+"/user/alice/v1/chat/completions", chatBody(true, "hi"), bearer(key))
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("stream status=%d ct=%q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if text, done := streamText(t, b); text != "Hello world" || !done {
		t.Fatalf("stream text=%q done=%v", text, done)
	}

	_, b = do(t, http.MethodGet, srv.URL+"/api/v1/status", nil, nil)
	ss := decode[types.ServerStatus](t, b)
	if ss.ActiveDeployments != 1 || ss.ByStatus["ready"] != 1 || ss.TotalRequests != 2 || ss.ExternalIPSource != "configured" {
		t.Fatalf("unexpected server status: %+v", ss)
	}

	if resp, _ := do(t, http.MethodPost, srv.URL+"/api/v1/deployments/alice/stop", nil, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("stop: %d", resp.StatusCode)
	}
	waitForStatus(t, srv.URL, "alice", "stopped")
	if resp, _ := do(t, http.MethodPost, srv.URL+"/user/alice/v1/chat/completions", chatBody(false, "hi"), bearer(key)); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("chat on stopped deployment: %d", resp.StatusCode)
	}

	if resp, _ := do(t, http.MethodDelete, srv.URL+"/api/v1/deployments/alice", nil, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodGet, srv.URL+"/api/v1/deployment-status/alice", nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status after delete: %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodPost, srv.URL+"/user/alice/v1/chat/completions", chatBody(false, "hi"), bearer(key)); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("chat after delete: %d", resp.StatusCode)
	}
}

func TestE2E_LoadFailureThenRedeploy(t *testing.T) {
	up := newFakeLlamaServer(t, []string{"other.gguf"}, "ok")
	srv, _ := newStack(t, up.URL, nil)

	do(t, http.MethodPost, srv.URL+"/api/v1/deploy-model", map[string]any{"model_name": "tiny.gguf", "user_id": "bob"}, nil)
	st := waitForStatus(t, srv.URL, "bob", "error")
	if !strings.Contains(st.ErrorMessage, "not served") {
		t.Fatalf("expected load error message, got %q", st.ErrorMessage)
	}

	up.mu.Lock()
	up.models = append(up.models, "tiny.gguf")
	up.mu.Unlock()

	resp, b := do(t, http.MethodPost, srv.URL+"/api/v1/deploy-model", map[string]any{"model_name": "tiny.gguf", "user_id": "bob"}, nil)
	if dr := decode[types.DeployResponse](t, b); resp.StatusCode != http.StatusOK || dr.Message != "Deployment started" {
		t.Fatalf("redeploy after error: %d %+v", resp.StatusCode, dr)
	}
	if st := waitForStatus(t, srv.URL, "bob", "ready"); st.ErrorMessage != "" {
		t.Fatalf("error message should clear on a fresh record: %+v", st)
	}
}

func TestE2E_KeylessDeployment(t *testing.T) {
	up := newFakeLlamaServer(t, nil, "fine")
	srv, _ := newStack(t, up.URL, nil)

	do(t, http.MethodPost, srv.URL+"/api/v1/deploy-model", map[string]any{"model_name": "any.gguf", "user_id": "carol", "api_key_enabled": false}, nil)
	st := waitForStatus(t, srv.URL, "carol", "ready")
	if st.APIKey != "" || st.APIKeyEnabled {
		t.Fatalf("keyless deployment must not expose a key: %+v", st)
	}
	resp, b := do(t, http.MethodPost, srv.URL+"/user/carol/v1/chat/completions", chatBody(false, "hi"), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("keyless chat: %d %s", resp.StatusCode, b)
	}
}

func TestE2E_StopSequence(t *testing.T) {
	up := newFakeLlamaServer(t, nil, "Hel", "lo ##", "# tail")
	srv, _ := newStack(t, up.URL, func(c *manager.ManagerConfig) { c.DisableAuth = true })

	do(t, http.MethodPost, srv.URL+"/api/v1/deploy-model", map[string]any{"model_name": "m.gguf", "user_id": "dave"}, nil)
	waitForStatus(t, srv.URL, "dave", "ready")

	req := chatBody(false, "hi")
	req.Stop = []string{"###"}
	_, b := do(t, http.MethodPost, srv.URL+"/user/dave/v1/chat/completions", req, nil)
	if cr := decode[types.ChatCompletionResponse](t, b); cr.Choices[0].Message.Content != "Hello" || cr.Choices[0].FinishReason != "stop" {
		t.Fatalf("unexpected buffered reply: %+v", cr.Choices)
	}

	req.Stream = true
	_, b = do(t, http.MethodPost, srv.URL+"/user/dave/v1/chat/completions", req, nil)
	text, done := streamText(t, b)
	if strings.TrimSpace(text) != "Hello" || strings.Contains(text, "#") || !done {
		t.Fatalf("stream text=%q done=%v", text, done)
	}
}

func TestE2E_RateLimitAndDeploymentCap(t *testing.T) {
	up := newFakeLlamaServer(t, nil, "x")
	srv, _ := newStack(t, up.URL, func(c *manager.ManagerConfig) {
		c.DisableAuth = true
		c.Limiter = ratelimit.New(1)
		c.MaxDeployments = 1
	})

	do(t, http.MethodPost, srv.URL+"/api/v1/deploy-model", map[string]any{"model_name": "m.gguf", "user_id": "erin"}, nil)
	waitForStatus(t, srv.URL, "erin", "ready")

	resp, b := do(t, http.MethodPost, srv.URL+"/api/v1/deploy-model", map[string]any{"model_name": "m.gguf", "user_id": "frank"}, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("deployment cap: %d %s", resp.StatusCode, b)
	}

	if resp, _ := do(t, http.MethodPost, srv.URL+"/user/erin/v1/chat/completions", chatBody(false, "hi"), nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("first chat: %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/user/erin/v1/chat/completions", chatBody(false, "hi"), nil)
	if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get("Retry-After") == "" {
		t.Fatalf("second chat: %d retry-after=%q", resp.StatusCode, resp.Header.Get("Retry-After"))
	}
}
