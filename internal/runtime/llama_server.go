package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LlamaServerConfig configures the remote llama-server backend.
type LlamaServerConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	Logger         zerolog.Logger
}

// llamaServerRuntime serves every deployment from one running llama.cpp server.
// Loading only verifies the server is reachable and knows the model.
type llamaServerRuntime struct {
	client *completionClient
}

// NewLlamaServer constructs the remote llama-server backend.
func NewLlamaServer(cfg LlamaServerConfig) (Runtime, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("llama server url is empty")
	}
	log := cfg.Logger.With().Str("adapter", "llama_server").Logger()
	return &llamaServerRuntime{
		client: newCompletionClient(cfg.BaseURL, cfg.APIKey, cfg.RequestTimeout, cfg.ConnectTimeout, log),
	}, nil
}

type llamaServerModel struct {
	client *completionClient
	name   string
	task   Task
}

func (r *llamaServerRuntime) Load(ctx context.Context, spec LoadSpec) (Model, error) {
	if strings.TrimSpace(spec.ModelName) == "" {
		return nil, errors.New("model name is empty")
	}
	task, err := taskFromOptions(spec.Options, TaskTextGeneration)
	if err != nil {
		return nil, err
	}
	ids, err := r.client.listModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("llama server unavailable: %w", err)
	}
	// A server that lists nothing serves whatever it was started with.
	if len(ids) > 0 && !containsModel(ids, spec.ModelName) {
		return nil, fmt.Errorf("model %q not served by llama server (have %s)", spec.ModelName, strings.Join(ids, ", "))
	}
	return &llamaServerModel{client: r.client, name: spec.ModelName, task: task}, nil
}

func (r *llamaServerRuntime) Unload(Model) error { return nil }

func (m *llamaServerModel) Backend() Backend { return BackendLlamaServer }
func (m *llamaServerModel) Task() Task       { return m.task }

func (m *llamaServerModel) Generate(ctx context.Context, prompt string, p Params, onToken func(string) error) (Result, error) {
	return m.client.complete(ctx, m.name, prompt, p, onToken)
}

// containsModel matches ids exactly or by base name, since llama-server
// reports the model path it was started with.
func containsModel(ids []string, name string) bool {
	for _, id := range ids {
		if id == name {
			return true
		}
		base := id
		if i := strings.LastIndexAny(base, `/\`); i >= 0 {
			base = base[i+1:]
		}
		if base == name || strings.TrimSuffix(base, ".gguf") == strings.TrimSuffix(name, ".gguf") {
			return true
		}
	}
	return false
}
