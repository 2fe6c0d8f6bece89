package runtime

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Backend names a model runtime implementation.
type Backend string

const (
	// BackendLlama runs the model in-process through go-llama.cpp.
	BackendLlama Backend = "llama"
	// BackendLlamaServer talks to an already running OpenAI-compatible llama.cpp server.
	BackendLlamaServer Backend = "llama_server"
	// BackendSpawn starts one llama-server subprocess per loaded model.
	BackendSpawn Backend = "spawn"
)

// Backends lists every supported backend tag.
var Backends = []Backend{BackendLlama, BackendLlamaServer, BackendSpawn}

// ParseBackend validates a backend tag. Empty input yields def.
func ParseBackend(s string, def Backend) (Backend, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return def, nil
	}
	for _, b := range Backends {
		if string(b) == s {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown backend %q", s)
}

// Task selects prompt post-processing for a loaded model.
type Task string

const (
	// TaskTextGeneration is a causal model: output echoes the prompt.
	TaskTextGeneration Task = "text-generation"
	// TaskText2Text is a sequence-to-sequence model: output is only the reply.
	TaskText2Text Task = "text2text-generation"
)

// LoadSpec describes a model to load.
type LoadSpec struct {
	// ModelName is the caller-facing name (catalog id for the llama backends).
	ModelName string
	Backend   Backend
	// Options carries per-deployment hints: task, ctx_size, threads, ngl.
	Options map[string]any
}

// Params are per-request sampling parameters.
type Params struct {
	MaxTokens   int
	Temperature float32
	TopP        float32
	Stop        []string
}

// Result summarizes one generation.
type Result struct {
	Text         string
	FinishReason string
}

// Model is a loaded, ready-to-generate model.
type Model interface {
	Backend() Backend
	Task() Task
	// Generate runs the prompt. onToken, when non-nil, receives fragments as
	// they are produced; a non-nil return aborts generation with that error.
	// Implementations must return when ctx is canceled.
	Generate(ctx context.Context, prompt string, p Params, onToken func(string) error) (Result, error)
}

// Runtime loads and releases models.
type Runtime interface {
	Load(ctx context.Context, spec LoadSpec) (Model, error)
	Unload(m Model) error
}

// PathResolver maps a model name to a file on disk.
type PathResolver interface {
	Resolve(name string) (string, error)
}

// dependencyUnavailableError signals a missing external dependency (e.g., llama.cpp)
// so callers can tell it apart from a model that failed to load.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	return errors.As(err, &e)
}

// taskFromOptions reads an explicit "task" hint, falling back to def.
func taskFromOptions(opts map[string]any, def Task) (Task, error) {
	v, ok := opts["task"]
	if !ok {
		return def, nil
	}
	s, _ := v.(string)
	switch Task(strings.TrimSpace(s)) {
	case TaskTextGeneration:
		return TaskTextGeneration, nil
	case TaskText2Text:
		return TaskText2Text, nil
	}
	return "", fmt.Errorf("unsupported task %v", v)
}

// intOption reads an integer hint. JSON numbers decode as float64.
func intOption(opts map[string]any, key string, def int) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}
