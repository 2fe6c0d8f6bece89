//go:build !llama

package runtime

// This file provides a no-CGO stub for the in-process backend. It is compiled
// when the 'llama' build tag is NOT set, keeping default builds CGO-free.

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// LlamaBuilt indicates this binary was compiled with real llama support.
const LlamaBuilt = false

// LlamaConfig holds defaults used to initialize in-process models.
type LlamaConfig struct {
	CtxSize  int
	Threads  int
	NGL      int
	Resolver PathResolver
	Logger   zerolog.Logger
}

// llamaRuntime refuses every load so deployments fail visibly instead of
// answering with mocked output.
type llamaRuntime struct{}

// NewLlama constructs the stub backend.
func NewLlama(cfg LlamaConfig) (Runtime, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("llama backend requires a model resolver")
	}
	return llamaRuntime{}, nil
}

func (llamaRuntime) Load(ctx context.Context, spec LoadSpec) (Model, error) {
	return nil, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}

func (llamaRuntime) Unload(Model) error { return nil }
