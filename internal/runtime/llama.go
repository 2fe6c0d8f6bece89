//go:build llama

package runtime

import (
	"context"
	"errors"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"
	"github.com/rs/zerolog"
)

// LlamaBuilt indicates this binary was compiled with real llama support.
const LlamaBuilt = true

// LlamaConfig holds defaults used to initialize in-process models.
type LlamaConfig struct {
	CtxSize  int
	Threads  int
	NGL      int
	Resolver PathResolver
	Logger   zerolog.Logger
}

type llamaRuntime struct {
	cfg LlamaConfig
	log zerolog.Logger
}

// NewLlama constructs the in-process go-llama.cpp backend.
func NewLlama(cfg LlamaConfig) (Runtime, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("llama backend requires a model resolver")
	}
	return &llamaRuntime{cfg: cfg, log: cfg.Logger.With().Str("adapter", "llama").Logger()}, nil
}

// llamaModel owns the loaded weights. go-llama.cpp keeps one token callback per
// model, so generations on the same model are serialized.
type llamaModel struct {
	mu      sync.Mutex
	model   *llama.LLama
	threads int
	task    Task
}

func (r *llamaRuntime) Load(ctx context.Context, spec LoadSpec) (Model, error) {
	task, err := taskFromOptions(spec.Options, TaskTextGeneration)
	if err != nil {
		return nil, err
	}
	path, err := r.cfg.Resolver.Resolve(spec.ModelName)
	if err != nil {
		return nil, err
	}
	mo := []llama.ModelOption{
		llama.SetContext(intOption(spec.Options, "ctx_size", r.cfg.CtxSize)),
	}
	if ngl := intOption(spec.Options, "ngl", r.cfg.NGL); ngl > 0 {
		mo = append(mo, llama.SetGPULayers(ngl))
	}
	m, err := llama.New(path, mo...)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		m.Free()
		return nil, ctx.Err()
	}
	r.log.Info().Str("model", spec.ModelName).Str("path", path).Msg("llama loaded")
	return &llamaModel{model: m, threads: intOption(spec.Options, "threads", r.cfg.Threads), task: task}, nil
}

func (r *llamaRuntime) Unload(m Model) error {
	lm, ok := m.(*llamaModel)
	if !ok {
		return errors.New("llama: unexpected model type")
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.model != nil {
		lm.model.Free()
		lm.model = nil
	}
	return nil
}

func (m *llamaModel) Backend() Backend { return BackendLlama }
func (m *llamaModel) Task() Task       { return m.task }

func (m *llamaModel) Generate(ctx context.Context, prompt string, p Params, onToken func(string) error) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.model == nil {
		return Result{}, errors.New("llama model not initialized")
	}
	var cbErr error
	m.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if onToken != nil {
			if err := onToken(tok); err != nil {
				cbErr = err
				return false
			}
		}
		return true
	})
	text, err := m.model.Predict(prompt, predictOptions(p, m.threads)...)
	if cbErr != nil {
		return Result{Text: text}, cbErr
	}
	if ctx.Err() != nil {
		return Result{Text: text}, ctx.Err()
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text, FinishReason: "stop"}, nil
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// predictOptions converts request params into go-llama.cpp options.
func predictOptions(p Params, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(max(1, p.MaxTokens)),
		llama.SetThreads(max(1, threads)),
		llama.SetTopP(zf(p.TopP, llama.DefaultOptions.TopP)),
		llama.SetTemperature(p.Temperature),
	}
	if len(p.Stop) > 0 {
		po = append(po, llama.SetStopWords(p.Stop...))
	}
	return po
}
