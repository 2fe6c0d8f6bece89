package manager

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"modelproxy/internal/runtime"
	"modelproxy/pkg/types"
)

// Request limits and defaults for chat completions.
const (
	DefaultMaxTokens   = 100
	MaxMaxTokens       = 4096
	DefaultTemperature = 0.7
	DefaultTopP        = 1.0
)

// errStopReached aborts a streamed generation once a stop sequence is seen.
var errStopReached = errors.New("stop sequence reached")

// admit resolves the user's ready handle and checks credentials and rate
// limits. On success the caller must call h.done.
func (m *Manager) admit(userID, apiKey string) (Deployment, *Handle, error) {
	dep, h, err := m.registry.Acquire(userID)
	if err != nil {
		return Deployment{}, nil, err
	}
	if err := m.auth.Authorize(dep, apiKey); err != nil {
		h.done()
		return Deployment{}, nil, err
	}
	if m.cfg.Limiter != nil {
		if err := m.cfg.Limiter.Allow(userID); err != nil {
			h.done()
			return Deployment{}, nil, err
		}
	}
	return dep, h, nil
}

// ListModels returns the single model served at the user's endpoint.
func (m *Manager) ListModels(ctx context.Context, userID, apiKey string) (types.ModelList, error) {
	dep, h, err := m.admit(userID, apiKey)
	if err != nil {
		return types.ModelList{}, err
	}
	h.done()
	created := dep.CreatedAt.Unix()
	if dep.LoadedAt != nil {
		created = dep.LoadedAt.Unix()
	}
	return types.ModelList{
		Object: "list",
		Data: []types.ModelObject{{
			ID:         dep.ModelName,
			Object:     "model",
			Created:    created,
			OwnedBy:    "user-" + userID,
			Permission: []any{},
			Root:       dep.ModelName,
		}},
	}, nil
}

// chatParams validates the request and applies defaults.
func chatParams(req types.ChatCompletionRequest) (runtime.Params, error) {
	if len(req.Messages) == 0 {
		return runtime.Params{}, ErrValidation("messages must contain at least one message")
	}
	for i, msg := range req.Messages {
		switch msg.Role {
		case "system", "user", "assistant":
		default:
			return runtime.Params{}, ErrValidation(fmt.Sprintf("messages[%d].role must be system, user or assistant", i))
		}
		if strings.TrimSpace(msg.Content) == "" {
			return runtime.Params{}, ErrValidation(fmt.Sprintf("messages[%d].content must not be empty", i))
		}
	}
	p := runtime.Params{MaxTokens: DefaultMaxTokens, Temperature: DefaultTemperature, TopP: DefaultTopP}
	if req.MaxTokens != nil {
		if *req.MaxTokens < 1 || *req.MaxTokens > MaxMaxTokens {
			return runtime.Params{}, ErrValidation("max_tokens must be between 1 and " + strconv.Itoa(MaxMaxTokens))
		}
		p.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		if *req.Temperature < 0 || *req.Temperature > 2 {
			return runtime.Params{}, ErrValidation("temperature must be between 0 and 2")
		}
		p.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		if *req.TopP < 0 || *req.TopP > 1 {
			return runtime.Params{}, ErrValidation("top_p must be between 0 and 1")
		}
		p.TopP = float32(*req.TopP)
	}
	for _, s := range req.Stop {
		if s != "" {
			p.Stop = append(p.Stop, s)
		}
	}
	return p, nil
}

// ChatCompletion routes one chat request to the user's loaded model. When
// onChunk is non-nil the reply is streamed through it as chunks; the returned
// response then summarizes what was streamed.
func (m *Manager) ChatCompletion(ctx context.Context, userID, apiKey string, req types.ChatCompletionRequest, onChunk func(types.ChatCompletionChunk) error) (types.ChatCompletionResponse, error) {
	dep, h, err := m.admit(userID, apiKey)
	if err != nil {
		return types.ChatCompletionResponse{}, err
	}
	defer h.done()
	params, err := chatParams(req)
	if err != nil {
		return types.ChatCompletionResponse{}, err
	}

	qctx, cancel := context.WithTimeout(ctx, m.cfg.GenerateQueueTimeout)
	err = m.genSem.Acquire(qctx, 1)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return types.ChatCompletionResponse{}, ctx.Err()
		}
		generationsTotal.WithLabelValues("busy").Inc()
		return types.ChatCompletionResponse{}, tooBusyError{userID: userID}
	}
	defer m.genSem.Release(1)

	prompt := formatPrompt(req.Messages)
	id := fmt.Sprintf("chatcmpl-%d-%d", time.Now().Unix(), m.idCounter.Add(1))
	created := time.Now().Unix()

	var (
		onToken  func(string) error
		filter   *stopFilter
		streamed strings.Builder
	)
	if onChunk != nil {
		if err := onChunk(newChunk(id, created, dep.ModelName, types.ChatDelta{Role: "assistant"}, nil)); err != nil {
			return types.ChatCompletionResponse{}, err
		}
		filter = newStopFilter(params.Stop, func(s string) error {
			streamed.WriteString(s)
			return onChunk(newChunk(id, created, dep.ModelName, types.ChatDelta{Content: s}, nil))
		})
		onToken = filter.write
	}

	res, err := safeGenerate(ctx, h, prompt, params, onToken)
	stopped := errors.Is(err, errStopReached)
	if err != nil && !stopped {
		generationsTotal.WithLabelValues("error").Inc()
		m.log.Warn().Err(err).Str("user_id", userID).Msg("generation failed")
		if ctx.Err() != nil {
			return types.ChatCompletionResponse{}, ctx.Err()
		}
		return types.ChatCompletionResponse{}, runtimeFailureError{err: err}
	}

	finish := res.FinishReason
	if finish == "" || stopped {
		finish = "stop"
	}
	var text string
	if filter != nil {
		if !stopped {
			if err := filter.flush(); err != nil {
				return types.ChatCompletionResponse{}, err
			}
		}
		text = strings.TrimSpace(streamed.String())
		if err := onChunk(newChunk(id, created, dep.ModelName, types.ChatDelta{}, &finish)); err != nil {
			return types.ChatCompletionResponse{}, err
		}
	} else {
		text = postProcess(h.Task(), res.Text)
		if cut, ok := applyStop(text, params.Stop); ok {
			text = cut
			finish = "stop"
		}
		text = strings.TrimSpace(text)
	}

	m.requests.Add(1)
	generationsTotal.WithLabelValues("ok").Inc()
	promptTokens, completionTokens := countWords(prompt), countWords(text)
	return types.ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   dep.ModelName,
		Choices: []types.ChatChoice{{
			Index:        0,
			Message:      types.ChatMessage{Role: "assistant", Content: text},
			FinishReason: finish,
		}},
		Usage: types.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

func newChunk(id string, created int64, model string, delta types.ChatDelta, finish *string) types.ChatCompletionChunk {
	return types.ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []types.ChatChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}

// safeGenerate runs one generation, turning a runtime panic into an error.
func safeGenerate(ctx context.Context, h *Handle, prompt string, p runtime.Params, onToken func(string) error) (res runtime.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = runtime.Result{}, fmt.Errorf("runtime panic during generation: %v", r)
		}
	}()
	return h.generate(ctx, prompt, p, onToken)
}
