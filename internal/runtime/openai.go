package runtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// completionClient speaks the OpenAI-compatible subset of llama.cpp's server:
// GET /v1/models and streaming POST /v1/completions.
type completionClient struct {
	baseURL    string
	apiKey     string
	reqTimeout time.Duration
	httpClient *http.Client
	log        zerolog.Logger
}

func newCompletionClient(baseURL, apiKey string, reqTimeout, connectTimeout time.Duration, log zerolog.Logger) *completionClient {
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0: every request carries a context deadline instead.
	return &completionClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		reqTimeout: reqTimeout,
		httpClient: &http.Client{Transport: tr, Timeout: 0},
		log:        log,
	}
}

// openAICompletionRequest represents the payload for /v1/completions.
type openAICompletionRequest struct {
	Model       string   `json:"model,omitempty"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float32  `json:"temperature"`
	TopP        float32  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream"`
}

// openAIStreamChoice is a minimal subset of a streamed completion choice.
// Completion streams carry "text"; some servers send chat-style "delta".
type openAIStreamChoice struct {
	Text  string `json:"text"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	FinishReason string `json:"finish_reason"`
}

type openAIStreamResponse struct {
	Object  string               `json:"object"`
	Choices []openAIStreamChoice `json:"choices"`
}

type openAIModelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (c *completionClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// healthy reports whether /v1/models answers 2xx within timeout.
func (c *completionClient) healthy(ctx context.Context, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/models", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// listModels returns the ids the server reports.
func (c *completionClient) listModels(ctx context.Context) ([]string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/models", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("llama server http error: %s: %s", resp.Status, string(b))
	}
	var list openAIModelList
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode model list: %w", err)
	}
	ids := make([]string, 0, len(list.Data))
	for _, d := range list.Data {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// complete streams a completion, forwarding fragments to onToken and
// returning the accumulated text.
func (c *completionClient) complete(ctx context.Context, model, prompt string, p Params, onToken func(string) error) (Result, error) {
	if c.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.reqTimeout)
		defer cancel()
	}
	payload := openAICompletionRequest{
		Model:       model,
		Prompt:      prompt,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		TopP:        p.TopP,
		Stop:        p.Stop,
		Stream:      true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("llama server http error: %s: %s", resp.Status, string(b))
	}

	var (
		text  strings.Builder
		final Result
	)
	emit := func(frag string) error {
		if frag == "" {
			return nil
		}
		text.WriteString(frag)
		if onToken != nil {
			return onToken(frag)
		}
		return nil
	}
	r := bufio.NewReader(resp.Body)
	for {
		line, err := r.ReadString('\n')
		if l := strings.TrimSpace(line); l != "" && strings.HasPrefix(strings.ToLower(l), "data:") {
			data := strings.TrimSpace(l[len("data:"):])
			if data == "[DONE]" {
				break
			}
			var msg openAIStreamResponse
			if e := json.Unmarshal([]byte(data), &msg); e == nil && len(msg.Choices) > 0 {
				ch := msg.Choices[0]
				frag := ch.Text
				if frag == "" {
					frag = ch.Delta.Content
				}
				if cbErr := emit(frag); cbErr != nil {
					final.Text = text.String()
					return final, cbErr
				}
				if ch.FinishReason != "" {
					final.FinishReason = ch.FinishReason
				}
			} else {
				// llama.cpp's native /completion stream sends {"content": "..."}.
				var generic map[string]any
				if e := json.Unmarshal([]byte(data), &generic); e == nil {
					if tok, ok := generic["content"].(string); ok {
						if cbErr := emit(tok); cbErr != nil {
							final.Text = text.String()
							return final, cbErr
						}
					}
				} else {
					c.log.Debug().Str("line", l).Msg("unknown stream line")
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			final.Text = text.String()
			if ctx.Err() != nil {
				return final, ctx.Err()
			}
			c.log.Warn().Err(err).Msg("stream read error")
			return final, err
		}
	}
	final.Text = text.String()
	if final.FinishReason == "" {
		final.FinishReason = "stop"
	}
	return final, nil
}
