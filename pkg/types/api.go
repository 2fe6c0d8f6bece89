package types

// DeployRequest is the body of POST /api/v1/deploy-model.
type DeployRequest struct {
	// Name of the model to deploy. For the llama backends this is a file in the models dir.
	// example: tinyllama-1.1b-chat.Q4_K_M.gguf
	ModelName string `json:"model_name" example:"tinyllama-1.1b-chat.Q4_K_M.gguf"`
	// Runtime backend tag. Empty selects the server default.
	// example: llama
	Backend string `json:"backend,omitempty" example:"llama"`
	// Whether the endpoint requires a bearer API key. Defaults to true when omitted.
	// example: true
	APIKeyEnabled *bool `json:"api_key_enabled,omitempty" example:"true"`
	// Optional caller-chosen user id. A random id is generated when empty.
	// example: u1
	UserID string `json:"user_id,omitempty" example:"u1"`
	// Runtime hints forwarded to the backend (task, ctx_size, threads, ngl).
	CustomConfig map[string]any `json:"custom_config,omitempty"`
}

// DeployResponse is returned by POST /api/v1/deploy-model.
type DeployResponse struct {
	// example: Deployment started
	Message string `json:"message" example:"Deployment started"`
	// example: u1
	UserID string `json:"user_id" example:"u1"`
	// example: tinyllama-1.1b-chat.Q4_K_M.gguf
	ModelName string `json:"model_name" example:"tinyllama-1.1b-chat.Q4_K_M.gguf"`
	// example: llama
	Backend string `json:"backend" example:"llama"`
	// example: deploying
	Status string `json:"status" example:"deploying"`
	// example: true
	APIKeyEnabled bool `json:"api_key_enabled" example:"true"`
}

// DeploymentStatus describes one deployment. The API key is omitted unless
// key protection is enabled for the deployment.
type DeploymentStatus struct {
	// example: u1
	UserID string `json:"user_id" example:"u1"`
	// example: tinyllama-1.1b-chat.Q4_K_M.gguf
	ModelName string `json:"model_name" example:"tinyllama-1.1b-chat.Q4_K_M.gguf"`
	// example: llama
	Backend string `json:"backend" example:"llama"`
	// One of pending, deploying, ready, error, stopped.
	// example: ready
	Status string `json:"status" example:"ready"`
	// example: http://localhost:8000/user/u1/v1
	BaseURL string `json:"base_url" example:"http://localhost:8000/user/u1/v1"`
	// example: sk-3q2...
	APIKey string `json:"api_key,omitempty" example:"sk-3q2..."`
	// example: true
	APIKeyEnabled bool `json:"api_key_enabled" example:"true"`
	// Creation time (unix seconds).
	// example: 1700000000
	CreatedAt int64 `json:"created_at" example:"1700000000"`
	// Last status change (unix seconds).
	// example: 1700000005
	UpdatedAt int64 `json:"updated_at" example:"1700000005"`
	// Time the model became ready (unix seconds), absent until then.
	LoadedAt *int64 `json:"loaded_at,omitempty"`
	// Failure cause when status is error.
	ErrorMessage string `json:"error_message,omitempty"`
}

// DeploymentsResponse is returned by GET /api/v1/deployments.
type DeploymentsResponse struct {
	Deployments []DeploymentStatus `json:"deployments"`
	// example: 1
	Total int `json:"total" example:"1"`
}

// MessageResponse is a generic acknowledgement payload.
type MessageResponse struct {
	// example: Deployment stopped
	Message string `json:"message" example:"Deployment stopped"`
	// example: u1
	UserID string `json:"user_id,omitempty" example:"u1"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// ChatMessage is one OpenAI-style chat turn.
type ChatMessage struct {
	// One of system, user, assistant.
	// example: user
	Role string `json:"role" example:"user"`
	// example: Hello!
	Content string `json:"content" example:"Hello!"`
}

// ChatCompletionRequest is the body of POST /user/{user_id}/v1/chat/completions.
type ChatCompletionRequest struct {
	// Ignored for routing; the deployment decides the model.
	Model    string        `json:"model,omitempty"`
	Messages []ChatMessage `json:"messages"`
	// Pointer fields distinguish "unset" from zero so defaults apply.
	MaxTokens   *int     `json:"max_tokens,omitempty" example:"100"`
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
	TopP        *float64 `json:"top_p,omitempty" example:"1"`
	Stop        []string `json:"stop,omitempty"`
	// Stream the reply as Server-Sent Events.
	Stream bool `json:"stream,omitempty"`
}

// ChatChoice is one completion choice.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// Usage is the approximate accounting of a completion. Counts are
// whitespace-separated words, not tokenizer tokens.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse is the buffered chat reply.
type ChatCompletionResponse struct {
	// example: chatcmpl-1700000000-1
	ID      string       `json:"id" example:"chatcmpl-1700000000-1"`
	Object  string       `json:"object" example:"chat.completion"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

// ChatDelta carries a streamed fragment.
type ChatDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChatChunkChoice is one streamed choice.
type ChatChunkChoice struct {
	Index        int       `json:"index"`
	Delta        ChatDelta `json:"delta"`
	FinishReason *string   `json:"finish_reason"`
}

// ChatCompletionChunk is one Server-Sent Event of a streamed reply.
type ChatCompletionChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []ChatChunkChoice `json:"choices"`
}

// ModelObject is one entry of the OpenAI model list.
type ModelObject struct {
	ID         string  `json:"id"`
	Object     string  `json:"object"`
	Created    int64   `json:"created"`
	OwnedBy    string  `json:"owned_by"`
	Permission []any   `json:"permission"`
	Root       string  `json:"root"`
	Parent     *string `json:"parent"`
}

// ModelList is returned by GET /user/{user_id}/v1/models.
type ModelList struct {
	Object string        `json:"object"`
	Data   []ModelObject `json:"data"`
}

// ServerStatus is returned by GET /api/v1/status.
type ServerStatus struct {
	// example: running
	Status string `json:"status" example:"running"`
	// example: 1.0.0
	Version string `json:"version" example:"1.0.0"`
	// Deployments currently ready.
	// example: 2
	ActiveDeployments int `json:"active_deployments" example:"2"`
	// Loaded model handles.
	// example: 2
	ActiveModels int `json:"active_models" example:"2"`
	// Distinct users with a deployment record.
	// example: 3
	TotalUsers int `json:"total_users" example:"3"`
	// Deployment counts keyed by status.
	ByStatus map[string]int `json:"by_status"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Heap in use by the process, in MiB.
	// example: 512.5
	MemoryUsageMB float64 `json:"memory_usage_mb" example:"512.5"`
	// Address used in base URLs, and where it came from.
	// example: 34.1.2.3
	ExternalIP string `json:"external_ip" example:"34.1.2.3"`
	// One of configured, metadata, fallback.
	// example: metadata
	ExternalIPSource string `json:"external_ip_source" example:"metadata"`
	// Chat completions served since start.
	// example: 42
	TotalRequests uint64   `json:"total_requests" example:"42"`
	Features      []string `json:"features"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	// example: healthy
	Status string `json:"status" example:"healthy"`
	// example: 1700000000
	Timestamp int64 `json:"timestamp" example:"1700000000"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
}

// SearchRequest is the body of POST /api/v1/search-models.
type SearchRequest struct {
	// example: llama
	Query string `json:"query" example:"llama"`
	// example: 10
	Limit int `json:"limit,omitempty" example:"10"`
	// Keep only models the runtimes can load.
	FilterCompatible *bool `json:"filter_compatible,omitempty"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Models []ModelInfo `json:"models"`
	Total  int         `json:"total"`
	Query  string      `json:"query"`
	// True when the upstream hub was unreachable and a fixed list was returned.
	Fallback bool `json:"fallback"`
}

// SettingsResponse is returned by GET /api/v1/settings. Secret values are masked.
type SettingsResponse struct {
	Settings map[string]any `json:"settings"`
}
