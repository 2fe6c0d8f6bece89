package types

// Model represents a loadable model file in the local catalog.
type Model struct {
	// Stable identifier for the model (the file name).
	// example: tinyllama-1.1b-chat.Q4_K_M.gguf
	ID string `json:"id" example:"tinyllama-1.1b-chat.Q4_K_M.gguf"`
	// Human-friendly name (file name without extension).
	// example: tinyllama-1.1b-chat.Q4_K_M
	Name string `json:"name" example:"tinyllama-1.1b-chat.Q4_K_M"`
	// Absolute path to the model file on disk.
	// example: /home/user/models/tinyllama-1.1b-chat.Q4_K_M.gguf
	Path string `json:"path" example:"/home/user/models/tinyllama-1.1b-chat.Q4_K_M.gguf"`
}

// ModelInfo is one search result from the model hub.
type ModelInfo struct {
	// example: TheBloke/TinyLlama-1.1B-Chat-v1.0-GGUF
	ID string `json:"id" example:"TheBloke/TinyLlama-1.1B-Chat-v1.0-GGUF"`
	// example: TinyLlama-1.1B-Chat-v1.0-GGUF
	Name string `json:"name" example:"TinyLlama-1.1B-Chat-v1.0-GGUF"`
	// example: TheBloke
	Author string `json:"author,omitempty" example:"TheBloke"`
	// example: 120000
	Downloads int `json:"downloads" example:"120000"`
	// example: 300
	Likes       int      `json:"likes" example:"300"`
	Tags        []string `json:"tags"`
	PipelineTag string   `json:"pipeline_tag,omitempty" example:"text-generation"`
	Library     string   `json:"library,omitempty" example:"gguf"`
	// Whether the configured runtimes can load this model.
	Compatible bool `json:"compatible"`
	// Reason when not compatible.
	Reason string `json:"reason,omitempty"`
}
