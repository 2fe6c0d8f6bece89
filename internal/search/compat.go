package search

import (
	"strings"

	"modelproxy/pkg/types"
)

// unsupportedFormats are weight formats none of the runtimes can load.
var unsupportedFormats = []string{"mlx", "onnx", "openvino", "tensorrt", "coreml"}

// Compatibility reports whether the llama backends can load m. They read
// GGUF weights only, so a model must advertise GGUF through its tags,
// library or repository name.
func Compatibility(m types.ModelInfo) (bool, string) {
	hasGGUF := strings.EqualFold(m.Library, "gguf") || strings.Contains(strings.ToLower(m.ID), "gguf")
	for _, t := range m.Tags {
		t = strings.ToLower(t)
		if t == "gguf" {
			hasGGUF = true
		}
	}
	if hasGGUF {
		return true, ""
	}
	for _, t := range m.Tags {
		for _, f := range unsupportedFormats {
			if strings.EqualFold(t, f) || strings.EqualFold(m.Library, f) {
				return false, "unsupported weight format: " + f
			}
		}
	}
	return false, "no GGUF weights published"
}

// fallbackCatalog is served when the hub cannot be reached.
var fallbackCatalog = []types.ModelInfo{
	{ID: "TheBloke/TinyLlama-1.1B-Chat-v1.0-GGUF", Author: "TheBloke", Tags: []string{"gguf", "llama", "text-generation"}, PipelineTag: "text-generation", Library: "gguf"},
	{ID: "Qwen/Qwen2.5-0.5B-Instruct-GGUF", Author: "Qwen", Tags: []string{"gguf", "qwen2", "text-generation"}, PipelineTag: "text-generation", Library: "gguf"},
	{ID: "microsoft/Phi-3-mini-4k-instruct-gguf", Author: "microsoft", Tags: []string{"gguf", "phi3", "text-generation"}, PipelineTag: "text-generation", Library: "gguf"},
	{ID: "TheBloke/Mistral-7B-Instruct-v0.2-GGUF", Author: "TheBloke", Tags: []string{"gguf", "mistral", "text-generation"}, PipelineTag: "text-generation", Library: "gguf"},
	{ID: "bartowski/Meta-Llama-3.1-8B-Instruct-GGUF", Author: "bartowski", Tags: []string{"gguf", "llama", "text-generation"}, PipelineTag: "text-generation", Library: "gguf"},
}

// fallbackModels returns the fixed list entries matching query, or the whole
// list when none match, capped at limit.
func fallbackModels(query string, limit int) []types.ModelInfo {
	q := strings.ToLower(query)
	var matched []types.ModelInfo
	for _, m := range fallbackCatalog {
		if strings.Contains(strings.ToLower(m.ID), q) {
			matched = append(matched, m)
		}
	}
	if len(matched) == 0 {
		matched = fallbackCatalog
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]types.ModelInfo, 0, len(matched))
	for _, m := range matched {
		m.Name = m.ID[strings.LastIndex(m.ID, "/")+1:]
		m.Compatible, m.Reason = Compatibility(m)
		out = append(out, m)
	}
	return out
}
