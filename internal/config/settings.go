package config

import "encoding/json"

// secretKeys are masked in Settings output.
var secretKeys = []string{"llama_server_api_key"}

const masked = "****"

// Settings returns the configuration as a flat key/value map for display.
// Secret values are replaced by a fixed mask; unset secrets stay empty.
func (c Config) Settings() map[string]any {
	out := map[string]any{}
	b, err := json.Marshal(c)
	if err != nil {
		return out
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return map[string]any{}
	}
	for _, k := range secretKeys {
		if v, ok := out[k].(string); ok && v != "" {
			out[k] = masked
		}
	}
	return out
}
