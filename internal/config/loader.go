// Package config loads service configuration from a file, a .env file and
// MODEL_PROXY_* environment variables, in that order of precedence (later wins).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"modelproxy/internal/runtime"
)

// EnvPrefix prefixes every environment override, e.g. MODEL_PROXY_ADDR.
const EnvPrefix = "MODEL_PROXY_"

// Config holds runtime parameters for the service.
type Config struct {
	Addr           string `json:"addr" yaml:"addr" toml:"addr" env:"ADDR"`
	PublicBaseURL  string `json:"public_base_url" yaml:"public_base_url" toml:"public_base_url" env:"PUBLIC_BASE_URL"`
	ModelsDir      string `json:"models_dir" yaml:"models_dir" toml:"models_dir" env:"MODELS_DIR"`
	DefaultBackend string `json:"default_backend" yaml:"default_backend" toml:"default_backend" env:"DEFAULT_BACKEND"`

	EnableAuth        bool `json:"enable_auth" yaml:"enable_auth" toml:"enable_auth" env:"ENABLE_AUTH"`
	MaxDeployments    int  `json:"max_deployments" yaml:"max_deployments" toml:"max_deployments" env:"MAX_DEPLOYMENTS"`
	RequestsPerMinute int  `json:"requests_per_minute" yaml:"requests_per_minute" toml:"requests_per_minute" env:"REQUESTS_PER_MINUTE"`

	MaxConcurrentLoads          int   `json:"max_concurrent_loads" yaml:"max_concurrent_loads" toml:"max_concurrent_loads" env:"MAX_CONCURRENT_LOADS"`
	MaxConcurrentGenerations    int   `json:"max_concurrent_generations" yaml:"max_concurrent_generations" toml:"max_concurrent_generations" env:"MAX_CONCURRENT_GENERATIONS"`
	LoadTimeoutSeconds          int   `json:"load_timeout_seconds" yaml:"load_timeout_seconds" toml:"load_timeout_seconds" env:"LOAD_TIMEOUT_SECONDS"`
	GenerateQueueTimeoutSeconds int   `json:"generate_queue_timeout_seconds" yaml:"generate_queue_timeout_seconds" toml:"generate_queue_timeout_seconds" env:"GENERATE_QUEUE_TIMEOUT_SECONDS"`
	DrainTimeoutSeconds         int   `json:"drain_timeout_seconds" yaml:"drain_timeout_seconds" toml:"drain_timeout_seconds" env:"DRAIN_TIMEOUT_SECONDS"`
	ChatTimeoutSeconds          int   `json:"chat_timeout_seconds" yaml:"chat_timeout_seconds" toml:"chat_timeout_seconds" env:"CHAT_TIMEOUT_SECONDS"`
	MaxBodyBytes                int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes" env:"MAX_BODY_BYTES"`

	LlamaCtxSize   int      `json:"llama_ctx_size" yaml:"llama_ctx_size" toml:"llama_ctx_size" env:"LLAMA_CTX_SIZE"`
	LlamaThreads   int      `json:"llama_threads" yaml:"llama_threads" toml:"llama_threads" env:"LLAMA_THREADS"`
	LlamaNGL       int      `json:"llama_ngl" yaml:"llama_ngl" toml:"llama_ngl" env:"LLAMA_NGL"`
	LlamaBin       string   `json:"llama_bin" yaml:"llama_bin" toml:"llama_bin" env:"LLAMA_BIN"`
	LlamaHost      string   `json:"llama_host" yaml:"llama_host" toml:"llama_host" env:"LLAMA_HOST"`
	LlamaPortStart int      `json:"llama_port_start" yaml:"llama_port_start" toml:"llama_port_start" env:"LLAMA_PORT_START"`
	LlamaPortEnd   int      `json:"llama_port_end" yaml:"llama_port_end" toml:"llama_port_end" env:"LLAMA_PORT_END"`
	LlamaExtraArgs []string `json:"llama_extra_args" yaml:"llama_extra_args" toml:"llama_extra_args" env:"LLAMA_EXTRA_ARGS" envSeparator:","`

	LlamaServerURL    string `json:"llama_server_url" yaml:"llama_server_url" toml:"llama_server_url" env:"LLAMA_SERVER_URL"`
	LlamaServerAPIKey string `json:"llama_server_api_key" yaml:"llama_server_api_key" toml:"llama_server_api_key" env:"LLAMA_SERVER_API_KEY"`

	HFAPIURL              string `json:"hf_api_url" yaml:"hf_api_url" toml:"hf_api_url" env:"HF_API_URL"`
	SearchCacheTTLSeconds int    `json:"search_cache_ttl_seconds" yaml:"search_cache_ttl_seconds" toml:"search_cache_ttl_seconds" env:"SEARCH_CACHE_TTL_SECONDS"`

	MetadataURL            string `json:"metadata_url" yaml:"metadata_url" toml:"metadata_url" env:"METADATA_URL"`
	AddressCacheTTLSeconds int    `json:"address_cache_ttl_seconds" yaml:"address_cache_ttl_seconds" toml:"address_cache_ttl_seconds" env:"ADDRESS_CACHE_TTL_SECONDS"`

	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled" env:"CORS_ENABLED"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format" env:"LOG_FORMAT"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:                        ":8000",
		ModelsDir:                   "~/models/llm",
		DefaultBackend:              string(runtime.BackendLlama),
		EnableAuth:                  true,
		RequestsPerMinute:           60,
		MaxConcurrentLoads:          2,
		MaxConcurrentGenerations:    4,
		LoadTimeoutSeconds:          600,
		GenerateQueueTimeoutSeconds: 30,
		DrainTimeoutSeconds:         30,
		MaxBodyBytes:                1 << 20,
		LlamaCtxSize:                4096,
		LlamaHost:                   "127.0.0.1",
		HFAPIURL:                    "https://huggingface.co/api/models",
		SearchCacheTTLSeconds:       300,
		MetadataURL:                 "http://metadata.google.internal/computeMetadata/v1",
		AddressCacheTTLSeconds:      300,
		LogLevel:                    "info",
		LogFormat:                   "json",
	}
}

// Load reads a configuration file over Default based on its extension.
// Keys absent from the file keep their default.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv loads envFile (or ./.env when empty and present) into the process
// environment without overriding variables already set, then applies
// MODEL_PROXY_* overrides to cfg. An explicit envFile must exist.
func ApplyEnv(cfg *Config, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	return nil
}

// Validate reports every invalid value at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if _, err := runtime.ParseBackend(c.DefaultBackend, runtime.BackendLlama); err != nil {
		errs = append(errs, fmt.Errorf("default_backend: %w", err))
	}
	nonNeg := map[string]int{
		"max_deployments":                c.MaxDeployments,
		"requests_per_minute":            c.RequestsPerMinute,
		"max_concurrent_loads":           c.MaxConcurrentLoads,
		"max_concurrent_generations":     c.MaxConcurrentGenerations,
		"load_timeout_seconds":           c.LoadTimeoutSeconds,
		"generate_queue_timeout_seconds": c.GenerateQueueTimeoutSeconds,
		"drain_timeout_seconds":          c.DrainTimeoutSeconds,
		"chat_timeout_seconds":           c.ChatTimeoutSeconds,
		"search_cache_ttl_seconds":       c.SearchCacheTTLSeconds,
		"address_cache_ttl_seconds":      c.AddressCacheTTLSeconds,
		"llama_ctx_size":                 c.LlamaCtxSize,
		"llama_threads":                  c.LlamaThreads,
		"llama_ngl":                      c.LlamaNGL,
	}
	for _, k := range slices.Sorted(maps.Keys(nonNeg)) {
		if nonNeg[k] < 0 {
			errs = append(errs, fmt.Errorf("%s must be >= 0", k))
		}
	}
	if c.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("max_body_bytes must be >= 0"))
	}
	if c.LlamaPortStart < 0 || c.LlamaPortEnd < 0 || c.LlamaPortStart > 65535 || c.LlamaPortEnd > 65535 {
		errs = append(errs, errors.New("llama_port_start/llama_port_end must be within 0..65535"))
	} else if (c.LlamaPortStart == 0) != (c.LlamaPortEnd == 0) || c.LlamaPortStart > c.LlamaPortEnd {
		errs = append(errs, errors.New("llama_port_start and llama_port_end must both be set with start <= end"))
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log_format must be json or console, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// LoadTimeout is load_timeout_seconds as a duration.
func (c Config) LoadTimeout() time.Duration { return seconds(c.LoadTimeoutSeconds) }

// GenerateQueueTimeout is generate_queue_timeout_seconds as a duration.
func (c Config) GenerateQueueTimeout() time.Duration { return seconds(c.GenerateQueueTimeoutSeconds) }

// DrainTimeout is drain_timeout_seconds as a duration.
func (c Config) DrainTimeout() time.Duration { return seconds(c.DrainTimeoutSeconds) }

// SearchCacheTTL is search_cache_ttl_seconds as a duration.
func (c Config) SearchCacheTTL() time.Duration { return seconds(c.SearchCacheTTLSeconds) }

// AddressCacheTTL is address_cache_ttl_seconds as a duration.
func (c Config) AddressCacheTTL() time.Duration { return seconds(c.AddressCacheTTLSeconds) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
