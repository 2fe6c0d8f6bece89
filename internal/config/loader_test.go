package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "addr: :9999\nmodels_dir: /tmp\nmax_deployments: 5\nllama_extra_args: [\"--mlock\", \"--no-mmap\"]\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.ModelsDir != "/tmp" || cfg.MaxDeployments != 5 || len(cfg.LlamaExtraArgs) != 2 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	// unspecified keys keep their defaults
	if cfg.RequestsPerMinute != 60 || !cfg.EnableAuth || cfg.DefaultBackend != "llama" {
		t.Fatalf("defaults not preserved: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","enable_auth":false,"default_backend":"spawn","llama_bin":"/usr/bin/llama-server"}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.EnableAuth || cfg.DefaultBackend != "spawn" || cfg.LlamaBin != "/usr/bin/llama-server" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\nload_timeout_seconds=5\ncors_enabled=true\ncors_origins=[\"https://a\"]\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.LoadTimeout() != 5*time.Second || !cfg.CORSEnabled || cfg.CORSOrigins[0] != "https://a" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	if _, err := Load("/definitely/not/a/real/file-12345.yaml"); err == nil {
		t.Fatalf("expected error for nonexistent file")
	}
	d := t.TempDir()
	cases := map[string]string{
		"cfg.txt":   "not supported",
		"bad.yaml":  "addr: :8080\n: broken\n",
		"bad.json":  `{ "addr": ":8080", "models_dir": }`,
		"bad.toml":  "addr=:8080\nmodels_dir\n",
		"type.yaml": "max_deployments: many\n",
	}
	for name, content := range cases {
		p := writeTempFile(t, d, name, content)
		if _, err := Load(p); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestApplyEnv_Overrides(t *testing.T) {
	t.Setenv("MODEL_PROXY_ADDR", ":9100")
	t.Setenv("MODEL_PROXY_ENABLE_AUTH", "false")
	t.Setenv("MODEL_PROXY_CORS_ORIGINS", "https://a,https://b")
	t.Setenv("MODEL_PROXY_LOAD_TIMEOUT_SECONDS", "42")

	cfg := Default()
	cfg.ModelsDir = "/from/file"
	if err := ApplyEnv(&cfg, ""); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Addr != ":9100" || cfg.EnableAuth || cfg.LoadTimeoutSeconds != 42 {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b" {
		t.Fatalf("csv env not split: %v", cfg.CORSOrigins)
	}
	if cfg.ModelsDir != "/from/file" {
		t.Fatalf("unset env must keep file value, got %q", cfg.ModelsDir)
	}
}

func TestApplyEnv_EnvFile(t *testing.T) {
	const key = "MODEL_PROXY_LLAMA_NGL"
	t.Cleanup(func() { _ = os.Unsetenv(key) })
	p := writeTempFile(t, t.TempDir(), "test.env", key+"=33\n")

	cfg := Default()
	if err := ApplyEnv(&cfg, p); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.LlamaNGL != 33 {
		t.Fatalf("env file not applied: %d", cfg.LlamaNGL)
	}
	if err := ApplyEnv(&cfg, filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatalf("expected error for explicit missing env file")
	}
}

func TestApplyEnv_BadValue(t *testing.T) {
	t.Setenv("MODEL_PROXY_MAX_DEPLOYMENTS", "lots")
	cfg := Default()
	if err := ApplyEnv(&cfg, ""); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Addr = " "
	cfg.DefaultBackend = "gpu-magic"
	cfg.MaxConcurrentLoads = -1
	cfg.LlamaPortStart = 9000
	cfg.LogFormat = "xml"
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"addr", "default_backend", "max_concurrent_loads", "llama_port_start", "log_format"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}

	cfg = Default()
	cfg.LlamaPortStart, cfg.LlamaPortEnd = 9000, 9010
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid port range rejected: %v", err)
	}
}

func TestSettings_MasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.LlamaServerAPIKey = "secret-value"
	s := cfg.Settings()
	if s["llama_server_api_key"] != masked {
		t.Fatalf("secret not masked: %v", s["llama_server_api_key"])
	}
	if s["addr"] != ":8000" || s["max_concurrent_loads"] != float64(2) {
		t.Fatalf("unexpected settings: %v", s)
	}

	cfg.LlamaServerAPIKey = ""
	if v := cfg.Settings()["llama_server_api_key"]; v != "" {
		t.Fatalf("empty secret should stay empty, got %v", v)
	}
}
