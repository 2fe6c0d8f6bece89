package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"modelproxy/internal/config"
)

// cliState holds the values bound to flags. flags mirrors config keys; only
// the ones the user set are applied, see resolve.
type cliState struct {
	configPath string
	envFile    string
	flags      config.Config
}

func newRootCmd() *cobra.Command {
	return buildRootCmdWith(&cliState{flags: config.Default()})
}

// buildRootCmdWith constructs the command tree bound to st.
func buildRootCmdWith(st *cliState) *cobra.Command {
	run := func(cmd *cobra.Command, args []string) error {
		cfg, err := st.resolve(cmd.Flags())
		if err != nil {
			return err
		}
		log, err := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg, log)
	}

	root := &cobra.Command{
		Use:           "modelproxy",
		Short:         "Multi-tenant model deployment proxy with per-user OpenAI-compatible endpoints",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	st.bind(root.Flags())

	serveCmd := &cobra.Command{Use: "serve", Short: "Run the HTTP server (default)", RunE: run}
	st.bind(serveCmd.Flags())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
	root.AddCommand(serveCmd, versionCmd)
	return root
}

func (st *cliState) bind(fs *pflag.FlagSet) {
	cfg := &st.flags
	fs.StringVar(&st.configPath, "config", "", "Path to a config file (.yaml, .json or .toml)")
	fs.StringVar(&st.envFile, "env-file", "", "Path to a .env file (default ./.env when present)")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address, e.g. :8000")
	fs.StringVar(&cfg.PublicBaseURL, "public-base-url", cfg.PublicBaseURL, "Base URL used in deployment endpoints; disables address discovery")
	fs.StringVar(&cfg.ModelsDir, "models-dir", cfg.ModelsDir, "Directory to scan for *.gguf model files")
	fs.StringVar(&cfg.DefaultBackend, "default-backend", cfg.DefaultBackend, "Backend used when a deploy request names none (llama|llama_server|spawn)")
	fs.BoolVar(&cfg.EnableAuth, "enable-auth", cfg.EnableAuth, "Require per-deployment API keys")
	fs.IntVar(&cfg.MaxDeployments, "max-deployments", cfg.MaxDeployments, "Maximum deployment records (0=unlimited)")
	fs.IntVar(&cfg.RequestsPerMinute, "requests-per-minute", cfg.RequestsPerMinute, "Per-user request budget on tenant endpoints (0=unlimited)")
	fs.IntVar(&cfg.MaxConcurrentLoads, "max-concurrent-loads", cfg.MaxConcurrentLoads, "Model loads running at once")
	fs.IntVar(&cfg.MaxConcurrentGenerations, "max-concurrent-generations", cfg.MaxConcurrentGenerations, "Generations running at once across all users")
	fs.StringVar(&cfg.LlamaServerURL, "llama-server-url", cfg.LlamaServerURL, "Base URL of a running llama.cpp server; enables the llama_server backend")
	fs.StringVar(&cfg.LlamaBin, "llama-bin", cfg.LlamaBin, "Path to llama-server; enables the spawn backend")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: json|console")
}

// resolve layers defaults, the config file, .env and MODEL_PROXY_* variables,
// then the flags set explicitly on fs.
func (st *cliState) resolve(fs *pflag.FlagSet) (config.Config, error) {
	cfg := config.Default()
	if st.configPath != "" {
		var err error
		if cfg, err = config.Load(st.configPath); err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
	}
	if err := config.ApplyEnv(&cfg, st.envFile); err != nil {
		return cfg, err
	}
	f := st.flags
	fs.Visit(func(fl *pflag.Flag) {
		switch fl.Name {
		case "addr":
			cfg.Addr = f.Addr
		case "public-base-url":
			cfg.PublicBaseURL = f.PublicBaseURL
		case "models-dir":
			cfg.ModelsDir = f.ModelsDir
		case "default-backend":
			cfg.DefaultBackend = f.DefaultBackend
		case "enable-auth":
			cfg.EnableAuth = f.EnableAuth
		case "max-deployments":
			cfg.MaxDeployments = f.MaxDeployments
		case "requests-per-minute":
			cfg.RequestsPerMinute = f.RequestsPerMinute
		case "max-concurrent-loads":
			cfg.MaxConcurrentLoads = f.MaxConcurrentLoads
		case "max-concurrent-generations":
			cfg.MaxConcurrentGenerations = f.MaxConcurrentGenerations
		case "llama-server-url":
			cfg.LlamaServerURL = f.LlamaServerURL
		case "llama-bin":
			cfg.LlamaBin = f.LlamaBin
		case "log-level":
			cfg.LogLevel = f.LogLevel
		case "log-format":
			cfg.LogFormat = f.LogFormat
		}
	})
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the root logger. console is for humans, json for everything else.
func newLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level: %w", err)
	}
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "modelproxy").Logger(), nil
}
