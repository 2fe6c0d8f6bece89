package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// SpawnConfig configures the subprocess backend.
type SpawnConfig struct {
	// Bin is the llama-server executable.
	Bin string
	// Host to bind spawned servers on. Defaults to 127.0.0.1.
	Host string
	// Optional inclusive port range; zero picks any free port.
	PortStart int
	PortEnd   int
	CtxSize   int
	Threads   int
	NGL       int
	ExtraArgs []string
	// ReadyTimeout bounds the wait for a spawned server to answer /v1/models.
	ReadyTimeout   time.Duration
	RequestTimeout time.Duration
	// StopGrace is the wait between SIGTERM and SIGKILL.
	StopGrace time.Duration
	Resolver  PathResolver
	Logger    zerolog.Logger
}

const (
	defaultSpawnReadyTimeout = 30 * time.Second
	defaultSpawnStopGrace    = 2 * time.Second
)

// SpawnRuntime starts one llama-server per loaded model and stops it on unload.
type SpawnRuntime struct {
	cfg   SpawnConfig
	log   zerolog.Logger
	mu    sync.Mutex
	procs map[int]*procInfo // key: pid
}

type procInfo struct {
	cmd     *exec.Cmd
	baseURL string
	pid     int
	done    chan struct{}
	waitErr error
	stderr  *tailBuffer
}

// NewSpawn constructs the subprocess backend.
func NewSpawn(cfg SpawnConfig) (*SpawnRuntime, error) {
	if strings.TrimSpace(cfg.Bin) == "" {
		return nil, errors.New("llama-server binary is not configured")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("spawn backend requires a model resolver")
	}
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultSpawnReadyTimeout
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultSpawnStopGrace
	}
	return &SpawnRuntime{
		cfg:   cfg,
		log:   cfg.Logger.With().Str("adapter", "spawn").Logger(),
		procs: make(map[int]*procInfo),
	}, nil
}

type spawnModel struct {
	proc   *procInfo
	client *completionClient
	task   Task
}

func (m *spawnModel) Backend() Backend { return BackendSpawn }
func (m *spawnModel) Task() Task       { return m.task }

func (m *spawnModel) Generate(ctx context.Context, prompt string, p Params, onToken func(string) error) (Result, error) {
	select {
	case <-m.proc.done:
		return Result{}, fmt.Errorf("llama-server pid %d exited", m.proc.pid)
	default:
	}
	return m.client.complete(ctx, "", prompt, p, onToken)
}

func (a *SpawnRuntime) Load(ctx context.Context, spec LoadSpec) (Model, error) {
	task, err := taskFromOptions(spec.Options, TaskTextGeneration)
	if err != nil {
		return nil, err
	}
	path, err := a.cfg.Resolver.Resolve(spec.ModelName)
	if err != nil {
		return nil, err
	}
	proc, err := a.start(ctx, path, spec.Options)
	if err != nil {
		return nil, err
	}
	client := newCompletionClient(proc.baseURL, "", a.cfg.RequestTimeout, 0, a.log)
	if err := a.waitReady(ctx, proc, client); err != nil {
		_ = a.stop(proc)
		return nil, err
	}
	a.log.Info().Str("model", spec.ModelName).Int("pid", proc.pid).Str("url", proc.baseURL).Msg("spawn ready")
	return &spawnModel{proc: proc, client: client, task: task}, nil
}

func (a *SpawnRuntime) Unload(m Model) error {
	sm, ok := m.(*spawnModel)
	if !ok {
		return fmt.Errorf("spawn: unexpected model type %T", m)
	}
	return a.stop(sm.proc)
}

// StopAll terminates all managed subprocesses. Best effort.
func (a *SpawnRuntime) StopAll() {
	a.mu.Lock()
	procs := make([]*procInfo, 0, len(a.procs))
	for _, p := range a.procs {
		procs = append(procs, p)
	}
	a.mu.Unlock()
	for _, p := range procs {
		_ = a.stop(p)
	}
}

// running reports the number of live subprocesses.
func (a *SpawnRuntime) running() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.procs)
}

func (a *SpawnRuntime) start(ctx context.Context, modelPath string, opts map[string]any) (*procInfo, error) {
	host := a.cfg.Host
	var (
		port int
		err  error
	)
	if a.cfg.PortStart > 0 && a.cfg.PortEnd >= a.cfg.PortStart {
		port, err = pickPortInRange(host, a.cfg.PortStart, a.cfg.PortEnd)
	} else {
		port, err = pickFreePort(host)
	}
	if err != nil {
		return nil, err
	}
	baseURL := fmt.Sprintf("http://%s:%d", host, port)

	args := []string{"-m", modelPath, "--host", host, "--port", strconv.Itoa(port)}
	if n := intOption(opts, "ctx_size", a.cfg.CtxSize); n > 0 {
		args = append(args, "-c", strconv.Itoa(n))
	}
	if n := intOption(opts, "ngl", a.cfg.NGL); n > 0 {
		args = append(args, "-ngl", strconv.Itoa(n))
	}
	if n := intOption(opts, "threads", a.cfg.Threads); n > 0 {
		args = append(args, "-t", strconv.Itoa(n))
	}
	args = append(args, a.cfg.ExtraArgs...)

	// The process must outlive the load request, so ctx is not bound to it.
	cmd := exec.Command(a.cfg.Bin, args...)
	stderr := newTailBuffer(4096)
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start llama-server: %w", err)
	}
	p := &procInfo{cmd: cmd, baseURL: baseURL, pid: cmd.Process.Pid, done: make(chan struct{}), stderr: stderr}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	a.mu.Lock()
	a.procs[p.pid] = p
	a.mu.Unlock()
	a.log.Info().Str("model", modelPath).Int("pid", p.pid).Str("host", host).Int("port", port).Msg("spawn start")
	return p, nil
}

// waitReady polls /v1/models until healthy, the process exits, ctx ends or
// the ready timeout passes.
func (a *SpawnRuntime) waitReady(ctx context.Context, p *procInfo, client *completionClient) error {
	deadline := time.NewTimer(a.cfg.ReadyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		if client.healthy(ctx, time.Second) {
			return nil
		}
		select {
		case <-p.done:
			a.log.Warn().Int("pid", p.pid).AnErr("exit", p.waitErr).Msg("spawn exited before ready")
			if p.waitErr != nil {
				return fmt.Errorf("llama-server exited early: %v; stderr tail: %s", p.waitErr, p.stderr.String())
			}
			return fmt.Errorf("llama-server exited before ready: %s", p.baseURL)
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			a.log.Warn().Int("pid", p.pid).Msg("spawn ready timeout")
			return fmt.Errorf("llama-server not ready in time: %s", p.baseURL)
		case <-tick.C:
		}
	}
}

// stop sends SIGTERM, then kills after the grace period.
func (a *SpawnRuntime) stop(p *procInfo) error {
	a.mu.Lock()
	delete(a.procs, p.pid)
	a.mu.Unlock()
	select {
	case <-p.done:
		return nil
	default:
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.done:
	case <-time.After(a.cfg.StopGrace):
		_ = p.cmd.Process.Kill()
		<-p.done
	}
	a.log.Info().Int("pid", p.pid).Msg("spawn stop")
	return nil
}

func pickPortInRange(host string, start, end int) (int, error) {
	for p := start; p <= end; p++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err != nil {
			continue
		}
		_ = l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	_, portStr, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}

// tailBuffer keeps the last n bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	n   int
	buf []byte
}

func newTailBuffer(n int) *tailBuffer { return &tailBuffer{n: n} }

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.n {
		t.buf = t.buf[len(t.buf)-t.n:]
	}
	t.mu.Unlock()
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
