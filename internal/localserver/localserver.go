// Package localserver observes the local session-broker server started by the
// editor toolkit. The toolkit writes a descriptor file with the server's pid
// and port; this package only reads it.
package localserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/musher-dev/spacelink/internal/buildinfo"
	clierrors "github.com/musher-dev/spacelink/internal/errors"
	"github.com/musher-dev/spacelink/internal/observability"
	"github.com/musher-dev/spacelink/internal/procrun"
)

// DefaultProbeTimeout bounds the accessibility request.
const DefaultProbeTimeout = 3 * time.Second

// ErrNoDescriptor means the server info file does not exist yet.
var ErrNoDescriptor = errors.New("local server descriptor not found")

// Descriptor is the JSON document the toolkit writes when the server starts.
type Descriptor struct {
	PID  int `json:"pid"`
	Port int `json:"port"`
}

// Info is one observation of the local server. It is never cached.
type Info struct {
	PID        int    `json:"pid"`
	Port       int    `json:"port"`
	Running    bool   `json:"running"`
	Accessible bool   `json:"accessible"`
	Error      string `json:"error,omitempty"`
}

// ReadDescriptor parses the descriptor at path.
func ReadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from config
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoDescriptor, path)
		}

		return nil, fmt.Errorf("read server descriptor: %w", err)
	}

	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse server descriptor %s: %w", path, err)
	}

	if d.PID <= 0 || d.Port <= 0 || d.Port > 65535 {
		return nil, fmt.Errorf("server descriptor %s: invalid pid %d or port %d", path, d.PID, d.Port)
	}

	return &d, nil
}

// Prober checks whether the server named by the descriptor is alive and
// answering.
type Prober struct {
	infoPath  string
	client    *http.Client
	host      string
	pidExists func(ctx context.Context, pid int) (bool, error)
}

// Option configures a Prober.
type Option func(*Prober)

// WithHTTPClient replaces the client used for the accessibility request.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Prober) { p.client = c }
}

// WithPIDCheck replaces the process liveness check.
func WithPIDCheck(fn func(ctx context.Context, pid int) (bool, error)) Option {
	return func(p *Prober) { p.pidExists = fn }
}

// WithHost overrides the loopback host the server listens on.
func WithHost(host string) Option {
	return func(p *Prober) { p.host = host }
}

// NewProber creates a Prober for the descriptor at infoPath.
func NewProber(infoPath string, opts ...Option) *Prober {
	p := &Prober{
		infoPath: infoPath,
		host:     "127.0.0.1",
		client: &http.Client{
			Timeout:   DefaultProbeTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		pidExists: PIDAlive,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// InfoPath returns the descriptor path.
func (p *Prober) InfoPath() string {
	return p.infoPath
}

// Probe reads the descriptor and checks the process and port. Failures are
// reported in Info.Error.
func (p *Prober) Probe(ctx context.Context) Info {
	logger := observability.FromContext(ctx)

	d, err := ReadDescriptor(p.infoPath)
	if err != nil {
		return Info{Error: err.Error()}
	}

	info := Info{PID: d.PID, Port: d.Port}

	info.Running, err = p.pidExists(ctx, d.PID)
	if err != nil {
		info.Error = fmt.Sprintf("check pid %d: %v", d.PID, err)
		return info
	}

	if !info.Running {
		info.Error = fmt.Sprintf("process %d is not running", d.PID)
		return info
	}

	if err := p.ping(ctx, d.Port); err != nil {
		info.Error = err.Error()
	} else {
		info.Accessible = true
	}

	logger.Debug("local server probed",
		slog.Int("server.pid", info.PID),
		slog.Int("server.port", info.Port),
		slog.Bool("server.accessible", info.Accessible),
	)

	return info
}

// ping treats any HTTP response as proof the server is listening.
func (p *Prober) ping(ctx context.Context, port int) error {
	url := "http://" + p.host + ":" + strconv.Itoa(port) + "/"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("User-Agent", buildinfo.UserAgent())

	resp, err := p.client.Do(req)
	if err != nil {
		return clierrors.E(clierrors.Classify(err, ""), "local server", err)
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()

	return nil
}

// PIDAlive reports whether pid exists. gopsutil answers on every platform;
// where it fails, unix platforms fall back to signal 0.
func PIDAlive(ctx context.Context, pid int) (bool, error) {
	if pid <= 0 || pid > 1<<31-1 {
		return false, nil
	}

	ok, err := process.PidExistsWithContext(ctx, int32(pid)) //nolint:gosec // G115: range checked above
	if err == nil {
		return ok, nil
	}

	return signalZero(pid, err)
}

// CommandRunner runs an external command.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, opts procrun.Options) (*procrun.Result, error)
}

// Defaults for the wait after the start command returns.
const (
	DefaultStartAttempts = 15
	DefaultStartInterval = time.Second
)

// Starter runs the configured start command and waits for the server to
// come up.
type Starter struct {
	Runner  CommandRunner
	Command string
	Prober  *Prober
	// LogPath receives the command's output. The server usually keeps
	// running in the background, so its output cannot be captured. Empty
	// discards it.
	LogPath string
	// Attempts and Interval bound the wait after the command returns.
	Attempts int
	Interval time.Duration
	GOOS     string
}

// ErrNoStartCommand means no start command is configured; the user has to
// start the server from the editor.
var ErrNoStartCommand = errors.New("no local server start command configured")

// Start runs the start command through the platform shell, then polls until
// the server is running or the attempts run out.
func (s *Starter) Start(ctx context.Context) (Info, error) {
	if s.Command == "" {
		return Info{}, ErrNoStartCommand
	}

	goos := s.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}

	shell, flag := "sh", "-c"
	if goos == "windows" {
		shell, flag = "cmd", "/C"
	}

	logFile, err := s.openLog()
	if err != nil {
		return Info{}, clierrors.E(clierrors.KindExecutionFailed, "start local server", err)
	}
	defer logFile.Close()

	res, err := s.Runner.Run(ctx, shell, []string{flag, s.Command}, procrun.Options{Timeout: time.Minute, Output: logFile})
	if err != nil {
		return Info{}, fmt.Errorf("run start command: %w", err)
	}

	if !res.OK() {
		return Info{}, clierrors.E(clierrors.KindExecutionFailed, "start local server",
			fmt.Errorf("exit %d: %s", res.ExitCode, s.failureOutput(res)))
	}

	attempts := s.Attempts
	if attempts <= 0 {
		attempts = DefaultStartAttempts
	}

	interval := s.Interval
	if interval <= 0 {
		interval = DefaultStartInterval
	}

	var info Info

	for i := range attempts {
		info = s.Prober.Probe(ctx)
		if info.Running {
			return info, nil
		}

		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return info, ctx.Err()
		case <-time.After(interval):
		}
	}

	return info, clierrors.E(clierrors.KindTimeout, "start local server",
		fmt.Errorf("server not running after %d checks: %s", attempts, info.Error))
}

func (s *Starter) openLog() (*os.File, error) {
	if s.LogPath == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}

	if err := os.MkdirAll(filepath.Dir(s.LogPath), 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	return os.OpenFile(s.LogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // G304: path comes from config
}

// failureOutput is the command's output for an error message: the captured
// result when there is one, else the tail of the log.
func (s *Starter) failureOutput(res *procrun.Result) string {
	if out := res.Combined(); out != "" {
		return out
	}

	if s.LogPath == "" {
		return "no output"
	}

	data, err := os.ReadFile(s.LogPath)
	if err != nil || len(data) == 0 {
		return "no output (log: " + s.LogPath + ")"
	}

	const maxTail = 512
	if len(data) > maxTail {
		data = data[len(data)-maxTail:]
	}

	return strings.TrimSpace(string(data))
}
