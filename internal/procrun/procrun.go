// Package procrun executes external commands and captures their output.
//
// A non-zero exit status is reported in Result.ExitCode, never as an error.
// Errors are reserved for commands that could not be resolved, could not be
// started, were killed, or outlived their timeout; each carries an
// errors.Kind so callers can branch without parsing messages.
package procrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"

	clierrors "github.com/musher-dev/spacelink/internal/errors"
	"github.com/musher-dev/spacelink/internal/observability"
	"github.com/musher-dev/spacelink/internal/tools"
)

// DefaultTimeout bounds a command when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// waitDelay bounds how long Wait blocks on output pipes held open by
// grandchildren (ssh ProxyCommand helpers) after the child exits.
const waitDelay = 2 * time.Second

// Options tunes a single Run call.
type Options struct {
	// Timeout bounds the command. Zero means the runner default; negative disables.
	Timeout time.Duration
	Dir     string
	// Env entries are appended to the current environment.
	Env   []string
	Stdin io.Reader
	// Output, when set, receives stdout and stderr instead of the Result.
	// Processes the command leaves running can keep writing to it after
	// Run returns.
	Output *os.File
}

// Result is the captured outcome of a command that ran to completion.
type Result struct {
	Path     string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// OK reports a zero exit status.
func (r *Result) OK() bool {
	return r.ExitCode == 0
}

// CleanStdout returns stdout without terminal escape sequences, trimmed.
func (r *Result) CleanStdout() string {
	return strings.TrimSpace(ansi.Strip(r.Stdout))
}

// Combined returns stdout and stderr, escape sequences stripped, for
// diagnostics and failure classification.
func (r *Result) Combined() string {
	out := ansi.Strip(r.Stdout)
	errOut := ansi.Strip(r.Stderr)

	switch {
	case out == "":
		return strings.TrimSpace(errOut)
	case errOut == "":
		return strings.TrimSpace(out)
	default:
		return strings.TrimSpace(out) + "\n" + strings.TrimSpace(errOut)
	}
}

// Runner runs commands. The zero value is not usable; call New.
type Runner struct {
	goos           string
	defaultTimeout time.Duration
	lookPath       func(string) (string, error)
	exists         func(string) bool

	mu    sync.Mutex
	cache map[string]string
}

// Option configures a Runner.
type Option func(*Runner)

// WithDefaultTimeout overrides DefaultTimeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.defaultTimeout = d
		}
	}
}

// WithGOOS resolves well-known paths as if running on goos.
func WithGOOS(goos string) Option {
	return func(r *Runner) { r.goos = goos }
}

// WithLookPath replaces exec.LookPath.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(r *Runner) { r.lookPath = fn }
}

// New returns a Runner with an empty resolution cache.
func New(opts ...Option) *Runner {
	r := &Runner{
		goos:           runtime.GOOS,
		defaultTimeout: DefaultTimeout,
		lookPath:       exec.LookPath,
		exists:         isRegularFile,
		cache:          make(map[string]string),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Resolve maps a command name to an executable path.
//
// Names with a path separator are used as given. Names known to the tools
// package are first looked up in their well-known install locations, in
// priority order, then on PATH. Hits are cached for the life of the Runner;
// misses are not, so a tool installed mid-session is found on the next call.
func (r *Runner) Resolve(name string) (string, error) {
	if strings.ContainsAny(name, `/\`) {
		if r.exists(name) {
			return name, nil
		}

		return "", clierrors.E(clierrors.KindToolMissing, name, os.ErrNotExist)
	}

	r.mu.Lock()
	cached, ok := r.cache[name]
	r.mu.Unlock()

	if ok {
		return cached, nil
	}

	path, err := r.resolveUncached(name)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.cache[name] = path
	r.mu.Unlock()

	return path, nil
}

func (r *Runner) resolveUncached(name string) (string, error) {
	if spec, ok := tools.Get(name); ok {
		for _, candidate := range spec.CandidatePaths(r.goos) {
			if r.exists(candidate) {
				return candidate, nil
			}
		}

		name = spec.Binary
	}

	path, err := r.lookPath(name)
	if err != nil {
		return "", clierrors.E(clierrors.KindToolMissing, name, err)
	}

	return path, nil
}

// Run executes name with args and waits for it to finish.
func (r *Runner) Run(ctx context.Context, name string, args []string, opts Options) (*Result, error) {
	logger := observability.FromContext(ctx)

	path, err := r.Resolve(name)
	if err != nil {
		logger.Debug("command not resolvable", slog.String("command", name), slog.String("error", err.Error()))
		return nil, err
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = r.defaultTimeout
	}

	runCtx := ctx

	if timeout > 0 {
		var cancel context.CancelFunc

		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(runCtx, path, args...) //nolint:gosec // G204: commands come from embedded tool specs and config
	cmd.Dir = opts.Dir
	cmd.Stdin = opts.Stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	if opts.Output != nil {
		cmd.Stdout = opts.Output
		cmd.Stderr = opts.Output
	}

	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	start := time.Now()
	runErr := cmd.Run()

	result := &Result{
		Path:     path,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
		Duration: time.Since(start),
	}

	logger.Debug("command finished",
		slog.String("command", name),
		slog.String("path", path),
		slog.Int("exit_code", result.ExitCode),
		slog.Duration("duration", result.Duration),
	)

	if runErr == nil {
		return result, nil
	}

	op := name + " " + strings.Join(args, " ")

	// The parent context is checked first: a caller cancelling is not a timeout
	// even if our own deadline also fired.
	if ctx.Err() != nil {
		return result, clierrors.E(clierrors.KindExecutionFailed, op, ctx.Err())
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return result, clierrors.E(clierrors.KindTimeout, op,
			fmt.Errorf("no result after %s: %w", timeout, context.DeadlineExceeded))
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) && exitErr.Exited() {
		return result, nil
	}

	// The command exited cleanly but a process it started still holds the
	// output pipes.
	if errors.Is(runErr, exec.ErrWaitDelay) && result.ExitCode == 0 {
		logger.Debug("output still held after exit", slog.String("command", name))
		return result, nil
	}

	if errors.Is(runErr, exec.ErrNotFound) || errors.Is(runErr, os.ErrNotExist) {
		return result, clierrors.E(clierrors.KindToolMissing, op, runErr)
	}

	return result, clierrors.E(clierrors.KindExecutionFailed, op, runErr)
}
