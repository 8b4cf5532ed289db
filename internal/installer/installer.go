// Package installer downloads a tool's installer and runs it silently.
package installer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/musher-dev/spacelink/internal/buildinfo"
	clierrors "github.com/musher-dev/spacelink/internal/errors"
	"github.com/musher-dev/spacelink/internal/observability"
	"github.com/musher-dev/spacelink/internal/procrun"
	"github.com/musher-dev/spacelink/internal/tools"
)

// Limits for one install.
const (
	DownloadTimeout = 5 * time.Minute
	RunTimeout      = 10 * time.Minute
	maxDownload     = 512 << 20
)

// CommandRunner runs an external command.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, opts procrun.Options) (*procrun.Result, error)
}

// Installer fetches installers into a cache directory and runs them.
type Installer struct {
	dir    string
	runner CommandRunner
	client *http.Client
}

// Option configures an Installer.
type Option func(*Installer)

// WithHTTPClient replaces the download client.
func WithHTTPClient(c *http.Client) Option {
	return func(i *Installer) { i.client = c }
}

// New creates an Installer that downloads into dir.
func New(dir string, runner CommandRunner, opts ...Option) *Installer {
	i := &Installer{
		dir:    dir,
		runner: runner,
		client: &http.Client{
			Timeout:   DownloadTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// Fetch downloads rawURL into the cache directory and returns the file path.
// The file is written under a temporary name and renamed once complete.
func (i *Installer) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid installer URL %q", rawURL)
	}

	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		name = "installer"
	}

	if err := os.MkdirAll(i.dir, 0o700); err != nil {
		return "", fmt.Errorf("create installer cache: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("User-Agent", buildinfo.UserAgent())

	resp, err := i.client.Do(req)
	if err != nil {
		return "", clierrors.E(clierrors.Classify(err, ""), "download "+name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", clierrors.E(clierrors.KindExecutionFailed, "download "+name, fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	tmp, err := os.CreateTemp(i.dir, "."+name+".*.part")
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}

	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, maxDownload+1))
	if err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("download %s: %w", name, err)
	}

	if n > maxDownload {
		_ = tmp.Close()
		return "", fmt.Errorf("download %s: larger than %d bytes", name, maxDownload)
	}

	if err := tmp.Chmod(0o700); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("chmod download: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close download: %w", err)
	}

	dest := filepath.Join(i.dir, name)
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", fmt.Errorf("move download into place: %w", err)
	}

	tmpPath = ""

	observability.FromContext(ctx).Info("installer downloaded", slog.String("url", rawURL), slog.Int64("bytes", n))

	return dest, nil
}

// Run fetches inst and executes it. "{file}" in the installer's args is
// replaced by the downloaded path; an empty Command runs the file itself.
func (i *Installer) Run(ctx context.Context, inst *tools.Installer) error {
	ctx, end := observability.StartSpan(ctx, "installer.run")

	err := i.run(ctx, inst)
	end(err)

	return err
}

func (i *Installer) run(ctx context.Context, inst *tools.Installer) error {
	file, err := i.Fetch(ctx, inst.URL)
	if err != nil {
		return err
	}

	args := make([]string, len(inst.Args))
	for idx, a := range inst.Args {
		args[idx] = strings.ReplaceAll(a, "{file}", file)
	}

	command := inst.Command
	if command == "" {
		command = file
	}

	res, err := i.runner.Run(ctx, command, args, procrun.Options{Timeout: RunTimeout})
	if err != nil {
		return err
	}

	if !res.OK() {
		return clierrors.E(clierrors.KindExecutionFailed, "run installer",
			fmt.Errorf("exit %d: %s", res.ExitCode, res.Combined()))
	}

	observability.FromContext(ctx).Info("installer finished", slog.String("command", command), slog.Duration("duration", res.Duration))

	return nil
}

// Tool installs the named tool for goos. It returns the manual-install
// documentation URL alongside any error so callers can surface it.
func (i *Installer) Tool(ctx context.Context, name, goos string) (docs string, err error) {
	spec, ok := tools.Get(name)
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}

	inst := spec.InstallerFor(goos)
	if inst == nil {
		return spec.Install.Docs, clierrors.E(clierrors.KindToolMissing, "install "+name,
			fmt.Errorf("no installer known for %s", goos))
	}

	return spec.Install.Docs, i.Run(ctx, inst)
}
