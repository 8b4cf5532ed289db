//go:build unix

package procrun

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	clierrors "github.com/musher-dev/spacelink/internal/errors"
)

func TestResolve_PrefersWellKnownPath(t *testing.T) {
	lookups := 0
	r := New(WithGOOS("linux"), WithLookPath(func(string) (string, error) {
		lookups++
		return "/somewhere/on/path/aws", nil
	}))
	r.exists = func(p string) bool { return p == "/usr/bin/aws" }

	got, err := r.Resolve("aws")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if got != "/usr/bin/aws" {
		t.Fatalf("Resolve() = %q, want /usr/bin/aws", got)
	}

	if lookups != 0 {
		t.Fatalf("PATH lookup used %d times, want 0", lookups)
	}
}

func TestResolve_PriorityOrder(t *testing.T) {
	r := New(WithGOOS("linux"))
	r.exists = func(string) bool { return true }

	got, err := r.Resolve("aws")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if got != "/usr/local/bin/aws" {
		t.Fatalf("Resolve() = %q, want first candidate", got)
	}
}

func TestResolve_FallsBackToPath(t *testing.T) {
	r := New(WithGOOS("linux"), WithLookPath(func(name string) (string, error) {
		return "/opt/bin/" + name, nil
	}))
	r.exists = func(string) bool { return false }

	got, err := r.Resolve("session-manager-plugin")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if got != "/opt/bin/session-manager-plugin" {
		t.Fatalf("Resolve() = %q", got)
	}
}

func TestResolve_CachesHitsOnly(t *testing.T) {
	lookups := 0
	found := false

	r := New(WithLookPath(func(name string) (string, error) {
		lookups++
		if !found {
			return "", exec.ErrNotFound
		}

		return "/bin/" + name, nil
	}))

	if _, err := r.Resolve("kiro"); clierrors.KindOf(err) != clierrors.KindToolMissing {
		t.Fatalf("Resolve() error = %v, want tool_missing", err)
	}

	found = true

	for range 3 {
		if _, err := r.Resolve("kiro"); err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
	}

	if lookups != 2 {
		t.Fatalf("lookups = %d, want 2 (miss, then one cached hit)", lookups)
	}
}

func TestResolve_ExplicitPath(t *testing.T) {
	r := New()
	r.exists = func(p string) bool { return p == "/custom/aws" }

	if got, err := r.Resolve("/custom/aws"); err != nil || got != "/custom/aws" {
		t.Fatalf("Resolve() = %q, %v", got, err)
	}

	if _, err := r.Resolve("/missing/aws"); clierrors.KindOf(err) != clierrors.KindToolMissing {
		t.Fatalf("Resolve() error = %v, want tool_missing", err)
	}
}

func TestRun_CapturesOutput(t *testing.T) {
	r := New()

	res, err := r.Run(context.Background(), "sh", []string{"-c", "printf 'out\\n'; printf 'err\\n' >&2"}, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Stdout != "out\n" || res.Stderr != "err\n" {
		t.Fatalf("Run() stdout=%q stderr=%q", res.Stdout, res.Stderr)
	}

	if !res.OK() {
		t.Fatalf("ExitCode = %d, want 0", res.ExitCode)
	}

	if res.Combined() != "out\nerr" {
		t.Fatalf("Combined() = %q", res.Combined())
	}
}

func TestRun_NonZeroExitIsNotAnError(t *testing.T) {
	r := New()

	res, err := r.Run(context.Background(), "sh", []string{"-c", "echo nope >&2; exit 3"}, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}

	if res.ExitCode != 3 || res.OK() {
		t.Fatalf("ExitCode = %d, want 3", res.ExitCode)
	}

	if strings.TrimSpace(res.Stderr) != "nope" {
		t.Fatalf("Stderr = %q", res.Stderr)
	}
}

func TestRun_Timeout(t *testing.T) {
	r := New()

	start := time.Now()
	_, err := r.Run(context.Background(), "sh", []string{"-c", "sleep 5"}, Options{Timeout: 100 * time.Millisecond})

	if clierrors.KindOf(err) != clierrors.KindTimeout {
		t.Fatalf("Run() error = %v, want timeout kind", err)
	}

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want wrapped DeadlineExceeded", err)
	}

	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Fatalf("Run() took %s, timeout not enforced", elapsed)
	}
}

func TestRun_CallerCancelIsNotTimeout(t *testing.T) {
	r := New()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := r.Run(ctx, "sh", []string{"-c", "sleep 5"}, Options{})

	if kind := clierrors.KindOf(err); kind != clierrors.KindExecutionFailed {
		t.Fatalf("KindOf() = %q, want execution_failed", kind)
	}
}

func TestRun_MissingBinary(t *testing.T) {
	r := New()

	_, err := r.Run(context.Background(), "spacelink-definitely-not-installed", nil, Options{})
	if clierrors.KindOf(err) != clierrors.KindToolMissing {
		t.Fatalf("Run() error = %v, want tool_missing", err)
	}
}

func TestRun_EnvAndDir(t *testing.T) {
	r := New()
	dir := t.TempDir()

	res, err := r.Run(context.Background(), "sh", []string{"-c", `printf '%s|%s' "$SPACELINK_PROBE" "$(pwd -P)"`}, Options{
		Dir: dir,
		Env: []string{"SPACELINK_PROBE=yes"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	parts := strings.SplitN(res.Stdout, "|", 2)
	if parts[0] != "yes" {
		t.Fatalf("env not applied: %q", res.Stdout)
	}

	if len(parts) != 2 || !strings.HasSuffix(parts[1], strings.TrimPrefix(dir, "/private")) {
		t.Fatalf("dir not applied: %q (want %s)", res.Stdout, dir)
	}
}

func TestResult_CleanStdout(t *testing.T) {
	res := &Result{Stdout: "\x1b[32maws-cli/2.15.0\x1b[0m Python/3.11\n"}

	if got := res.CleanStdout(); got != "aws-cli/2.15.0 Python/3.11" {
		t.Fatalf("CleanStdout() = %q", got)
	}
}

func TestRun_BackgroundChildHoldingOutput(t *testing.T) {
	r := New()

	res, err := r.Run(context.Background(), "sh", []string{"-c", "echo started; sleep 10 &"}, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !res.OK() || !strings.Contains(res.Stdout, "started") {
		t.Fatalf("Run() = %+v", res)
	}
}

func TestRun_OutputFile(t *testing.T) {
	r := New()
	path := filepath.Join(t.TempDir(), "out.log")

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	start := time.Now()

	res, err := r.Run(context.Background(), "sh", []string{"-c", "echo started; echo oops >&2; sleep 10 &"}, Options{Output: f})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if elapsed := time.Since(start); elapsed >= waitDelay {
		t.Errorf("Run() waited %s for a background child", elapsed)
	}

	if res.Stdout != "" || res.Stderr != "" {
		t.Errorf("output captured despite Output: %+v", res)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if string(data) != "started\noops\n" {
		t.Fatalf("log = %q", data)
	}
}
