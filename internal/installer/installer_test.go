package installer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	clierrors "github.com/musher-dev/spacelink/internal/errors"
	"github.com/musher-dev/spacelink/internal/procrun"
	"github.com/musher-dev/spacelink/internal/tools"
)

type recordingRunner struct {
	name string
	args []string
	res  *procrun.Result
}

func (r *recordingRunner) Run(_ context.Context, name string, args []string, _ procrun.Options) (*procrun.Result, error) {
	r.name, r.args = name, args
	if r.res != nil {
		return r.res, nil
	}

	return &procrun.Result{}, nil
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/plugin/setup.pkg" {
			http.NotFound(w, r)
			return
		}

		if !strings.HasPrefix(r.UserAgent(), "spacelink/") {
			http.Error(w, "bad agent", http.StatusForbidden)
			return
		}

		_, _ = w.Write([]byte("installer-bytes"))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestFetch(t *testing.T) {
	srv := newServer(t)
	dir := filepath.Join(t.TempDir(), "cache")

	path, err := New(dir, &recordingRunner{}).Fetch(context.Background(), srv.URL+"/plugin/setup.pkg")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if path != filepath.Join(dir, "setup.pkg") {
		t.Errorf("path = %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil || string(data) != "installer-bytes" {
		t.Fatalf("downloaded %q, %v", data, err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("cache holds %d entries, want only the installer", len(entries))
	}
}

func TestFetch_HTTPError(t *testing.T) {
	srv := newServer(t)

	_, err := New(t.TempDir(), &recordingRunner{}).Fetch(context.Background(), srv.URL+"/missing.pkg")
	if err == nil || !strings.Contains(err.Error(), "HTTP 404") {
		t.Fatalf("Fetch() error = %v", err)
	}
}

func TestFetch_InvalidURL(t *testing.T) {
	if _, err := New(t.TempDir(), nil).Fetch(context.Background(), "not a url"); err == nil {
		t.Fatal("Fetch() accepted an invalid URL")
	}
}

func TestRun_SubstitutesFile(t *testing.T) {
	srv := newServer(t)
	runner := &recordingRunner{}
	dir := t.TempDir()

	err := New(dir, runner).Run(context.Background(), &tools.Installer{
		URL:     srv.URL + "/plugin/setup.pkg",
		Command: "sudo",
		Args:    []string{"installer", "-pkg", "{file}", "-target", "/"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"installer", "-pkg", filepath.Join(dir, "setup.pkg"), "-target", "/"}
	if runner.name != "sudo" || !slices.Equal(runner.args, want) {
		t.Fatalf("ran %s %q", runner.name, runner.args)
	}
}

func TestRun_ExecutesDownloadWithoutCommand(t *testing.T) {
	srv := newServer(t)
	runner := &recordingRunner{}
	dir := t.TempDir()

	err := New(dir, runner).Run(context.Background(), &tools.Installer{URL: srv.URL + "/plugin/setup.pkg", Args: []string{"/quiet"}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if runner.name != filepath.Join(dir, "setup.pkg") || !slices.Equal(runner.args, []string{"/quiet"}) {
		t.Fatalf("ran %s %q", runner.name, runner.args)
	}
}

func TestRun_InstallerFails(t *testing.T) {
	srv := newServer(t)
	runner := &recordingRunner{res: &procrun.Result{ExitCode: 1603, Stderr: "fatal error during installation"}}

	err := New(t.TempDir(), runner).Run(context.Background(), &tools.Installer{URL: srv.URL + "/plugin/setup.pkg"})
	if clierrors.KindOf(err) != clierrors.KindExecutionFailed || !strings.Contains(err.Error(), "1603") {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestTool_NoInstallerForOS(t *testing.T) {
	docs, err := New(t.TempDir(), &recordingRunner{}).Tool(context.Background(), tools.SessionManagerPlugin, "plan9")
	if clierrors.KindOf(err) != clierrors.KindToolMissing {
		t.Fatalf("Tool() error = %v", err)
	}

	if !strings.HasPrefix(docs, "https://") {
		t.Errorf("docs = %q", docs)
	}
}

func TestTool_Unknown(t *testing.T) {
	if _, err := New(t.TempDir(), nil).Tool(context.Background(), "nope", "linux"); err == nil {
		t.Fatal("Tool() accepted an unknown tool")
	}
}
