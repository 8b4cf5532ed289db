package extensions

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	clierrors "github.com/musher-dev/spacelink/internal/errors"
	"github.com/musher-dev/spacelink/internal/procrun"
)

func TestDirRegistry(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"ms-vscode-remote.remote-ssh-0.110.1",
		"AmazonWebServices.aws-toolkit-vscode-3.30.0",
		"other.ext-remote-ssh-helper",
	} {
		if err := os.Mkdir(filepath.Join(dir, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	reg := DirRegistry{Dir: dir}

	tests := []struct {
		id   string
		want bool
	}{
		{RemoteSSH, true},
		{AWSToolkit, true},
		{OpenRemoteSSH, false},
		{"other.ext-remote-ssh", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := reg.Installed(context.Background(), tt.id)
			if err != nil {
				t.Fatalf("Installed() error = %v", err)
			}

			if got != tt.want {
				t.Fatalf("Installed(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestDirRegistry_MissingDir(t *testing.T) {
	reg := DirRegistry{Dir: filepath.Join(t.TempDir(), "absent")}

	got, err := reg.Installed(context.Background(), RemoteSSH)
	if err != nil || got {
		t.Fatalf("Installed() = %v, %v; want false, nil", got, err)
	}
}

type fakeRunner struct {
	res *procrun.Result
	err error
}

func (f fakeRunner) Run(context.Context, string, []string, procrun.Options) (*procrun.Result, error) {
	return f.res, f.err
}

func TestCLIRegistry(t *testing.T) {
	reg := CLIRegistry{
		Runner:  fakeRunner{res: &procrun.Result{Stdout: "jeanp413.open-remote-ssh\nAmazonWebServices.aws-toolkit-vscode\n"}},
		Command: "kiro",
	}

	ok, err := AnyInstalled(context.Background(), reg, RemoteSSHIDs...)
	if err != nil || !ok {
		t.Fatalf("AnyInstalled(remote ssh) = %v, %v", ok, err)
	}

	ok, err = reg.Installed(context.Background(), AWSToolkit)
	if err != nil || !ok {
		t.Fatalf("Installed(toolkit) = %v, %v", ok, err)
	}
}

func TestCLIRegistry_Errors(t *testing.T) {
	missing := CLIRegistry{
		Runner:  fakeRunner{err: clierrors.E(clierrors.KindToolMissing, "kiro", errors.New("not found"))},
		Command: "kiro",
	}

	if _, err := missing.Installed(context.Background(), AWSToolkit); clierrors.KindOf(err) != clierrors.KindToolMissing {
		t.Fatalf("Installed() error = %v, want tool_missing", err)
	}

	failing := CLIRegistry{
		Runner:  fakeRunner{res: &procrun.Result{ExitCode: 1, Stderr: "boom"}},
		Command: "kiro",
	}

	if _, err := failing.Installed(context.Background(), AWSToolkit); err == nil {
		t.Fatal("Installed() expected error for non-zero exit")
	}
}

type stubRegistry struct {
	ok  bool
	err error
}

func (s stubRegistry) Installed(context.Context, string) (bool, error) { return s.ok, s.err }

func TestFirst(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		regs    []Registry
		want    bool
		wantErr bool
	}{
		{"first positive", []Registry{stubRegistry{ok: true}, stubRegistry{err: boom}}, true, false},
		{"error then positive", []Registry{stubRegistry{err: boom}, stubRegistry{ok: true}}, true, false},
		{"error then negative", []Registry{stubRegistry{err: boom}, stubRegistry{}}, false, false},
		{"all errors", []Registry{stubRegistry{err: boom}, stubRegistry{err: boom}}, false, true},
		{"empty", nil, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := First(tt.regs...).Installed(context.Background(), AWSToolkit)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Installed() error = %v, wantErr %v", err, tt.wantErr)
			}

			if got != tt.want {
				t.Fatalf("Installed() = %v, want %v", got, tt.want)
			}
		})
	}
}
