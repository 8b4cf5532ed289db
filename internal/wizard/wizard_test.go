package wizard

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/musher-dev/spacelink/internal/doctor"
	"github.com/musher-dev/spacelink/internal/output"
	"github.com/musher-dev/spacelink/internal/prompt"
	"github.com/musher-dev/spacelink/internal/terminal"
)

type memSettings map[string]any

func (m memSettings) GetString(key string) string {
	s, _ := m[key].(string)
	return s
}

func (m memSettings) Set(key string, value any) error {
	m[key] = value
	return nil
}

func newTestWizard(t *testing.T, input string, opts Options) (*Wizard, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer

	out := output.NewWriter(&buf, &buf, &terminal.Info{IsTTY: false, NoColor: true, Width: 80, Height: 24})
	opts.Prompter = prompt.NewWithReader(out, strings.NewReader(input))

	return New(out, opts), &buf
}

func TestRun_SelectsEditorAndAlias(t *testing.T) {
	cfg := memSettings{"ssh.host_alias": "sm_*"}
	checked := false

	w, buf := newTestWizard(t, "2\nsm_lab\n", Options{
		Config: cfg,
		Check: func(context.Context) []doctor.Result {
			checked = true
			return []doctor.Result{{Name: doctor.CheckAWSCLI, Status: doctor.StatusPass, Message: "2.15.0"}}
		},
	})

	if err := w.Run(t.Context()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := map[string]string{
		"editor.name":                "Code",
		"editor.cli":                 "code",
		"monitor.remote_process":     "vscode-server",
		"repair.right_path_fragment": "/Code/User/globalStorage/",
		"ssh.host_alias":             "sm_lab",
	}

	for key, v := range want {
		if got := cfg.GetString(key); got != v {
			t.Errorf("%s = %q, want %q", key, got, v)
		}
	}

	if !checked {
		t.Error("prerequisite checks did not run")
	}

	if !strings.Contains(buf.String(), "spacelink is ready!") {
		t.Errorf("missing ready message:\n%s", buf.String())
	}
}

func TestRun_EmptyAliasKeepsDefault(t *testing.T) {
	cfg := memSettings{"ssh.host_alias": "sm_*"}

	w, _ := newTestWizard(t, "1\n\n", Options{Config: cfg})

	if err := w.Run(t.Context()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := cfg.GetString("ssh.host_alias"); got != "sm_*" {
		t.Errorf("ssh.host_alias = %q, want sm_*", got)
	}

	if got := cfg.GetString("editor.name"); got != "Kiro" {
		t.Errorf("editor.name = %q, want Kiro", got)
	}
}

func TestRun_ExistingConfigKept(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(file, []byte("editor:\n  name: Cursor\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := memSettings{}

	w, buf := newTestWizard(t, "n\n", Options{Config: cfg, ConfigFile: file})

	if err := w.Run(t.Context()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(cfg) != 0 {
		t.Errorf("settings written after declining: %v", cfg)
	}

	if !strings.Contains(buf.String(), "Keeping existing settings") {
		t.Errorf("missing keep message:\n%s", buf.String())
	}
}

func TestRun_NonInteractive(t *testing.T) {
	cfg := memSettings{}

	w, buf := newTestWizard(t, "", Options{Config: cfg})
	w.out.NoInput = true

	if err := w.Run(t.Context()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(cfg) != 0 {
		t.Errorf("settings written without input: %v", cfg)
	}

	if !strings.Contains(buf.String(), "non-interactive") {
		t.Errorf("missing non-interactive message:\n%s", buf.String())
	}
}
