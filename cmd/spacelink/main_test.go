package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	clierrors "github.com/musher-dev/spacelink/internal/errors"
)

func TestWithCleanup(t *testing.T) {
	postErr := errors.New("post-run failed")

	tests := []struct {
		name       string
		postRun    func(*cobra.Command, []string) error
		cleanupErr error
		wantErr    string
		wantIs     error
	}{
		{name: "no post-run", wantErr: ""},
		{name: "cleanup error names resource", cleanupErr: errors.New("boom"), wantErr: "cleanup telemetry resources"},
		{
			name:       "post-run error wins",
			postRun:    func(*cobra.Command, []string) error { return postErr },
			cleanupErr: errors.New("boom"),
			wantIs:     postErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleaned := false
			wrapped := withCleanup(tt.postRun, "telemetry resources", func() error {
				cleaned = true
				return tt.cleanupErr
			})

			err := wrapped(&cobra.Command{}, nil)

			if !cleaned {
				t.Fatal("cleanup did not run")
			}

			switch {
			case tt.wantIs != nil:
				if !errors.Is(err, tt.wantIs) {
					t.Fatalf("error = %v, want %v", err, tt.wantIs)
				}
			case tt.wantErr == "":
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			default:
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want it to mention %q", err, tt.wantErr)
				}
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantOut  []string
	}{
		{
			name:     "cli error keeps its code and hint",
			err:      clierrors.NoBackup("/home/u/.ssh/config"),
			wantCode: clierrors.NoBackup("x").Code,
			wantOut:  []string{"No backup found"},
		},
		{
			name:     "unknown command",
			err:      errors.New(`unknown command "conect" for "spacelink"`),
			wantCode: clierrors.ExitUsage,
			wantOut:  []string{"unknown command", "spacelink --help"},
		},
		{
			name:     "suggestion already mentions help",
			err:      errors.New(`unknown flag: --bogus` + "\nRun 'spacelink --help'"),
			wantCode: clierrors.ExitUsage,
		},
		{
			name:     "anything else",
			err:      errors.New("disk full"),
			wantCode: clierrors.ExitGeneral,
			wantOut:  []string{"disk full"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, buf := testWriter()

			if got := exitCode(out, tt.err); got != tt.wantCode {
				t.Errorf("exitCode() = %d, want %d", got, tt.wantCode)
			}

			for _, want := range tt.wantOut {
				if !strings.Contains(buf.String(), want) {
					t.Errorf("output %q missing %q", buf.String(), want)
				}
			}

			if strings.Count(buf.String(), "--help") > 1 {
				t.Errorf("help hint repeated: %q", buf.String())
			}
		})
	}
}

func TestFlagOrEnv(t *testing.T) {
	t.Setenv("SPACELINK_LOG_LEVEL", " debug ")
	t.Setenv("SPACELINK_QUIET", "yes")
	t.Setenv("SPACELINK_JSON", "0")

	if got := flagOrEnv("", "SPACELINK_LOG_LEVEL", "info"); got != "debug" {
		t.Errorf("env fallback = %q", got)
	}

	if got := flagOrEnv("warn", "SPACELINK_LOG_LEVEL", "info"); got != "warn" {
		t.Errorf("flag should win, got %q", got)
	}

	if got := flagOrEnv("", "SPACELINK_LOG_FORMAT_UNSET", "json"); got != "json" {
		t.Errorf("default = %q", got)
	}

	if !boolFlagOrEnv(false, "SPACELINK_QUIET") || boolFlagOrEnv(false, "SPACELINK_JSON") {
		t.Error("boolFlagOrEnv misread the environment")
	}
}

func TestRootCommandsAreGrouped(t *testing.T) {
	root := newRootCmd()

	for _, cmd := range root.Commands() {
		if cmd.GroupID == "" && cmd.Name() != "help" {
			t.Errorf("%s has no help group", cmd.CommandPath())
		}
	}
}
