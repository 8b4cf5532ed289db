package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/musher-dev/spacelink/internal/buildinfo"
	"github.com/musher-dev/spacelink/internal/paths"
	"github.com/musher-dev/spacelink/internal/update"
)

func setVersion(t *testing.T, v string) {
	t.Helper()

	old := buildinfo.Version
	buildinfo.Version = v

	t.Cleanup(func() { buildinfo.Version = old })
}

func TestUpdateCmd_EarlyExits(t *testing.T) {
	tests := []struct {
		name    string
		version string
		check   string
		want    string
	}{
		{name: "release checks off", version: "1.2.0", check: "false", want: "Release checks are disabled"},
		{name: "development build", version: "dev", check: "true", want: "Development build"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateConfig(t)
			t.Setenv("CI", "")
			t.Setenv("SPACELINK_UPDATE_CHECK", tt.check)
			setVersion(t, tt.version)

			got, err := runCmd(t, newUpdateCmd())
			if err != nil {
				t.Fatalf("update should not fail: %v", err)
			}

			if !strings.Contains(got, tt.want) {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintReleaseNotice(t *testing.T) {
	tests := []struct {
		name   string
		latest string
		want   string
	}{
		{name: "newer release", latest: "1.3.0", want: "spacelink v1.3.0 is available (you have v1.2.0)"},
		{name: "up to date", latest: "1.2.0"},
		{name: "nothing known", latest: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, buf := testWriter()

			printReleaseNotice(out, "1.2.0", update.Record{Latest: tt.latest})

			if tt.want == "" {
				if buf.Len() != 0 {
					t.Fatalf("unexpected notice: %q", buf.String())
				}

				return
			}

			if !strings.Contains(buf.String(), tt.want) || !strings.Contains(buf.String(), "spacelink update") {
				t.Fatalf("notice = %q", buf.String())
			}
		})
	}
}

func TestStartReleaseNotice(t *testing.T) {
	tests := []struct {
		name     string
		json     bool
		checks   string
		wantNote bool
	}{
		{name: "fresh cache with newer release", checks: "true", wantNote: true},
		{name: "json output stays clean", json: true, checks: "true"},
		{name: "release checks off", checks: "false"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateConfig(t)
			t.Setenv("CI", "")
			t.Setenv("SPACELINK_UPDATE_CHECK", tt.checks)
			setVersion(t, "1.2.0")

			cachePath, err := paths.UpdateStateFile()
			if err != nil {
				t.Fatal(err)
			}

			// A fresh record means no lookup goes out to GitHub.
			if err := update.NewCache(cachePath).Store(update.Record{CheckedAt: time.Now(), Latest: "1.3.0"}); err != nil {
				t.Fatal(err)
			}

			svc, err := newServices()
			if err != nil {
				t.Fatal(err)
			}

			out, buf := testWriter()
			out.JSON = tt.json

			svc.startReleaseNotice(context.Background(), out)()

			if got := strings.Contains(buf.String(), "v1.3.0 is available"); got != tt.wantNote {
				t.Fatalf("notice shown = %v, want %v; output %q", got, tt.wantNote, buf.String())
			}
		})
	}
}
