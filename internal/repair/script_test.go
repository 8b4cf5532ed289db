package repair

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/musher-dev/spacelink/internal/patch"
	"github.com/musher-dev/spacelink/internal/testutil"
)

func newEngine(t *testing.T) *patch.Engine {
	t.Helper()

	return patch.NewEngine(patch.NewBackupStore(filepath.Join(t.TempDir(), "backups")))
}

func applyScript(t *testing.T, text string) *patch.Result {
	t.Helper()

	res := newEngine(t).Apply(context.Background(), text, ScriptSet(ScriptOptions{}))
	if res.Failed {
		t.Fatalf("validation failed: %v\n%s", res.Violations, res.PatchedText)
	}

	return res
}

func TestScript_LegacyRetryLoop(t *testing.T) {
	original := testutil.Fixture(t, "legacy_retry.ps1")
	path := testutil.WriteTemp(t, "sagemaker_connect.ps1", original)
	engine := newEngine(t)

	res, err := Script(context.Background(), engine, path, ScriptOptions{RetryCount: 10})
	if err != nil {
		t.Fatalf("Script() error = %v", err)
	}

	if !slices.Equal(res.AppliedRules, []string{RuleRetryLoop, RuleDebugSuppression}) {
		t.Fatalf("AppliedRules = %v", res.AppliedRules)
	}

	if len(res.Conflicts) != 0 || res.Failed {
		t.Fatalf("Conflicts = %v, Violations = %v", res.Conflicts, res.Violations)
	}

	patched := testutil.ReadFile(t, path)

	for _, want := range []string{MarkerRetryLoop, "$MaxRetries = 10", MarkerDebugSuppression} {
		if !strings.Contains(patched, want) {
			t.Errorf("patched script missing %q", want)
		}
	}

	if strings.Contains(patched, "$maxRetries = 50") {
		t.Error("legacy retry count 50 still present")
	}

	if strings.Contains(patched, "Retrying in 2 seconds") {
		t.Error("legacy catch body still present")
	}

	if got := testutil.ReadFile(t, res.BackupLocation); got != original {
		t.Fatal("backup does not hold the original script")
	}

	again, err := Script(context.Background(), engine, path, ScriptOptions{RetryCount: 10})
	if err != nil {
		t.Fatalf("second Script() error = %v", err)
	}

	if len(again.AppliedRules) != 0 || again.Written {
		t.Fatalf("second run applied %v", again.AppliedRules)
	}

	if testutil.ReadFile(t, path) != patched {
		t.Fatal("second run changed the script")
	}
}

func TestScriptSet_Idempotent(t *testing.T) {
	for _, fixture := range []string{"legacy_retry.ps1", "bare_try.ps1", "reshaped.ps1", "no_anchor.ps1"} {
		t.Run(fixture, func(t *testing.T) {
			first := applyScript(t, testutil.Fixture(t, fixture))
			second := applyScript(t, first.PatchedText)

			if len(second.AppliedRules) != 0 {
				t.Fatalf("second pass applied %v", second.AppliedRules)
			}

			if second.PatchedText != first.PatchedText {
				t.Fatal("second pass changed the text")
			}

			for _, marker := range []string{MarkerARNNormalization, MarkerRetryLoop, MarkerDebugSuppression} {
				if n := strings.Count(first.PatchedText, marker); n > 1 {
					t.Errorf("%s inserted %d times", marker, n)
				}
			}
		})
	}
}

func TestScript_BareTry(t *testing.T) {
	res := applyScript(t, testutil.Fixture(t, "bare_try.ps1"))
	out := res.PatchedText

	if !slices.Equal(res.AppliedRules, []string{RuleARNNormalization, RuleRetryLoop, RuleDebugSuppression}) {
		t.Fatalf("AppliedRules = %v", res.AppliedRules)
	}

	if strings.Contains(out, "Failed to get session: $_") {
		t.Error("original catch block kept")
	}

	if strings.Contains(out, "Fetching session") {
		t.Error("stdout progress line kept inside the retry loop")
	}

	if n := strings.Count(out, "$response = Invoke-RestMethod -Uri $Url -Method Get"); n != 1 {
		t.Errorf("request statement appears %d times, want 1", n)
	}

	for _, want := range []string{
		"        $response = Invoke-RestMethod -Uri $Url -Method Get\n        break\n",
		"[Math]::Min(5 * $Attempt, 30)",
		"[Math]::Min(2 * $Attempt, 10)",
		"[Console]::Error.WriteLine(\"Failed to get session after $MaxRetries attempts: $LastError\")",
		"exit 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("retry loop missing %q", want)
		}
	}
}

func TestScript_ARNNormalizationFollowsAssignment(t *testing.T) {
	out := applyScript(t, testutil.Fixture(t, "bare_try.ps1")).PatchedText
	lines := strings.Split(out, "\n")

	i := slices.IndexFunc(lines, func(l string) bool { return strings.HasPrefix(l, `$AppArn = "arn:`) })
	if i < 0 || i+3 >= len(lines) {
		t.Fatalf("assignment not found:\n%s", out)
	}

	if lines[i+1] != MarkerARNNormalization {
		t.Fatalf("line after assignment = %q", lines[i+1])
	}

	if !strings.Contains(lines[i+2], "':app/") || !strings.Contains(lines[i+3], "':app__") {
		t.Fatalf("conversion lines = %q, %q", lines[i+2], lines[i+3])
	}
}

func TestScript_ExistingConversionDetected(t *testing.T) {
	res := applyScript(t, testutil.Fixture(t, "legacy_retry.ps1"))

	if !slices.Contains(res.SkippedRules, RuleARNNormalization) {
		t.Fatalf("SkippedRules = %v", res.SkippedRules)
	}

	if strings.Contains(res.PatchedText, MarkerARNNormalization) {
		t.Fatal("conversion block inserted twice")
	}
}

func TestScript_DebugSuppressionAfterParam(t *testing.T) {
	out := applyScript(t, testutil.Fixture(t, "legacy_retry.ps1")).PatchedText

	if !strings.HasPrefix(out, "#requires -Version 5.1\n# Connects") {
		t.Fatal("header comments moved")
	}

	marker := strings.Index(out, MarkerDebugSuppression)
	paramClose := strings.Index(out, "\n)\n")

	if marker < paramClose {
		t.Fatalf("suppression block at %d, before end of param block at %d", marker, paramClose)
	}

	if between := out[paramClose+3 : marker]; between != "" {
		t.Fatalf("suppression block not directly after param block: %q", between)
	}
}

func TestScript_FallbackStripsKnownBadLines(t *testing.T) {
	res := applyScript(t, testutil.Fixture(t, "reshaped.ps1"))
	out := res.PatchedText

	if !slices.Contains(res.AppliedRules, RuleRetryLoop) {
		t.Fatalf("AppliedRules = %v", res.AppliedRules)
	}

	if !strings.Contains(out, "$maxRetries = 10") || strings.Contains(out, "= 25") {
		t.Error("retry count not rewritten")
	}

	if strings.Contains(out, "Waiting for session") {
		t.Error("stdout progress line kept")
	}

	if !strings.Contains(out, MarkerRetryLoop+" (partial") {
		t.Error("partial repair not marked")
	}
}

func TestScript_NoAnchors(t *testing.T) {
	res := applyScript(t, testutil.Fixture(t, "no_anchor.ps1"))

	if !slices.Equal(res.AppliedRules, []string{RuleDebugSuppression}) {
		t.Fatalf("AppliedRules = %v", res.AppliedRules)
	}

	if !slices.Equal(res.Conflicts, []string{RuleARNNormalization, RuleRetryLoop}) {
		t.Fatalf("Conflicts = %v", res.Conflicts)
	}

	if len(res.Warnings) != 2 {
		t.Fatalf("Warnings = %v", res.Warnings)
	}
}

func TestScript_RetryCountOption(t *testing.T) {
	res := newEngine(t).Apply(context.Background(), testutil.Fixture(t, "bare_try.ps1"), ScriptSet(ScriptOptions{RetryCount: 4}))

	if !strings.Contains(res.PatchedText, "$MaxRetries = 4\n") {
		t.Fatal("configured retry count not used")
	}
}

func TestScript_CRLF(t *testing.T) {
	crlf := strings.ReplaceAll(testutil.Fixture(t, "bare_try.ps1"), "\n", "\r\n")
	out := applyScript(t, crlf).PatchedText

	if strings.Count(out, "\n") != strings.Count(out, "\r\n") {
		t.Fatal("patched script mixes line endings")
	}
}

func TestScript_Missing(t *testing.T) {
	_, err := Script(context.Background(), newEngine(t), filepath.Join(t.TempDir(), "sagemaker_connect.ps1"), ScriptOptions{})
	if !errors.Is(err, ErrScriptMissing) {
		t.Fatalf("Script() error = %v, want ErrScriptMissing", err)
	}
}

func TestScript_DryRunLeavesFile(t *testing.T) {
	original := testutil.Fixture(t, "bare_try.ps1")
	path := testutil.WriteTemp(t, "sagemaker_connect.ps1", original)

	res, err := Script(context.Background(), newEngine(t), path, ScriptOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Script() error = %v", err)
	}

	if len(res.AppliedRules) != 3 || res.Written {
		t.Fatalf("res = %+v", res)
	}

	if data, _ := os.ReadFile(path); string(data) != original {
		t.Fatal("dry run modified the script")
	}
}

func TestPreambleEnd(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string // text expected right after the insertion point
	}{
		{"no param", "# header\n\n$x = 1\n", "$x = 1\n"},
		{"param only", "param($a)\n$x = 1\n", "$x = 1\n"},
		{"nested parens", "param(\n  [ValidateSet('a', 'b')]\n  [string]$m = ('x')\n)\n$x = 1\n", "$x = 1\n"},
		{"attribute and block comment", "<#\n.SYNOPSIS\n param(\n#>\n[CmdletBinding()]\nParam ()\n$x = 1\n", "$x = 1\n"},
		{"indented statement", "# c\n    Set-StrictMode -Version 2\n", "    Set-StrictMode -Version 2\n"},
		{"comments only", "# just a comment", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, err := preambleEnd(tt.text)
			if err != nil {
				t.Fatalf("preambleEnd() error = %v", err)
			}

			if got := tt.text[pos:]; got != tt.want {
				t.Fatalf("rest = %q, want %q", got, tt.want)
			}
		})
	}
}
