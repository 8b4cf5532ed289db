package prompt

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/musher-dev/spacelink/internal/output"
	"github.com/musher-dev/spacelink/internal/terminal"
)

func testWriter(buf *bytes.Buffer) *output.Writer {
	return output.NewWriter(buf, buf, &terminal.Info{IsTTY: false, NoColor: true, Width: 80, Height: 24})
}

func TestIsCanceled(t *testing.T) {
	if !IsCanceled(errCanceled) {
		t.Fatal("IsCanceled(errCanceled) = false, want true")
	}

	if !IsCanceled(errors.Join(errors.New("other"), errCanceled)) {
		t.Fatal("IsCanceled(wrapped errCanceled) = false, want true")
	}

	if IsCanceled(errors.New("not canceled")) {
		t.Fatal("IsCanceled(unrelated error) = true, want false")
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		defaultVal bool
		want       bool
		wantCancel bool
	}{
		{"yes", "y\n", false, true, false},
		{"YES", "YES\n", false, true, false},
		{"no", "n\n", true, false, false},
		{"empty uses default", "\n", true, true, false},
		{"no trailing newline", "yes", false, true, false},
		{"closed input", "", true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			p := NewWithReader(testWriter(&buf), strings.NewReader(tt.input))

			got, err := p.Confirm("Restore backup?", tt.defaultVal)
			if tt.wantCancel != IsCanceled(err) {
				t.Fatalf("Confirm() err = %v, wantCancel %v", err, tt.wantCancel)
			}

			if got != tt.want {
				t.Errorf("Confirm() = %v, want %v", got, tt.want)
			}

			if !strings.Contains(buf.String(), "Restore backup?") {
				t.Errorf("prompt not written: %q", buf.String())
			}
		})
	}
}

func TestSelect_RetriesInvalidInput(t *testing.T) {
	var buf bytes.Buffer

	p := NewWithReader(testWriter(&buf), strings.NewReader("9\nabc\n2\n"))

	idx, err := p.Select("Pick a backup:", []string{"a.bak", "b.bak"})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	if idx != 1 {
		t.Fatalf("Select() = %d, want 1", idx)
	}

	if strings.Count(buf.String(), "Invalid selection") != 2 {
		t.Fatalf("expected two warnings, got:\n%s", buf.String())
	}
}

func TestCanPrompt_NoInput(t *testing.T) {
	var buf bytes.Buffer

	w := testWriter(&buf)
	w.NoInput = true

	if NewWithReader(w, strings.NewReader("")).CanPrompt() {
		t.Fatal("CanPrompt() = true with NoInput")
	}
}

func TestInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
		def   string
		want  string
	}{
		{"answer", "sm_lab\n", "sm_*", "sm_lab"},
		{"empty uses default", "\n", "sm_*", "sm_*"},
		{"trimmed", "  sm_lab  \n", "", "sm_lab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			p := NewWithReader(testWriter(&buf), strings.NewReader(tt.input))

			got, err := p.Input("Host alias", tt.def)
			if err != nil {
				t.Fatalf("Input() error = %v", err)
			}

			if got != tt.want {
				t.Errorf("Input() = %q, want %q", got, tt.want)
			}
		})
	}
}
