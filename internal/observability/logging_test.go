package observability

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_DefaultFileFallbackForInteractiveAuto(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "spacelink.log")

	cfg := &Config{
		Level:          "info",
		Format:         "json",
		LogFile:        "",
		DefaultLogFile: logPath,
		StderrMode:     "auto",
		InteractiveTTY: true,
		SessionID:      "session-test",
		CommandPath:    "spacelink repair script",
		HostAlias:      "sm_*",
		Version:        "test",
		Commit:         "abc123",
	}

	logger, cleanup, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.Info("hello from test")

	if cleanup != nil {
		if closeErr := cleanup(); closeErr != nil {
			t.Fatalf("cleanup() error = %v", closeErr)
		}
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile(%q) error = %v", logPath, err)
	}

	if !strings.Contains(string(data), `"ssh.host_alias":"sm_*"`) {
		t.Fatalf("log line missing host alias: %s", data)
	}
}

func TestNewLogger_NoSinks(t *testing.T) {
	_, _, err := NewLogger(&Config{StderrMode: "off"})
	if err == nil {
		t.Fatal("NewLogger() expected error with no sinks")
	}
}

func TestNewLogger_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"level", Config{Level: "loud", StderrMode: "on"}},
		{"format", Config{Format: "xml", StderrMode: "on"}},
		{"stderr mode", Config{StderrMode: "sometimes"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := NewLogger(&tt.cfg); err == nil {
				t.Fatal("NewLogger() expected error")
			}
		})
	}
}

func TestRedactAttr(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{ReplaceAttr: redactAttr}))
	logger.Info("env", slog.String("AWS_SESSION_TOKEN", "abc"), slog.String("host", "sm_x"))

	out := buf.String()
	if strings.Contains(out, "abc") {
		t.Fatalf("token value leaked: %s", out)
	}

	if !strings.Contains(out, `"host":"sm_x"`) {
		t.Fatalf("non-sensitive attr altered: %s", out)
	}
}

func TestWithStep(t *testing.T) {
	var buf bytes.Buffer

	ctx := WithLogger(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))
	FromContext(WithStep(ctx, "ssh-config")).Info("x")

	if !strings.Contains(buf.String(), `"step":"ssh-config"`) {
		t.Fatalf("missing step attr: %s", buf.String())
	}
}

func TestRotateLogFile_RotatesAndKeepsBoundedBackups(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "spacelink.log")

	// Existing rotated files
	if err := os.WriteFile(logPath+".1", []byte("one"), 0o600); err != nil {
		t.Fatalf("write .1: %v", err)
	}

	if err := os.WriteFile(logPath+".2", []byte("two"), 0o600); err != nil {
		t.Fatalf("write .2: %v", err)
	}

	if err := os.WriteFile(logPath+".3", []byte("three"), 0o600); err != nil {
		t.Fatalf("write .3: %v", err)
	}

	// Current log above threshold
	if err := os.WriteFile(logPath, []byte("1234567890"), 0o600); err != nil {
		t.Fatalf("write current: %v", err)
	}

	if err := rotateLogFile(logPath, 5, 3); err != nil {
		t.Fatalf("rotateLogFile() error = %v", err)
	}

	if _, err := os.Stat(logPath); !os.IsNotExist(err) {
		t.Fatalf("expected current log to be rotated away, stat err = %v", err)
	}

	for _, suffix := range []string{".1", ".2", ".3"} {
		if _, err := os.Stat(logPath + suffix); err != nil {
			t.Fatalf("expected %s to exist, stat err = %v", suffix, err)
		}
	}

	data3, err := os.ReadFile(logPath + ".3")
	if err != nil {
		t.Fatalf("read .3: %v", err)
	}

	if string(data3) != "two" {
		t.Fatalf("backup retention ordering wrong: .3 = %q, want %q", string(data3), "two")
	}
}

func TestRotateLogFile_BelowThreshold(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "spacelink.log")

	if err := os.WriteFile(logPath, []byte("abc"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := rotateLogFile(logPath, 5, 3); err != nil {
		t.Fatalf("rotateLogFile() error = %v", err)
	}

	if _, err := os.Stat(logPath + ".1"); !os.IsNotExist(err) {
		t.Fatalf("unexpected rotation, stat err = %v", err)
	}
}
