package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// unsetEnvForTest unsets an environment variable and registers cleanup to
// restore its original state (including distinguishing "unset" from "set to
// empty string").
func unsetEnvForTest(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}

func isolate(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))

	for _, s := range Settings {
		unsetEnvForTest(t, "SPACELINK_"+strings.ToUpper(strings.ReplaceAll(s.Key, ".", "_")))
	}

	return home
}

func TestLoad_Defaults(t *testing.T) {
	home := isolate(t)

	cfg := Load()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"host alias", cfg.HostAlias(), DefaultHostAlias},
		{"ssh config path", cfg.SSHConfigPath(), filepath.Join(home, ".ssh", "config")},
		{"monitor interval", cfg.MonitorInterval(), DefaultMonitorInterval},
		{"monitor max checks", cfg.MonitorMaxChecks(), DefaultMonitorMaxChecks},
		{"remote process", cfg.RemoteProcess(), DefaultRemoteProcess},
		{"probe timeout", cfg.ProbeTimeout(), DefaultProbeTimeout},
		{"retry count", cfg.RetryCount(), DefaultRetryCount},
		{"wrong path fragment", cfg.WrongPathFragment(), DefaultWrongPathFragment},
		{"right path fragment", cfg.RightPathFragment(), DefaultRightPathFragment},
		{"editor name", cfg.EditorName(), DefaultEditorName},
		{"server start command", cfg.ServerStartCommand(), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestLoad_DefaultToolkitPaths(t *testing.T) {
	isolate(t)

	cfg := Load()

	if got := filepath.Base(cfg.ScriptPath()); got != "sagemaker_connect.ps1" {
		t.Errorf("ScriptPath() base = %q", got)
	}

	if !strings.Contains(cfg.ScriptPath(), DefaultEditorName) {
		t.Errorf("ScriptPath() = %q, want editor name in path", cfg.ScriptPath())
	}

	if got := filepath.Base(cfg.ServerInfoPath()); got != "sagemaker-local-server-info.json" {
		t.Errorf("ServerInfoPath() base = %q", got)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	tests := []struct {
		name   string
		envVar string
		envVal string
		check  func(*Config) bool
	}{
		{
			name:   "host alias",
			envVar: "SPACELINK_SSH_HOST_ALIAS",
			envVal: "sm_dev",
			check:  func(c *Config) bool { return c.HostAlias() == "sm_dev" },
		},
		{
			name:   "monitor interval",
			envVar: "SPACELINK_MONITOR_INTERVAL",
			envVal: "250ms",
			check:  func(c *Config) bool { return c.MonitorInterval() == 250*time.Millisecond },
		},
		{
			name:   "max checks",
			envVar: "SPACELINK_MONITOR_MAX_CHECKS",
			envVal: "3",
			check:  func(c *Config) bool { return c.MonitorMaxChecks() == 3 },
		},
		{
			name:   "script path expands home",
			envVar: "SPACELINK_SCRIPT_PATH",
			envVal: "~/connect.ps1",
			check:  func(c *Config) bool { return strings.HasSuffix(c.ScriptPath(), "connect.ps1") && !strings.HasPrefix(c.ScriptPath(), "~") },
		},
		{
			name:   "non-positive values fall back",
			envVar: "SPACELINK_REPAIR_RETRY_COUNT",
			envVal: "0",
			check:  func(c *Config) bool { return c.RetryCount() == DefaultRetryCount },
		},
		{
			name:   "release checks off",
			envVar: "SPACELINK_UPDATE_CHECK",
			envVal: "false",
			check:  func(c *Config) bool { return !c.ReleaseChecks() },
		},
		{
			name:   "release repo",
			envVar: "SPACELINK_UPDATE_REPO",
			envVal: "acme/spacelink-fork",
			check:  func(c *Config) bool { return c.ReleaseRepo() == "acme/spacelink-fork" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			t.Setenv(tt.envVar, tt.envVal)

			if !tt.check(Load()) {
				t.Errorf("%s=%s not applied", tt.envVar, tt.envVal)
			}
		})
	}
}

func TestReleaseChecks_OffUnderCI(t *testing.T) {
	isolate(t)

	t.Setenv("CI", "")

	if !Load().ReleaseChecks() {
		t.Fatal("release checks should default on")
	}

	t.Setenv("CI", "true")

	if Load().ReleaseChecks() {
		t.Fatal("release checks should be off under CI")
	}
}

func TestConfig_SetPersists(t *testing.T) {
	home := isolate(t)

	cfg := Load()
	if err := cfg.Set("monitor.max_checks", 12); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(home, ".config", "spacelink", "config.yaml"))
	if err != nil {
		t.Fatalf("read config file: %v", err)
	}

	if !strings.Contains(string(data), "max_checks: 12") {
		t.Fatalf("config file missing value:\n%s", data)
	}

	if got := Load().MonitorMaxChecks(); got != 12 {
		t.Fatalf("reloaded MonitorMaxChecks() = %d, want 12", got)
	}
}

func TestConfig_SetRejectsUnknownKey(t *testing.T) {
	isolate(t)

	if err := Load().Set("api.url", "x"); err == nil {
		t.Fatal("Set() expected error for unknown key")
	}
}

func TestConfig_All(t *testing.T) {
	isolate(t)

	all := Load().All()

	for _, section := range []string{"ssh", "monitor", "repair", "editor"} {
		if _, ok := all[section]; !ok {
			t.Errorf("All() missing %q section", section)
		}
	}
}
