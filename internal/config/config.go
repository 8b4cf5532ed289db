// Package config handles spacelink configuration using Viper.
//
// Configuration sources (in priority order):
//  1. Environment variables (SPACELINK_*, dots become underscores)
//  2. Config file (<user config dir>/spacelink/config.yaml)
//  3. Built-in defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/musher-dev/spacelink/internal/paths"
)

// Defaults for the connection workflow.
const (
	DefaultHostAlias         = "sm_*"
	DefaultSSHConfigPath     = "~/.ssh/config"
	DefaultMonitorInterval   = 5 * time.Second
	DefaultMonitorMaxChecks  = 60
	DefaultRemoteDir         = "~/.kiro-server"
	DefaultRemoteProcess     = "kiro-server"
	DefaultProbeTimeout      = 10 * time.Second
	DefaultRetryCount        = 10
	DefaultWrongPathFragment = "/Code/User/globalStorage/"
	DefaultRightPathFragment = "/Kiro/User/globalStorage/"
	DefaultEditorName        = "Kiro"
	DefaultEditorCLI         = "kiro"
	DefaultExtensionsDir     = "~/.kiro/extensions"
	DefaultReleaseRepo       = "musher-dev/spacelink"
)

// Setting describes one documented configuration key.
type Setting struct {
	Key         string
	Default     any
	Description string
}

// Settings lists every key spacelink reads, in display order.
var Settings = []Setting{
	{"ssh.host_alias", DefaultHostAlias, "Host alias pattern managed in the SSH config"},
	{"ssh.config_path", DefaultSSHConfigPath, "OpenSSH client config file"},
	{"script.path", "", "Connection script (empty: toolkit globalStorage)"},
	{"server.info_path", "", "Local-server descriptor (empty: toolkit globalStorage)"},
	{"server.start_command", "", "Command that starts the local server (empty: print instructions)"},
	{"monitor.interval", DefaultMonitorInterval.String(), "Delay between monitor checks"},
	{"monitor.max_checks", DefaultMonitorMaxChecks, "Checks before the monitor times out"},
	{"monitor.remote_dir", DefaultRemoteDir, "Remote editor server install directory"},
	{"monitor.remote_process", DefaultRemoteProcess, "Remote editor server process name"},
	{"probe.timeout", DefaultProbeTimeout.String(), "Timeout for each external command"},
	{"repair.retry_count", DefaultRetryCount, "Retry count written into the connection script"},
	{"repair.wrong_path_fragment", DefaultWrongPathFragment, "Install path fragment to replace in the SSH config"},
	{"repair.right_path_fragment", DefaultRightPathFragment, "Install path fragment to write instead"},
	{"editor.name", DefaultEditorName, "Editor product name (globalStorage directory)"},
	{"editor.cli", DefaultEditorCLI, "Editor command used to list extensions"},
	{"editor.extensions_dir", DefaultExtensionsDir, "Editor extensions directory"},
	{"update.check", true, "Look for new spacelink releases during connect and doctor"},
	{"update.repo", DefaultReleaseRepo, "GitHub repository spacelink updates from"},
}

// Config holds the spacelink configuration.
type Config struct {
	v *viper.Viper
}

// Load reads configuration from all sources.
func Load() *Config {
	v := viper.New()

	for _, s := range Settings {
		v.SetDefault(s.Key, s.Default)
	}

	if configFile, err := paths.ConfigFile(); err == nil {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SPACELINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found, but warn on other errors)
	if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
		fmt.Fprintf(os.Stderr, "Warning: error reading config file: %v\n", err)
	}

	return &Config{v: v}
}

func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok { //nolint:errorlint // viper returns the value type
		return true
	}

	return os.IsNotExist(err)
}

// Known reports whether key is a documented setting.
func Known(key string) bool {
	return slices.ContainsFunc(Settings, func(s Setting) bool { return s.Key == key })
}

// Get returns a configuration value.
func (c *Config) Get(key string) any {
	return c.v.Get(key)
}

// GetString returns a configuration value as string.
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt returns a configuration value as int.
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// Set sets a configuration value and persists it.
func (c *Config) Set(key string, value any) error {
	if !Known(key) {
		return fmt.Errorf("unknown configuration key %q", key)
	}

	c.v.Set(key, value)

	configFile, err := paths.ConfigFile()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
		return err
	}

	return c.v.WriteConfigAs(configFile)
}

// All returns all configuration as a map.
func (c *Config) All() map[string]any {
	return c.v.AllSettings()
}

// HostAlias returns the SSH host alias managed by spacelink.
func (c *Config) HostAlias() string {
	return c.GetString("ssh.host_alias")
}

// SSHConfigPath returns the expanded SSH config path.
func (c *Config) SSHConfigPath() string {
	return paths.ExpandHome(c.GetString("ssh.config_path"))
}

// EditorName returns the editor product name.
func (c *Config) EditorName() string {
	return c.GetString("editor.name")
}

// EditorCLI returns the editor command line launcher.
func (c *Config) EditorCLI() string {
	return c.GetString("editor.cli")
}

// ExtensionsDir returns the expanded editor extensions directory.
func (c *Config) ExtensionsDir() string {
	return paths.ExpandHome(c.GetString("editor.extensions_dir"))
}

// ScriptPath returns the connection script path, defaulting to the toolkit's
// globalStorage location for the configured editor.
func (c *Config) ScriptPath() string {
	if p := c.GetString("script.path"); p != "" {
		return paths.ExpandHome(p)
	}

	p, err := paths.ConnectScriptFile(c.EditorName())
	if err != nil {
		return ""
	}

	return p
}

// ServerInfoPath returns the local-server descriptor path.
func (c *Config) ServerInfoPath() string {
	if p := c.GetString("server.info_path"); p != "" {
		return paths.ExpandHome(p)
	}

	p, err := paths.ServerInfoFile(c.EditorName())
	if err != nil {
		return ""
	}

	return p
}

// ServerStartCommand returns the configured local-server start command.
func (c *Config) ServerStartCommand() string {
	return strings.TrimSpace(c.GetString("server.start_command"))
}

// MonitorInterval returns the delay between monitor checks.
func (c *Config) MonitorInterval() time.Duration {
	return positiveDuration(c.v.GetDuration("monitor.interval"), DefaultMonitorInterval)
}

// MonitorMaxChecks returns the monitor's check limit.
func (c *Config) MonitorMaxChecks() int {
	if n := c.GetInt("monitor.max_checks"); n > 0 {
		return n
	}

	return DefaultMonitorMaxChecks
}

// RemoteDir returns the remote editor server install directory.
func (c *Config) RemoteDir() string {
	return c.GetString("monitor.remote_dir")
}

// RemoteProcess returns the remote editor server process name.
func (c *Config) RemoteProcess() string {
	return c.GetString("monitor.remote_process")
}

// ProbeTimeout returns the per-command timeout for external probes.
func (c *Config) ProbeTimeout() time.Duration {
	return positiveDuration(c.v.GetDuration("probe.timeout"), DefaultProbeTimeout)
}

// RetryCount returns the retry count written into the connection script.
func (c *Config) RetryCount() int {
	if n := c.GetInt("repair.retry_count"); n > 0 {
		return n
	}

	return DefaultRetryCount
}

// WrongPathFragment returns the stale install path fragment.
func (c *Config) WrongPathFragment() string {
	return c.GetString("repair.wrong_path_fragment")
}

// RightPathFragment returns the install path fragment to substitute.
func (c *Config) RightPathFragment() string {
	return c.GetString("repair.right_path_fragment")
}

// ReleaseChecks reports whether connect and doctor may look up new
// releases. CI runs never do.
func (c *Config) ReleaseChecks() bool {
	return c.v.GetBool("update.check") && os.Getenv("CI") == ""
}

// ReleaseRepo returns the owner/name slug releases are fetched from.
func (c *Config) ReleaseRepo() string {
	if r := strings.TrimSpace(c.GetString("update.repo")); r != "" {
		return r
	}

	return DefaultReleaseRepo
}

func positiveDuration(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}

	return fallback
}
