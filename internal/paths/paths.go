// Package paths resolves per-user directories for spacelink and the
// well-known locations of files owned by the editor, the toolkit extension
// and OpenSSH.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const appName = "spacelink"

// ToolkitExtensionID is the editor extension that generates the connection
// script and the local-server descriptor.
const ToolkitExtensionID = "amazonwebservices.aws-toolkit-vscode"

// File names written by the toolkit extension under its globalStorage dir.
const (
	ConnectScriptName = "sagemaker_connect.ps1"
	ServerInfoName    = "sagemaker-local-server-info.json"
)

func configRoot() (string, error) {
	return rootWithFallback("XDG_CONFIG_HOME", os.UserConfigDir, ".config")
}

func stateRoot() (string, error) {
	noOSDefault := func() (string, error) {
		return "", fmt.Errorf("no OS state directory function")
	}

	return rootWithFallback("XDG_STATE_HOME", noOSDefault, filepath.Join(".local", "state"))
}

func cacheRoot() (string, error) {
	return rootWithFallback("XDG_CACHE_HOME", os.UserCacheDir, ".cache")
}

func rootWithFallback(xdgEnv string, osFn func() (string, error), fallbackDir string) (string, error) {
	// Priority 1: Explicit XDG env var (cross-platform).
	if xdg := os.Getenv(xdgEnv); xdg != "" && filepath.IsAbs(xdg) {
		return filepath.Join(xdg, appName), nil
	}

	// Priority 2: OS-specific default (macOS ~/Library/..., Windows %AppData%, Linux ~/.config).
	root, err := osFn()
	if err == nil && root != "" {
		return filepath.Join(root, appName), nil
	}

	// Priority 3: Home-dir fallback.
	home, homeErr := os.UserHomeDir()
	if homeErr == nil && home != "" {
		return filepath.Join(home, fallbackDir, appName), nil
	}

	if err != nil {
		return "", err
	}

	return "", fmt.Errorf("resolve user home directory")
}

// ConfigRoot returns the user config root directory for spacelink.
func ConfigRoot() (string, error) {
	return configRoot()
}

// StateRoot returns the user state root directory for spacelink.
func StateRoot() (string, error) {
	return stateRoot()
}

// CacheRoot returns the user cache root directory for spacelink.
func CacheRoot() (string, error) {
	return cacheRoot()
}

// ConfigFile returns the path of the spacelink config file.
func ConfigFile() (string, error) {
	root, err := configRoot()
	if err != nil {
		return "", err
	}

	return filepath.Join(root, "config.yaml"), nil
}

// LogsDir returns the default log directory.
func LogsDir() (string, error) {
	root, err := stateRoot()
	if err != nil {
		return "", err
	}

	return filepath.Join(root, "logs"), nil
}

// DefaultLogFile returns the default log file path.
func DefaultLogFile() (string, error) {
	logsDir, err := LogsDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(logsDir, "spacelink.log"), nil
}

// ServerStartLogFile returns where the local server start command's output
// goes.
func ServerStartLogFile() (string, error) {
	logsDir, err := LogsDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(logsDir, "server-start.log"), nil
}

// UpdateStateFile returns the update state file path.
func UpdateStateFile() (string, error) {
	root, err := stateRoot()
	if err != nil {
		return "", err
	}

	return filepath.Join(root, "update-check.json"), nil
}

// BackupsDir returns the directory holding pre-patch backups.
func BackupsDir() (string, error) {
	root, err := stateRoot()
	if err != nil {
		return "", err
	}

	return filepath.Join(root, "backups"), nil
}

// MonitorsDir returns the directory foreground monitors register their pid in.
func MonitorsDir() (string, error) {
	root, err := stateRoot()
	if err != nil {
		return "", err
	}

	return filepath.Join(root, "monitors"), nil
}

// InstallerCacheDir returns the directory downloaded installers are kept in.
func InstallerCacheDir() (string, error) {
	root, err := cacheRoot()
	if err != nil {
		return "", err
	}

	return filepath.Join(root, "installers"), nil
}

// SSHConfigFile returns the user's OpenSSH client config path.
func SSHConfigFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home directory: %w", err)
	}

	return filepath.Join(home, ".ssh", "config"), nil
}

// EditorGlobalStorageDir returns <user config dir>/<editor>/User/globalStorage,
// the layout shared by VS Code derived editors on every OS.
func EditorGlobalStorageDir(editor string) (string, error) {
	root, err := os.UserConfigDir()
	if err != nil || root == "" {
		home, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return "", fmt.Errorf("resolve user config directory: %w", homeErr)
		}

		root = filepath.Join(home, ".config")
	}

	return filepath.Join(root, editor, "User", "globalStorage"), nil
}

// ConnectScriptFile returns the default location of the generated connection script.
func ConnectScriptFile(editor string) (string, error) {
	dir, err := EditorGlobalStorageDir(editor)
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, ToolkitExtensionID, ConnectScriptName), nil
}

// ServerInfoFile returns the default location of the local-server descriptor.
func ServerInfoFile(editor string) (string, error) {
	dir, err := EditorGlobalStorageDir(editor)
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, ToolkitExtensionID, ServerInfoName), nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") && !strings.HasPrefix(p, `~\`) {
		return p
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return p
	}

	return filepath.Join(home, p[1:])
}
