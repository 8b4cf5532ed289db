package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/musher-dev/spacelink/internal/config"
	"github.com/musher-dev/spacelink/internal/output"
	"github.com/musher-dev/spacelink/internal/paths"
)

// PathsInfo holds all resolved paths for JSON output.
type PathsInfo struct {
	ConfigRoot     string `json:"config_root"`
	StateRoot      string `json:"state_root"`
	CacheRoot      string `json:"cache_root"`
	ConfigFile     string `json:"config_file"`
	LogFile        string `json:"log_file"`
	BackupsDir     string `json:"backups_dir"`
	MonitorsDir    string `json:"monitors_dir"`
	InstallerCache string `json:"installer_cache"`
	UpdateState    string `json:"update_state"`
	SSHConfig      string `json:"ssh_config"`
	Script         string `json:"script"`
	ServerInfo     string `json:"server_info"`
}

func newPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Show where spacelink reads and writes files",
		Long: `Display all file and directory paths used by spacelink.

Useful for debugging, scripting, and finding backups of repaired files.`,
		Example: `  spacelink paths
  spacelink paths --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			info := resolvePathsInfo(config.Load())

			if out.JSON {
				return out.PrintJSON(info)
			}

			out.KeyValue([][2]string{
				{"Config root", info.ConfigRoot},
				{"State root", info.StateRoot},
				{"Cache root", info.CacheRoot},
			})
			out.Println()
			out.KeyValue([][2]string{
				{"Config file", info.ConfigFile},
				{"Log file", info.LogFile},
				{"Backups", info.BackupsDir},
				{"Monitors", info.MonitorsDir},
				{"Installers", info.InstallerCache},
				{"Update state", info.UpdateState},
			})
			out.Println()
			out.KeyValue([][2]string{
				{"SSH config", info.SSHConfig},
				{"Script", info.Script},
				{"Server info", info.ServerInfo},
			})

			return nil
		},
	}
}

func resolvePathsInfo(cfg *config.Config) PathsInfo {
	return PathsInfo{
		ConfigRoot:     resolveOrError(paths.ConfigRoot),
		StateRoot:      resolveOrError(paths.StateRoot),
		CacheRoot:      resolveOrError(paths.CacheRoot),
		ConfigFile:     resolveOrError(paths.ConfigFile),
		LogFile:        resolveOrError(paths.DefaultLogFile),
		BackupsDir:     resolveOrError(paths.BackupsDir),
		MonitorsDir:    resolveOrError(paths.MonitorsDir),
		InstallerCache: resolveOrError(paths.InstallerCacheDir),
		UpdateState:    resolveOrError(paths.UpdateStateFile),
		SSHConfig:      cfg.SSHConfigPath(),
		Script:         orUnresolved(cfg.ScriptPath()),
		ServerInfo:     orUnresolved(cfg.ServerInfoPath()),
	}
}

func resolveOrError(fn func() (string, error)) string {
	val, err := fn()
	if err != nil {
		return fmt.Sprintf("<error: %v>", err)
	}

	return val
}

func orUnresolved(p string) string {
	if p == "" {
		return "<error: editor globalStorage unavailable>"
	}

	return p
}
