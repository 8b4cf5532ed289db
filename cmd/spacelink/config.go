package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/musher-dev/spacelink/internal/config"
	clierrors "github.com/musher-dev/spacelink/internal/errors"
	"github.com/musher-dev/spacelink/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `View and modify spacelink configuration settings.

Values come from SPACELINK_* environment variables first (dots become
underscores, e.g. SPACELINK_SSH_HOST_ALIAS), then the config file, then the
built-in defaults.`,
	}

	cmd.AddCommand(newConfigListCmd())
	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigSetCmd())

	return cmd
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration settings",
		Long:  `Display every configuration setting with its current value and description.`,
		Example: `  spacelink config list
  spacelink config list --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			cfg := config.Load()

			if out.JSON {
				values := make(map[string]any, len(config.Settings))
				for _, s := range config.Settings {
					values[s.Key] = cfg.Get(s.Key)
				}

				return out.PrintJSON(values)
			}

			width := 0
			for _, s := range config.Settings {
				width = max(width, len(s.Key))
			}

			for _, s := range config.Settings {
				out.Print("%-*s = %s\n", width, s.Key, displayValue(cfg.Get(s.Key)))
				out.Muted("%-*s   %s", width, "", s.Description)
			}

			return nil
		},
	}
}

func displayValue(v any) string {
	if v == nil || v == "" {
		return "(unset)"
	}

	return fmt.Sprint(v)
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "get <key>",
		Short:   "Get a configuration value",
		Long:    `Retrieve and display the current value of a single configuration key.`,
		Example: `  spacelink config get ssh.host_alias`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			key := args[0]

			if !config.Known(key) {
				return unknownKey(key)
			}

			value := config.Load().Get(key)

			if out.JSON {
				return out.PrintJSON(map[string]any{key: value})
			}

			if value == nil || value == "" {
				out.Muted("%s is not set", key)
				return nil
			}

			out.Print("%s = %v\n", key, value)

			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "set <key> <value>",
		Short:   "Set a configuration value",
		Long:    `Set a configuration key to the given value. The value is persisted to the config file.`,
		Example: `  spacelink config set ssh.host_alias sm_myspace`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			key, value := args[0], args[1]

			if !config.Known(key) {
				return unknownKey(key)
			}

			if err := config.Load().Set(key, value); err != nil {
				return clierrors.ConfigFailed("set config", err)
			}

			out.Success("Set %s = %s", key, value)

			return nil
		},
	}
}

func unknownKey(key string) error {
	return &clierrors.CLIError{
		Message: fmt.Sprintf("Unknown configuration key %q", key),
		Hint:    "Run 'spacelink config list' to see the available settings",
		Code:    clierrors.ExitUsage,
	}
}
