package main

import (
	"github.com/spf13/cobra"

	clierrors "github.com/musher-dev/spacelink/internal/errors"
)

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion <bash|zsh|fish|powershell>",
		Short: "Generate a shell completion script",
		Long: `Generate the completion script for the given shell and write it to
standard output. Load it from your shell profile to enable completion.`,
		Example: `  spacelink completion bash > /etc/bash_completion.d/spacelink
  spacelink completion zsh > "${fpath[1]}/_spacelink"
  spacelink completion powershell | Out-String | Invoke-Expression`,
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cmd.Root()
			w := cmd.OutOrStdout()

			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(w, true)
			case "zsh":
				return root.GenZshCompletion(w)
			case "fish":
				return root.GenFishCompletion(w, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(w)
			default:
				return &clierrors.CLIError{
					Message: "Unsupported shell " + args[0],
					Hint:    "Use bash, zsh, fish or powershell",
					Code:    clierrors.ExitUsage,
				}
			}
		},
	}
}
