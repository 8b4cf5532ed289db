package main

import (
	"fmt"

	"github.com/spf13/cobra"

	clierrors "github.com/musher-dev/spacelink/internal/errors"
	"github.com/musher-dev/spacelink/internal/output"
	"github.com/musher-dev/spacelink/internal/prompt"
	"github.com/musher-dev/spacelink/internal/tools"
)

func newInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install tools the connection depends on",
		Long:  `Download and run the vendor installer for a tool the connection needs.`,
	}

	cmd.AddCommand(newInstallPluginCmd())

	return cmd
}

func newInstallPluginCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Install the AWS Session Manager plugin",
		Long: `Download the Session Manager plugin installer for this platform and run
it. The installer may ask for an administrator password. Nothing is done
when the plugin is already installed, unless --force is given.`,
		Example: `  spacelink install plugin
  spacelink install plugin --force`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.FromContext(ctx)

			svc, err := newServices()
			if err != nil {
				return err
			}

			spec, _ := tools.Get(tools.SessionManagerPlugin)

			if path, resolveErr := svc.runner.Resolve(tools.SessionManagerPlugin); resolveErr == nil && !force {
				out.Success("%s already installed at %s", spec.Label(), path)
				return nil
			}

			if !force && !out.JSON {
				p := prompt.New(out)
				if p.CanPrompt() {
					confirmed, promptErr := p.Confirm(fmt.Sprintf("Download and run the %s installer?", spec.Label()), true)
					if promptErr != nil {
						if prompt.IsCanceled(promptErr) {
							return clierrors.Cancelled()
						}

						return promptErr
					}

					if !confirmed {
						out.Muted("Nothing installed. Manual instructions: %s", spec.Install.Docs)
						return nil
					}
				}
			}

			inst, err := svc.installer()
			if err != nil {
				return err
			}

			// No spinner: the installer may prompt for a sudo password.
			if !out.JSON {
				out.Info("Installing %s", spec.Label())
			}

			docs, err := inst.Tool(ctx, tools.SessionManagerPlugin, svc.goos)
			if err != nil {
				return clierrors.InstallFailed(spec.Label(), docs, err)
			}

			if out.JSON {
				return out.PrintJSON(map[string]any{"tool": spec.Name, "installed": true})
			}

			out.Success("%s installed", spec.Label())

			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Reinstall even if already installed and skip confirmation")

	return cmd
}
