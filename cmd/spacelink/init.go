package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/musher-dev/spacelink/internal/doctor"
	"github.com/musher-dev/spacelink/internal/output"
	"github.com/musher-dev/spacelink/internal/paths"
	"github.com/musher-dev/spacelink/internal/wizard"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Set up spacelink for first use",
		Long: `Initialize spacelink with a guided setup wizard.

The wizard will:
  1. Ask which editor opens your spaces
  2. Ask for the SSH host alias the AWS Toolkit uses
  3. Check the prerequisites
  4. Show next steps

If settings already exist, use --force to overwrite them.`,
		Example: `  spacelink init`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			svc, err := newServices()
			if err != nil {
				return err
			}

			configFile, _ := paths.ConfigFile()

			w := wizard.New(out, wizard.Options{
				Config:     svc.cfg,
				ConfigFile: configFile,
				Force:      force,
				Check: func(ctx context.Context) []doctor.Result {
					// Rebuilt so the answers just saved take effect.
					fresh, err := newServices()
					if err != nil {
						return nil
					}

					return fresh.doctorProbe().CheckAll(ctx).Results
				},
			})

			return w.Run(cmd.Context())
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing settings without prompting")

	return cmd
}
