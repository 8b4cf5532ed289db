package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	clierrors "github.com/musher-dev/spacelink/internal/errors"
	"github.com/musher-dev/spacelink/internal/output"
	"github.com/musher-dev/spacelink/internal/patch"
	"github.com/musher-dev/spacelink/internal/prompt"
)

// Restore targets.
const (
	targetScript = "script"
	targetConfig = "config"
)

func newRestoreCmd() *cobra.Command {
	var (
		target string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a repaired file from its latest backup",
		Long: `Replace the connection script or the SSH config with the newest backup
taken before a repair. The current content is backed up first, so a restore
can itself be undone by hand from the backup directory.`,
		Example: `  spacelink restore --target config
  spacelink restore --target script --force`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			svc, err := newServices()
			if err != nil {
				return err
			}

			var path string

			switch target {
			case targetScript:
				path = svc.cfg.ScriptPath()
			case targetConfig:
				path = svc.cfg.SSHConfigPath()
			default:
				return &clierrors.CLIError{
					Message: fmt.Sprintf("Unknown restore target %q", target),
					Hint:    "Use --target script or --target config",
					Code:    clierrors.ExitUsage,
				}
			}

			return runRestore(out, svc.engine.Backups(), path, force)
		},
	}

	cmd.Flags().StringVar(&target, "target", targetConfig, "File to restore: script or config")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Restore without confirmation")

	return cmd
}

func runRestore(out *output.Writer, store *patch.BackupStore, path string, force bool) error {
	latest, ok, err := store.Latest(path)
	if err != nil {
		return clierrors.Wrap(clierrors.ExitGeneral, "Could not read backups", err)
	}

	if !ok {
		return clierrors.NoBackup(path)
	}

	if !force {
		p := prompt.New(out)
		if !p.CanPrompt() {
			return clierrors.CannotPrompt("--force")
		}

		confirmed, promptErr := p.Confirm(fmt.Sprintf("Replace %s with the backup from %s?", path, latest.Created.Local().Format("2006-01-02 15:04")), false)
		if promptErr != nil {
			if prompt.IsCanceled(promptErr) {
				return clierrors.Cancelled()
			}

			return promptErr
		}

		if !confirmed {
			out.Muted("Nothing restored.")
			return nil
		}
	}

	restored, err := store.Restore(path)
	if errors.Is(err, patch.ErrNoBackup) {
		return clierrors.NoBackup(path)
	}

	if err != nil {
		return clierrors.Wrap(clierrors.ExitGeneral, "Restore failed", err)
	}

	if out.JSON {
		return out.PrintJSON(restored)
	}

	out.Success("Restored %s", path)
	out.Muted("From: %s", restored.From.Path)

	if restored.Previous != nil {
		out.Muted("Previous content saved to %s", restored.Previous.Path)
	}

	return nil
}
