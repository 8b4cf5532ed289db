package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	clierrors "github.com/musher-dev/spacelink/internal/errors"
	"github.com/musher-dev/spacelink/internal/output"
	"github.com/musher-dev/spacelink/internal/patch"
	"github.com/musher-dev/spacelink/internal/prompt"
	"github.com/musher-dev/spacelink/internal/repair"
)

func newRepairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Repair generated connection files",
		Long: `Repair the files the AWS Toolkit generates for a space connection.

Each repair is idempotent: running it on an already repaired file changes
nothing. A backup is taken before every write, and a result that fails
structural validation is never written.`,
	}

	cmd.AddCommand(newRepairScriptCmd())
	cmd.AddCommand(newRepairConfigCmd())

	return cmd
}

func newRepairScriptCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "script",
		Short: "Repair the toolkit's connection script",
		Long: `Repair the PowerShell connection script the toolkit generates.

Rules, in order:
  arn-normalization  convert app ARNs to space ARNs
  retry-loop         wrap the session request in a bounded retry loop
  debug-suppression  silence per-attempt progress output`,
		Example: `  spacelink repair script
  spacelink repair script --dry-run`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			svc, err := newServices()
			if err != nil {
				return err
			}

			path := svc.cfg.ScriptPath()

			res, err := repair.Script(cmd.Context(), svc.engine, path, svc.scriptOptions(dryRun))
			if errors.Is(err, repair.ErrScriptMissing) {
				return clierrors.ScriptMissing(path)
			}

			if err != nil {
				return repairError(path, err)
			}

			return reportRepair(out, svc.engine, res, path)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show which rules would apply without writing")

	return cmd
}

func newRepairConfigCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Repair the space's Host block in the SSH config",
		Long: `Repair the Host block for the configured alias in the SSH config.
Only that block is touched; the rest of the file is left byte-identical.

Rules, in order:
  placeholder   drop the toolkit's placeholder line
  install-path  point the ProxyCommand at the editor's globalStorage
  keepalive     add ServerAliveInterval, ServerAliveCountMax, ConnectTimeout
  env-pointer   pass the local-server descriptor path to the script`,
		Example: `  spacelink repair config
  spacelink repair config --dry-run`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			svc, err := newServices()
			if err != nil {
				return err
			}

			path := svc.cfg.SSHConfigPath()
			opts := svc.configOptions(dryRun)

			res, err := repair.Config(cmd.Context(), svc.engine, path, opts)
			if errors.Is(err, repair.ErrHostBlockMissing) {
				return clierrors.HostAliasMissing(opts.Alias, path)
			}

			if err != nil {
				return repairError(path, err)
			}

			return reportRepair(out, svc.engine, res, path)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show which rules would apply without writing")

	return cmd
}

func repairError(path string, err error) error {
	if clierrors.KindOf(err) == clierrors.KindExecutionFailed {
		return clierrors.BackupFailed(path, err)
	}

	return clierrors.Wrap(clierrors.ExitGeneral, "Could not repair "+path, err)
}

// reportRepair prints a patch result. A result rejected by validation ends
// with an offer to restore the newest backup.
func reportRepair(out *output.Writer, engine *patch.Engine, res *patch.Result, path string) error {
	if out.JSON {
		if err := out.PrintJSON(res); err != nil {
			return err
		}
	} else {
		renderPatchResult(out, res)
	}

	if !res.Failed {
		return nil
	}

	if !out.JSON {
		offerRestore(out, engine.Backups(), path)
	}

	return clierrors.PatchRejected(path, res.Violations)
}

func renderPatchResult(out *output.Writer, res *patch.Result) {
	verb := "Applied"
	if res.DryRun {
		verb = "Would apply"
	}

	switch {
	case res.Failed:
		out.Failure("%s: validation failed, file left unchanged", res.Target)

		for _, v := range res.Violations {
			out.Hint("%s", v)
		}
	case len(res.AppliedRules) == 0:
		out.Success("%s is already up to date", res.Target)
	default:
		out.Success("%s: %s", verb, strings.Join(res.AppliedRules, ", "))
	}

	if len(res.Conflicts) > 0 {
		out.Warning("Could not place: %s", strings.Join(res.Conflicts, ", "))
	}

	for _, w := range res.Warnings {
		out.Warning("%s", w)
	}

	if res.BackupLocation != "" {
		out.Muted("Backup: %s", res.BackupLocation)
	}
}

// offerRestore asks before restoring. Errors are reported, not returned: the
// caller already has the more useful one.
func offerRestore(out *output.Writer, store *patch.BackupStore, path string) {
	latest, ok, err := store.Latest(path)
	if err != nil || !ok {
		return
	}

	p := prompt.New(out)
	if !p.CanPrompt() {
		out.Info("Run 'spacelink restore' to roll back to the backup from %s", latest.Created.Local().Format("2006-01-02 15:04"))
		return
	}

	confirmed, err := p.Confirm("Restore the backup from "+latest.Created.Local().Format("2006-01-02 15:04")+"?", false)
	if err != nil || !confirmed {
		return
	}

	restored, err := store.Restore(path)
	if err != nil {
		out.Failure("Restore failed: %v", err)
		return
	}

	out.Success("Restored %s from %s", path, restored.From.Path)
}
