package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/musher-dev/spacelink/internal/buildinfo"
	clierrors "github.com/musher-dev/spacelink/internal/errors"
	"github.com/musher-dev/spacelink/internal/output"
	"github.com/musher-dev/spacelink/internal/update"
)

// updateStatus is the --check and --json result.
type updateStatus struct {
	Current   string          `json:"current"`
	Latest    *update.Release `json:"latest,omitempty"`
	Available bool            `json:"available"`
}

func newUpdateCmd() *cobra.Command {
	var (
		version string
		check   bool
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update spacelink to the latest release",
		Long: `Replace this spacelink binary with a newer GitHub release.

The download is verified against the release's checksums.txt before the
binary is swapped. When the binary's directory is not writable the command
stops and says how to rerun it with elevated permissions. With --json the
command reports what it found and installs nothing.

Releases come from the update.repo setting; set GITHUB_TOKEN to avoid the
anonymous API rate limit.`,
		Example: `  spacelink update
  spacelink update --check
  spacelink update --version 0.4.0`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			svc, err := newServices()
			if err != nil {
				return err
			}

			return runUpdate(cmd, out, svc, version, check, force)
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "Install a specific release (e.g. 1.2.3)")
	cmd.Flags().BoolVar(&check, "check", false, "Only report whether a newer release exists")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Reinstall even when already up to date")

	return cmd
}

func runUpdate(cmd *cobra.Command, out *output.Writer, svc *services, version string, checkOnly, force bool) error {
	ctx := cmd.Context()
	current := buildinfo.Version

	if !svc.cfg.ReleaseChecks() {
		out.Warning("Release checks are disabled (update.check is false or CI is set)")
		return nil
	}

	if current == "dev" && version == "" {
		out.Warning("Development build: there is no installed release to compare against")
		out.Info("Pass --version to install a specific release")

		return nil
	}

	client, err := svc.releaseClient()
	if err != nil {
		return err
	}

	find := func() (*update.Release, error) {
		if version != "" {
			return client.Find(ctx, version)
		}

		rel, err := client.Latest(ctx)
		if err == nil {
			if cache, cacheErr := svc.releaseCache(); cacheErr == nil {
				_ = cache.Remember(rel)
			}
		}

		return rel, err
	}

	if out.JSON {
		rel, err := find()
		if err != nil {
			return releaseLookupError(version, err)
		}

		return out.PrintJSON(updateStatus{Current: current, Latest: rel, Available: update.Newer(rel.Version, current)})
	}

	spin := out.Spinner("Looking up releases")
	spin.Start()

	rel, err := find()
	if err != nil {
		spin.StopWithFailure("Release lookup failed")
		return releaseLookupError(version, err)
	}

	available := update.Newer(rel.Version, current)

	if checkOnly {
		if available {
			spin.StopWithWarning(fmt.Sprintf("spacelink v%s is available (you have v%s)", rel.Version, current))
		} else {
			spin.StopWithSuccess(fmt.Sprintf("Up to date (v%s)", current))
		}

		return nil
	}

	if version == "" && !available && !force {
		spin.StopWithSuccess(fmt.Sprintf("Already up to date (v%s)", current))
		return nil
	}

	spin.StopWithSuccess(fmt.Sprintf("Found v%s", rel.Version))

	exe, err := update.Executable()
	if err != nil {
		return clierrors.Wrap(clierrors.ExitGeneral, "Cannot locate the spacelink binary", err)
	}

	if err := update.Replaceable(exe); err != nil {
		return clierrors.UpdateBlocked(exe, update.ElevationHint, err)
	}

	spin = out.Spinner(fmt.Sprintf("Installing v%s", rel.Version))
	spin.Start()

	if err := client.Install(ctx, rel, exe); err != nil {
		spin.StopWithFailure(fmt.Sprintf("Install of v%s failed", rel.Version))
		return clierrors.Wrap(clierrors.ExitNetwork, fmt.Sprintf("Failed to install spacelink v%s", rel.Version), err)
	}

	spin.StopWithSuccess(fmt.Sprintf("Installed v%s", rel.Version))

	if rel.URL != "" {
		out.Muted("Release notes: %s", rel.URL)
	}

	return nil
}

func releaseLookupError(version string, err error) error {
	if errors.Is(err, update.ErrNoRelease) {
		what := "the latest release"
		if version != "" {
			what = "v" + version
		}

		return &clierrors.CLIError{
			Message: fmt.Sprintf("No build of %s for this platform", what),
			Hint:    "See the published releases on GitHub, or check the update.repo setting",
			Cause:   err,
			Code:    clierrors.ExitNetwork,
		}
	}

	return &clierrors.CLIError{
		Message: "Could not reach GitHub releases",
		Hint:    "Check your network; set GITHUB_TOKEN if you are rate limited",
		Cause:   err,
		Code:    clierrors.ExitNetwork,
	}
}
