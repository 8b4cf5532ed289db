package main

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/musher-dev/spacelink/internal/output"
)

// versionInfo is the `version --json` shape.
type versionInfo struct {
	Version  string `json:"version"`
	Commit   string `json:"commit"`
	Date     string `json:"date"`
	Go       string `json:"go"`
	Platform string `json:"platform"`
}

func currentVersion() versionInfo {
	return versionInfo{
		Version:  version,
		Commit:   commit,
		Date:     date,
		Go:       runtime.Version(),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Print the spacelink release, the commit and date it was built from, and
the Go toolchain and platform of this binary. Include it in bug reports.`,
		Example: `  spacelink version
  spacelink version --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			info := currentVersion()

			if out.JSON {
				return out.PrintJSON(info)
			}

			out.Print("spacelink %s\n", info.Version)
			out.Print("  commit:   %s\n", info.Commit)
			out.Print("  built:    %s\n", info.Date)
			out.Print("  go:       %s\n", info.Go)
			out.Print("  platform: %s\n", info.Platform)

			return nil
		},
	}
}
