package main

import (
	"github.com/spf13/cobra"

	"github.com/musher-dev/spacelink/internal/doctor"
	"github.com/musher-dev/spacelink/internal/output"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the prerequisites for connecting to a space",
		Long: `Run diagnostic checks for everything a space connection needs.

Checks performed:
  - AWS CLI availability and minimum version
  - Session Manager plugin availability
  - Remote-SSH and AWS Toolkit editor extensions
  - Host alias entry in the SSH config
  - spacelink version against the newest release (update.check)`,
		Example: `  spacelink doctor
  spacelink doctor --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			svc, err := newServices()
			if err != nil {
				return err
			}

			report := svc.doctorProbe(svc.versionCheck()).CheckAll(cmd.Context())

			if out.JSON {
				return out.PrintJSON(report)
			}

			renderDoctor(out, report.Results)

			return nil
		},
	}
}

func renderDoctor(out *output.Writer, results []doctor.Result) {
	out.Println("spacelink doctor")
	out.Println("================")
	out.Println()

	doctor.RenderResults(results, out.Print, out.Success, out.Warning, out.Failure, out.Muted)

	passed, failed, warnings := doctor.Summary(results)

	out.Println()
	out.Print("%d passed", passed)

	if failed > 0 {
		out.Print(", %d failed", failed)
	}

	if warnings > 0 {
		out.Print(", %d warning(s)", warnings)
	}

	out.Println()
}
