package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/musher-dev/spacelink/internal/connect"
	clierrors "github.com/musher-dev/spacelink/internal/errors"
	"github.com/musher-dev/spacelink/internal/monitor"
	"github.com/musher-dev/spacelink/internal/output"
)

func newConnectCmd() *cobra.Command {
	var (
		wait      bool
		host      string
		noInstall bool
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Prepare this machine and connect to a space",
		Long: `Run the whole connection workflow, best effort:

  1. probe      check the AWS CLI, Session Manager plugin, editor extensions
  2. install    install the Session Manager plugin when it is missing
  3. ssh-config add or repair the Host block for the space alias
  4. script     repair the toolkit's connection script
  5. server     make sure the toolkit's local server is running
  6. monitor    with --wait, watch until the remote editor server runs

A failed step is reported and the next one still runs. Only a missing AWS
CLI, a backup failure or Ctrl-C stops the sequence early.`,
		Example: `  spacelink connect
  spacelink connect --wait --host sm_myspace
  spacelink connect --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := output.FromContext(ctx)

			svc, err := newServices()
			if err != nil {
				return err
			}

			if wait {
				if host, err = resolveHost(svc.cfg, host); err != nil {
					return err
				}
			}

			notice := svc.startReleaseNotice(ctx, out)

			opts, err := svc.connectOptions(host, wait, !noInstall)
			if err != nil {
				return err
			}

			if !out.JSON {
				out.Heading("Connecting to " + svc.cfg.HostAlias())

				opts.OnStep = func(step connect.StepResult) {
					if step.Name == connect.StepGuidance {
						return
					}

					out.Step(step.Name, string(step.Status), step.Message)

					if step.Hint != "" {
						out.Hint("%s", step.Hint)
					}
				}

				if wait {
					opts.MonitorOptions.OnStatus = func(line monitor.StatusLine) {
						out.Muted("  %s", line.String())
					}
				}
			}

			report, runErr := connect.New(opts).Run(ctx)

			if out.JSON {
				if err := out.PrintJSON(report); err != nil {
					return err
				}
			} else {
				renderConnectSummary(out, report)
				notice()
			}

			if runErr != nil {
				return connectError(runErr)
			}

			if len(report.Failed()) > 0 {
				return &clierrors.CLIError{
					Message: "Some steps failed; see above",
					Code:    clierrors.ExitGeneral,
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the remote editor server is running")
	cmd.Flags().StringVar(&host, "host", "", "Host to monitor when the alias is a pattern")
	cmd.Flags().BoolVar(&noInstall, "no-install", false, "Do not install missing tools")

	return cmd
}

func renderConnectSummary(out *output.Writer, report *connect.Report) {
	if report == nil {
		return
	}

	ok, skipped, failed := 0, 0, 0

	for _, s := range report.Steps {
		switch s.Status {
		case connect.StatusOK:
			ok++
		case connect.StatusSkipped:
			skipped++
		case connect.StatusFailed:
			failed++
		}
	}

	out.Println()
	out.Print("%d ok, %d skipped, %d failed\n", ok, skipped, failed)

	if report.Next != "" {
		out.Info("Next: %s", report.Next)
	}
}

// connectError keeps CLIErrors from the workflow and maps anything else to a
// general failure.
func connectError(err error) error {
	var cliErr *clierrors.CLIError
	if errors.As(err, &cliErr) {
		return cliErr
	}

	return clierrors.Wrap(clierrors.ExitGeneral, "Connection workflow stopped", err)
}
