package main

import (
	"errors"

	"github.com/spf13/cobra"

	clierrors "github.com/musher-dev/spacelink/internal/errors"
	"github.com/musher-dev/spacelink/internal/localserver"
	"github.com/musher-dev/spacelink/internal/output"
)

func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Inspect or start the toolkit's local server",
		Long: `The AWS Toolkit runs a local server that hands out session credentials
to the connection script. It writes its pid and port to a descriptor file.`,
	}

	cmd.AddCommand(newServerStatusCmd())
	cmd.AddCommand(newServerStartCmd())

	return cmd
}

func newServerStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the local server is running",
		Long: `Read the local-server descriptor, check that its process is alive and
that its port answers HTTP.`,
		Example: `  spacelink server status
  spacelink server status --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			svc, err := newServices()
			if err != nil {
				return err
			}

			prober := svc.serverProber()
			info := prober.Probe(cmd.Context())

			if out.JSON {
				return out.PrintJSON(info)
			}

			renderServerInfo(out, prober.InfoPath(), info)

			return nil
		},
	}
}

func newServerStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the local server if it is not running",
		Long: `Start the local server with the configured server.start_command and wait
for it to come up. Without a start command, print how to start it from the
editor instead.`,
		Example: `  spacelink server start
  spacelink config set server.start_command "kiro --start-local-server"`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			svc, err := newServices()
			if err != nil {
				return err
			}

			prober := svc.serverProber()

			info := prober.Probe(cmd.Context())
			if !info.Running {
				starter := svc.starter(prober)
				if starter == nil {
					return &clierrors.CLIError{
						Message: "Local server is not running",
						Hint:    "Open " + svc.cfg.EditorName() + " and connect to the space from the AWS Toolkit, or set server.start_command",
						Code:    clierrors.ExitGeneral,
					}
				}

				var spin *output.Spinner
				if !out.JSON {
					spin = out.Spinner("Starting local server")
					spin.Start()
				}

				info, err = starter.Start(cmd.Context())
				if err != nil {
					if spin != nil {
						spin.StopWithFailure("Local server did not start")
					}

					return serverStartError(err)
				}

				if spin != nil {
					spin.StopWithSuccess("Local server started")
				}
			}

			if out.JSON {
				return out.PrintJSON(info)
			}

			renderServerInfo(out, prober.InfoPath(), info)

			return nil
		},
	}
}

func serverStartError(err error) error {
	code := clierrors.ExitExecution
	if errors.Is(err, localserver.ErrNoStartCommand) {
		code = clierrors.ExitConfig
	} else if clierrors.KindOf(err) == clierrors.KindTimeout {
		code = clierrors.ExitTimeout
	}

	return clierrors.Wrap(code, "Could not start the local server", err)
}

func renderServerInfo(out *output.Writer, infoPath string, info localserver.Info) {
	switch {
	case info.Running && info.Accessible:
		out.Success("Local server running (pid %d, port %d)", info.PID, info.Port)
	case info.Running:
		out.Warning("Local server running (pid %d, port %d) but not answering", info.PID, info.Port)
	default:
		out.Failure("Local server not running")
	}

	if info.Error != "" {
		out.Hint("%s", info.Error)
	}

	out.Muted("Descriptor: %s", infoPath)
}
