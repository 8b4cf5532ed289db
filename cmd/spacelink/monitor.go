package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	clierrors "github.com/musher-dev/spacelink/internal/errors"
	"github.com/musher-dev/spacelink/internal/monitor"
	"github.com/musher-dev/spacelink/internal/output"
)

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch a space until its editor server runs",
		Long: `Poll the local server and the remote editor install until the editor
server process runs on the space, the check limit is reached, or the
monitor is stopped. At most one monitor runs per host.`,
	}

	cmd.AddCommand(newMonitorStartCmd())
	cmd.AddCommand(newMonitorStopCmd())
	cmd.AddCommand(newMonitorStopAllCmd())

	return cmd
}

func newMonitorStartCmd() *cobra.Command {
	var host string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Monitor a space in the foreground",
		Long: `Start a monitor for one host and print a status line per check.

A monitor already running for the same host, in this or another shell, is
stopped first. Ctrl-C or 'spacelink monitor stop' ends the monitor.`,
		Example: `  spacelink monitor start --host sm_myspace
  spacelink monitor start --host sm_myspace --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := output.FromContext(ctx)

			svc, err := newServices()
			if err != nil {
				return err
			}

			host, err := resolveHost(svc.cfg, host)
			if err != nil {
				return err
			}

			registry, err := svc.monitorRegistry()
			if err != nil {
				return err
			}

			if stopped, stopErr := registry.Stop(ctx, host); stopErr != nil {
				out.Warning("Could not stop the previous monitor: %v", stopErr)
			} else if stopped {
				out.Muted("Stopped the previous monitor for %s", host)
			}

			opts := svc.monitorOptions(host, svc.serverProber())
			if !out.JSON {
				opts.OnStatus = func(line monitor.StatusLine) {
					out.Print("%s\n", line.String())
				}
			}

			session := monitor.NewManager().Start(ctx, host, opts)

			release, err := registry.Register(session)
			if err != nil {
				session.Stop()
				return clierrors.ConfigFailed("register monitor", err)
			}
			defer release()

			if !out.JSON {
				out.Info("Monitoring %s (every %s, up to %d checks)", host, opts.Interval, opts.MaxChecks)
			}

			// The session ends on its own when ctx is cancelled.
			state, _ := session.Wait(context.WithoutCancel(ctx))

			if out.JSON {
				if err := out.PrintJSON(session.Snapshot()); err != nil {
					return err
				}
			}

			switch state {
			case monitor.Succeeded:
				if !out.JSON {
					out.Success("Editor server is running on %s", host)
				}

				return nil
			case monitor.TimedOut:
				return clierrors.MonitorTimedOut(host, session.Snapshot().CheckCount)
			default:
				if !out.JSON {
					out.Muted("Monitor stopped")
				}

				return nil
			}
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host to monitor (default: the configured alias)")

	return cmd
}

func newMonitorStopCmd() *cobra.Command {
	var host string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the monitor for a host",
		Long: `Stop the monitor running for a host, in whichever shell started it.
The in-flight check finishes but its result is discarded.`,
		Example: `  spacelink monitor stop --host sm_myspace`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			svc, err := newServices()
			if err != nil {
				return err
			}

			host, err := resolveHost(svc.cfg, host)
			if err != nil {
				return err
			}

			registry, err := svc.monitorRegistry()
			if err != nil {
				return err
			}

			stopped, err := registry.Stop(cmd.Context(), host)
			if err != nil {
				return clierrors.Wrap(clierrors.ExitGeneral, "Could not stop the monitor", err)
			}

			if out.JSON {
				return out.PrintJSON(map[string]any{"host": host, "stopped": stopped})
			}

			if stopped {
				out.Success("Stopped the monitor for %s", host)
			} else {
				out.Muted("No monitor running for %s", host)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host whose monitor to stop (default: the configured alias)")

	return cmd
}

func newMonitorStopAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "stop-all",
		Short:   "Stop every running monitor",
		Long:    `Stop every monitor started by 'spacelink monitor start' on this machine.`,
		Example: `  spacelink monitor stop-all`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			svc, err := newServices()
			if err != nil {
				return err
			}

			registry, err := svc.monitorRegistry()
			if err != nil {
				return err
			}

			stopped, err := registry.StopAll(cmd.Context())

			if out.JSON {
				if printErr := out.PrintJSON(map[string]int{"stopped": stopped}); printErr != nil {
					return printErr
				}
			} else if stopped == 0 && err == nil {
				out.Muted("No monitors running")
			} else if stopped > 0 {
				out.Success("Stopped %d monitor(s)", stopped)
			}

			if err != nil {
				return clierrors.Wrap(clierrors.ExitGeneral, "Some monitors could not be stopped", err)
			}

			return nil
		},
	}
}
