// Package main is the entry point for the spacelink CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/musher-dev/spacelink/internal/buildinfo"
	clierrors "github.com/musher-dev/spacelink/internal/errors"
	"github.com/musher-dev/spacelink/internal/observability"
	"github.com/musher-dev/spacelink/internal/output"
)

// Set via ldflags at release time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// A panic while a spinner is drawing would leave the terminal cursor
	// hidden.
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprint(os.Stderr, "\033[?25h")
			panic(r)
		}
	}()

	buildinfo.Version = version
	buildinfo.Commit = commit

	if err := newRootCmd().Execute(); err != nil {
		return exitCode(output.Default(), err)
	}

	return 0
}

// rootFlags are the persistent flags every command accepts. Each has a
// SPACELINK_* environment fallback so CI and editor tasks can set them once.
type rootFlags struct {
	json      bool
	quiet     bool
	noColor   bool
	noInput   bool
	logLevel  string
	logFormat string
	logFile   string
	logStderr string
}

func (f *rootFlags) register(fs *pflag.FlagSet) {
	fs.BoolVar(&f.json, "json", false, "Output in JSON format")
	fs.BoolVar(&f.quiet, "quiet", false, "Minimal output (for CI)")
	fs.BoolVar(&f.noColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&f.noInput, "no-input", false, "Disable interactive prompts")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: error, warn, info, debug")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format: json, text")
	fs.StringVar(&f.logFile, "log-file", "", "Optional structured log file path")
	fs.StringVar(&f.logStderr, "log-stderr", "", "Structured logging to stderr: auto, on, off")
}

// apply configures output, logging and tracing for cmd and stores the
// writer and logger in its context.
func (f *rootFlags) apply(cmd *cobra.Command, out *output.Writer) error {
	out.JSON = boolFlagOrEnv(f.json, "SPACELINK_JSON")
	out.Quiet = boolFlagOrEnv(f.quiet, "SPACELINK_QUIET")
	out.NoInput = boolFlagOrEnv(f.noInput, "SPACELINK_NO_INPUT") || boolFlagOrEnv(false, "CI")

	if f.noColor {
		out.SetNoColor(true)

		color.NoColor = true
	}

	logger, cleanup, err := observability.NewLogger(&observability.Config{
		Level:          flagOrEnv(f.logLevel, "SPACELINK_LOG_LEVEL", "info"),
		Format:         flagOrEnv(f.logFormat, "SPACELINK_LOG_FORMAT", "json"),
		LogFile:        flagOrEnv(f.logFile, "SPACELINK_LOG_FILE", ""),
		StderrMode:     flagOrEnv(f.logStderr, "SPACELINK_LOG_STDERR", "auto"),
		InteractiveTTY: out.Terminal().IsTTY && isInteractiveCommand(cmd.CommandPath()),
		SessionID:      uuid.NewString(),
		CommandPath:    cmd.CommandPath(),
		Version:        version,
		Commit:         commit,
	})
	if err != nil {
		return &clierrors.CLIError{
			Message: fmt.Sprintf("Invalid logging configuration: %v", err),
			Hint:    "Use --log-level (error|warn|info|debug), --log-format (json|text), --log-stderr (auto|on|off), and/or --log-file",
			Code:    clierrors.ExitUsage,
		}
	}

	slog.SetDefault(logger)

	ctx := observability.WithLogger(out.WithContext(cmd.Context()), logger)
	cmd.SetContext(ctx)

	if cleanup != nil {
		cmd.PostRunE = withCleanup(cmd.PostRunE, "logger resources", cleanup)
	}

	shutdown, err := observability.SetupTelemetry(ctx, &observability.TelemetryConfig{
		Enabled: observability.IsTelemetryEnabled(),
		Version: version,
		Commit:  commit,
	})
	if err != nil {
		logger.Warn("telemetry initialization failed", slog.String("error", err.Error()))
	}

	if shutdown != nil {
		cmd.PostRunE = withCleanup(cmd.PostRunE, "telemetry resources", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			return shutdown(ctx)
		})
	}

	return nil
}

// Help groups, in the order they are listed.
const (
	groupWorkflow = "workflow"
	groupManage   = "manage"
	groupSetup    = "setup"
)

func newRootCmd() *cobra.Command {
	var flags rootFlags

	out := output.Default()

	root := &cobra.Command{
		Use:   "spacelink",
		Short: "Open SageMaker spaces in your editor over Remote-SSH",
		Long: `spacelink prepares this machine to open SageMaker Studio spaces in a
Remote-SSH editor. It checks the prerequisites, repairs the connection
files the AWS Toolkit generates, keeps the toolkit's local server running
and watches the remote editor server come up.

Get started:
  spacelink init             Set up spacelink for first use
  spacelink doctor           Check the prerequisites
  spacelink connect          Repair and connect to a space
  spacelink monitor start    Watch a space until its editor server runs`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return flags.apply(cmd, out)
		},
	}

	flags.register(root.PersistentFlags())

	root.SuggestionsMinimumDistance = 2

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &clierrors.CLIError{
			Message: err.Error(),
			Hint:    fmt.Sprintf("Run '%s --help' for available flags", cmd.CommandPath()),
			Code:    clierrors.ExitUsage,
		}
	})

	root.AddGroup(
		&cobra.Group{ID: groupWorkflow, Title: "Connection workflow:"},
		&cobra.Group{ID: groupManage, Title: "Components:"},
		&cobra.Group{ID: groupSetup, Title: "Setup and maintenance:"},
	)

	addGroup(root, groupWorkflow, newConnectCmd(), newRepairCmd(), newRestoreCmd(), newMonitorCmd())
	addGroup(root, groupManage, newServerCmd(), newInstallCmd())
	addGroup(root, groupSetup, newInitCmd(), newDoctorCmd(), newConfigCmd(), newPathsCmd(),
		newUpdateCmd(), newVersionCmd(), newCompletionCmd())

	root.SetHelpCommandGroupID(groupSetup)

	return root
}

func addGroup(root *cobra.Command, id string, cmds ...*cobra.Command) {
	for _, c := range cmds {
		c.GroupID = id
		root.AddCommand(c)
	}
}

// withCleanup runs cleanup after postRun, including when postRun fails. A
// postRun error wins over a cleanup error.
func withCleanup(postRun func(*cobra.Command, []string) error, name string, cleanup func() error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if postRun != nil {
			if err := postRun(cmd, args); err != nil {
				_ = cleanup()
				return err
			}
		}

		if err := cleanup(); err != nil {
			return fmt.Errorf("cleanup %s: %w", name, err) //nolint:rawerror // internal cleanup, not user-facing
		}

		return nil
	}
}

func boolFlagOrEnv(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}

	switch strings.ToLower(strings.TrimSpace(os.Getenv(envKey))) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func flagOrEnv(flagValue, envKey, fallback string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}

	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		return v
	}

	return fallback
}

// isInteractiveCommand reports whether cmd draws live progress, which
// structured stderr logging would interleave with.
func isInteractiveCommand(path string) bool {
	return path == "spacelink connect" || path == "spacelink monitor start"
}
