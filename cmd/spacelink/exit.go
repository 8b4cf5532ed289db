package main

import (
	"strings"

	clierrors "github.com/musher-dev/spacelink/internal/errors"
	"github.com/musher-dev/spacelink/internal/output"
)

// cobraUsageErrors are the prefixes of cobra's own argument and flag
// errors. Flag errors normally arrive as CLIErrors via SetFlagErrorFunc;
// these catch the rest.
var cobraUsageErrors = []string{
	"unknown command",
	"unknown flag",
	"unknown shorthand flag",
	"required flag",
	"invalid argument",
}

// exitCode prints err and returns the process exit code for it.
func exitCode(out *output.Writer, err error) int {
	var cliErr *clierrors.CLIError
	if clierrors.As(err, &cliErr) {
		out.Failure("%s", cliErr.Message)

		if cliErr.Hint != "" {
			out.Info("%s", cliErr.Hint)
		}

		return cliErr.Code
	}

	msg := err.Error()
	out.Failure("%s", msg)

	if !isUsageError(msg) {
		return clierrors.ExitGeneral
	}

	// Cobra's suggestions already mention --help.
	if !strings.Contains(msg, "--help") {
		out.Info("Run 'spacelink --help' for usage")
	}

	return clierrors.ExitUsage
}

func isUsageError(msg string) bool {
	for _, prefix := range cobraUsageErrors {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}

	return false
}
