package main

import (
	"fmt"

	"github.com/spf13/cobra"

	clierrors "github.com/musher-dev/spacelink/internal/errors"
)

// noArgs rejects positional arguments. cobra.NoArgs would report them as an
// unknown command, which misleads on leaf commands.
func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return nil
	}

	return &clierrors.CLIError{
		Message: fmt.Sprintf("'%s' accepts no arguments", cmd.CommandPath()),
		Hint:    fmt.Sprintf("Run '%s --help' for usage", cmd.CommandPath()),
		Code:    clierrors.ExitUsage,
	}
}
