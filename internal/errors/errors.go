// Package errors provides structured CLI error types for spacelink.
//
// CLIError wraps errors with user-facing messages, hints, and exit codes
// to provide consistent, actionable error output across all commands.
// KindError (kind.go) carries the machine-readable failure class used by
// probes, patch rules and the connection monitor.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Exit codes for CLI errors.
const (
	ExitSuccess   = 0  // Successful execution
	ExitGeneral   = 1  // General error
	ExitTool      = 2  // Required external tool missing
	ExitNetwork   = 3  // Network/remote error
	ExitConfig    = 4  // Configuration error
	ExitTimeout   = 5  // Bounded wait exceeded
	ExitExecution = 6  // External process failure
	ExitPatch     = 7  // Patch could not be written safely
	ExitCancelled = 130
	ExitUsage     = 64 // Command line usage error (BSD convention)
)

// CLIError represents a user-facing CLI error with actionable guidance.
type CLIError struct {
	// Message is the primary error message shown to the user.
	Message string

	// Hint provides actionable guidance on how to fix the error.
	Hint string

	// Cause is the underlying error, if any.
	Cause error

	// Code is the exit code for the CLI.
	Code int
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}

	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CLIError) Unwrap() error {
	return e.Cause
}

// New creates a new CLIError with the given message and exit code.
func New(code int, message string) *CLIError {
	return &CLIError{
		Message: message,
		Code:    code,
	}
}

// Wrap wraps an existing error with a CLIError.
func Wrap(code int, message string, cause error) *CLIError {
	return &CLIError{
		Message: message,
		Cause:   cause,
		Code:    code,
	}
}

// WithHint adds a hint to the error.
func (e *CLIError) WithHint(hint string) *CLIError {
	e.Hint = hint
	return e
}

// As is a convenience function for errors.As with CLIError.
func As(err error, target **CLIError) bool {
	return errors.As(err, target)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// --- Common error constructors ---

// ToolMissing returns an error for a required external binary that could not be resolved.
func ToolMissing(tool, installHint string) *CLIError {
	hint := installHint
	if hint == "" {
		hint = fmt.Sprintf("Install %s and make sure it is on your PATH, then run 'spacelink doctor'", tool)
	}

	return &CLIError{
		Message: fmt.Sprintf("%s not found", tool),
		Hint:    hint,
		Code:    ExitTool,
	}
}

// CannotPrompt returns an error when interactive prompts are unavailable.
func CannotPrompt(flag string) *CLIError {
	return &CLIError{
		Message: "Cannot prompt in non-interactive mode",
		Hint:    fmt.Sprintf("Pass %s to proceed without confirmation", flag),
		Code:    ExitUsage,
	}
}

// ConfigFailed returns an error for configuration save failures.
func ConfigFailed(operation string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Failed to %s", operation),
		Hint:    "Check file permissions for your spacelink config directory or run 'spacelink doctor'",
		Cause:   cause,
		Code:    ExitConfig,
	}
}

// HostAliasMissing returns an error when the SSH host block cannot be found.
func HostAliasMissing(alias, configPath string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("No 'Host %s' entry in %s", alias, configPath),
		Hint:    "Run 'spacelink connect' to create the host entry",
		Code:    ExitConfig,
	}
}

// ScriptMissing returns an error when the generated connection script does not exist yet.
func ScriptMissing(path string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Connection script not found: %s", path),
		Hint:    "Connect to the space once from the editor so the toolkit generates it, then rerun",
		Code:    ExitConfig,
	}
}

// PatchRejected returns an error when a patched document failed structural validation.
func PatchRejected(path string, violations []string) *CLIError {
	hint := "The file was left unchanged. Run 'spacelink restore' to roll back to the last backup"
	if len(violations) > 0 {
		hint = fmt.Sprintf("%s (%s)", hint, strings.Join(violations, "; "))
	}

	return &CLIError{
		Message: fmt.Sprintf("Refusing to write %s: structural validation failed", path),
		Hint:    hint,
		Code:    ExitPatch,
	}
}

// BackupFailed returns an error when the pre-patch backup could not be written.
func BackupFailed(path string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Could not back up %s", path),
		Hint:    "Free disk space or check permissions on the spacelink state directory",
		Cause:   cause,
		Code:    ExitPatch,
	}
}

// NoBackup returns an error when restore is requested but no backup exists.
func NoBackup(path string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("No backup found for %s", path),
		Hint:    "Backups are created the first time a repair changes the file",
		Code:    ExitGeneral,
	}
}

// MonitorTimedOut returns an error for a monitor that hit its check limit.
func MonitorTimedOut(host string, checks int) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Remote server on %s did not start after %d checks", host, checks),
		Hint:    "Check the remote session in the console, then rerun 'spacelink monitor start'",
		Code:    ExitTimeout,
	}
}

// InstallFailed returns an error when the installer could not be fetched or run.
func InstallFailed(component, manualURL string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Failed to install %s", component),
		Hint:    fmt.Sprintf("Download and run the installer manually: %s", manualURL),
		Cause:   cause,
		Code:    ExitExecution,
	}
}

// UpdateBlocked returns an error when the spacelink binary cannot be
// replaced by the current user.
func UpdateBlocked(binary, hint string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Cannot replace %s: its directory is not writable", binary),
		Hint:    hint,
		Cause:   cause,
		Code:    ExitGeneral,
	}
}

// Cancelled returns an error for an operation stopped by the user.
func Cancelled() *CLIError {
	return &CLIError{
		Message: "Operation cancelled",
		Hint:    "Rerun the command to continue where it left off; every step is safe to repeat",
		Code:    ExitCancelled,
	}
}

// containsAny checks if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrings {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}

	return false
}
