package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Kind is the machine-readable class of a failure.
type Kind string

// Failure kinds. Probes and patch rules report these instead of failing the
// whole operation; only disk-level failures propagate as hard errors.
const (
	KindNone                 Kind = ""
	KindToolMissing          Kind = "tool_missing"
	KindTimeout              Kind = "timeout"
	KindProbeFailed          Kind = "probe_failed"
	KindPatchConflict        Kind = "patch_conflict"
	KindStructuralValidation Kind = "structural_validation_failed"
	KindRemoteUnreachable    Kind = "remote_unreachable"
	KindConnectionRefused    Kind = "connection_refused"
	KindExecutionFailed      Kind = "execution_failed"
	KindUnknown              Kind = "unknown"
)

// KindError attaches a Kind and the failing operation to an error.
type KindError struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *KindError) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

// Unwrap returns the wrapped error.
func (e *KindError) Unwrap() error {
	return e.Err
}

// E builds a KindError.
func E(kind Kind, op string, err error) *KindError {
	return &KindError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first KindError in err's chain, or KindNone.
func KindOf(err error) Kind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}

	return KindNone
}

// Classify maps a probe failure to a Kind.
//
// Structured signals win: an explicit KindError (other than the generic
// execution_failed), context deadlines, errno values and net.Error timeouts.
// Only when none of those are present is the error text plus any captured
// process output scanned for well-known substrings. The text pass is a
// heuristic; ssh and the aws CLI do not expose stable error codes.
func Classify(err error, output string) Kind {
	if err == nil && output == "" {
		return KindNone
	}

	if k := KindOf(err); k != KindNone && k != KindExecutionFailed && k != KindUnknown {
		return k
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return KindTimeout
		}

		if errors.Is(err, syscall.ECONNREFUSED) {
			return KindConnectionRefused
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return KindTimeout
		}

		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return KindRemoteUnreachable
		}
	}

	text := output
	if err != nil {
		text = err.Error() + "\n" + output
	}

	return classifyText(text)
}

func classifyText(text string) Kind {
	switch {
	case containsAny(text, "timed out", "timeout", "deadline exceeded"):
		return KindTimeout
	case containsAny(text, "connection refused", "refused"):
		return KindConnectionRefused
	case containsAny(text,
		"could not resolve hostname",
		"no route to host",
		"network is unreachable",
		"connection closed by",
		"connection reset",
		"kex_exchange_identification",
		"permission denied (publickey",
		"targetnotconnected",
	):
		return KindRemoteUnreachable
	default:
		return KindUnknown
	}
}
