// Package remote checks, over ssh, whether the editor server is installed
// and running on the space behind a host alias.
package remote

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	clierrors "github.com/musher-dev/spacelink/internal/errors"
	"github.com/musher-dev/spacelink/internal/observability"
	"github.com/musher-dev/spacelink/internal/procrun"
	"github.com/musher-dev/spacelink/internal/tools"
)

// DefaultConnectTimeout is passed to ssh as ConnectTimeout.
const DefaultConnectTimeout = 5 * time.Second

// sshFailureExit is the status ssh reports for its own failures, as opposed
// to the remote command's.
const sshFailureExit = 255

// InstallState is one observation of the remote install. It is never cached.
type InstallState struct {
	DirExists      bool   `json:"dirExists"`
	ProcessRunning bool   `json:"processRunning"`
	Details        string `json:"details,omitempty"`
}

// CommandRunner runs an external command.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, opts procrun.Options) (*procrun.Result, error)
}

// Prober runs the directory test and process listing.
type Prober struct {
	Runner CommandRunner
	Alias  string
	// Dir is the editor server install directory; a leading ~/ is resolved
	// on the remote side.
	Dir string
	// Process is matched against full remote command lines.
	Process        string
	ConnectTimeout time.Duration
	// Timeout bounds each ssh call.
	Timeout time.Duration
}

// Probe checks the install directory, then the process. An unreachable host
// stops after the first call.
func (p *Prober) Probe(ctx context.Context) (InstallState, error) {
	var state InstallState

	out, err := p.exec(ctx, dirTest(p.Dir))
	if err != nil {
		state.Details = "directory check failed"
		return state, err
	}

	state.DirExists = strings.TrimSpace(out) == "present"

	out, err = p.exec(ctx, processList(p.Process))
	if err != nil {
		state.Details = "process check failed"
		return state, err
	}

	if lines := nonEmptyLines(out); len(lines) > 0 {
		state.ProcessRunning = true
		state.Details = fmt.Sprintf("%s running (%d process(es))", p.Process, len(lines))
	} else if state.DirExists {
		state.Details = fmt.Sprintf("%s installed, not running", p.Dir)
	} else {
		state.Details = fmt.Sprintf("%s not installed yet", p.Dir)
	}

	observability.FromContext(ctx).Debug("remote install probed",
		slog.String("host", p.Alias),
		slog.Bool("remote.dir_exists", state.DirExists),
		slog.Bool("remote.process_running", state.ProcessRunning),
	)

	return state, nil
}

// Args returns the ssh arguments that run command on the alias.
func (p *Prober) Args(command string) []string {
	timeout := p.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	secs := max(int(timeout/time.Second), 1)

	return []string{
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=" + strconv.Itoa(secs),
		p.Alias,
		command,
	}
}

func (p *Prober) exec(ctx context.Context, command string) (string, error) {
	res, err := p.Runner.Run(ctx, tools.SSH, p.Args(command), procrun.Options{Timeout: p.Timeout})
	if err != nil {
		return "", clierrors.E(clierrors.Classify(err, ""), "ssh "+p.Alias, err)
	}

	if res.ExitCode == sshFailureExit {
		output := res.Combined()
		kind := clierrors.Classify(nil, output)

		if kind == clierrors.KindUnknown {
			kind = clierrors.KindRemoteUnreachable
		}

		return "", clierrors.E(kind, "ssh "+p.Alias, fmt.Errorf("%s", firstLine(output)))
	}

	if !res.OK() {
		return "", clierrors.E(clierrors.KindProbeFailed, "ssh "+p.Alias,
			fmt.Errorf("remote command exited %d: %s", res.ExitCode, firstLine(res.Combined())))
	}

	return res.CleanStdout(), nil
}

// dirTest prints "present" or "absent". The check itself always exits 0 so a
// non-zero status means the remote shell failed.
func dirTest(dir string) string {
	return fmt.Sprintf("if [ -d %s ]; then echo present; else echo absent; fi", remotePath(dir))
}

// processList prints matching command lines. The first letter is wrapped in
// a bracket expression so the listing never matches its own shell.
func processList(name string) string {
	pattern := name
	if name != "" {
		pattern = "[" + name[:1] + "]" + name[1:]
	}

	return "pgrep -fa " + shellQuote(pattern) + " || true"
}

// remotePath quotes p for the remote shell, expanding a leading ~/ through
// $HOME.
func remotePath(p string) string {
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		return `"$HOME"/` + shellQuote(rest)
	}

	if p == "~" {
		return `"$HOME"`
	}

	return shellQuote(p)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func nonEmptyLines(s string) []string {
	var out []string

	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}

	return out
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	if line == "" {
		return "no output"
	}

	return line
}
