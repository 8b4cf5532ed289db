// Package extensions answers whether an editor extension is installed.
//
// The editor owns its extension lifecycle; spacelink only asks. Two lookups
// are provided: scanning the editor's extensions directory and asking the
// editor's command line launcher. First combines them.
package extensions

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/musher-dev/spacelink/internal/procrun"
)

// Extension IDs the connection workflow depends on.
const (
	RemoteSSH     = "ms-vscode-remote.remote-ssh"
	OpenRemoteSSH = "jeanp413.open-remote-ssh"
	AWSToolkit    = "amazonwebservices.aws-toolkit-vscode"
)

// RemoteSSHIDs lists the extensions that provide the Remote-SSH transport.
// Editors built from the open source tree ship open-remote-ssh instead.
var RemoteSSHIDs = []string{RemoteSSH, OpenRemoteSSH}

// Registry reports installed extensions.
type Registry interface {
	Installed(ctx context.Context, id string) (bool, error)
}

// AnyInstalled reports whether any of ids is installed.
func AnyInstalled(ctx context.Context, reg Registry, ids ...string) (bool, error) {
	for _, id := range ids {
		ok, err := reg.Installed(ctx, id)
		if err != nil {
			return false, err
		}

		if ok {
			return true, nil
		}
	}

	return false, nil
}

// DirRegistry scans an extensions directory for "<publisher>.<name>-<version>"
// entries.
type DirRegistry struct {
	Dir string
}

// Installed implements Registry. A missing directory means nothing is installed.
func (r DirRegistry) Installed(_ context.Context, id string) (bool, error) {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("read extensions dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() && matchesDir(entry.Name(), id) {
			return true, nil
		}
	}

	return false, nil
}

func matchesDir(name, id string) bool {
	name = strings.ToLower(name)
	id = strings.ToLower(id)

	if name == id {
		return true
	}

	version, ok := strings.CutPrefix(name, id+"-")

	return ok && version != "" && version[0] >= '0' && version[0] <= '9'
}

// CommandRunner runs an external command.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, opts procrun.Options) (*procrun.Result, error)
}

// CLIRegistry asks the editor launcher with --list-extensions. The listing is
// re-read on every call.
type CLIRegistry struct {
	Runner  CommandRunner
	Command string
}

// Installed implements Registry.
func (r CLIRegistry) Installed(ctx context.Context, id string) (bool, error) {
	res, err := r.Runner.Run(ctx, r.Command, []string{"--list-extensions"}, procrun.Options{})
	if err != nil {
		return false, err
	}

	if !res.OK() {
		return false, fmt.Errorf("%s --list-extensions exited %d: %s", r.Command, res.ExitCode, res.Combined())
	}

	listed := strings.Fields(strings.ToLower(res.CleanStdout()))

	return slices.Contains(listed, strings.ToLower(id)), nil
}

// First queries registries in order. A positive answer wins; an error is
// returned only when every registry failed.
func First(regs ...Registry) Registry {
	return firstRegistry(regs)
}

type firstRegistry []Registry

func (f firstRegistry) Installed(ctx context.Context, id string) (bool, error) {
	var errs []error

	answered := false

	for _, reg := range f {
		ok, err := reg.Installed(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if ok {
			return true, nil
		}

		answered = true
	}

	if answered || len(errs) == 0 {
		return false, nil
	}

	return false, errors.Join(errs...)
}
