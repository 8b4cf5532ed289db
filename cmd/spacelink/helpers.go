package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/musher-dev/spacelink/internal/config"
	"github.com/musher-dev/spacelink/internal/connect"
	"github.com/musher-dev/spacelink/internal/doctor"
	clierrors "github.com/musher-dev/spacelink/internal/errors"
	"github.com/musher-dev/spacelink/internal/extensions"
	"github.com/musher-dev/spacelink/internal/installer"
	"github.com/musher-dev/spacelink/internal/localserver"
	"github.com/musher-dev/spacelink/internal/monitor"
	"github.com/musher-dev/spacelink/internal/patch"
	"github.com/musher-dev/spacelink/internal/paths"
	"github.com/musher-dev/spacelink/internal/procrun"
	"github.com/musher-dev/spacelink/internal/remote"
	"github.com/musher-dev/spacelink/internal/repair"
)

// services holds the collaborators a command needs, built from the loaded
// configuration. Every command builds its own; nothing here is cached
// across invocations.
type services struct {
	cfg    *config.Config
	runner *procrun.Runner
	engine *patch.Engine
	goos   string
}

// newServices loads configuration and wires the command runner and patch
// engine. It fails only when the backup directory cannot be resolved, since
// no repair may run without somewhere to put backups.
func newServices() (*services, error) {
	cfg := config.Load()

	backups, err := paths.BackupsDir()
	if err != nil {
		return nil, clierrors.ConfigFailed("resolve backup directory", err)
	}

	return &services{
		cfg:    cfg,
		runner: procrun.New(procrun.WithDefaultTimeout(cfg.ProbeTimeout())),
		engine: patch.NewEngine(patch.NewBackupStore(backups)),
		goos:   runtime.GOOS,
	}, nil
}

func (s *services) doctorProbe(extra ...doctor.Check) *doctor.Probe {
	return doctor.NewProbe(doctor.Options{
		Runner: s.runner,
		Registry: extensions.First(
			extensions.DirRegistry{Dir: s.cfg.ExtensionsDir()},
			extensions.CLIRegistry{Runner: s.runner, Command: s.cfg.EditorCLI()},
		),
		SSHConfigPath: s.cfg.SSHConfigPath(),
		HostAlias:     s.cfg.HostAlias(),
		Timeout:       s.cfg.ProbeTimeout(),
		GOOS:          s.goos,
		Extra:         extra,
	})
}

func (s *services) configOptions(dryRun bool) repair.ConfigOptions {
	return repair.ConfigOptions{
		Alias:          s.cfg.HostAlias(),
		ServerInfoPath: s.cfg.ServerInfoPath(),
		WrongFragment:  s.cfg.WrongPathFragment(),
		RightFragment:  s.cfg.RightPathFragment(),
		GOOS:           s.goos,
		DryRun:         dryRun,
	}
}

func (s *services) scriptOptions(dryRun bool) repair.ScriptOptions {
	return repair.ScriptOptions{RetryCount: s.cfg.RetryCount(), DryRun: dryRun}
}

func (s *services) hostTemplate() repair.HostTemplate {
	shell := "pwsh"
	if s.goos == "windows" {
		shell = "powershell.exe"
	}

	return repair.HostTemplate{ScriptPath: s.cfg.ScriptPath(), Shell: shell}
}

func (s *services) serverProber() *localserver.Prober {
	return localserver.NewProber(s.cfg.ServerInfoPath())
}

// starter returns nil when no start command is configured, so callers can
// fall back to manual instructions.
func (s *services) starter(prober *localserver.Prober) *localserver.Starter {
	command := s.cfg.ServerStartCommand()
	if command == "" {
		return nil
	}

	// An unresolvable log path only loses the command's output.
	logPath, _ := paths.ServerStartLogFile()

	return &localserver.Starter{
		Runner:   s.runner,
		Command:  command,
		Prober:   prober,
		LogPath:  logPath,
		Attempts: localserver.DefaultStartAttempts,
		Interval: localserver.DefaultStartInterval,
		GOOS:     s.goos,
	}
}

func (s *services) remoteProber(host string) *remote.Prober {
	return &remote.Prober{
		Runner:  s.runner,
		Alias:   host,
		Dir:     s.cfg.RemoteDir(),
		Process: s.cfg.RemoteProcess(),
		Timeout: s.cfg.ProbeTimeout(),
	}
}

func (s *services) monitorOptions(host string, server monitor.ServerProber) monitor.Options {
	return monitor.Options{
		Interval:     s.cfg.MonitorInterval(),
		MaxChecks:    s.cfg.MonitorMaxChecks(),
		ProbeTimeout: s.cfg.ProbeTimeout(),
		Server:       server,
		Remote:       s.remoteProber(host),
	}
}

func (s *services) installer() (*installer.Installer, error) {
	dir, err := paths.InstallerCacheDir()
	if err != nil {
		return nil, clierrors.ConfigFailed("resolve installer cache", err)
	}

	return installer.New(dir, s.runner), nil
}

func (s *services) monitorRegistry() (*monitor.Registry, error) {
	dir, err := paths.MonitorsDir()
	if err != nil {
		return nil, clierrors.ConfigFailed("resolve monitor state directory", err)
	}

	return monitor.NewRegistry(dir), nil
}

// connectOptions wires the orchestrator. host is the concrete host the
// monitor probes; it is only needed with wait.
func (s *services) connectOptions(host string, wait, autoInstall bool) (connect.Options, error) {
	prober := s.serverProber()

	opts := connect.Options{
		Probe:         s.doctorProbe(),
		Engine:        s.engine,
		SSHConfigPath: s.cfg.SSHConfigPath(),
		Config:        s.configOptions(false),
		Template:      s.hostTemplate(),
		ScriptPath:    s.cfg.ScriptPath(),
		Script:        s.scriptOptions(false),
		Server:        prober,
		Host:          host,
		Wait:          wait,
		Editor:        s.cfg.EditorName(),
		GOOS:          s.goos,
	}

	// Interface fields stay nil rather than holding a typed nil pointer.
	if st := s.starter(prober); st != nil {
		opts.Starter = st
	}

	if autoInstall {
		inst, err := s.installer()
		if err != nil {
			return connect.Options{}, err
		}

		opts.Installer = inst
	}

	if wait {
		opts.Monitor = monitor.NewManager()
		opts.MonitorOptions = s.monitorOptions(host, prober)
	}

	return opts, nil
}

// resolveHost picks the concrete host a command talks to over ssh. The
// configured alias is used unless it is a pattern, which ssh cannot dial.
func resolveHost(cfg *config.Config, flagValue string) (string, error) {
	if host := strings.TrimSpace(flagValue); host != "" {
		return host, nil
	}

	alias := cfg.HostAlias()
	if !strings.ContainsAny(alias, "*?!") {
		return alias, nil
	}

	return "", &clierrors.CLIError{
		Message: fmt.Sprintf("Host alias %q is a pattern, not a host", alias),
		Hint:    fmt.Sprintf("Pass --host with the space's host name (for example --host %s)", strings.NewReplacer("*", "myspace", "?", "x", "!", "").Replace(alias)),
		Code:    clierrors.ExitUsage,
	}
}
