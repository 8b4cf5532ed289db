// Package connect runs the best-effort connection workflow: probe, install,
// repair, start the local server, optionally watch the remote, and say what
// to do next. A failed step is recorded and the next one runs; only a
// missing AWS CLI, a disk-level error or cancellation stops the sequence.
package connect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/musher-dev/spacelink/internal/doctor"
	clierrors "github.com/musher-dev/spacelink/internal/errors"
	"github.com/musher-dev/spacelink/internal/localserver"
	"github.com/musher-dev/spacelink/internal/monitor"
	"github.com/musher-dev/spacelink/internal/observability"
	"github.com/musher-dev/spacelink/internal/patch"
	"github.com/musher-dev/spacelink/internal/repair"
	"github.com/musher-dev/spacelink/internal/tools"
)

// Step names, in execution order.
const (
	StepProbe         = "probe"
	StepInstall       = "install"
	StepSSHConfig     = "ssh-config"
	StepScript        = "script"
	StepServer        = "server"
	StepScriptRecheck = "script-recheck"
	StepMonitor       = "monitor"
	StepGuidance      = "guidance"
	StepCancelled     = "cancelled"
)

// Status is a step's outcome.
type Status string

// Step outcomes.
const (
	StatusOK        Status = "ok"
	StatusSkipped   Status = "skipped"
	StatusWarning   Status = "warning"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// StepResult records one step.
type StepResult struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// Report is the outcome of one Run.
type Report struct {
	Steps        []StepResult             `json:"steps"`
	Capabilities *doctor.CapabilityReport `json:"capabilities,omitempty"`
	Server       *localserver.Info        `json:"server,omitempty"`
	Monitor      *monitor.Snapshot        `json:"monitor,omitempty"`
	Halted       bool                     `json:"halted"`
	Next         string                   `json:"next"`
}

// Step returns the named step's result.
func (r *Report) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}

	return StepResult{}, false
}

// Failed returns the steps that failed.
func (r *Report) Failed() []StepResult {
	var out []StepResult

	for _, s := range r.Steps {
		if s.Status == StatusFailed {
			out = append(out, s)
		}
	}

	return out
}

// Prober produces the capability report.
type Prober interface {
	CheckAll(ctx context.Context) *doctor.CapabilityReport
}

// ToolInstaller installs a named tool and returns its manual-install docs.
type ToolInstaller interface {
	Tool(ctx context.Context, name, goos string) (docs string, err error)
}

// ServerProber observes the local server.
type ServerProber interface {
	Probe(ctx context.Context) localserver.Info
}

// ServerStarter starts the local server.
type ServerStarter interface {
	Start(ctx context.Context) (localserver.Info, error)
}

// Options wires the workflow's collaborators.
type Options struct {
	Probe Prober
	// Installer is nil when automatic installs are disabled.
	Installer ToolInstaller
	Engine    *patch.Engine

	SSHConfigPath string
	Config        repair.ConfigOptions
	Template      repair.HostTemplate

	ScriptPath string
	Script     repair.ScriptOptions

	Server ServerProber
	// Starter is nil when no start command is configured.
	Starter ServerStarter

	// Host is the concrete host the monitor probes and keys its session on.
	// Empty means Config.Alias, which only works when the alias is not a
	// pattern.
	Host           string
	Monitor        *monitor.Manager
	MonitorOptions monitor.Options
	Wait           bool

	Editor string
	GOOS   string
	// OnStep is called after each step is recorded.
	OnStep func(StepResult)
}

// Orchestrator runs the workflow.
type Orchestrator struct {
	opts Options
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}

	if opts.Editor == "" {
		opts.Editor = "the editor"
	}

	return &Orchestrator{opts: opts}
}

// errHalt ends the sequence after the current step.
type errHalt struct{ err error }

func (e errHalt) Error() string { return e.err.Error() }

func (e errHalt) Unwrap() error { return e.err }

// Run executes every step and returns the report. The error is non-nil when
// the sequence halted early.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	report := &Report{Steps: []StepResult{}}

	steps := []struct {
		name string
		fn   func(context.Context, *Report) (StepResult, error)
	}{
		{StepProbe, o.probe},
		{StepInstall, o.install},
		{StepSSHConfig, o.sshConfig},
		{StepScript, o.script},
		{StepServer, o.server},
		{StepScriptRecheck, o.scriptRecheck},
		{StepMonitor, o.monitor},
	}

	for _, step := range steps {
		if ctx.Err() != nil {
			return o.cancelled(report)
		}

		stepCtx, end := observability.StartSpan(observability.WithStep(ctx, step.name), "connect."+step.name,
			attribute.String("connect.step", step.name))

		result, err := step.fn(stepCtx, report)
		result.Name = step.name

		if err != nil && ctx.Err() != nil {
			end(err)
			return o.cancelled(report)
		}

		var halt errHalt
		if errors.As(err, &halt) {
			err = halt.err
		}

		o.record(stepCtx, report, result)

		if result.Status == StatusFailed && err == nil {
			end(errors.New(result.Message))
		} else {
			end(err)
		}

		if err != nil {
			report.Halted = true
			report.Next = nextAction(report, o.opts)

			return report, err
		}
	}

	report.Next = nextAction(report, o.opts)
	o.record(ctx, report, StepResult{Name: StepGuidance, Status: StatusOK, Message: report.Next})

	return report, nil
}

func (o *Orchestrator) record(ctx context.Context, report *Report, result StepResult) {
	report.Steps = append(report.Steps, result)

	level := slog.LevelInfo
	if result.Status == StatusFailed {
		level = slog.LevelWarn
	}

	observability.FromContext(ctx).Log(ctx, level, "connect step",
		slog.String("step", result.Name),
		slog.String("status", string(result.Status)),
		slog.String("message", result.Message),
	)

	if o.opts.OnStep != nil {
		o.opts.OnStep(result)
	}
}

func (o *Orchestrator) cancelled(report *Report) (*Report, error) {
	report.Halted = true
	report.Steps = append(report.Steps, StepResult{
		Name:    StepCancelled,
		Status:  StatusCancelled,
		Message: "stopped before finishing; every completed step is safe to repeat",
	})

	if o.opts.OnStep != nil {
		o.opts.OnStep(report.Steps[len(report.Steps)-1])
	}

	report.Next = "Rerun 'spacelink connect' to continue"

	return report, clierrors.Cancelled()
}

func (o *Orchestrator) probe(ctx context.Context, report *Report) (StepResult, error) {
	caps := o.opts.Probe.CheckAll(ctx)
	report.Capabilities = caps

	if caps.AllPassed() {
		return StepResult{Status: StatusOK, Message: "prerequisites found"}, nil
	}

	var missing []string

	if !caps.ToolPresent[tools.AWS] {
		missing = append(missing, "AWS CLI")
	}

	if !caps.PluginPresent() {
		missing = append(missing, "Session Manager plugin")
	}

	if !caps.HostEntryPresent {
		missing = append(missing, "host alias "+o.opts.Config.Alias)
	}

	msg := "missing: " + strings.Join(missing, ", ")
	if len(missing) == 0 {
		msg = "checks reported errors"
	}

	if len(caps.Errors) > 0 {
		msg += " (" + strings.Join(caps.Errors, "; ") + ")"
	}

	return StepResult{Status: StatusWarning, Message: msg, Hint: "Run 'spacelink doctor' for details"}, nil
}

func (o *Orchestrator) install(ctx context.Context, report *Report) (StepResult, error) {
	caps := report.Capabilities
	result := StepResult{Status: StatusSkipped, Message: "Session Manager plugin already installed"}

	if !caps.PluginPresent() {
		result = o.installPlugin(ctx)
	}

	if !caps.ToolPresent[tools.AWS] {
		hint := ""
		if spec, ok := tools.Get(tools.AWS); ok {
			hint = "Install it from " + spec.Install.Docs + ", then rerun 'spacelink connect'"
		}

		failed := StepResult{Status: StatusFailed, Message: "AWS CLI not found; " + result.Message, Hint: hint}

		return failed, errHalt{clierrors.ToolMissing("AWS CLI", hint)}
	}

	return result, nil
}

func (o *Orchestrator) installPlugin(ctx context.Context) StepResult {
	spec, _ := tools.Get(tools.SessionManagerPlugin)
	manual := "Install the Session Manager plugin: " + spec.Install.Docs

	if o.opts.Installer == nil || spec.InstallerFor(o.opts.GOOS) == nil {
		return StepResult{Status: StatusWarning, Message: "Session Manager plugin missing", Hint: manual}
	}

	docs, err := o.opts.Installer.Tool(ctx, tools.SessionManagerPlugin, o.opts.GOOS)
	if err != nil {
		if docs != "" {
			manual = "Install the Session Manager plugin: " + docs
		}

		return StepResult{Status: StatusFailed, Message: "plugin install failed: " + err.Error(), Hint: manual}
	}

	return StepResult{Status: StatusOK, Message: "installed Session Manager plugin"}
}

// patchError splits repair errors into recorded step failures and hard
// errors that end the run.
func patchError(err error, restoreTarget string) (StepResult, error) {
	switch clierrors.KindOf(err) {
	case clierrors.KindNone:
		return StepResult{Status: StatusFailed, Message: err.Error()}, errHalt{err}
	case clierrors.KindExecutionFailed:
		return StepResult{Status: StatusFailed, Message: err.Error()}, errHalt{clierrors.BackupFailed(restoreTarget, err)}
	default:
		return StepResult{Status: StatusFailed, Message: err.Error(), Hint: "Rerun 'spacelink connect'"}, nil
	}
}

func describe(res *patch.Result, what string) StepResult {
	switch {
	case res.Failed:
		return StepResult{
			Status:  StatusFailed,
			Message: fmt.Sprintf("%s left unchanged: %s", what, strings.Join(res.Violations, "; ")),
			Hint:    restoreHint(what),
		}
	case len(res.Conflicts) > 0:
		return StepResult{
			Status:  StatusWarning,
			Message: fmt.Sprintf("%s: applied %v, could not place %v", what, res.AppliedRules, res.Conflicts),
			Hint:    "The file may have been regenerated in an unfamiliar shape; check " + res.Target,
		}
	case len(res.AppliedRules) == 0:
		return StepResult{Status: StatusOK, Message: what + " already up to date"}
	default:
		return StepResult{Status: StatusOK, Message: fmt.Sprintf("%s: applied %s", what, strings.Join(res.AppliedRules, ", "))}
	}
}

func restoreHint(what string) string {
	target := "script"
	if what == "SSH config" {
		target = "config"
	}

	return "Run 'spacelink restore --target " + target + "' to roll back to the last backup"
}

func (o *Orchestrator) sshConfig(ctx context.Context, _ *Report) (StepResult, error) {
	res, err := repair.Setup(ctx, o.opts.Engine, o.opts.SSHConfigPath, o.opts.Template, o.opts.Config)
	if err != nil {
		return patchError(err, o.opts.SSHConfigPath)
	}

	result := describe(res, "SSH config")
	if len(res.AppliedRules) > 0 && res.AppliedRules[0] == repair.RuleSetup && res.Written {
		result.Message = fmt.Sprintf("added Host %s to %s", o.opts.Config.Alias, o.opts.SSHConfigPath)
	}

	return result, nil
}

func (o *Orchestrator) script(ctx context.Context, _ *Report) (StepResult, error) {
	res, err := repair.Script(ctx, o.opts.Engine, o.opts.ScriptPath, o.opts.Script)
	if errors.Is(err, repair.ErrScriptMissing) {
		return StepResult{
			Status:  StatusSkipped,
			Message: "connection script not generated yet; the toolkit writes it on first connect from " + o.opts.Editor,
		}, nil
	}

	if err != nil {
		return patchError(err, o.opts.ScriptPath)
	}

	return describe(res, "connection script"), nil
}

func (o *Orchestrator) server(ctx context.Context, report *Report) (StepResult, error) {
	info := o.opts.Server.Probe(ctx)
	report.Server = &info

	if info.Running {
		msg := fmt.Sprintf("local server running (pid %d, port %d)", info.PID, info.Port)
		if !info.Accessible {
			return StepResult{Status: StatusWarning, Message: msg + " but not answering: " + info.Error}, nil
		}

		return StepResult{Status: StatusOK, Message: msg}, nil
	}

	manual := fmt.Sprintf("Open %s and connect to the space from the AWS Toolkit; it starts the local server", o.opts.Editor)

	if o.opts.Starter == nil {
		return StepResult{Status: StatusWarning, Message: "local server not running: " + info.Error, Hint: manual}, nil
	}

	started, err := o.opts.Starter.Start(ctx)
	if err != nil {
		return StepResult{Status: StatusFailed, Message: "could not start local server: " + err.Error(), Hint: manual}, nil
	}

	report.Server = &started

	return StepResult{Status: StatusOK, Message: fmt.Sprintf("started local server (pid %d, port %d)", started.PID, started.Port)}, nil
}

func (o *Orchestrator) scriptRecheck(ctx context.Context, report *Report) (StepResult, error) {
	first, _ := report.Step(StepScript)
	if first.Status != StatusSkipped {
		return StepResult{Status: StatusSkipped, Message: "script already checked"}, nil
	}

	if _, err := os.Stat(o.opts.ScriptPath); err != nil {
		return StepResult{Status: StatusSkipped, Message: "connection script still missing"}, nil
	}

	return o.script(ctx, report)
}

func (o *Orchestrator) monitor(ctx context.Context, report *Report) (StepResult, error) {
	if !o.opts.Wait || o.opts.Monitor == nil {
		return StepResult{Status: StatusSkipped, Message: "not waiting for the remote server"}, nil
	}

	session := o.opts.Monitor.Start(ctx, o.opts.host(), o.opts.MonitorOptions)

	state, err := session.Wait(ctx)
	if err != nil {
		session.Stop()
		return StepResult{Status: StatusCancelled, Message: "monitor stopped"}, err
	}

	snap := session.Snapshot()
	report.Monitor = &snap

	switch state {
	case monitor.Succeeded:
		return StepResult{Status: StatusOK, Message: fmt.Sprintf("remote server running after %d check(s)", snap.CheckCount)}, nil
	case monitor.TimedOut:
		cliErr := clierrors.MonitorTimedOut(o.opts.host(), snap.CheckCount)
		return StepResult{Status: StatusFailed, Message: cliErr.Message, Hint: cliErr.Hint}, nil
	default:
		return StepResult{Status: StatusCancelled, Message: "monitor " + state.String()}, nil
	}
}

func nextAction(report *Report, opts Options) string {
	if failed := report.Failed(); len(failed) > 0 && failed[0].Hint != "" {
		return failed[0].Hint
	}

	if s, ok := report.Step(StepScriptRecheck); ok && s.Message == "connection script still missing" {
		return fmt.Sprintf("Connect to the space once from %s so the toolkit generates the connection script, then rerun 'spacelink connect'", opts.Editor)
	}

	if report.Monitor != nil && report.Monitor.State == monitor.Succeeded {
		return fmt.Sprintf("Open %s and connect to host %s", opts.Editor, opts.host())
	}

	return fmt.Sprintf("Connect from %s using host %s; run 'spacelink monitor start' to watch the remote server come up", opts.Editor, opts.host())
}

func (o Options) host() string {
	if o.Host != "" {
		return o.Host
	}

	return o.Config.Alias
}
