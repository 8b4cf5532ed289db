// Package doctor checks that the local machine can open a remote session.
//
// CheckAll probes, independently of each other:
//   - the AWS CLI (presence and minimum version)
//   - the Session Manager plugin (well-known path, then --version)
//   - the Remote-SSH and AWS Toolkit editor extensions
//   - the managed host alias in the SSH config
//
// A check that fails, errors or panics is recorded and the next one still
// runs. The resulting CapabilityReport is a snapshot; callers probe again
// rather than keep it around.
package doctor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	clierrors "github.com/musher-dev/spacelink/internal/errors"
	"github.com/musher-dev/spacelink/internal/extensions"
	"github.com/musher-dev/spacelink/internal/observability"
	"github.com/musher-dev/spacelink/internal/procrun"
	"github.com/musher-dev/spacelink/internal/tools"
	"github.com/musher-dev/spacelink/internal/update"
)

// Status represents the result of a diagnostic check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical failure.
	StatusFail
)

// String returns the lower-case status name used in JSON output.
func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result holds the outcome of a single check.
type Result struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Check names, in the order CheckAll runs them.
const (
	CheckAWSCLI      = "AWS CLI"
	CheckPlugin      = "Session Manager plugin"
	CheckExtensions  = "Editor extensions"
	CheckHostAlias   = "SSH host alias"
	CheckSelfVersion = "CLI Version"
)

// CapabilityReport is what one CheckAll call observed.
type CapabilityReport struct {
	ToolPresent      map[string]bool   `json:"toolPresent"`
	ToolVersion      map[string]string `json:"toolVersion,omitempty"`
	ToolPath         map[string]string `json:"toolPath,omitempty"`
	ExtensionPresent map[string]bool   `json:"extensionPresent"`
	HostEntryPresent bool              `json:"hostEntryPresent"`
	Errors           []string          `json:"errors"`
	Results          []Result          `json:"results"`
}

// AllPassed reports whether a connection can be attempted: no check errored,
// the AWS CLI is installed and the host alias exists.
func (r *CapabilityReport) AllPassed() bool {
	return len(r.Errors) == 0 && r.ToolPresent[tools.AWS] && r.HostEntryPresent
}

// PluginPresent reports whether the Session Manager plugin was found.
func (r *CapabilityReport) PluginPresent() bool {
	return r.ToolPresent[tools.SessionManagerPlugin]
}

// CommandRunner runs an external command.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, opts procrun.Options) (*procrun.Result, error)
}

// Check is an extra diagnostic appended after the capability checks. It
// contributes a Result only.
type Check func(ctx context.Context) Result

// Options configures a Probe.
type Options struct {
	Runner        CommandRunner
	Registry      extensions.Registry
	SSHConfigPath string
	HostAlias     string
	// Timeout bounds each external command.
	Timeout time.Duration
	// GOOS selects the well-known plugin paths. Empty means runtime.GOOS.
	GOOS string
	// Extra checks run after the capability checks.
	Extra []Check
}

// Probe runs the prerequisite checks.
type Probe struct {
	opts   Options
	exists func(string) bool
}

// NewProbe creates a Probe.
func NewProbe(opts Options) *Probe {
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}

	return &Probe{
		opts: opts,
		exists: func(path string) bool {
			info, err := os.Stat(path)
			return err == nil && !info.IsDir()
		},
	}
}

// CheckAll runs every check and returns a fresh report.
func (p *Probe) CheckAll(ctx context.Context) *CapabilityReport {
	ctx, end := observability.StartSpan(ctx, "doctor.check_all")

	report := &CapabilityReport{
		ToolPresent:      map[string]bool{tools.AWS: false, tools.SessionManagerPlugin: false},
		ToolVersion:      map[string]string{},
		ToolPath:         map[string]string{},
		ExtensionPresent: map[string]bool{extensions.RemoteSSH: false, extensions.AWSToolkit: false},
		Errors:           []string{},
	}

	checks := []struct {
		name string
		fn   func(context.Context, *CapabilityReport) Result
	}{
		{CheckAWSCLI, p.checkAWSCLI},
		{CheckPlugin, p.checkPlugin},
		{CheckExtensions, p.checkExtensions},
		{CheckHostAlias, p.checkHostAlias},
	}

	for _, c := range checks {
		report.Results = append(report.Results, runIsolated(ctx, report, c.name, c.fn))
	}

	for _, extra := range p.opts.Extra {
		report.Results = append(report.Results, runExtra(ctx, extra))
	}

	observability.FromContext(ctx).Debug("prerequisite probe finished",
		slog.Bool("aws.present", report.ToolPresent[tools.AWS]),
		slog.Bool("plugin.present", report.PluginPresent()),
		slog.Bool("host_entry.present", report.HostEntryPresent),
		slog.Int("errors", len(report.Errors)),
	)

	var err error
	if len(report.Errors) > 0 {
		err = clierrors.E(clierrors.KindProbeFailed, "doctor", errors.New(strings.Join(report.Errors, "; ")))
	}

	end(err)

	return report
}

func runIsolated(ctx context.Context, report *CapabilityReport, name string, fn func(context.Context, *CapabilityReport) Result) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: panic: %v", name, r))
			result = Result{Name: name, Status: StatusFail, Message: "Check crashed", Detail: fmt.Sprint(r)}
		}
	}()

	result = fn(ctx, report)
	result.Name = name

	return result
}

func runExtra(ctx context.Context, check Check) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{Name: "Extra check", Status: StatusWarn, Message: "Check crashed", Detail: fmt.Sprint(r)}
		}
	}()

	return check(ctx)
}

func (p *Probe) run(ctx context.Context, name string, args ...string) (*procrun.Result, error) {
	if p.opts.Runner == nil {
		return nil, clierrors.E(clierrors.KindExecutionFailed, name, errors.New("no command runner configured"))
	}

	return p.opts.Runner.Run(ctx, name, args, procrun.Options{Timeout: p.opts.Timeout})
}

func (p *Probe) checkAWSCLI(ctx context.Context, report *CapabilityReport) Result {
	spec, _ := tools.Get(tools.AWS)

	res, err := p.run(ctx, spec.Name, spec.VersionArgs...)
	if err != nil {
		if clierrors.KindOf(err) == clierrors.KindToolMissing {
			return Result{Status: StatusFail, Message: "Not found", Detail: "Install from " + spec.Install.Docs}
		}

		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", spec.Name, err))

		return Result{Status: StatusFail, Message: "Could not run", Detail: err.Error()}
	}

	report.ToolPresent[spec.Name] = true
	report.ToolPath[spec.Name] = res.Path

	version, ok := spec.ParseVersion(res.Combined())
	if !res.OK() || !ok {
		return Result{Status: StatusWarn, Message: "Found but version unknown", Detail: res.Path}
	}

	report.ToolVersion[spec.Name] = version

	meets, err := spec.MeetsMinimum(version)
	if err != nil {
		return Result{Status: StatusWarn, Message: version + " at " + res.Path, Detail: err.Error()}
	}

	if !meets {
		return Result{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s at %s (older than %s)", version, res.Path, spec.MinVersion),
			Detail:  "Upgrade from " + spec.Install.Docs,
		}
	}

	return Result{Status: StatusPass, Message: fmt.Sprintf("%s at %s", version, res.Path)}
}

func (p *Probe) checkPlugin(ctx context.Context, report *CapabilityReport) Result {
	spec, _ := tools.Get(tools.SessionManagerPlugin)

	for _, candidate := range spec.CandidatePaths(p.opts.GOOS) {
		if p.exists(candidate) {
			report.ToolPresent[spec.Name] = true
			report.ToolPath[spec.Name] = candidate

			return Result{Status: StatusPass, Message: candidate}
		}
	}

	res, err := p.run(ctx, spec.Name, spec.VersionArgs...)
	if err != nil {
		if clierrors.KindOf(err) == clierrors.KindToolMissing {
			detail := "Run 'spacelink install plugin' or see " + spec.Install.Docs
			if spec.InstallerFor(p.opts.GOOS) == nil {
				detail = "Install from " + spec.Install.Docs
			}

			return Result{Status: StatusWarn, Message: "Not found", Detail: detail}
		}

		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", spec.Name, err))

		return Result{Status: StatusFail, Message: "Could not run", Detail: err.Error()}
	}

	report.ToolPresent[spec.Name] = true
	report.ToolPath[spec.Name] = res.Path

	if version, ok := spec.ParseVersion(res.CleanStdout()); ok {
		report.ToolVersion[spec.Name] = version
		return Result{Status: StatusPass, Message: fmt.Sprintf("%s at %s", version, res.Path)}
	}

	return Result{Status: StatusPass, Message: res.Path}
}

// checkExtensions looks up both extensions. A registry failure is recorded
// once and leaves the remaining entries false.
func (p *Probe) checkExtensions(ctx context.Context, report *CapabilityReport) Result {
	if p.opts.Registry == nil {
		report.Errors = append(report.Errors, "extensions: no extension registry configured")
		return Result{Status: StatusFail, Message: "Unknown", Detail: "no extension registry configured"}
	}

	lookups := []struct {
		key string
		ids []string
	}{
		{extensions.RemoteSSH, extensions.RemoteSSHIDs},
		{extensions.AWSToolkit, []string{extensions.AWSToolkit}},
	}

	var missing []string

	for _, l := range lookups {
		ok, err := extensions.AnyInstalled(ctx, p.opts.Registry, l.ids...)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("extensions: %v", err))
			return Result{Status: StatusFail, Message: "Could not list extensions", Detail: err.Error()}
		}

		report.ExtensionPresent[l.key] = ok
		if !ok {
			missing = append(missing, l.key)
		}
	}

	if len(missing) > 0 {
		return Result{
			Status:  StatusWarn,
			Message: "Missing " + strings.Join(missing, ", "),
			Detail:  "Install them from the editor's extensions view",
		}
	}

	return Result{Status: StatusPass, Message: "Remote-SSH and AWS Toolkit installed"}
}

func (p *Probe) checkHostAlias(_ context.Context, report *CapabilityReport) Result {
	data, err := os.ReadFile(p.opts.SSHConfigPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{
				Status:  StatusFail,
				Message: "SSH config not found",
				Detail:  "Run 'spacelink repair config' to create " + p.opts.SSHConfigPath,
			}
		}

		report.Errors = append(report.Errors, fmt.Sprintf("ssh config: %v", err))

		return Result{Status: StatusFail, Message: "Could not read SSH config", Detail: err.Error()}
	}

	if !HasHostEntry(data, p.opts.HostAlias) {
		return Result{
			Status:  StatusFail,
			Message: fmt.Sprintf("Host %s not found in %s", p.opts.HostAlias, p.opts.SSHConfigPath),
			Detail:  "Run 'spacelink repair config' to add it",
		}
	}

	report.HostEntryPresent = true

	return Result{Status: StatusPass, Message: fmt.Sprintf("Host %s in %s", p.opts.HostAlias, p.opts.SSHConfigPath)}
}

// HasHostEntry reports whether config has a Host line naming alias.
func HasHostEntry(config []byte, alias string) bool {
	scanner := bufio.NewScanner(bytes.NewReader(config))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || !strings.EqualFold(fields[0], "Host") {
			continue
		}

		for _, pattern := range fields[1:] {
			if pattern == alias {
				return true
			}
		}
	}

	return false
}

// ReleaseLookup returns what is known about the newest release.
type ReleaseLookup func(ctx context.Context) (update.Record, error)

// VersionCheck compares current against the newest release. A nil lookup
// means release checks are turned off.
func VersionCheck(current string, lookup ReleaseLookup) Check {
	return func(ctx context.Context) Result {
		result := Result{Name: CheckSelfVersion}

		switch {
		case current == "dev":
			result.Status = StatusWarn
			result.Message = "Development build (version check skipped)"
		case lookup == nil:
			result.Status = StatusPass
			result.Message = fmt.Sprintf("v%s (release checks off)", current)
		default:
			rec, err := lookup(ctx)

			switch {
			case err != nil && rec.CheckedAt.IsZero():
				result.Status = StatusWarn
				result.Message = fmt.Sprintf("v%s (could not check for updates)", current)
				result.Detail = err.Error()
			case rec.Newer(current):
				result.Status = StatusWarn
				result.Message = fmt.Sprintf("v%s (v%s available)", current, strings.TrimPrefix(rec.Latest, "v"))
				result.Detail = "Run 'spacelink update' to update"
			default:
				result.Status = StatusPass
				result.Message = fmt.Sprintf("v%s (latest)", current)
			}
		}

		return result
	}
}

// Summary returns counts of passed, failed, and warning checks.
func Summary(results []Result) (passed, failed, warnings int) {
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			passed++
		case StatusFail:
			failed++
		case StatusWarn:
			warnings++
		}
	}

	return passed, failed, warnings
}

// RenderResults formats diagnostic results to the given output writer.
func RenderResults(results []Result, printFn, successFn, warningFn, failureFn, mutedFn func(format string, args ...any)) {
	maxNameLen := 0
	for _, r := range results {
		maxNameLen = max(maxNameLen, len(r.Name))
	}

	for _, r := range results {
		width := maxNameLen + 4

		switch r.Status {
		case StatusPass:
			successFn("%-*s%s", width, r.Name, r.Message)
		case StatusWarn:
			warningFn("%-*s%s", width, r.Name, r.Message)
		case StatusFail:
			failureFn("%-*s%s", width, r.Name, r.Message)
		default:
			printFn("%s %-*s%s\n", r.Status.Symbol(), width, r.Name, r.Message)
		}

		if r.Detail != "" {
			mutedFn("    %s", r.Detail)
		}
	}
}

// Symbol returns the status symbol for display.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return checkMark
	case StatusWarn:
		return warningMark
	case StatusFail:
		return xMark
	default:
		return "?"
	}
}

const (
	checkMark   = "\u2713" // ✓
	xMark       = "\u2717" // ✗
	warningMark = "\u26A0" // ⚠
)
