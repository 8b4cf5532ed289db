package repair

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"runtime"
	"slices"
	"strings"

	"github.com/musher-dev/spacelink/internal/patch"
)

// SSH config rule names, in application order.
const (
	RulePlaceholder = "placeholder"
	RuleInstallPath = "install-path"
	RuleKeepalive   = "keepalive"
	RuleEnvPointer  = "env-pointer"
	RuleSetup       = "setup"
)

// ServerInfoEnv is the variable the connection script reads the local-server
// descriptor path from.
const ServerInfoEnv = "SAGEMAKER_LOCAL_SERVER_FILE_PATH"

// ErrHostBlockMissing is returned by ConfigRepair when the SSH config has no
// block for the alias.
var ErrHostBlockMissing = errors.New("host block not found")

// Keep-alive settings injected into the host block when missing.
var keepaliveSettings = [][2]string{
	{"ServerAliveInterval", "30"},
	{"ServerAliveCountMax", "10"},
	{"ConnectTimeout", "60"},
}

var powershellFile = regexp.MustCompile(`(?i)^(\S*(?:powershell|pwsh)(?:\.exe)?)((?:\s+-\S+(?:\s+[^-\s]\S*)?)*?)\s+-File\s+("[^"]+"|'[^']+'|\S+)(.*)$`)

// powershellInline matches the -Command form written for Windows. A POSIX
// shell expands the $env inside its double quotes, so it is turned back into
// -File there.
var powershellInline = regexp.MustCompile(`(?i)^(\S*(?:powershell|pwsh)(?:\.exe)?)(.*?)\s+-Command\s+"\$env:` + ServerInfoEnv + `='(?:[^']|'')*';\s*&\s+'((?:[^']|'')*)'(.*)"$`)

// ConfigOptions configures the SSH config rules.
type ConfigOptions struct {
	Alias string
	// ServerInfoPath is injected into the ProxyCommand environment.
	ServerInfoPath string
	// WrongFragment is replaced by RightFragment in the block.
	WrongFragment string
	RightFragment string
	// GOOS selects the ProxyCommand form. ssh runs ProxyCommand through
	// $SHELL on every platform but Windows. Empty means runtime.GOOS.
	GOOS   string
	DryRun bool
}

func (o ConfigOptions) goos() string {
	if o.GOOS == "" {
		return runtime.GOOS
	}

	return o.GOOS
}

// Diagnosis is what Check found without changing anything.
type Diagnosis struct {
	BlockFound bool     `json:"blockFound"`
	NeedsFix   bool     `json:"needsFix"`
	Reasons    []string `json:"reasons"`
}

// directive splits an ssh_config line into keyword and arguments. Comments
// and blank lines return an empty keyword.
func directive(line string) (key, value string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", ""
	}

	end := strings.IndexAny(line, " \t=")
	if end < 0 {
		return line, ""
	}

	value = strings.TrimLeft(line[end:], " \t")
	value = strings.TrimPrefix(value, "=")

	return line[:end], strings.TrimSpace(value)
}

func isHeader(key string) bool {
	return strings.EqualFold(key, "Host") || strings.EqualFold(key, "Match")
}

func namesAlias(key, value, alias string) bool {
	return strings.EqualFold(key, "Host") && slices.Contains(strings.Fields(value), alias)
}

// FindHostBlock returns the byte span of alias's block: from its Host line to
// the next Host or Match line, or the end of doc.
func FindHostBlock(doc, alias string) (start, end int, ok bool) {
	start = -1

	for pos := 0; pos < len(doc); {
		next := lineEnd(doc, pos)
		key, value := directive(doc[pos:next])

		switch {
		case start < 0 && namesAlias(key, value, alias):
			start = pos
		case start >= 0 && isHeader(key):
			return start, pos, true
		}

		pos = next
	}

	if start < 0 {
		return 0, 0, false
	}

	return start, len(doc), true
}

// proxyLine returns the span of the ProxyCommand line in block.
func proxyLine(block string) (start, end int, ok bool) {
	for pos := 0; pos < len(block); {
		next := lineEnd(block, pos)
		if key, _ := directive(block[pos:next]); strings.EqualFold(key, "ProxyCommand") {
			return pos, next, true
		}

		pos = next
	}

	return 0, 0, false
}

func proxyCommand(block string) string {
	start, end, ok := proxyLine(block)
	if !ok {
		return ""
	}

	return block[start:end]
}

// ConfigSet returns the rule set for the alias's host block.
func ConfigSet(opts ConfigOptions) patch.Set {
	return patch.Set{
		Name: "ssh-config",
		Rules: []patch.Rule{
			placeholderRule(),
			installPathRule(opts.WrongFragment, opts.RightFragment),
			keepaliveRule(),
			envPointerRule(opts.ServerInfoPath, opts.goos()),
		},
		Validators: []patch.Validator{
			singleHeader(opts.Alias),
			proxyQuotesBalanced(opts.Alias),
		},
		Scope: func(doc string) (int, int, bool) {
			return FindHostBlock(doc, opts.Alias)
		},
	}
}

func placeholderRule() patch.Rule {
	return patch.Rule{
		Name: RulePlaceholder,
		Detect: func(block string) bool {
			return !strings.Contains(proxyCommand(block), "%n")
		},
		Apply: func(block string) (string, error) {
			start, end, _ := proxyLine(block)
			fixed := strings.ReplaceAll(block[start:end], "%n", "%h")

			return block[:start] + fixed + block[end:], nil
		},
	}
}

func pathVariants(fragment string) []string {
	slash := strings.ReplaceAll(fragment, `\`, "/")
	return []string{slash, strings.ReplaceAll(slash, "/", `\`)}
}

func installPathRule(wrong, right string) patch.Rule {
	return patch.Rule{
		Name: RuleInstallPath,
		Detect: func(block string) bool {
			if wrong == "" || wrong == right {
				return true
			}

			return !slices.ContainsFunc(pathVariants(wrong), func(v string) bool { return strings.Contains(block, v) })
		},
		Apply: func(block string) (string, error) {
			wrongs, rights := pathVariants(wrong), pathVariants(right)
			for i := range wrongs {
				block = strings.ReplaceAll(block, wrongs[i], rights[i])
			}

			return block, nil
		},
	}
}

func missingKeepalive(block string) [][2]string {
	present := map[string]bool{}

	for _, l := range strings.Split(block, "\n") {
		if key, _ := directive(l); key != "" {
			present[strings.ToLower(key)] = true
		}
	}

	var missing [][2]string

	for _, s := range keepaliveSettings {
		if !present[strings.ToLower(s[0])] {
			missing = append(missing, s)
		}
	}

	return missing
}

func keepaliveRule() patch.Rule {
	return patch.Rule{
		Name: RuleKeepalive,
		Detect: func(block string) bool {
			return len(missingKeepalive(block)) == 0
		},
		Apply: func(block string) (string, error) {
			headerEnd := lineEnd(block, 0)
			indent := "  "

			for pos := headerEnd; pos < len(block); pos = lineEnd(block, pos) {
				line := block[pos:lineEnd(block, pos)]
				if key, _ := directive(line); key != "" {
					indent = leadingSpace(line)
					break
				}
			}

			eol := eolOf(block)
			lines := make([]string, 0, len(keepaliveSettings))

			for _, s := range missingKeepalive(block) {
				lines = append(lines, s[0]+" "+s[1])
			}

			return insertAt(block, headerEnd, indentBlock(indent, eol, lines...), eol), nil
		},
	}
}

func envPointerRule(serverInfoPath, goos string) patch.Rule {
	return patch.Rule{
		Name: RuleEnvPointer,
		Detect: func(block string) bool {
			command := proxyCommand(block)
			if goos != "windows" && powershellInline.MatchString(command) {
				return false
			}

			return strings.Contains(command, ServerInfoEnv)
		},
		Apply: func(block string) (string, error) {
			start, end, ok := proxyLine(block)
			if !ok {
				return "", patch.AnchorNotFound(RuleEnvPointer, "no ProxyCommand line")
			}

			if serverInfoPath == "" {
				return "", patch.AnchorNotFound(RuleEnvPointer, "server info path unknown")
			}

			line := block[start:end]
			body := strings.TrimRight(line, "\r\n")
			lineBreak := line[len(body):]

			indent := leadingSpace(body)
			_, command := directive(body)
			keyword := strings.TrimSpace(body)[:len(strings.TrimSpace(body))-len(command)]

			return block[:start] + indent + keyword + withServerInfo(command, serverInfoPath, goos) + lineBreak + block[end:], nil
		},
	}
}

// withServerInfo makes command set the server info variable before running
// the connection script. On Windows ssh starts the command without a shell,
// so PowerShell -File invocations become -Command and assign the variable in
// the same session. Elsewhere the command runs under $SHELL and an env prefix
// sets it.
func withServerInfo(command, serverInfoPath, goos string) string {
	if goos != "windows" {
		if m := powershellInline.FindStringSubmatch(command); m != nil {
			script := strings.ReplaceAll(m[3], "''", "'")
			command = fmt.Sprintf(`%s%s -File "%s"%s`, m[1], m[2], script, m[4])
		}

		return "env " + ServerInfoEnv + "=" + posixQuote(serverInfoPath) + " " + command
	}

	m := powershellFile.FindStringSubmatch(command)
	if m == nil {
		return "env " + ServerInfoEnv + "=" + shellQuote(serverInfoPath) + " " + command
	}

	shell, flags, script, args := m[1], m[2], strings.Trim(m[3], `"'`), m[4]

	return fmt.Sprintf(`%s%s -Command "$env:%s=%s; & %s%s"`,
		shell, flags, ServerInfoEnv, psQuote(serverInfoPath), psQuote(script), args)
}

var posixSafe = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// posixQuote single-quotes s for sh unless it needs no quoting.
func posixQuote(s string) string {
	if posixSafe.MatchString(s) {
		return s
	}

	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// psQuote single-quotes s for PowerShell.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// shellQuote double-quotes s when it contains characters ssh would split on.
func shellQuote(s string) string {
	if !strings.ContainsAny(s, " \t'\"") {
		return s
	}

	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func singleHeader(alias string) patch.Validator {
	return func(doc string) []string {
		count := 0

		for _, l := range strings.Split(doc, "\n") {
			if key, value := directive(l); namesAlias(key, value, alias) {
				count++
			}
		}

		if count != 1 {
			return []string{fmt.Sprintf("expected one Host %s block, found %d", alias, count)}
		}

		return nil
	}
}

func proxyQuotesBalanced(alias string) patch.Validator {
	return func(doc string) []string {
		start, end, ok := FindHostBlock(doc, alias)
		if !ok {
			return nil
		}

		line := proxyCommand(doc[start:end])

		var violations []string

		for _, q := range []string{`"`, `'`} {
			if strings.Count(line, q)%2 != 0 {
				violations = append(violations, fmt.Sprintf("unbalanced %s quotes in ProxyCommand", q))
			}
		}

		return violations
	}
}

var ruleReasons = map[string]string{
	RulePlaceholder: "ProxyCommand passes %n instead of %h",
	RuleInstallPath: "paths point at another editor's globalStorage",
	RuleKeepalive:   "keep-alive settings missing",
	RuleEnvPointer:  "ProxyCommand does not set " + ServerInfoEnv,
}

// Check reports which rules would change alias's block in doc.
func Check(doc string, opts ConfigOptions) Diagnosis {
	start, end, ok := FindHostBlock(doc, opts.Alias)
	if !ok {
		return Diagnosis{NeedsFix: true, Reasons: []string{"Host " + opts.Alias + " block missing"}}
	}

	block := doc[start:end]
	diag := Diagnosis{BlockFound: true, Reasons: []string{}}

	for _, rule := range ConfigSet(opts).Rules {
		if !rule.Detect(block) {
			diag.Reasons = append(diag.Reasons, ruleReasons[rule.Name])
		}
	}

	diag.NeedsFix = len(diag.Reasons) > 0

	return diag
}

// CheckFile runs Check on the file at path. A missing file is reported as a
// missing block.
func CheckFile(path string, opts ConfigOptions) (Diagnosis, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from config
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Diagnosis{}, fmt.Errorf("read %s: %w", path, err)
	}

	return Check(string(data), opts), nil
}

// Config repairs alias's block in the SSH config at path. The rest of the
// file is left byte-identical.
func Config(ctx context.Context, engine *patch.Engine, path string, opts ConfigOptions) (*patch.Result, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from config
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if _, _, ok := FindHostBlock(string(data), opts.Alias); !ok {
		return nil, fmt.Errorf("%w: Host %s in %s", ErrHostBlockMissing, opts.Alias, path)
	}

	return engine.ApplyFile(ctx, path, ConfigSet(opts), patch.FileOptions{DryRun: opts.DryRun})
}

// HostTemplate describes the block Setup appends.
type HostTemplate struct {
	Alias      string
	User       string
	ScriptPath string
	// Shell runs the connection script: powershell.exe on Windows, pwsh
	// elsewhere.
	Shell string
}

// Render returns the minimal host block. The config rules complete it.
func (t HostTemplate) Render(eol string) string {
	user := t.User
	if user == "" {
		user = "sagemaker-user"
	}

	shell := t.Shell
	if shell == "" {
		shell = "pwsh"
	}

	return indentBlock("", eol, "Host "+t.Alias) + indentBlock("  ", eol,
		"User "+user,
		"StrictHostKeyChecking accept-new",
		fmt.Sprintf(`ProxyCommand %s -NoProfile -ExecutionPolicy RemoteSigned -File "%s" %%h`, shell, t.ScriptPath),
	)
}

// Setup appends a complete block for the alias, creating the config file
// (0600) and its directory (0700) when needed. When the block already exists
// it behaves like Config.
func Setup(ctx context.Context, engine *patch.Engine, path string, tmpl HostTemplate, opts ConfigOptions) (*patch.Result, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from config
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	doc := string(data)

	if _, _, ok := FindHostBlock(doc, opts.Alias); ok {
		return Config(ctx, engine, path, opts)
	}

	tmpl.Alias = opts.Alias
	eol := eolOf(doc)

	withBlock := doc
	if withBlock != "" {
		if !strings.HasSuffix(withBlock, "\n") {
			withBlock += eol
		}

		withBlock += eol
	}

	withBlock += tmpl.Render(eol)

	set := ConfigSet(opts)
	res := engine.Apply(ctx, withBlock, set)
	res.Target = path
	res.DryRun = opts.DryRun
	res.OriginalText = doc
	res.AppliedRules = append([]string{RuleSetup}, res.AppliedRules...)
	res.Violations = patch.Validate(res.PatchedText, set.Validators...)
	res.Failed = len(res.Violations) > 0

	if res.Failed || opts.DryRun {
		return res, nil
	}

	if err := engine.Commit(ctx, res); err != nil {
		return res, err
	}

	return res, nil
}
