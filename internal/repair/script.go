package repair

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
	"strings"

	"github.com/musher-dev/spacelink/internal/patch"
)

// Script rule names, in application order.
const (
	RuleARNNormalization = "arn-normalization"
	RuleRetryLoop        = "retry-loop"
	RuleDebugSuppression = "debug-suppression"
)

// Markers written above inserted script blocks.
const (
	markerPrefix           = "# spacelink:"
	MarkerARNNormalization = markerPrefix + RuleARNNormalization
	MarkerRetryLoop        = markerPrefix + RuleRetryLoop
	MarkerDebugSuppression = markerPrefix + RuleDebugSuppression
)

// DefaultRetryCount is the attempt limit written into the retry loop.
const DefaultRetryCount = 10

// ErrScriptMissing is returned when the connection script has not been
// generated yet.
var ErrScriptMissing = errors.New("connection script not found")

var (
	appArnAssign    = regexp.MustCompile(`(?im)^([ \t]*)\$AppArn[ \t]*=.*$`)
	arnConversion   = regexp.MustCompile(`(?im)^.*-replace\b.*:app(?:/|__).*:space(?:/|__).*$`)
	legacyRetries   = regexp.MustCompile(`(?im)^[ \t]*\$maxRetries[ \t]*=[ \t]*(\d+)[ \t]*\r?$`)
	loopHeader      = regexp.MustCompile(`(?im)^([ \t]*)(?:for|foreach|while|do)\b`)
	tryHeader       = regexp.MustCompile(`(?im)^([ \t]*)try[ \t]*(?:\r?\n[ \t]*)?\{`)
	catchHeader     = regexp.MustCompile(`(?i)^\s*catch\b[^{]*\{`)
	finallyHeader   = regexp.MustCompile(`(?i)^\s*finally\s*\{`)
	sessionRequest  = regexp.MustCompile(`(?i)Invoke-(?:RestMethod|WebRequest)\b|get_session`)
	progressOutput  = regexp.MustCompile(`(?i)^\s*Write-(?:Host|Output)\b.*\b(?:retry|retrying|attempt|waiting|session)`)
	loopControlLine = regexp.MustCompile(`(?i)^\s*(?:break|continue)\s*;?\s*$`)
	paramKeyword    = regexp.MustCompile(`(?i)^param\s*\(`)
)

// ScriptOptions tunes the script rules.
type ScriptOptions struct {
	// RetryCount is the attempt limit of the inserted loop.
	RetryCount int
	DryRun     bool
}

// ScriptSet returns the rule set for the connection script.
func ScriptSet(opts ScriptOptions) patch.Set {
	retries := opts.RetryCount
	if retries <= 0 {
		retries = DefaultRetryCount
	}

	return patch.Set{
		Name: "script",
		Rules: []patch.Rule{
			arnNormalizationRule(),
			retryLoopRule(retries),
			debugSuppressionRule(),
		},
		Validators: []patch.Validator{
			patch.BalancedDelimiters("{}()[]"),
			patch.UniqueMarkers(MarkerARNNormalization, MarkerRetryLoop, MarkerDebugSuppression),
		},
	}
}

// Script repairs the connection script at path. A script that does not exist
// yet returns an error matching ErrScriptMissing.
func Script(ctx context.Context, engine *patch.Engine, path string, opts ScriptOptions) (*patch.Result, error) {
	res, err := engine.ApplyFile(ctx, path, ScriptSet(opts), patch.FileOptions{DryRun: opts.DryRun})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrScriptMissing, path)
	}

	return res, err
}

func arnNormalizationRule() patch.Rule {
	return patch.Rule{
		Name: RuleARNNormalization,
		Detect: func(text string) bool {
			return strings.Contains(text, MarkerARNNormalization) || arnConversion.MatchString(text)
		},
		Apply: func(text string) (string, error) {
			matches := appArnAssign.FindAllStringSubmatchIndex(text, -1)
			if len(matches) == 0 {
				return "", patch.AnchorNotFound(RuleARNNormalization, "no $AppArn assignment")
			}

			last := matches[len(matches)-1]
			indent := text[last[2]:last[3]]
			eol := eolOf(text)

			block := indentBlock(indent, eol,
				MarkerARNNormalization,
				`$AppArn = $AppArn -replace ':app/([^/]+)/([^/]+)/.*$', ':space/$1/$2'`,
				`$AppArn = $AppArn -replace ':app__(.+?)__(.+?)__.*$', ':space__$1__$2'`,
			)

			return insertAt(text, lineEnd(text, last[0]), block, eol), nil
		},
	}
}

func retryLoopRule(retries int) patch.Rule {
	return patch.Rule{
		Name: RuleRetryLoop,
		Detect: func(text string) bool {
			return strings.Contains(text, MarkerRetryLoop)
		},
		Apply: func(text string) (string, error) {
			if out, ok := replaceLegacyLoop(text, retries); ok {
				return out, nil
			}

			if out, ok := replaceBareTry(text, retries); ok {
				return out, nil
			}

			if out, ok := stripKnownBadLines(text, retries); ok {
				return out, nil
			}

			return "", patch.AnchorNotFound(RuleRetryLoop, "no session request try/catch block")
		},
	}
}

// span is a half-open byte range of whole lines.
type span struct{ start, end int }

// braceBlock returns the body of the '{' block starting at or after from, and
// the index of its closing brace.
func braceBlock(text string, from int) (body string, closeIdx int, ok bool) {
	open := strings.IndexByte(text[from:], '{')
	if open < 0 {
		return "", 0, false
	}

	open += from

	closeIdx, ok = patch.MatchingClose(text, open)
	if !ok {
		return "", 0, false
	}

	return text[open+1 : closeIdx], closeIdx, true
}

// replaceLegacyLoop swaps a "$maxRetries = N" fixed-count loop around the
// session request for the canonical loop.
func replaceLegacyLoop(text string, retries int) (string, bool) {
	m := legacyRetries.FindStringIndex(text)
	if m == nil {
		return "", false
	}

	countLine := span{lineStart(text, m[0]), lineEnd(text, m[0])}

	for _, h := range loopHeader.FindAllStringSubmatchIndex(text[countLine.end:], -1) {
		headerAt := countLine.end + h[0]
		indent := text[countLine.end+h[2] : countLine.end+h[3]]

		body, closeIdx, ok := braceBlock(text, headerAt)
		if !ok {
			continue
		}

		request, ok := tryRequest(body)
		if !ok {
			continue
		}

		eol := eolOf(text)
		loop := span{headerAt, lineEnd(text, closeIdx)}

		return text[:countLine.start] +
			text[countLine.end:loop.start] +
			canonicalRetryLoop(indent, eol, retries, request) +
			text[loop.end:], true
	}

	return "", false
}

// replaceBareTry swaps a try/catch around the session request for the
// canonical loop.
func replaceBareTry(text string, retries int) (string, bool) {
	for _, h := range tryHeader.FindAllStringSubmatchIndex(text, -1) {
		indent := text[h[2]:h[3]]

		tryBody, tryClose, ok := braceBlock(text, h[0])
		if !ok {
			continue
		}

		request, ok := requestStatements(tryBody)
		if !ok {
			continue
		}

		rest := text[tryClose+1:]

		c := catchHeader.FindStringIndex(rest)
		if c == nil || c[0] != 0 {
			continue
		}

		_, catchClose, ok := braceBlock(text, tryClose+1)
		if !ok {
			continue
		}

		end := catchClose

		if f := finallyHeader.FindStringIndex(text[end+1:]); f != nil && f[0] == 0 {
			if _, finallyClose, ok := braceBlock(text, end+1); ok {
				end = finallyClose
			}
		}

		eol := eolOf(text)

		return text[:lineStart(text, h[0])] +
			canonicalRetryLoop(indent, eol, retries, request) +
			text[lineEnd(text, end):], true
	}

	return "", false
}

// tryRequest finds the try block inside a loop body and returns its request
// statements.
func tryRequest(loopBody string) ([]string, bool) {
	for _, h := range tryHeader.FindAllStringIndex(loopBody, -1) {
		body, _, ok := braceBlock(loopBody, h[0])
		if !ok {
			continue
		}

		if request, ok := requestStatements(body); ok {
			return request, true
		}
	}

	return nil, false
}

// requestStatements returns the statements of a try body worth keeping inside
// the canonical loop: everything except loop control and progress output.
func requestStatements(body string) ([]string, bool) {
	if !sessionRequest.MatchString(body) {
		return nil, false
	}

	var kept []string

	for _, l := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(l) == "" || loopControlLine.MatchString(l) || progressOutput.MatchString(l) {
			continue
		}

		kept = append(kept, strings.TrimRight(l, " \t"))
	}

	return dedent(kept), len(kept) > 0
}

// canonicalRetryLoop renders the bounded session retry loop. Server errors
// back off 5s per attempt up to 30s, anything else 2s per attempt up to 10s.
// After the last attempt the error goes to stderr and the script exits 1.
func canonicalRetryLoop(indent, eol string, retries int, request []string) string {
	lines := []string{
		MarkerRetryLoop,
		"$MaxRetries = " + strconv.Itoa(retries),
		"$Attempt = 0",
		"while ($true) {",
		"    $Attempt++",
		"    try {",
	}

	for _, r := range request {
		if r == "" {
			lines = append(lines, "")
			continue
		}

		lines = append(lines, "        "+r)
	}

	lines = append(lines,
		"        break",
		"    } catch {",
		"        $LastError = $_",
		"        if ($Attempt -ge $MaxRetries) {",
		`            [Console]::Error.WriteLine("Failed to get session after $MaxRetries attempts: $LastError")`,
		"            exit 1",
		"        }",
		"        $StatusCode = 0",
		"        if ($_.Exception.Response) { $StatusCode = [int]$_.Exception.Response.StatusCode }",
		"        if ($StatusCode -ge 500) {",
		"            $Delay = [Math]::Min(5 * $Attempt, 30)",
		"        } else {",
		"            $Delay = [Math]::Min(2 * $Attempt, 10)",
		"        }",
		"        Start-Sleep -Seconds $Delay",
		"    }",
		"}",
	)

	return indentBlock(indent, eol, lines...)
}

// stripKnownBadLines is the narrow fallback when no request block can be
// located: rewrite a stale retry count and drop progress lines that write to
// stdout. It marks the script as partially repaired.
func stripKnownBadLines(text string, retries int) (string, bool) {
	eol := eolOf(text)
	lines := strings.SplitAfter(text, "\n")

	var (
		out        strings.Builder
		firstFixAt = -1
	)

	for _, l := range lines {
		fixed := l

		if m := legacyRetries.FindStringSubmatchIndex(l); m != nil {
			if n, _ := strconv.Atoi(l[m[2]:m[3]]); n != retries {
				fixed = l[:m[2]] + strconv.Itoa(retries) + l[m[3]:]
			}
		} else if progressOutput.MatchString(l) {
			fixed = ""
		}

		if fixed != l && firstFixAt < 0 {
			firstFixAt = out.Len()
		}

		out.WriteString(fixed)
	}

	if firstFixAt < 0 {
		return "", false
	}

	result := out.String()
	marker := MarkerRetryLoop + " (partial: request block not found)" + eol

	return result[:firstFixAt] + marker + result[firstFixAt:], true
}

func debugSuppressionRule() patch.Rule {
	return patch.Rule{
		Name: RuleDebugSuppression,
		Detect: func(text string) bool {
			return strings.Contains(text, MarkerDebugSuppression)
		},
		Apply: func(text string) (string, error) {
			eol := eolOf(text)
			block := indentBlock("", eol,
				MarkerDebugSuppression,
				"$ProgressPreference = 'SilentlyContinue'",
				"$VerbosePreference = 'SilentlyContinue'",
				"$DebugPreference = 'SilentlyContinue'",
				"$InformationPreference = 'SilentlyContinue'",
				"function global:Write-Host { [Console]::Error.WriteLine(($args -join ' ')) }",
				"function global:Write-Verbose { [Console]::Error.WriteLine(($args -join ' ')) }",
				"function global:Write-Debug { [Console]::Error.WriteLine(($args -join ' ')) }",
				"function global:Write-Information { [Console]::Error.WriteLine(($args -join ' ')) }",
			)

			pos, err := preambleEnd(text)
			if err != nil {
				return "", err
			}

			return insertAt(text, pos, block, eol), nil
		},
	}
}

// preambleEnd returns the line boundary after the script's leading comments,
// #requires lines and, when present, its attribute and param(...) block.
// Statements may only be inserted from there on: param must stay the first
// statement of a script.
func preambleEnd(text string) (int, error) {
	tok := skipTrivia(text, 0)
	if tok >= len(text) {
		return len(text), nil
	}

	afterComments := lineStart(text, tok)
	pos := tok

	for pos < len(text) && text[pos] == '[' {
		closeIdx, ok := patch.MatchingClose(text, pos)
		if !ok {
			return 0, patch.AnchorNotFound(RuleDebugSuppression, "unterminated script attribute")
		}

		pos = skipTrivia(text, closeIdx+1)
	}

	if !paramKeyword.MatchString(text[pos:]) {
		return afterComments, nil
	}

	open := pos + strings.IndexByte(text[pos:], '(')

	closeIdx, ok := patch.MatchingClose(text, open)
	if !ok {
		return 0, patch.AnchorNotFound(RuleDebugSuppression, "unterminated param block")
	}

	return lineEnd(text, closeIdx), nil
}

// skipTrivia returns the index of the first token at or after pos that is not
// whitespace, a line comment or a <# #> comment.
func skipTrivia(text string, pos int) int {
	for pos < len(text) {
		rest := text[pos:]
		trimmed := strings.TrimLeft(rest, " \t\r\n")
		next := pos + len(rest) - len(trimmed)

		switch {
		case strings.HasPrefix(trimmed, "<#"):
			end := strings.Index(trimmed, "#>")
			if end < 0 {
				return len(text)
			}

			pos = next + end + 2
		case strings.HasPrefix(trimmed, "#"):
			pos = lineEnd(text, next)
		default:
			return next
		}
	}

	return pos
}
