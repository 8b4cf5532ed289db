// Package repair holds the rule sets that keep the toolkit's connection
// script and the SSH host block in a working shape.
package repair

import (
	"strings"
)

// lineStart returns the index of the first byte of the line containing i.
func lineStart(text string, i int) int {
	return strings.LastIndexByte(text[:i], '\n') + 1
}

// lineEnd returns the index just past the newline ending the line containing
// i, or len(text) for the last line.
func lineEnd(text string, i int) int {
	if idx := strings.IndexByte(text[i:], '\n'); idx >= 0 {
		return i + idx + 1
	}

	return len(text)
}

// eolOf returns the line ending text predominantly uses.
func eolOf(text string) string {
	if strings.Contains(text, "\r\n") {
		return "\r\n"
	}

	return "\n"
}

// insertAt inserts block at a line boundary pos, adding a line break first
// when pos ends an unterminated last line.
func insertAt(text string, pos int, block, eol string) string {
	prefix := text[:pos]
	if prefix != "" && !strings.HasSuffix(prefix, "\n") {
		prefix += eol
	}

	return prefix + block + text[pos:]
}

// indentBlock joins lines with eol, prefixing non-empty lines with indent.
// The result ends with eol.
func indentBlock(indent, eol string, lines ...string) string {
	var b strings.Builder

	for _, l := range lines {
		if l != "" {
			b.WriteString(indent)
			b.WriteString(l)
		}

		b.WriteString(eol)
	}

	return b.String()
}

// leadingSpace returns the run of spaces and tabs starting line.
func leadingSpace(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}

// dedent strips the indentation shared by all non-blank lines.
func dedent(lines []string) []string {
	common := ""
	first := true

	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}

		ws := leadingSpace(l)
		if first {
			common, first = ws, false
			continue
		}

		for !strings.HasPrefix(ws, common) {
			common = common[:len(common)-1]
		}
	}

	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.TrimPrefix(l, common)
	}

	return out
}
