package patch

import (
	"fmt"
	"strings"
)

type opener struct {
	char  byte
	close byte
	line  int
}

// BalancedDelimiters returns a Validator checking that each open/close pair in
// pairs ("{}()[]") nests correctly. Quoted strings, here-strings and comments
// are skipped; a backtick escapes the next character inside double quotes.
func BalancedDelimiters(pairs string) Validator {
	closers := map[byte]byte{}
	openers := map[byte]byte{}

	for i := 0; i+1 < len(pairs); i += 2 {
		openers[pairs[i]] = pairs[i+1]
		closers[pairs[i+1]] = pairs[i]
	}

	return func(text string) []string {
		var (
			stack      []opener
			violations []string
		)

		unterminated := walkCode(text, 0, func(_ int, c byte, line int) bool {
			if closeChar, ok := openers[c]; ok {
				stack = append(stack, opener{char: c, close: closeChar, line: line})
				return true
			}

			if _, ok := closers[c]; !ok {
				return true
			}

			if len(stack) == 0 {
				violations = append(violations, fmt.Sprintf("unexpected %q on line %d", c, line))
				return true
			}

			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if top.close != c {
				violations = append(violations, fmt.Sprintf("%q on line %d closes %q opened on line %d", c, line, top.char, top.line))
			}

			return true
		})

		if unterminated != "" {
			return append(violations, unterminated)
		}

		for _, open := range stack {
			violations = append(violations, fmt.Sprintf("unclosed %q opened on line %d", open.char, open.line))
		}

		return violations
	}
}

// MatchingClose returns the index of the delimiter closing the one at open
// ('{', '(' or '['), skipping strings and comments.
func MatchingClose(text string, open int) (int, bool) {
	if open < 0 || open >= len(text) {
		return 0, false
	}

	pairs := map[byte]byte{'{': '}', '(': ')', '[': ']'}

	want, ok := pairs[text[open]]
	if !ok {
		return 0, false
	}

	depth := 0
	found := -1

	walkCode(text, open, func(i int, c byte, _ int) bool {
		switch c {
		case text[open]:
			depth++
		case want:
			depth--
			if depth == 0 {
				found = i
				return false
			}
		}

		return true
	})

	return found, found >= 0
}

// walkCode calls visit for each byte of text[from:] outside strings,
// here-strings and comments, with its 1-based line number. Newlines are
// visited too. visit returns false to stop. The returned message is non-empty
// when a string or here-string is never closed.
func walkCode(text string, from int, visit func(i int, c byte, line int) bool) string {
	line := 1 + strings.Count(text[:from], "\n")

	for i := from; i < len(text); i++ {
		c := text[i]

		switch {
		case c == '<' && i+1 < len(text) && text[i+1] == '#':
			i = skipUntil(text, i+2, "#>", &line)
		case c == '#':
			i = skipLine(text, i)
		case c == '@' && i+2 < len(text) && (text[i+1] == '"' || text[i+1] == '\'') && isLineEnd(text, i+2):
			start := line

			next, ok := skipHereString(text, i+1, &line)
			if !ok {
				return fmt.Sprintf("unterminated here-string starting on line %d", start)
			}

			i = next
		case c == '"' || c == '\'':
			start := line

			next, ok := skipQuoted(text, i, &line)
			if !ok {
				return fmt.Sprintf("unterminated %c string starting on line %d", c, start)
			}

			i = next
		default:
			if !visit(i, c, line) {
				return ""
			}

			if c == '\n' {
				line++
			}
		}
	}

	return ""
}

// skipQuoted returns the index of the closing quote for the string opened at i.
func skipQuoted(text string, i int, line *int) (int, bool) {
	quote := text[i]

	for j := i + 1; j < len(text); j++ {
		switch text[j] {
		case '\n':
			*line++
		case '`':
			if quote == '"' {
				if j+1 < len(text) && text[j+1] == '\n' {
					*line++
				}

				j++
			}
		case quote:
			return j, true
		}
	}

	return len(text), false
}

// skipHereString returns the index of the terminator of a here-string whose
// quote is at i. The terminator is the quote followed by '@' at a line start.
func skipHereString(text string, i int, line *int) (int, bool) {
	closing := "\n" + string(text[i]) + "@"

	rest := text[i:]

	idx := strings.Index(rest, closing)
	if idx < 0 {
		*line += strings.Count(rest, "\n")
		return len(text), false
	}

	*line += strings.Count(rest[:idx+1], "\n")

	return i + idx + len(closing) - 1, true
}

func skipUntil(text string, from int, end string, line *int) int {
	idx := strings.Index(text[from:], end)
	if idx < 0 {
		*line += strings.Count(text[from:], "\n")
		return len(text)
	}

	*line += strings.Count(text[from:from+idx], "\n")

	return from + idx + len(end) - 1
}

func skipLine(text string, i int) int {
	idx := strings.IndexByte(text[i:], '\n')
	if idx < 0 {
		return len(text)
	}

	// Leave the newline for the caller's line counter.
	return i + idx - 1
}

func isLineEnd(text string, i int) bool {
	return i >= len(text) || text[i] == '\n' || (text[i] == '\r' && i+1 < len(text) && text[i+1] == '\n')
}

// UniqueMarkers returns a Validator reporting any marker present more than once.
func UniqueMarkers(markers ...string) Validator {
	return func(text string) []string {
		var violations []string

		for _, m := range markers {
			if n := strings.Count(text, m); n > 1 {
				violations = append(violations, fmt.Sprintf("marker %q appears %d times", m, n))
			}
		}

		return violations
	}
}
