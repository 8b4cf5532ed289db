// Package prompt provides interactive prompts for spacelink.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/musher-dev/spacelink/internal/output"
)

var errCanceled = errors.New("prompt canceled")

// IsCanceled reports whether err means the user closed input instead of answering.
func IsCanceled(err error) bool {
	return errors.Is(err, errCanceled)
}

// Prompter handles interactive prompts.
type Prompter struct {
	out    *output.Writer
	reader *bufio.Reader
	isTTY  func() bool
}

// New creates a Prompter reading from stdin.
func New(out *output.Writer) *Prompter {
	return &Prompter{
		out:    out,
		reader: bufio.NewReader(os.Stdin),
		isTTY: func() bool {
			return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
		},
	}
}

// NewWithReader creates a Prompter reading answers from r. It always reports
// that prompting is possible unless the writer has NoInput set.
func NewWithReader(out *output.Writer, r io.Reader) *Prompter {
	return &Prompter{
		out:    out,
		reader: bufio.NewReader(r),
		isTTY:  func() bool { return true },
	}
}

// CanPrompt returns true if interactive prompts are available.
func (p *Prompter) CanPrompt() bool {
	return !p.out.NoInput && p.isTTY()
}

func (p *Prompter) readLine() (string, error) {
	input, err := p.reader.ReadString('\n')
	if errors.Is(err, io.EOF) && input == "" {
		return "", errCanceled
	}

	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read input: %w", err)
	}

	return strings.TrimSpace(input), nil
}

// Confirm prompts for a yes/no confirmation.
func (p *Prompter) Confirm(message string, defaultValue bool) (bool, error) {
	defaultStr := "y/N"
	if defaultValue {
		defaultStr = "Y/n"
	}

	p.out.Print("%s [%s]: ", message, defaultStr)

	input, err := p.readLine()
	if err != nil {
		return defaultValue, err
	}

	input = strings.ToLower(input)
	if input == "" {
		return defaultValue, nil
	}

	return input == "y" || input == "yes", nil
}

// Input prompts for a line of text. An empty answer returns defaultValue.
func (p *Prompter) Input(message, defaultValue string) (string, error) {
	if defaultValue != "" {
		p.out.Print("%s [%s]: ", message, defaultValue)
	} else {
		p.out.Print("%s: ", message)
	}

	input, err := p.readLine()
	if err != nil {
		return defaultValue, err
	}

	if input == "" {
		return defaultValue, nil
	}

	return input, nil
}

// Select prompts the user to pick one of options and returns its index.
func (p *Prompter) Select(message string, options []string) (int, error) {
	if len(options) == 0 {
		return -1, fmt.Errorf("no options to select from")
	}

	p.out.Println(message)

	for i, opt := range options {
		p.out.Print("  [%d] %s\n", i+1, opt)
	}

	for {
		p.out.Print("Select [1-%d]: ", len(options))

		input, err := p.readLine()
		if err != nil {
			return -1, err
		}

		if input == "" {
			continue
		}

		num, convErr := strconv.Atoi(input)
		if convErr != nil || num < 1 || num > len(options) {
			p.out.Warning("Invalid selection. Please enter a number between 1 and %d", len(options))
			continue
		}

		return num - 1, nil
	}
}
