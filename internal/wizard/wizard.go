// Package wizard provides the first-run setup for spacelink.
//
// The wizard guides users through:
//  1. Editor selection
//  2. SSH host alias
//  3. Prerequisite checks
//  4. Next steps guidance
package wizard

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/musher-dev/spacelink/internal/doctor"
	"github.com/musher-dev/spacelink/internal/output"
	"github.com/musher-dev/spacelink/internal/prompt"
)

// Editor is a preset for one supported editor.
type Editor struct {
	Label         string
	Name          string
	CLI           string
	ExtensionsDir string
	RemoteDir     string
	RemoteProcess string
}

// Editors lists the presets offered by the wizard, default first.
var Editors = []Editor{
	{Label: "Kiro", Name: "Kiro", CLI: "kiro", ExtensionsDir: "~/.kiro/extensions", RemoteDir: "~/.kiro-server", RemoteProcess: "kiro-server"},
	{Label: "Visual Studio Code", Name: "Code", CLI: "code", ExtensionsDir: "~/.vscode/extensions", RemoteDir: "~/.vscode-server", RemoteProcess: "vscode-server"},
	{Label: "Cursor", Name: "Cursor", CLI: "cursor", ExtensionsDir: "~/.cursor/extensions", RemoteDir: "~/.cursor-server", RemoteProcess: "cursor-server"},
}

// Settings returns the configuration keys the preset sets.
func (e Editor) Settings() [][2]string {
	return [][2]string{
		{"editor.name", e.Name},
		{"editor.cli", e.CLI},
		{"editor.extensions_dir", e.ExtensionsDir},
		{"monitor.remote_dir", e.RemoteDir},
		{"monitor.remote_process", e.RemoteProcess},
		{"repair.right_path_fragment", "/" + e.Name + "/User/globalStorage/"},
	}
}

// Settings is the configuration the wizard writes to.
type Settings interface {
	GetString(key string) string
	Set(key string, value any) error
}

// Options configures a Wizard.
type Options struct {
	Prompter *prompt.Prompter
	Config   Settings
	// ConfigFile is checked for settings from an earlier run.
	ConfigFile string
	// Force overwrites existing settings without asking.
	Force bool
	// Check runs the prerequisite checks after setup. Nil skips them.
	Check func(ctx context.Context) []doctor.Result
}

// Wizard handles the initialization flow.
type Wizard struct {
	out  *output.Writer
	opts Options
}

// New creates a new initialization wizard.
func New(out *output.Writer, opts Options) *Wizard {
	if opts.Prompter == nil {
		opts.Prompter = prompt.New(out)
	}

	return &Wizard{out: out, opts: opts}
}

// Run executes the initialization wizard.
func (w *Wizard) Run(ctx context.Context) error {
	p := w.opts.Prompter

	w.out.Println("Welcome to spacelink!")
	w.out.Println("=====================")
	w.out.Println()
	w.out.Println("spacelink prepares this machine to open SageMaker spaces in your")
	w.out.Println("editor over Remote-SSH.")
	w.out.Println()

	if w.hasConfig() && !w.opts.Force {
		w.out.Warning("Existing settings found in %s", w.opts.ConfigFile)

		if !p.CanPrompt() {
			w.out.Println()
			w.out.Info("Run with --force to overwrite existing settings")

			return nil
		}

		overwrite, err := p.Confirm("Overwrite existing settings?", false)
		if err != nil {
			return err
		}

		if !overwrite {
			w.out.Println()
			w.out.Success("Keeping existing settings")
			w.showNextSteps()

			return nil
		}

		w.out.Println()
	}

	if !p.CanPrompt() {
		w.out.Failure("Cannot run init wizard in non-interactive mode")
		w.out.Println()
		w.out.Info("Either:")
		w.out.Print("  1. Run without --no-input flag\n")
		w.out.Print("  2. Set values with 'spacelink config set <key> <value>'\n")

		return nil
	}

	w.out.Println("Step 1: Editor")
	w.out.Println("--------------")

	labels := make([]string, len(Editors))
	for i, e := range Editors {
		labels[i] = e.Label
	}

	choice, err := p.Select("Which editor opens your spaces?", labels)
	if err != nil {
		return fmt.Errorf("select editor: %w", err)
	}

	editor := Editors[choice]

	for _, kv := range editor.Settings() {
		if err := w.opts.Config.Set(kv[0], kv[1]); err != nil {
			return fmt.Errorf("save %s: %w", kv[0], err)
		}
	}

	w.out.Success("Editor: %s", editor.Label)

	w.out.Println()
	w.out.Println("Step 2: SSH host alias")
	w.out.Println("----------------------")
	w.out.Println("The Host pattern the AWS Toolkit writes to your SSH config.")
	w.out.Println()

	alias, err := p.Input("Host alias", w.opts.Config.GetString("ssh.host_alias"))
	if err != nil {
		return fmt.Errorf("read host alias: %w", err)
	}

	alias = strings.TrimSpace(alias)
	if alias == "" || strings.ContainsAny(alias, " \t") {
		w.out.Failure("Host alias must be a single word or pattern")
		return nil
	}

	if err := w.opts.Config.Set("ssh.host_alias", alias); err != nil {
		return fmt.Errorf("save ssh.host_alias: %w", err)
	}

	w.out.Success("Host alias: %s", alias)

	if w.opts.Check != nil {
		w.out.Println()
		w.out.Println("Step 3: Prerequisites")
		w.out.Println("---------------------")

		results := w.opts.Check(ctx)
		doctor.RenderResults(results, w.out.Print, w.out.Success, w.out.Warning, w.out.Failure, w.out.Muted)
	}

	w.out.Println()
	w.out.Success("spacelink is ready!")
	w.showNextSteps()

	return nil
}

func (w *Wizard) hasConfig() bool {
	if w.opts.ConfigFile == "" {
		return false
	}

	_, err := os.Stat(w.opts.ConfigFile)

	return !errors.Is(err, fs.ErrNotExist)
}

func (w *Wizard) showNextSteps() {
	w.out.Println()
	w.out.Println("Next steps:")
	w.out.Println("  spacelink doctor         Check your setup")
	w.out.Println("  spacelink connect        Repair and connect to a space")
	w.out.Println("  spacelink --help         See all commands")
}
