// Package patch applies named, idempotent text rules to documents on disk.
//
// A Rule pairs a Detect predicate (true when the rule's effect is already
// present) with an Apply transformation. The Engine runs rules in order,
// skips the ones already satisfied, validates the final text, and only then
// backs up the original and atomically replaces the file. Running the same
// rules over their own output applies nothing.
package patch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	clierrors "github.com/musher-dev/spacelink/internal/errors"
	"github.com/musher-dev/spacelink/internal/fsutil"
	"github.com/musher-dev/spacelink/internal/observability"
)

// ErrAnchorNotFound is returned by a rule's Apply when the text it needs to
// anchor on is missing. The rule is skipped and the text left untouched.
var ErrAnchorNotFound = errors.New("anchor not found")

// AnchorNotFound builds the patch_conflict error a rule returns when what
// describes the missing anchor.
func AnchorNotFound(rule, what string) error {
	return clierrors.E(clierrors.KindPatchConflict, rule, fmt.Errorf("%w: %s", ErrAnchorNotFound, what))
}

// Rule is a named, pure text transformation.
type Rule struct {
	Name string
	// Detect reports whether the rule's effect is already present.
	Detect func(text string) bool
	// Apply returns the transformed text, or an AnchorNotFound error.
	Apply func(text string) (string, error)
	// ConflictsWith names rules that make this one unnecessary. When any of
	// them is present in the document this rule is skipped.
	ConflictsWith []string
}

// Validator inspects patched text and returns human-readable violations.
type Validator func(text string) []string

// Scope selects the part of a document rules operate on. ok is false when the
// region does not exist.
type Scope func(text string) (start, end int, ok bool)

// Set is a rule configuration for one kind of document.
type Set struct {
	Name       string
	Rules      []Rule
	Validators []Validator
	// Scope restricts rules to a span of the document; the patched span is
	// spliced back and the rest of the document is left byte-identical. Nil
	// means the whole document.
	Scope Scope
}

// Result describes one patch run.
type Result struct {
	Target         string   `json:"target,omitempty"`
	OriginalText   string   `json:"-"`
	PatchedText    string   `json:"-"`
	AppliedRules   []string `json:"appliedRules"`
	SkippedRules   []string `json:"skippedRules"`
	Conflicts      []string `json:"conflicts,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
	Violations     []string `json:"violations,omitempty"`
	Failed         bool     `json:"failed"`
	BackupLocation string   `json:"backupLocation,omitempty"`
	Written        bool     `json:"written"`
	DryRun         bool     `json:"dryRun,omitempty"`
}

// Changed reports whether any rule applied.
func (r *Result) Changed() bool {
	return len(r.AppliedRules) > 0
}

// Engine runs rule sets and persists their results.
type Engine struct {
	backups *BackupStore
}

// NewEngine creates an Engine writing backups to store.
func NewEngine(store *BackupStore) *Engine {
	return &Engine{backups: store}
}

// Backups returns the engine's backup store.
func (e *Engine) Backups() *BackupStore {
	return e.backups
}

// Apply runs set over text without touching disk.
func (e *Engine) Apply(ctx context.Context, text string, set Set) *Result {
	_, end := observability.StartSpan(ctx, "patch.apply",
		attribute.String("patch.set", set.Name),
		attribute.Int("patch.rules", len(set.Rules)),
	)

	res := &Result{
		OriginalText: text,
		PatchedText:  text,
		AppliedRules: []string{},
		SkippedRules: []string{},
	}

	start, stop := 0, len(text)

	if set.Scope != nil {
		var ok bool

		start, stop, ok = set.Scope(text)
		if !ok {
			for _, rule := range set.Rules {
				res.SkippedRules = append(res.SkippedRules, rule.Name)
				res.Conflicts = append(res.Conflicts, rule.Name)
			}

			res.Warnings = append(res.Warnings, set.Name+": region to patch not found")
			end(clierrors.E(clierrors.KindPatchConflict, set.Name, ErrAnchorNotFound))

			return res
		}
	}

	region := applyRules(res, text[start:stop], set.Rules)
	res.PatchedText = text[:start] + region + text[stop:]

	if res.Changed() {
		res.Violations = Validate(res.PatchedText, set.Validators...)
		res.Failed = len(res.Violations) > 0
	}

	var err error
	if res.Failed {
		err = clierrors.E(clierrors.KindStructuralValidation, set.Name, fmt.Errorf("%d violation(s)", len(res.Violations)))
	}

	end(err)

	return res
}

// Validate runs validators over text and collects their violations.
func Validate(text string, validators ...Validator) []string {
	var violations []string

	for _, validate := range validators {
		violations = append(violations, validate(text)...)
	}

	return violations
}

func applyRules(res *Result, text string, rules []Rule) string {
	present := map[string]bool{}

	for _, rule := range rules {
		if rule.Detect(text) {
			present[rule.Name] = true
			res.SkippedRules = append(res.SkippedRules, rule.Name)

			continue
		}

		if i := slices.IndexFunc(rule.ConflictsWith, func(name string) bool { return present[name] }); i >= 0 {
			res.SkippedRules = append(res.SkippedRules, rule.Name)
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: skipped, %s already present", rule.Name, rule.ConflictsWith[i]))

			continue
		}

		patched, err := rule.Apply(text)
		if err != nil {
			res.SkippedRules = append(res.SkippedRules, rule.Name)
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", rule.Name, err))

			if errors.Is(err, ErrAnchorNotFound) || clierrors.KindOf(err) == clierrors.KindPatchConflict {
				res.Conflicts = append(res.Conflicts, rule.Name)
			}

			continue
		}

		if patched == text {
			res.SkippedRules = append(res.SkippedRules, rule.Name)
			res.Warnings = append(res.Warnings, rule.Name+": made no change")

			continue
		}

		if !rule.Detect(patched) {
			res.Warnings = append(res.Warnings, rule.Name+": not detected after applying")
		}

		text = patched
		present[rule.Name] = true
		res.AppliedRules = append(res.AppliedRules, rule.Name)
	}

	return text
}

// FileOptions tunes ApplyFile.
type FileOptions struct {
	// DryRun computes the result without writing a backup or the file.
	DryRun bool
}

// ApplyFile patches the file at path.
//
// When a rule applied and validation passed, the original content is backed
// up durably before the file is atomically replaced. When validation failed
// nothing is written and BackupLocation names the latest existing backup, if
// any, so callers can offer a restore. A missing file returns an error that
// matches fs.ErrNotExist.
func (e *Engine) ApplyFile(ctx context.Context, path string, set Set, opts FileOptions) (*Result, error) {
	logger := observability.FromContext(ctx).With(slog.String("patch.target", path), slog.String("patch.set", set.Name))

	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from config
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	res := e.Apply(ctx, string(data), set)
	res.Target = path
	res.DryRun = opts.DryRun

	logger.Debug("patch evaluated",
		slog.Any("applied", res.AppliedRules),
		slog.Any("skipped", res.SkippedRules),
		slog.Int("warnings", len(res.Warnings)),
		slog.Bool("failed", res.Failed),
	)

	if res.Failed {
		if latest, ok, latestErr := e.backups.Latest(path); latestErr == nil && ok {
			res.BackupLocation = latest.Path
		}

		logger.Warn("patch failed validation, nothing written", slog.Any("violations", res.Violations))

		return res, nil
	}

	if !res.Changed() || opts.DryRun {
		return res, nil
	}

	if err := e.Commit(ctx, res); err != nil {
		return res, err
	}

	logger.Info("patched file", slog.String("backup", res.BackupLocation), slog.Any("applied", res.AppliedRules))

	return res, nil
}

// Commit backs up res.OriginalText and writes res.PatchedText to res.Target.
// The write is refused when the file changed on disk since it was read.
func (e *Engine) Commit(_ context.Context, res *Result) error {
	info, err := os.Stat(res.Target)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", res.Target, err)
	}

	perm := fs.FileMode(0o600)

	if err != nil && res.OriginalText != "" {
		return clierrors.E(clierrors.KindPatchConflict, res.Target, errors.New("file removed while patching; run the repair again"))
	}

	if err == nil {
		perm = info.Mode().Perm()

		current, readErr := os.ReadFile(res.Target)
		if readErr != nil {
			return fmt.Errorf("re-read %s: %w", res.Target, readErr)
		}

		if string(current) != res.OriginalText {
			return clierrors.E(clierrors.KindPatchConflict, res.Target, errors.New("file changed on disk while patching; run the repair again"))
		}

		entry, backupErr := e.backups.Save(res.Target, []byte(res.OriginalText), res.AppliedRules)
		if backupErr != nil {
			return backupErr
		}

		res.BackupLocation = entry.Path
	}

	if err := fsutil.WriteFileAtomic(res.Target, []byte(res.PatchedText), perm); err != nil {
		return fmt.Errorf("write %s: %w", res.Target, err)
	}

	res.Written = true

	return nil
}
