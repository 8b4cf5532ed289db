package patch

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	clierrors "github.com/musher-dev/spacelink/internal/errors"
	"github.com/musher-dev/spacelink/internal/fsutil"
)

// ErrNoBackup is returned by Restore when a target has no usable backup.
var ErrNoBackup = errors.New("no backup found")

const (
	indexFileName = "index.toml"
	stampLayout   = "20060102T150405.000000000"
	restoreRule   = "restore"
	// DefaultKeep is how many backups are kept per target.
	DefaultKeep = 20
)

// Backup is one saved copy of a target's content.
type Backup struct {
	Target  string    `toml:"target"`
	Path    string    `toml:"path"`
	Created time.Time `toml:"created"`
	SHA256  string    `toml:"sha256"`
	Rules   []string  `toml:"rules,omitempty"`
}

type index struct {
	Backups []Backup `toml:"backup"`
}

// BackupStore keeps timestamped copies of patched files in one directory,
// indexed by target path in index.toml.
type BackupStore struct {
	dir  string
	keep int
	now  func() time.Time

	mu sync.Mutex
}

// NewBackupStore creates a store rooted at dir. The directory is created on
// first save.
func NewBackupStore(dir string) *BackupStore {
	return &BackupStore{dir: dir, keep: DefaultKeep, now: time.Now}
}

// Dir returns the backup directory.
func (s *BackupStore) Dir() string {
	return s.dir
}

// Save writes content as a new backup of target. The backup file is fsynced
// before the index records it.
func (s *BackupStore) Save(target string, content []byte, rules []string) (Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target = absPath(target)

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return Backup{}, backupErr(target, fmt.Errorf("create backup dir: %w", err))
	}

	created := s.now().UTC()
	sum := sha256.Sum256(content)

	entry := Backup{
		Target:  target,
		Created: created,
		SHA256:  hex.EncodeToString(sum[:]),
		Rules:   rules,
	}

	stem := filepath.Join(s.dir, filepath.Base(target)+"."+created.Format(stampLayout))

	for attempt := 0; ; attempt++ {
		entry.Path = stem + ".bak"
		if attempt > 0 {
			entry.Path = fmt.Sprintf("%s-%d.bak", stem, attempt)
		}

		err := fsutil.WriteFileDurable(entry.Path, content, 0o600)
		if err == nil {
			break
		}

		if !errors.Is(err, fs.ErrExist) || attempt >= 100 {
			return Backup{}, backupErr(target, err)
		}
	}

	idx, err := s.load()
	if err != nil {
		return Backup{}, backupErr(target, err)
	}

	idx.Backups = append(idx.Backups, entry)
	idx.Backups = s.prune(idx.Backups, target)

	if err := s.store(idx); err != nil {
		return Backup{}, backupErr(target, err)
	}

	return entry, nil
}

// prune drops the oldest backups of target beyond the keep limit.
func (s *BackupStore) prune(all []Backup, target string) []Backup {
	count := 0
	for _, b := range all {
		if b.Target == target {
			count++
		}
	}

	excess := count - s.keep
	if excess <= 0 {
		return all
	}

	kept := all[:0]

	for _, b := range all {
		if b.Target == target && excess > 0 {
			_ = os.Remove(b.Path)
			excess--

			continue
		}

		kept = append(kept, b)
	}

	return kept
}

// List returns target's backups whose files still exist, newest first.
func (s *BackupStore) List(target string) ([]Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.load()
	if err != nil {
		return nil, err
	}

	target = absPath(target)

	var out []Backup

	for _, b := range idx.Backups {
		if b.Target != target {
			continue
		}

		if _, err := os.Stat(b.Path); err != nil {
			continue
		}

		out = append(out, b)
	}

	slices.SortStableFunc(out, func(a, b Backup) int { return b.Created.Compare(a.Created) })

	return out, nil
}

// Latest returns target's newest backup.
func (s *BackupStore) Latest(target string) (Backup, bool, error) {
	backups, err := s.List(target)
	if err != nil || len(backups) == 0 {
		return Backup{}, false, err
	}

	return backups[0], true, nil
}

// Restored describes a completed restore.
type Restored struct {
	From Backup `json:"from"`
	// Previous is the backup of the content that was replaced, if the target
	// existed.
	Previous *Backup `json:"previous,omitempty"`
}

// Restore replaces target with its newest backup. The current content is
// backed up first. Backups taken by Restore are never restored from, so a
// second restore is a no-op.
func (s *BackupStore) Restore(target string) (*Restored, error) {
	backups, err := s.List(target)
	if err != nil {
		return nil, err
	}

	i := slices.IndexFunc(backups, func(b Backup) bool { return !slices.Equal(b.Rules, []string{restoreRule}) })
	if i < 0 {
		return nil, fmt.Errorf("%s: %w", target, ErrNoBackup)
	}

	latest := backups[i]

	content, err := os.ReadFile(latest.Path)
	if err != nil {
		return nil, fmt.Errorf("read backup: %w", err)
	}

	restored := &Restored{From: latest}

	current, err := os.ReadFile(target) //nolint:gosec // G304: path comes from config
	switch {
	case err == nil && string(current) == string(content):
		return restored, nil
	case err == nil:
		prev, saveErr := s.Save(target, current, []string{restoreRule})
		if saveErr != nil {
			return nil, saveErr
		}

		restored.Previous = &prev
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read %s: %w", target, err)
	}

	if err := fsutil.WriteFileAtomic(target, content, 0o600); err != nil {
		return nil, fmt.Errorf("restore %s: %w", target, err)
	}

	return restored, nil
}

func (s *BackupStore) indexPath() string {
	return filepath.Join(s.dir, indexFileName)
}

func (s *BackupStore) load() (*index, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &index{}, nil
		}

		return nil, fmt.Errorf("read backup index: %w", err)
	}

	var idx index
	if err := toml.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse backup index: %w", err)
	}

	return &idx, nil
}

func (s *BackupStore) store(idx *index) error {
	data, err := toml.Marshal(idx)
	if err != nil {
		return fmt.Errorf("marshal backup index: %w", err)
	}

	return fsutil.WriteFileAtomic(s.indexPath(), data, 0o600)
}

func backupErr(target string, err error) error {
	return clierrors.E(clierrors.KindExecutionFailed, "backup "+target, err)
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}

	return path
}
