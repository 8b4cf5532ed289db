package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/musher-dev/spacelink/internal/fsutil"
	"github.com/musher-dev/spacelink/internal/localserver"
)

// Entry records a monitor running in some spacelink process.
type Entry struct {
	HostKey   string    `json:"hostKey"`
	SessionID string    `json:"sessionId"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
}

// Registry tracks foreground monitors across processes with one file per
// host key, so "monitor stop" in one shell reaches "monitor start" in
// another.
type Registry struct {
	dir       string
	pidAlive  func(ctx context.Context, pid int) (bool, error)
	terminate func(ctx context.Context, pid int) error
}

// NewRegistry creates a Registry stored in dir.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir, pidAlive: localserver.PIDAlive, terminate: terminate}
}

func (r *Registry) path(hostKey string) string {
	name := strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			return c
		default:
			return '_'
		}
	}, hostKey)

	return filepath.Join(r.dir, name+".json")
}

// Register records s as owned by this process. release removes the record
// unless another process has since registered the same host key.
func (r *Registry) Register(s *Session) (release func(), err error) {
	entry := Entry{HostKey: s.HostKey, SessionID: s.ID, PID: os.Getpid(), StartedAt: s.StartedAt}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode monitor entry: %w", err)
	}

	path := r.path(s.HostKey)
	if err := fsutil.WriteFileAtomic(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("register monitor: %w", err)
	}

	return func() {
		if current, readErr := readEntry(path); readErr == nil && current.SessionID == s.ID {
			_ = os.Remove(path)
		}
	}, nil
}

func readEntry(path string) (*Entry, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: registry directory
	if err != nil {
		return nil, err
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return &e, nil
}

// List returns the live entries sorted by host key. Records left by exited
// processes are removed.
func (r *Registry) List(ctx context.Context) ([]Entry, error) {
	files, err := filepath.Glob(filepath.Join(r.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list monitors: %w", err)
	}

	var entries []Entry

	for _, path := range files {
		e, readErr := readEntry(path)
		if readErr != nil {
			_ = os.Remove(path)
			continue
		}

		if alive, _ := r.pidAlive(ctx, e.PID); !alive {
			_ = os.Remove(path)
			continue
		}

		entries = append(entries, *e)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].HostKey < entries[j].HostKey })

	return entries, nil
}

// Stop terminates the process monitoring hostKey. It reports false when no
// live monitor is registered for it.
func (r *Registry) Stop(ctx context.Context, hostKey string) (bool, error) {
	path := r.path(hostKey)

	e, err := readEntry(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		_ = os.Remove(path)
		return false, err
	}

	return r.stop(ctx, path, e)
}

// StopAll terminates every registered monitor and returns how many were
// live.
func (r *Registry) StopAll(ctx context.Context) (int, error) {
	entries, err := r.List(ctx)
	if err != nil {
		return 0, err
	}

	stopped := 0

	var errs []error

	for i := range entries {
		ok, stopErr := r.stop(ctx, r.path(entries[i].HostKey), &entries[i])
		if stopErr != nil {
			errs = append(errs, stopErr)
		}

		if ok {
			stopped++
		}
	}

	return stopped, errors.Join(errs...)
}

func (r *Registry) stop(ctx context.Context, path string, e *Entry) (bool, error) {
	defer func() { _ = os.Remove(path) }()

	if alive, _ := r.pidAlive(ctx, e.PID); !alive {
		return false, nil
	}

	if e.PID == os.Getpid() {
		return false, fmt.Errorf("monitor for %s runs in this process", e.HostKey)
	}

	if err := r.terminate(ctx, e.PID); err != nil {
		return false, fmt.Errorf("stop monitor for %s (pid %d): %w", e.HostKey, e.PID, err)
	}

	return true, nil
}

func terminate(ctx context.Context, pid int) error {
	if pid <= 0 || pid > 1<<31-1 {
		return fmt.Errorf("invalid pid %d", pid)
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid)) //nolint:gosec // G115: range checked above
	if err != nil {
		return err
	}

	return p.TerminateWithContext(ctx)
}
