package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/musher-dev/spacelink/internal/fsutil"
)

// DefaultInterval is how long a release lookup stays fresh.
const DefaultInterval = 24 * time.Hour

// Record is the cached result of the last release lookup.
type Record struct {
	CheckedAt time.Time `json:"checkedAt"`
	Latest    string    `json:"latest,omitempty"`
	URL       string    `json:"url,omitempty"`
}

// Newer reports whether the recorded release is later than current.
func (r Record) Newer(current string) bool {
	return r.Latest != "" && Newer(r.Latest, current)
}

// Cache persists the last Record as JSON at Path.
type Cache struct {
	Path string
	// Interval is how long a Record stays fresh. Zero means DefaultInterval.
	Interval time.Duration

	now func() time.Time
}

// NewCache returns a cache stored at path.
func NewCache(path string) *Cache {
	return &Cache{Path: path, now: time.Now}
}

// Load returns the stored record. A missing or unreadable cache is an empty
// record, which is always due.
func (c *Cache) Load() Record {
	data, err := os.ReadFile(c.Path) //nolint:gosec // G304: path from the state directory
	if err != nil {
		return Record{}
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}
	}

	return rec
}

// Store replaces the stored record.
func (c *Cache) Store(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode release record: %w", err)
	}

	if err := fsutil.WriteFileAtomic(c.Path, data, 0o600); err != nil {
		return fmt.Errorf("write release record: %w", err)
	}

	return nil
}

// Due reports whether rec is old enough to look up again.
func (c *Cache) Due(rec Record) bool {
	if rec.CheckedAt.IsZero() {
		return true
	}

	return c.now().Sub(rec.CheckedAt) >= freshFor(c.Interval)
}

// Remember stores rel as the latest known release.
func (c *Cache) Remember(rel *Release) error {
	return c.Store(Record{CheckedAt: c.now(), Latest: rel.Version, URL: rel.URL})
}

// Source reports the newest release. *Client satisfies it.
type Source interface {
	Latest(ctx context.Context) (*Release, error)
}

// Refresh returns the cached record, looking the latest release up first
// when the cache is due. A lookup that finds no release for this platform is
// recorded so it is not repeated until the interval passes; any other failure
// leaves the cache untouched and returns the previous record with the error.
func Refresh(ctx context.Context, src Source, cache *Cache) (Record, error) {
	rec := cache.Load()
	if !cache.Due(rec) {
		return rec, nil
	}

	rel, err := src.Latest(ctx)

	switch {
	case errors.Is(err, ErrNoRelease):
		rec = Record{CheckedAt: cache.now()}
	case err != nil:
		return rec, err
	default:
		rec = Record{CheckedAt: cache.now(), Latest: rel.Version, URL: rel.URL}
	}

	if err := cache.Store(rec); err != nil && !errors.Is(err, fs.ErrPermission) {
		return rec, err
	}

	return rec, nil
}

func freshFor(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}

	return DefaultInterval
}
