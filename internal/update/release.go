// Package update finds newer spacelink releases on GitHub and swaps the
// running binary for a checksum-verified download.
//
// Release lookup and replacement come from go-selfupdate. The last lookup is
// cached (see Cache) so the connect notice and the doctor version check cost
// at most one API call per interval between them.
package update

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	selfupdate "github.com/creativeprojects/go-selfupdate"
)

// DefaultRepo is the owner/name slug releases are published under.
const DefaultRepo = "musher-dev/spacelink"

var (
	// ErrNoRelease is returned when no published release carries an asset
	// for this platform.
	ErrNoRelease = errors.New("no release for this platform")
	// ErrNotWritable is returned by Replaceable when the current user cannot
	// swap the binary.
	ErrNotWritable = errors.New("install directory is not writable")
)

// Options configures a Client.
type Options struct {
	// Repo is an owner/name slug. Empty means DefaultRepo.
	Repo string
	// Token authenticates API calls; anonymous calls hit a low rate limit.
	Token string
	// BaseURL is a GitHub Enterprise API root. Empty means github.com.
	BaseURL string
	// GOOS and GOARCH select the asset. Empty means the running platform.
	GOOS   string
	GOARCH string
}

// Release is a published build with an asset for this platform.
type Release struct {
	Version     string    `json:"version"`
	URL         string    `json:"url,omitempty"`
	Asset       string    `json:"asset,omitempty"`
	PublishedAt time.Time `json:"publishedAt,omitzero"`

	src *selfupdate.Release
}

// Client looks up and installs releases.
type Client struct {
	up   *selfupdate.Updater
	repo selfupdate.RepositorySlug
}

// NewClient builds a client. Every asset is verified against the release's
// checksums.txt before it replaces anything.
func NewClient(opts Options) (*Client, error) {
	source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{
		APIToken:          opts.Token,
		EnterpriseBaseURL: opts.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create release source: %w", err)
	}

	up, err := selfupdate.NewUpdater(selfupdate.Config{
		Source:    source,
		Validator: &selfupdate.ChecksumValidator{UniqueFilename: "checksums.txt"},
		OS:        cmp.Or(opts.GOOS, runtime.GOOS),
		Arch:      cmp.Or(opts.GOARCH, runtime.GOARCH),
	})
	if err != nil {
		return nil, fmt.Errorf("create updater: %w", err)
	}

	return &Client{up: up, repo: selfupdate.ParseSlug(cmp.Or(opts.Repo, DefaultRepo))}, nil
}

// Latest returns the newest non-draft, non-prerelease build for this
// platform.
func (c *Client) Latest(ctx context.Context) (*Release, error) {
	rel, found, err := c.up.DetectLatest(ctx, c.repo)
	if err != nil {
		return nil, fmt.Errorf("look up latest release: %w", err)
	}

	if !found {
		return nil, ErrNoRelease
	}

	return fromSource(rel), nil
}

// Find returns the build for version. Release tags carry a leading "v"; the
// argument may omit it.
func (c *Client) Find(ctx context.Context, version string) (*Release, error) {
	tag := "v" + strings.TrimPrefix(version, "v")

	rel, found, err := c.up.DetectVersion(ctx, c.repo, tag)
	if err != nil {
		return nil, fmt.Errorf("look up release %s: %w", version, err)
	}

	if !found {
		return nil, fmt.Errorf("%s: %w", version, ErrNoRelease)
	}

	return fromSource(rel), nil
}

// Install downloads rel, checks it against the published checksums and
// replaces the binary at exe.
func (c *Client) Install(ctx context.Context, rel *Release, exe string) error {
	if rel == nil || rel.src == nil {
		return ErrNoRelease
	}

	if err := c.up.UpdateTo(ctx, rel.src, exe); err != nil {
		return fmt.Errorf("install %s: %w", rel.Version, err)
	}

	return nil
}

// Executable returns the resolved path of the running binary.
func Executable() (string, error) {
	exe, err := selfupdate.ExecutablePath()
	if err != nil {
		return "", fmt.Errorf("find executable: %w", err)
	}

	return exe, nil
}

func fromSource(rel *selfupdate.Release) *Release {
	return &Release{
		Version:     rel.Version(),
		URL:         rel.URL,
		Asset:       rel.AssetName,
		PublishedAt: rel.PublishedAt,
		src:         rel,
	}
}

// Newer reports whether latest is a later release than current. Either side
// failing to parse as semver means no.
func Newer(latest, current string) bool {
	cur, err := semver.NewVersion(current)
	if err != nil {
		return false
	}

	lat, err := semver.NewVersion(latest)
	if err != nil {
		return false
	}

	return lat.GreaterThan(cur)
}
