package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/musher-dev/spacelink/internal/buildinfo"
	"github.com/musher-dev/spacelink/internal/doctor"
	clierrors "github.com/musher-dev/spacelink/internal/errors"
	"github.com/musher-dev/spacelink/internal/output"
	"github.com/musher-dev/spacelink/internal/paths"
	"github.com/musher-dev/spacelink/internal/update"
)

const (
	// releaseLookupTimeout bounds the GitHub call behind the notice and the
	// doctor version check.
	releaseLookupTimeout = 5 * time.Second
	// noticeWait is how long a finished connect waits for a lookup still in
	// flight before giving up on the notice.
	noticeWait = 500 * time.Millisecond
)

func (s *services) releaseClient() (*update.Client, error) {
	client, err := update.NewClient(update.Options{
		Repo:  s.cfg.ReleaseRepo(),
		Token: os.Getenv("GITHUB_TOKEN"),
	})
	if err != nil {
		return nil, clierrors.ConfigFailed("set up release lookups", err)
	}

	return client, nil
}

func (s *services) releaseCache() (*update.Cache, error) {
	path, err := paths.UpdateStateFile()
	if err != nil {
		return nil, clierrors.ConfigFailed("resolve release cache", err)
	}

	return update.NewCache(path), nil
}

// releaseLookup returns the cached-or-fresh release record, or nil when
// release checks are off for this run.
func (s *services) releaseLookup() doctor.ReleaseLookup {
	if !s.cfg.ReleaseChecks() {
		return nil
	}

	return func(ctx context.Context) (update.Record, error) {
		client, err := s.releaseClient()
		if err != nil {
			return update.Record{}, err
		}

		cache, err := s.releaseCache()
		if err != nil {
			return update.Record{}, err
		}

		ctx, cancel := context.WithTimeout(ctx, releaseLookupTimeout)
		defer cancel()

		return update.Refresh(ctx, client, cache)
	}
}

func (s *services) versionCheck() doctor.Check {
	return doctor.VersionCheck(buildinfo.Version, s.releaseLookup())
}

// startReleaseNotice looks up the newest release in the background. The
// returned func prints a one-line notice when a newer build is known; it
// never blocks for longer than noticeWait.
func (s *services) startReleaseNotice(ctx context.Context, out *output.Writer) func() {
	lookup := s.releaseLookup()
	if lookup == nil || out.JSON || out.Quiet || buildinfo.Version == "dev" {
		return func() {}
	}

	done := make(chan update.Record, 1)

	go func() {
		rec, err := lookup(ctx)
		if err != nil {
			slog.Debug("release lookup failed", slog.String("error", err.Error()))
		}

		done <- rec
	}()

	return func() {
		select {
		case rec := <-done:
			printReleaseNotice(out, buildinfo.Version, rec)
		case <-time.After(noticeWait):
		}
	}
}

func printReleaseNotice(out *output.Writer, current string, rec update.Record) {
	if !rec.Newer(current) {
		return
	}

	out.Println()
	out.Info("spacelink v%s is available (you have v%s)", rec.Latest, current)
	out.Muted("  Run 'spacelink update' to install it")
}
