// Package fsutil holds the durable file writes shared by the patch engine
// and the update state cache.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic replaces path with data. The content goes to a temp file in
// the same directory, is fsynced, then renamed over path, so readers observe
// either the old or the new content and never a partial write.
//
// When path already exists its permission bits are kept; otherwise perm is used.
// A symlink at path is followed and the file it points to is replaced, so the
// link itself survives.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	path, err = resolveLink(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	if info, statErr := os.Stat(path); statErr == nil {
		perm = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tmpPath := tmp.Name()

	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		// Windows refuses to rename over an existing file.
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			return fmt.Errorf("remove existing file: %w", removeErr)
		}

		if retryErr := os.Rename(tmpPath, path); retryErr != nil {
			return fmt.Errorf("replace file: %w", retryErr)
		}
	}

	tmpPath = ""

	syncDir(dir)

	return nil
}

// resolveLink returns the file a symlink at path points to, or path itself
// when it is not a symlink. A dangling link resolves to its destination.
func resolveLink(path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		return path, nil //nolint:nilerr // a missing path is created as is
	}

	if real, evalErr := filepath.EvalSymlinks(path); evalErr == nil {
		return real, nil
	}

	dest, err := os.Readlink(path)
	if err != nil {
		return "", fmt.Errorf("read link: %w", err)
	}

	if !filepath.IsAbs(dest) {
		dest = filepath.Join(filepath.Dir(path), dest)
	}

	return dest, nil
}

// WriteFileDurable creates path exclusively and fsyncs it. It fails if path
// already exists.
func WriteFileDurable(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm) //nolint:gosec // G304: caller-controlled state path
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)

		return fmt.Errorf("write file: %w", err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)

		return fmt.Errorf("sync file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	syncDir(filepath.Dir(path))

	return nil
}

// syncDir flushes directory metadata so a rename survives a crash. Errors are
// ignored: some platforms cannot open directories for sync.
func syncDir(dir string) {
	d, err := os.Open(dir) //nolint:gosec // G304: directory of a path we just wrote
	if err != nil {
		return
	}

	_ = d.Sync()
	_ = d.Close()
}
