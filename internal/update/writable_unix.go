//go:build !windows

package update

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ElevationHint tells the user how to rerun an update the current user
// cannot apply.
const ElevationHint = "Rerun with elevated permissions: sudo spacelink update"

// Replaceable returns ErrNotWritable when the directory holding exe cannot be
// written by the current user, which a binary swap needs.
func Replaceable(exe string) error {
	dir := filepath.Dir(exe)
	if err := unix.Access(dir, unix.W_OK); err != nil {
		return fmt.Errorf("%s: %w", dir, ErrNotWritable)
	}

	return nil
}
