//go:build windows

package update

import (
	"fmt"
	"os"
	"path/filepath"
)

// ElevationHint tells the user how to rerun an update the current user
// cannot apply.
const ElevationHint = "Rerun 'spacelink update' from a terminal opened with 'Run as administrator'"

// Replaceable returns ErrNotWritable when the directory holding exe cannot be
// written by the current user. Windows ACLs are not visible to an access(2)
// style check, so a scratch file is created and removed instead.
func Replaceable(exe string) error {
	dir := filepath.Dir(exe)

	f, err := os.CreateTemp(dir, ".spacelink-update-*")
	if err != nil {
		return fmt.Errorf("%s: %w", dir, ErrNotWritable)
	}

	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	return nil
}
