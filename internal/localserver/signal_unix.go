//go:build unix

package localserver

import (
	"errors"

	"golang.org/x/sys/unix"
)

func signalZero(pid int, _ error) (bool, error) {
	err := unix.Kill(pid, 0)
	if err == nil || errors.Is(err, unix.EPERM) {
		return true, nil
	}

	if errors.Is(err, unix.ESRCH) {
		return false, nil
	}

	return false, err
}
