//go:build !windows

package processstate

import (
	"errors"
	"os"
	"syscall"
)

// IsProcessRunning probes pid with signal 0. EPERM means the process exists
// but belongs to someone else, which still counts as running.
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, errInvalidPID(pid)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, err
	}

	err = process.Signal(syscall.Signal(0))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrProcessDone), errors.Is(err, syscall.ESRCH):
		return false, nil
	case errors.Is(err, syscall.EPERM):
		return true, nil
	}
	return false, err
}
