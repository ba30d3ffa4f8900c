//go:build !windows

package process

import (
	"syscall"
)

// SendTerminationSignal delivers sig to the whole process group of pid
func SendTerminationSignal(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err != nil && err != syscall.ESRCH {
		return err
	}
	return nil
}

// KillProcessGroup sends SIGKILL to the whole process group of pid
func KillProcessGroup(pid int) error {
	return SendTerminationSignal(pid, syscall.SIGKILL)
}
