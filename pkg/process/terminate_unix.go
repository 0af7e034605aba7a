//go:build !windows

package process

import (
	"golang.org/x/sys/unix"
)

// SendTerminationSignal sends SIGTERM to the process group led by pid,
// falling back to the process alone when it leads no group.
func SendTerminationSignal(pid int) error {
	if err := unix.Kill(-pid, unix.SIGTERM); err == nil {
		return nil
	}
	return unix.Kill(pid, unix.SIGTERM)
}
