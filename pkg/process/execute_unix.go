//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

func setupProcessAttributes(cmd *exec.Cmd, newProcessGroup bool) {
	if !newProcessGroup {
		return
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
