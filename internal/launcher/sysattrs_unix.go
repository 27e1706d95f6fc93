//go:build !windows

package launcher

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in its own process group so a
// restart can signal the worker together with anything it forked.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func shellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/sh", "-c", script)
}

func terminate(pid int, group bool) error {
	if group {
		return syscall.Kill(-pid, syscall.SIGTERM)
	}
	return syscall.Kill(pid, syscall.SIGTERM)
}

func kill(pid int, group bool) error {
	if group {
		return syscall.Kill(-pid, syscall.SIGKILL)
	}
	return syscall.Kill(pid, syscall.SIGKILL)
}
