//go:build !windows

package engine

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup starts the engine in its own process group and makes
// cancellation kill the whole group, so helpers the engine spawns die too.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative PID targets the process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}

// detach starts the process in a new session so it outlives cadforge.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
