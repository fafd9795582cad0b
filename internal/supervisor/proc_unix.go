//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killGroup kills the server and every child it spawned.
func killGroup(p *process) {
	if err := syscall.Kill(-p.pid, syscall.SIGKILL); err != nil {
		_ = p.cmd.Process.Kill()
	}
}
