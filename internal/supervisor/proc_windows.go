//go:build windows

package supervisor

import "os/exec"

func setProcessGroup(*exec.Cmd) {}

func killGroup(p *process) {
	_ = p.cmd.Process.Kill()
}
