//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureDetached puts the child in its own process group so terminal
// signals aimed at the server do not reach it.
func configureDetached(cmd *exec.Cmd, _ bool) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcess kills the whole group, including anything the script forked.
func killProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}
