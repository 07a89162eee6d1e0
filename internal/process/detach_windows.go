//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

const createNewConsole = 0x00000010

// configureDetached opens a console window for the script when its output is
// not captured, matching a double-click launch.
func configureDetached(cmd *exec.Cmd, capture bool) {
	flags := uint32(syscall.CREATE_NEW_PROCESS_GROUP)
	if !capture {
		flags = createNewConsole
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: flags}
}

func killProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
