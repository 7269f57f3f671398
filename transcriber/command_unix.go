//go:build !windows

package transcriber

import (
	"os/exec"
	"syscall"
)

// setProcessGroup makes cancellation kill the recognizer and its children.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
