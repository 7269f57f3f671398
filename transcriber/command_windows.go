//go:build windows

package transcriber

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}
